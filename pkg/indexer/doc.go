// Package indexer turns queued indexing requests into package rows.
//
// # Processing
//
// [Indexer.ProcessNext] claims one pending request and, for its coordinate:
//
//  1. picks the [MetadataProvider] registered for the request's source
//  2. fetches the POM, backfilling the release time from Last-Modified
//  3. fetches build metadata (kotlin-tooling-metadata.json, falling back to
//     the Gradle .module file) and maps it to package targets
//  4. links the GitHub repository named by the POM and its project
//  5. resolves the description and persists the package
//
// Artifacts without multiplatform targets are completed without a package
// row. Any other failure leaves the request queued with its failure counter
// incremented and the error message stored.
//
// # Targets
//
// Platform types map onto [model.Platform]. Qualifiers come from the
// platform-specific extras: the JVM target, Android target compatibility,
// "browser"/"node" for JS, Wasm targets and Konan targets. JVM targets
// built by the Kotlin Multiplatform plugin wrapper without a jvmTarget are
// recorded as "1.8"; older plugin versions omitted the field and compiled
// for that target.
package indexer
