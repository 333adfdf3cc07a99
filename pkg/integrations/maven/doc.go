// Package maven provides an HTTP client for Maven-layout repositories.
//
// # Overview
//
// Artifacts are addressed by deterministic paths built from the coordinate:
//
//	<repo>/<group path>/<artifactId>/<version>/<artifactId>-<version>.pom
//	<repo>/<group path>/<artifactId>/<version>/<artifactId>-<version>-kotlin-tooling-metadata.json
//	<repo>/<group path>/<artifactId>/<version>/<artifactId>-<version>.module
//	<repo>/<group path>/<artifactId>/maven-metadata.xml
//
// where the group path is the groupId with dots replaced by slashes.
//
// # Usage
//
//	client := maven.NewClient(backend, maven.CentralURL, 24*time.Hour)
//	pom, err := client.FetchPOM(ctx, "io.ktor", "ktor-client-core", "2.3.4")
//	tooling, err := client.FetchToolingMetadata(ctx, "io.ktor", "ktor-client-core", "2.3.4")
//
// Immutable release files (POM, tooling and module metadata) are cached;
// maven-metadata.xml and the index properties are always fetched fresh.
//
// # Maven Central
//
// For Maven Central the client also exposes the index snapshot timestamp
// ([Client.IndexTimestamp]) and the Solr search API ([Client.Search]), which
// discovery uses to find artifacts that publish Kotlin tooling metadata.
package maven
