// Package pkg provides the core libraries of kmpindex, an index of Kotlin
// Multiplatform libraries published to Maven repositories.
//
// # Overview
//
// kmpindex finds new releases in Maven Central and Google Maven, decides
// which of them are Kotlin Multiplatform artifacts, records their targets
// and links every package to the GitHub repository, owner and project
// behind it. The pkg directory is organized into these areas:
//
//  1. [discovery] - Finding releases (Central full and incremental scans, Google)
//  2. [indexer] - Claiming queued requests and indexing artifacts
//  3. [scm], [readme], [tags] - Source repositories, README processing, tags
//  4. [refresh], [schedule], [backoff] - Periodic sync jobs and failure cooldowns
//  5. [store], [cache] - Persistence and HTTP response caching
//  6. [integrations] - Maven, Google Maven, GitHub and text generation clients
//
// # Architecture
//
// The data flow through kmpindex:
//
//	Maven Central / Google Maven
//	         ↓
//	    [discovery] (new coordinates, deduplicated against the store)
//	         ↓
//	    indexing queue ([store.Queue], leased claims)
//	         ↓
//	    [indexer] (POM, module and tooling metadata → Package + targets)
//	         ↓
//	    [scm] (GitHub repository, owner, README, project)
//	         ↓
//	    [refresh] jobs on a [schedule] (owners, repositories, descriptions, tags)
//
// Every stage keeps its state in the [store], so any number of processes
// can share the work. Stages that talk to upstream APIs record failures in
// the [backoff] store and skip an entity until its cooldown expires.
//
// # Quick Start
//
// Discover and index releases against an in-memory store:
//
//	st := memory.New()
//	mc := maven.NewClient(cache.NewNullCache(), maven.CentralURL, time.Hour)
//
//	registry := discovery.NewRegistry()
//	registry.Register("central", func() (discovery.Discoverer, error) {
//	    return discovery.NewCentral(mc, st, "central", logger), nil
//	})
//	ds, _ := registry.Build([]string{"central"})
//	report, _ := discovery.NewCoordinator(st, ds, logger).Run(ctx)
//
//	ix := indexer.New(st, map[string]indexer.MetadataProvider{"central": mc}, engine, logger)
//	n, _ := ix.Drain(ctx, 100)
//
// # Error Handling
//
// Errors carry a code from [errors]. Callers branch on the code, not the
// message: transient codes (network, timeout, rate limit) are retried or
// backed off, everything else is recorded against the entity.
//
// [discovery]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/discovery
// [indexer]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/indexer
// [scm]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/scm
// [readme]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/readme
// [tags]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/tags
// [refresh]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/refresh
// [schedule]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/schedule
// [backoff]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/backoff
// [store]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/store
// [store.Queue]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/store#Queue
// [cache]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/cache
// [integrations]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/integrations
// [errors]: https://pkg.go.dev/github.com/matzehuels/kmpindex/pkg/errors
package pkg
