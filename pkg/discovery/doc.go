// Package discovery finds new artifact versions and queues them for
// indexing.
//
// A [Coordinator] runs every enabled [Discoverer] concurrently. Each one
// streams coordinates on its own channel; the coordinator batches them,
// drops versions that are already indexed or queued, enqueues the rest and
// clears duplicate queue rows. Errors are reported on one shared channel
// that a single goroutine logs. A failing discoverer never stops the
// others.
//
// Discoverers that track progress implement [Committer]. Progress is only
// committed after everything the discoverer produced was persisted, so a
// crash mid-run repeats the work on the next run instead of skipping it.
//
// # Sources
//
//   - [Central] compares the repository's index timestamp with a stored
//     watermark. A newer index triggers a full scan of the search API for
//     releases carrying kotlin-tooling-metadata; otherwise only
//     maven-metadata.xml of already known artifacts is re-read.
//   - [Google] walks master-index.xml and the group indexes of Google
//     Maven, skipping groups whose index equals the cached snapshot.
package discovery
