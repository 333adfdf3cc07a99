// Package scm reconciles locally stored GitHub repositories and owners with
// the host's current state.
//
// The [Engine] has two entry points. [Engine.GetOrCreate] is used by the
// indexer when a package links to a repository; [Engine.Resync] is used by
// the periodic repository refresh. Both resolve the repository by its
// stable numeric id first and by owner/name second, so local records
// survive renames.
//
// Reconciliation is split into independent steps (owner, license, README,
// topics). A failing step is logged and skipped; the basic fields computed
// from the resolved repository are always persisted.
package scm
