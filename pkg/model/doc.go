// Package model defines the entities that flow through the discovery and
// reconciliation pipeline: artifact coordinates and the queue rows built
// from them, indexed packages and their platform targets, and the SCM
// owners, repositories, projects and tags they link to.
//
// Types in this package carry no behavior beyond identity helpers and
// small invariants; persistence lives in [github.com/matzehuels/kmpindex/pkg/store].
package model
