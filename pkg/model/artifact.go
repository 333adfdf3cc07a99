package model

import (
	"fmt"
	"time"
)

// ArtifactKey identifies a Maven artifact independent of version.
type ArtifactKey struct {
	GroupID    string `json:"group_id"`
	ArtifactID string `json:"artifact_id"`
}

func (k ArtifactKey) String() string { return k.GroupID + ":" + k.ArtifactID }

// ArtifactCoordinate is one published release found by a discoverer.
// Identity is (GroupID, ArtifactID, Version, SourceID).
type ArtifactCoordinate struct {
	GroupID    string     `json:"group_id"`
	ArtifactID string     `json:"artifact_id"`
	Version    string     `json:"version"`
	SourceID   string     `json:"source_id"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Key returns the version-less artifact key.
func (c ArtifactCoordinate) Key() ArtifactKey {
	return ArtifactKey{GroupID: c.GroupID, ArtifactID: c.ArtifactID}
}

// ID returns the identity string "group:artifact:version@source".
func (c ArtifactCoordinate) ID() string {
	return fmt.Sprintf("%s:%s:%s@%s", c.GroupID, c.ArtifactID, c.Version, c.SourceID)
}

func (c ArtifactCoordinate) String() string {
	return c.GroupID + ":" + c.ArtifactID + ":" + c.Version
}

// IndexingRequest is a queued coordinate waiting to be indexed. Rows are
// deleted on success; failures only touch the bookkeeping fields.
type IndexingRequest struct {
	ID int64 `json:"id"`
	ArtifactCoordinate
	Reindex        bool       `json:"reindex"`
	FailedAttempts int        `json:"failed_attempts"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// KnownVersions maps each artifact to the set of versions already indexed
// or queued. It is the snapshot the discovery coordinator dedups against.
type KnownVersions map[ArtifactKey]map[string]struct{}

// Has reports whether the coordinate's version is known.
func (k KnownVersions) Has(c ArtifactCoordinate) bool {
	versions, ok := k[c.Key()]
	if !ok {
		return false
	}
	_, ok = versions[c.Version]
	return ok
}

// Add records the coordinate's version.
func (k KnownVersions) Add(c ArtifactCoordinate) {
	key := c.Key()
	versions, ok := k[key]
	if !ok {
		versions = make(map[string]struct{})
		k[key] = versions
	}
	versions[c.Version] = struct{}{}
}

// Len returns the total number of known versions.
func (k KnownVersions) Len() int {
	n := 0
	for _, v := range k {
		n += len(v)
	}
	return n
}
