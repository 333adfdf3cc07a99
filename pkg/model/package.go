package model

import (
	"sort"
	"time"
)

// Platform is a Kotlin Multiplatform compilation platform.
type Platform string

const (
	PlatformCommon     Platform = "common"
	PlatformJVM        Platform = "jvm"
	PlatformAndroidJVM Platform = "androidJvm"
	PlatformJS         Platform = "js"
	PlatformWasm       Platform = "wasm"
	PlatformNative     Platform = "native"
)

var platformOrder = map[Platform]int{
	PlatformCommon:     0,
	PlatformJVM:        1,
	PlatformAndroidJVM: 2,
	PlatformJS:         3,
	PlatformWasm:       4,
	PlatformNative:     5,
}

// ParsePlatform maps a Kotlin platform type string to a Platform.
func ParsePlatform(s string) (Platform, bool) {
	p := Platform(s)
	_, ok := platformOrder[p]
	return p, ok
}

// PackageTarget is one (platform, qualifier) pair a package is built for,
// e.g. (jvm, "17") or (native, "ios_arm64"). Target is empty when the
// platform carries no qualifier.
type PackageTarget struct {
	ID       int64    `json:"id,omitempty"`
	Platform Platform `json:"platform"`
	Target   string   `json:"target,omitempty"`
}

// Key returns the identity used when merging target sets.
func (t PackageTarget) Key() string { return string(t.Platform) + "/" + t.Target }

// SortTargets orders targets by platform then qualifier, in place.
func SortTargets(targets []PackageTarget) {
	sort.SliceStable(targets, func(i, j int) bool {
		a, b := targets[i], targets[j]
		if a.Platform != b.Platform {
			return platformOrder[a.Platform] < platformOrder[b.Platform]
		}
		return a.Target < b.Target
	})
}

// License is a declared artifact license.
type License struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Developer is a declared artifact developer.
type Developer struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Package is one indexed (group, artifact, version).
type Package struct {
	ID                   int64           `json:"id"`
	ProjectID            *int64          `json:"project_id,omitempty"`
	GroupID              string          `json:"group_id"`
	ArtifactID           string          `json:"artifact_id"`
	Version              string          `json:"version"`
	SourceID             string          `json:"source_id"`
	ReleasedAt           time.Time       `json:"released_at"`
	Name                 string          `json:"name,omitempty"`
	Description          string          `json:"description,omitempty"`
	DescriptionGenerated bool            `json:"description_generated"`
	URL                  string          `json:"url,omitempty"`
	ScmURL               string          `json:"scm_url,omitempty"`
	BuildTool            string          `json:"build_tool,omitempty"`
	BuildToolVersion     string          `json:"build_tool_version,omitempty"`
	KotlinVersion        string          `json:"kotlin_version,omitempty"`
	Licenses             []License       `json:"licenses,omitempty"`
	Developers           []Developer     `json:"developers,omitempty"`
	Targets              []PackageTarget `json:"targets"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Coordinate returns the package's coordinate.
func (p *Package) Coordinate() ArtifactCoordinate {
	released := p.ReleasedAt
	return ArtifactCoordinate{
		GroupID:    p.GroupID,
		ArtifactID: p.ArtifactID,
		Version:    p.Version,
		SourceID:   p.SourceID,
		ReleasedAt: &released,
	}
}

// MergeTargets returns next with IDs reused from existing rows whose
// (platform, target) key matches. Rows in existing that are absent from
// next are dropped by the caller.
func MergeTargets(existing, next []PackageTarget) []PackageTarget {
	ids := make(map[string]int64, len(existing))
	for _, t := range existing {
		ids[t.Key()] = t.ID
	}
	out := make([]PackageTarget, 0, len(next))
	for _, t := range next {
		t.ID = ids[t.Key()]
		out = append(out, t)
	}
	return out
}
