package model

import "time"

// Project is the user-facing unit: one per repository with at least one
// indexed package.
type Project struct {
	ID               int64      `json:"id"`
	RepositoryID     int64      `json:"repository_id"`
	Name             string     `json:"name"`
	LatestVersion    string     `json:"latest_version,omitempty"`
	LatestReleasedAt *time.Time `json:"latest_released_at,omitempty"`
	Description      string     `json:"description,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TagOrigin records who assigned a tag. Higher precedence wins.
type TagOrigin string

const (
	TagOriginUser   TagOrigin = "USER"
	TagOriginGitHub TagOrigin = "GITHUB"
	TagOriginAI     TagOrigin = "AI"
)

// Precedence returns the origin's rank; USER > GITHUB > AI.
func (o TagOrigin) Precedence() int {
	switch o {
	case TagOriginUser:
		return 3
	case TagOriginGitHub:
		return 2
	case TagOriginAI:
		return 1
	}
	return 0
}

// Tag is a canonical tag on a project.
type Tag struct {
	ProjectID int64     `json:"project_id"`
	Origin    TagOrigin `json:"origin"`
	Value     string    `json:"value"`
}

// BackoffEntry is the failure state of one entity within one namespace.
type BackoffEntry struct {
	Namespace      string    `json:"namespace"`
	EntityID       string    `json:"entity_id"`
	FailureCount   int       `json:"failure_count"`
	BackedOffUntil time.Time `json:"backed_off_until"`
}

// GenerationContext is the text handed to description and tag generators.
type GenerationContext struct {
	ProjectName string `json:"project_name"`
	Repository  string `json:"repository,omitempty"`
	Description string `json:"description,omitempty"`
	Readme      string `json:"readme,omitempty"`
}
