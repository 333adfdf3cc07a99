package model

import (
	"strings"
	"time"
)

// OwnerType distinguishes user accounts from organizations.
type OwnerType string

const (
	OwnerAuthor       OwnerType = "author"
	OwnerOrganization OwnerType = "organization"
)

// ScmOwner is an account on the source-control host. NativeID is the
// host's stable numeric id and the only identity that survives renames.
type ScmOwner struct {
	ID            int64     `json:"id"`
	NativeID      int64     `json:"native_id"`
	Login         string    `json:"login"`
	Type          OwnerType `json:"type"`
	Name          string    `json:"name,omitempty"`
	Description   string    `json:"description,omitempty"`
	Homepage      string    `json:"homepage,omitempty"`
	TwitterHandle string    `json:"twitter_handle,omitempty"`
	Email         string    `json:"email,omitempty"`
	Location      string    `json:"location,omitempty"`
	Company       string    `json:"company,omitempty"`
	Followers     int       `json:"followers"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SameLogin compares logins the way the host does, ignoring case.
func SameLogin(a, b string) bool { return strings.EqualFold(a, b) }

// ScmRepository is one repository on the source-control host.
// OwnerLogin and OwnerType mirror the linked owner.
type ScmRepository struct {
	ID             int64     `json:"id"`
	NativeID       int64     `json:"native_id"`
	OwnerID        int64     `json:"owner_id"`
	OwnerLogin     string    `json:"owner_login"`
	OwnerType      OwnerType `json:"owner_type"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	DefaultBranch  string    `json:"default_branch"`
	Homepage       string    `json:"homepage,omitempty"`
	HasGhPages     bool      `json:"has_gh_pages"`
	HasIssues      bool      `json:"has_issues"`
	HasWiki        bool      `json:"has_wiki"`
	HasReadme      bool      `json:"has_readme"`
	LicenseKey     string    `json:"license_key,omitempty"`
	LicenseName    string    `json:"license_name,omitempty"`
	Stars          int       `json:"stars"`
	OpenIssues     int       `json:"open_issues"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastCheckedAt  time.Time `json:"last_checked_at"`
}

// FullName returns "owner/name".
func (r *ScmRepository) FullName() string { return r.OwnerLogin + "/" + r.Name }

// LinkOwner points the repository at o and refreshes the mirrored fields.
func (r *ScmRepository) LinkOwner(o *ScmOwner) {
	r.OwnerID = o.ID
	r.OwnerLogin = o.Login
	r.OwnerType = o.Type
}

// Readme holds the processed README of a repository.
type Readme struct {
	RepositoryID int64     `json:"repository_id"`
	Markdown     string    `json:"markdown"`
	HTML         string    `json:"html"`
	Minimized    string    `json:"minimized"`
	UpdatedAt    time.Time `json:"updated_at"`
}
