package github

import "time"

// Owner is the owner stub embedded in repository responses.
type Owner struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"` // "User" or "Organization"
}

// IsOrganization reports whether the account is an organization.
func (o Owner) IsOrganization() bool { return o.Type == "Organization" }

// License is a repository license.
type License struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	SPDXID string `json:"spdx_id"`
}

// Repository is the subset of the repository resource kmpindex stores.
type Repository struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Owner         Owner     `json:"owner"`
	Description   string    `json:"description"`
	DefaultBranch string    `json:"default_branch"`
	Homepage      string    `json:"homepage"`
	HasPages      bool      `json:"has_pages"`
	HasIssues     bool      `json:"has_issues"`
	HasWiki       bool      `json:"has_wiki"`
	Stars         int       `json:"stargazers_count"`
	OpenIssues    int       `json:"open_issues_count"`
	Archived      bool      `json:"archived"`
	Private       bool      `json:"private"`
	License       *License  `json:"license"`
	Topics        []string  `json:"topics"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	PushedAt      time.Time `json:"pushed_at"`
}

// LastActivity returns the later of the push and update timestamps.
func (r *Repository) LastActivity() time.Time {
	if r.PushedAt.After(r.UpdatedAt) {
		return r.PushedAt
	}
	return r.UpdatedAt
}

// User is an account as returned by /users/{login}.
type User struct {
	ID              int64  `json:"id"`
	Login           string `json:"login"`
	Type            string `json:"type"`
	Name            string `json:"name"`
	Company         string `json:"company"`
	Blog            string `json:"blog"`
	Location        string `json:"location"`
	Email           string `json:"email"`
	Bio             string `json:"bio"`
	TwitterUsername string `json:"twitter_username"`
	Followers       int    `json:"followers"`
}

// IsOrganization reports whether the account is an organization.
func (u *User) IsOrganization() bool { return u.Type == "Organization" }

type licenseResponse struct {
	License License `json:"license"`
}

type topicsResponse struct {
	Names []string `json:"names"`
}

type markdownRequest struct {
	Text    string `json:"text"`
	Mode    string `json:"mode"`
	Context string `json:"context,omitempty"`
}
