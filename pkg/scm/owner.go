package scm

import (
	"strings"

	"github.com/matzehuels/kmpindex/pkg/integrations/github"
	"github.com/matzehuels/kmpindex/pkg/model"
)

// NormalizeHomepage prepends https:// to scheme-less URLs and upgrades
// http:// to https://. Blank input stays blank.
func NormalizeHomepage(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, "https://"):
		return s
	case strings.HasPrefix(s, "http://"):
		return "https://" + strings.TrimPrefix(s, "http://")
	case strings.Contains(s, "://"):
		return s
	default:
		return "https://" + s
	}
}

func ownerType(hostType string) model.OwnerType {
	if hostType == "Organization" {
		return model.OwnerOrganization
	}
	return model.OwnerAuthor
}

// ApplyUser overwrites the mutable fields of o with the host account u.
func ApplyUser(o *model.ScmOwner, u *github.User) {
	o.NativeID = u.ID
	o.Login = u.Login
	o.Type = ownerType(u.Type)
	o.Name = u.Name
	o.Description = u.Bio
	o.Homepage = NormalizeHomepage(u.Blog)
	o.TwitterHandle = u.TwitterUsername
	o.Email = u.Email
	o.Location = u.Location
	o.Company = u.Company
	o.Followers = u.Followers
}

// applyRepository overwrites the basic fields of r with the host's values.
func applyRepository(r *model.ScmRepository, h *github.Repository) {
	r.NativeID = h.ID
	r.Name = h.Name
	r.Description = h.Description
	r.DefaultBranch = h.DefaultBranch
	r.Homepage = h.Homepage
	r.HasGhPages = h.HasPages
	r.HasIssues = h.HasIssues
	r.HasWiki = h.HasWiki
	r.Stars = h.Stars
	r.OpenIssues = h.OpenIssues
	r.LastActivityAt = h.LastActivity()
}
