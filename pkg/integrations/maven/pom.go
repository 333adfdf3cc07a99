package maven

import (
	"context"
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
)

// POM is the subset of a project object model the indexer reads.
type POM struct {
	GroupID     string         `xml:"groupId" json:"group_id"`
	ArtifactID  string         `xml:"artifactId" json:"artifact_id"`
	Version     string         `xml:"version" json:"version"`
	Packaging   string         `xml:"packaging" json:"packaging,omitempty"`
	Name        string         `xml:"name" json:"name,omitempty"`
	Description string         `xml:"description" json:"description,omitempty"`
	URL         string         `xml:"url" json:"url,omitempty"`
	Parent      *POMParent     `xml:"parent" json:"parent,omitempty"`
	Licenses    []POMLicense   `xml:"licenses>license" json:"licenses,omitempty"`
	Developers  []POMDeveloper `xml:"developers>developer" json:"developers,omitempty"`
	SCM         POMSCM         `xml:"scm" json:"scm"`

	// LastModified is taken from the HTTP response, not the document.
	LastModified *time.Time `xml:"-" json:"last_modified,omitempty"`
}

// POMParent references a parent POM.
type POMParent struct {
	GroupID    string `xml:"groupId" json:"group_id"`
	ArtifactID string `xml:"artifactId" json:"artifact_id"`
	Version    string `xml:"version" json:"version"`
}

// POMLicense is a declared license.
type POMLicense struct {
	Name string `xml:"name" json:"name"`
	URL  string `xml:"url" json:"url,omitempty"`
}

// POMDeveloper is a declared developer.
type POMDeveloper struct {
	ID           string `xml:"id" json:"id,omitempty"`
	Name         string `xml:"name" json:"name,omitempty"`
	Email        string `xml:"email" json:"email,omitempty"`
	URL          string `xml:"url" json:"url,omitempty"`
	Organization string `xml:"organization" json:"organization,omitempty"`
}

// POMSCM is the source control section.
type POMSCM struct {
	URL                 string `xml:"url" json:"url,omitempty"`
	Connection          string `xml:"connection" json:"connection,omitempty"`
	DeveloperConnection string `xml:"developerConnection" json:"developer_connection,omitempty"`
}

// FetchPOM retrieves and parses the POM of a release. The response's
// Last-Modified header is recorded on the result.
func (c *Client) FetchPOM(ctx context.Context, groupID, artifactID, version string) (*POM, error) {
	if err := kerrors.ValidateCoordinate(groupID, artifactID, version); err != nil {
		return nil, err
	}

	var pom POM
	err := c.Cached(ctx, cacheKey("pom", groupID, artifactID, version), false, &pom, func() error {
		url := c.FileURL(groupID, artifactID, version, ".pom")
		resp, err := c.Fetch(ctx, http.MethodGet, url, nil, nil)
		if err != nil {
			return err
		}
		parsed, err := ParsePOM(resp.Body)
		if err != nil {
			return kerrors.Wrap(kerrors.ErrCodeInvalidDescriptor, err, "parse %s", url)
		}
		parsed.LastModified = resp.LastModified()
		pom = *parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &pom, nil
}

// ParsePOM parses a POM document. Text fields are trimmed.
func ParsePOM(data []byte) (*POM, error) {
	var pom POM
	if err := xml.Unmarshal(data, &pom); err != nil {
		return nil, err
	}
	pom.Name = collapse(pom.Name)
	pom.Description = collapse(pom.Description)
	pom.URL = strings.TrimSpace(pom.URL)
	pom.SCM.URL = strings.TrimSpace(pom.SCM.URL)
	pom.SCM.Connection = strings.TrimSpace(pom.SCM.Connection)
	pom.SCM.DeveloperConnection = strings.TrimSpace(pom.SCM.DeveloperConnection)
	return &pom, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RepositoryURLs returns the URLs that may point at the source repository,
// in the order they should be trusted.
func (p *POM) RepositoryURLs() []string {
	return []string{p.SCM.URL, p.SCM.Connection, p.SCM.DeveloperConnection, p.URL}
}
