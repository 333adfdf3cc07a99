package maven

import (
	"fmt"
	"strings"
	"time"

	"github.com/matzehuels/kmpindex/pkg/cache"
	"github.com/matzehuels/kmpindex/pkg/integrations"
)

const (
	// CentralURL is the Maven Central repository root.
	CentralURL = "https://repo1.maven.org/maven2"

	// CentralSearchURL is the Maven Central Solr search endpoint.
	CentralSearchURL = "https://search.maven.org/solrsearch/select"
)

// Client provides access to one Maven-layout repository.
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	repoURL   string
	searchURL string
}

// NewClient creates a client for the repository rooted at repoURL. Cached
// responses are kept in backend for ttl, namespaced by the repository URL.
func NewClient(backend cache.Cache, repoURL string, ttl time.Duration) *Client {
	repoURL = strings.TrimSuffix(repoURL, "/")
	return &Client{
		Client:    integrations.NewClient(backend, "maven:"+cache.Hash([]byte(repoURL))[:12]+":", ttl, nil),
		repoURL:   repoURL,
		searchURL: CentralSearchURL,
	}
}

// SetSearchURL overrides the search endpoint.
func (c *Client) SetSearchURL(u string) { c.searchURL = u }

// RepositoryURL returns the repository root.
func (c *Client) RepositoryURL() string { return c.repoURL }

func (c *Client) artifactDir(groupID, artifactID string) string {
	return fmt.Sprintf("%s/%s/%s", c.repoURL, strings.ReplaceAll(groupID, ".", "/"), artifactID)
}

// FileURL returns the URL of <artifactId>-<version><suffix> in the version directory.
func (c *Client) FileURL(groupID, artifactID, version, suffix string) string {
	return fmt.Sprintf("%s/%s/%s-%s%s", c.artifactDir(groupID, artifactID), version, artifactID, version, suffix)
}

func cacheKey(kind, groupID, artifactID, version string) string {
	return cache.Key(kind, groupID, artifactID, version)
}
