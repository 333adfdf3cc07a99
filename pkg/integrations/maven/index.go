package maven

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
)

// indexPropertiesPath is published by repositories that ship a Nexus index.
const indexPropertiesPath = "/.index/nexus-maven-repository-index.properties"

// Metadata is an artifact-level maven-metadata.xml.
type Metadata struct {
	GroupID     string   `xml:"groupId"`
	ArtifactID  string   `xml:"artifactId"`
	Latest      string   `xml:"versioning>latest"`
	Release     string   `xml:"versioning>release"`
	Versions    []string `xml:"versioning>versions>version"`
	LastUpdated string   `xml:"versioning>lastUpdated"`
}

// UpdatedAt parses LastUpdated (yyyyMMddHHmmss, UTC).
func (m *Metadata) UpdatedAt() (time.Time, bool) {
	t, err := time.Parse("20060102150405", strings.TrimSpace(m.LastUpdated))
	return t, err == nil
}

// FetchMetadata retrieves maven-metadata.xml for an artifact. It is never cached.
func (c *Client) FetchMetadata(ctx context.Context, groupID, artifactID string) (*Metadata, error) {
	u := c.artifactDir(groupID, artifactID) + "/maven-metadata.xml"
	resp, err := c.Fetch(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := xml.Unmarshal(resp.Body, &meta); err != nil {
		return nil, kerrors.Wrap(kerrors.ErrCodeInvalidDescriptor, err, "parse %s", u)
	}
	return &meta, nil
}

// IndexTimestamp returns the time the repository's index snapshot was
// published (nexus.index.timestamp).
func (c *Client) IndexTimestamp(ctx context.Context) (time.Time, error) {
	text, err := c.GetText(ctx, c.repoURL+indexPropertiesPath)
	if err != nil {
		return time.Time{}, err
	}
	return ParseIndexTimestamp(text)
}

// ParseIndexTimestamp extracts nexus.index.timestamp from a properties file.
func ParseIndexTimestamp(properties string) (time.Time, error) {
	sc := bufio.NewScanner(strings.NewReader(properties))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) != "nexus.index.timestamp" {
			continue
		}
		t, err := time.Parse("20060102150405.000 -0700", strings.TrimSpace(value))
		if err != nil {
			return time.Time{}, kerrors.Wrap(kerrors.ErrCodeInvalidDescriptor, err, "parse index timestamp %q", value)
		}
		return t.UTC(), nil
	}
	return time.Time{}, kerrors.New(kerrors.ErrCodeInvalidDescriptor, "index properties carry no nexus.index.timestamp")
}

// SearchPage is one page of search results.
type SearchPage struct {
	NumFound int
	Start    int
	Docs     []SearchDoc
}

// SearchDoc is one artifact version returned by the search API.
type SearchDoc struct {
	GroupID    string `json:"g"`
	ArtifactID string `json:"a"`
	Version    string `json:"v"`
	Timestamp  int64  `json:"timestamp"`
}

// ReleasedAt converts the millisecond timestamp.
func (d SearchDoc) ReleasedAt() *time.Time {
	if d.Timestamp <= 0 {
		return nil
	}
	t := time.UnixMilli(d.Timestamp).UTC()
	return &t
}

type searchResponse struct {
	Response struct {
		NumFound int         `json:"numFound"`
		Start    int         `json:"start"`
		Docs     []SearchDoc `json:"docs"`
	} `json:"response"`
}

// Search queries the GAV core of the search API. Results are not cached.
func (c *Client) Search(ctx context.Context, query string, start, rows int) (*SearchPage, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("core", "gav")
	q.Set("start", strconv.Itoa(start))
	q.Set("rows", strconv.Itoa(rows))
	q.Set("wt", "json")

	var resp searchResponse
	if err := c.Get(ctx, fmt.Sprintf("%s?%s", c.searchURL, q.Encode()), &resp); err != nil {
		return nil, err
	}
	return &SearchPage{
		NumFound: resp.Response.NumFound,
		Start:    resp.Response.Start,
		Docs:     resp.Response.Docs,
	}, nil
}
