package googlemaven

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/matzehuels/kmpindex/pkg/cache"
	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/httputil"
	"github.com/matzehuels/kmpindex/pkg/integrations"
)

// RepositoryURL is the Google Maven repository root.
const RepositoryURL = "https://dl.google.com/android/maven2"

// Client reads the master and group indexes.
type Client struct {
	*integrations.Client
	baseURL string
}

// NewClient creates a client for the repository rooted at baseURL. Index
// files change constantly and are never cached; every call is retried up to
// 3 times with a doubling delay starting at 500ms.
func NewClient(baseURL string) *Client {
	c := &Client{
		Client:  integrations.NewClient(cache.NewNullCache(), "google:", 0, nil),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
	c.SetRetry(httputil.Policy{Attempts: 3, Delay: 500 * time.Millisecond})
	return c
}

// RepositoryURL returns the repository root.
func (c *Client) RepositoryURL() string { return c.baseURL }

// MasterIndex returns every group id listed in master-index.xml.
func (c *Client) MasterIndex(ctx context.Context) ([]string, error) {
	resp, err := c.Fetch(ctx, http.MethodGet, c.baseURL+"/master-index.xml", nil, nil)
	if err != nil {
		return nil, err
	}
	groups, err := parseMasterIndex(resp.Body)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.ErrCodeInvalidDescriptor, err, "parse master index")
	}
	return groups, nil
}

// GroupIndex maps artifact ids to their published versions.
type GroupIndex map[string][]string

// Artifacts returns the artifact ids in sorted order.
func (g GroupIndex) Artifacts() []string {
	out := make([]string, 0, len(g))
	for a := range g {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// FetchGroupIndex returns the group-index.xml of group.
func (c *Client) FetchGroupIndex(ctx context.Context, group string) (GroupIndex, error) {
	u := c.baseURL + "/" + strings.ReplaceAll(group, ".", "/") + "/group-index.xml"
	resp, err := c.Fetch(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}
	idx, err := parseGroupIndex(resp.Body)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.ErrCodeInvalidDescriptor, err, "parse group index %s", group)
	}
	return idx, nil
}

// parseMasterIndex collects the names of the root element's children.
func parseMasterIndex(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	depth := 0
	var groups []string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return groups, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				groups = append(groups, t.Name.Local)
			}
		case xml.EndElement:
			depth--
		}
	}
}

func parseGroupIndex(data []byte) (GroupIndex, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	depth := 0
	idx := GroupIndex{}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return idx, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth != 2 {
				continue
			}
			for _, attr := range t.Attr {
				if attr.Name.Local != "versions" {
					continue
				}
				for _, v := range strings.Split(attr.Value, ",") {
					if v = strings.TrimSpace(v); v != "" {
						idx[t.Name.Local] = append(idx[t.Name.Local], v)
					}
				}
			}
		case xml.EndElement:
			depth--
		}
	}
}
