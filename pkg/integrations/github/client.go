package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/matzehuels/kmpindex/pkg/cache"
	"github.com/matzehuels/kmpindex/pkg/integrations"
)

// APIURL is the public GitHub API root.
const APIURL = "https://api.github.com"

var repoURLPattern = regexp.MustCompile(`https?://github\.com/([^/]+)/([^/]+?)(?:\.git)?(?:[/?#]|$)`)

// Owners are 1-39 alphanumerics or hyphens, not starting with a hyphen.
// Repository names are 1-100 alphanumerics, hyphens, underscores or dots.
var (
	ownerPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,38}$`)
	namePattern  = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,100}$`)
)

// Client provides access to the GitHub API.
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	baseURL string
}

// NewClient creates a GitHub API client. Pass an empty token for
// unauthenticated requests. Only rendered markdown is cached; repository
// and user lookups always go to the API.
func NewClient(backend cache.Cache, token string, ttl time.Duration) *Client {
	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return &Client{
		Client:  integrations.NewClient(backend, "github:", ttl, headers),
		baseURL: APIURL,
	}
}

// SetBaseURL points the client at another API root (GitHub Enterprise, tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimSuffix(u, "/") }

// RepositoryByID fetches a repository by its stable numeric id.
func (c *Client) RepositoryByID(ctx context.Context, id int64) (*Repository, error) {
	return c.repository(ctx, fmt.Sprintf("%s/repositories/%d", c.baseURL, id))
}

// Repository fetches a repository by owner and name. GitHub follows
// renames with a redirect, which the client follows.
func (c *Client) Repository(ctx context.Context, owner, name string) (*Repository, error) {
	return c.repository(ctx, fmt.Sprintf("%s/repos/%s/%s", c.baseURL, owner, name))
}

func (c *Client) repository(ctx context.Context, url string) (*Repository, error) {
	var repo Repository
	if err := c.Get(ctx, url, &repo); err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: github repository %s", err, strings.TrimPrefix(url, c.baseURL))
		}
		return nil, err
	}
	return &repo, nil
}

// User fetches an account by login.
func (c *Client) User(ctx context.Context, login string) (*User, error) {
	var u User
	if err := c.Get(ctx, fmt.Sprintf("%s/users/%s", c.baseURL, login), &u); err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("%w: github user %s", err, login)
		}
		return nil, err
	}
	return &u, nil
}

// License fetches the detected license of a repository.
func (c *Client) License(ctx context.Context, repoID int64) (*License, error) {
	var resp licenseResponse
	if err := c.Get(ctx, fmt.Sprintf("%s/repositories/%d/license", c.baseURL, repoID), &resp); err != nil {
		return nil, err
	}
	return &resp.License, nil
}

// Topics fetches the topic list of a repository.
func (c *Client) Topics(ctx context.Context, repoID int64) ([]string, error) {
	var resp topicsResponse
	if err := c.Get(ctx, fmt.Sprintf("%s/repositories/%d/topics", c.baseURL, repoID), &resp); err != nil {
		return nil, err
	}
	return resp.Names, nil
}

// RenderMarkdown renders GitHub-flavored markdown to HTML in the context of
// repository "owner/name", so that issue references and relative links resolve.
func (c *Client) RenderMarkdown(ctx context.Context, markdown, repoContext string) (string, error) {
	body, err := json.Marshal(markdownRequest{Text: markdown, Mode: "gfm", Context: repoContext})
	if err != nil {
		return "", err
	}
	key := cache.Key("markdown", cache.Hash(body))

	var html string
	err = c.Cached(ctx, key, false, &html, func() error {
		resp, err := c.Fetch(ctx, http.MethodPost, c.baseURL+"/markdown", map[string]string{"Accept": "text/html"}, body)
		if err != nil {
			return err
		}
		html = string(resp.Body)
		return nil
	})
	return html, err
}

// ExtractURL returns the owner and repository of the first GitHub URL in urls.
func ExtractURL(urls ...string) (owner, repo string, ok bool) {
	owner, repo, ok = integrations.ExtractRepoURL(repoURLPattern, urls...)
	if ok && !(ownerPattern.MatchString(owner) && namePattern.MatchString(repo)) {
		return "", "", false
	}
	return owner, repo, ok
}
