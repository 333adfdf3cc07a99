package github

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/matzehuels/kmpindex/pkg/integrations"
)

// ReadmeResult is the outcome of a conditional README fetch. It is one of
// ReadmeContent, ReadmeNotModified, ReadmeNotFound or ReadmeError.
type ReadmeResult interface {
	readmeResult()
}

// ReadmeContent carries README markdown that changed since the given time.
type ReadmeContent struct {
	Markdown string
}

// ReadmeNotModified means the README is unchanged since the given time.
type ReadmeNotModified struct{}

// ReadmeNotFound means the repository has no README.
type ReadmeNotFound struct{}

// ReadmeError means the fetch failed; state should be left untouched.
type ReadmeError struct {
	Err error
}

func (ReadmeContent) readmeResult()     {}
func (ReadmeNotModified) readmeResult() {}
func (ReadmeNotFound) readmeResult()    {}
func (ReadmeError) readmeResult()       {}

func (e ReadmeError) Error() string { return e.Err.Error() }
func (e ReadmeError) Unwrap() error { return e.Err }

// Readme fetches the raw README of a repository, conditional on it having
// changed after since. A zero since fetches unconditionally.
func (c *Client) Readme(ctx context.Context, repoID int64, since time.Time) ReadmeResult {
	url := fmt.Sprintf("%s/repositories/%d/readme", c.baseURL, repoID)
	headers := map[string]string{"Accept": "application/vnd.github.raw+json"}
	if !since.IsZero() {
		headers["If-Modified-Since"] = since.UTC().Format(http.TimeFormat)
	}

	var result ReadmeResult
	err := c.Retry(ctx, func() error {
		resp, err := c.Do(ctx, http.MethodGet, url, headers, nil)
		if err != nil {
			return err
		}
		switch resp.StatusCode {
		case http.StatusOK:
			result = ReadmeContent{Markdown: string(resp.Body)}
		case http.StatusNotModified:
			result = ReadmeNotModified{}
		case http.StatusNotFound:
			result = ReadmeNotFound{}
		default:
			return integrations.CheckStatus(resp)
		}
		return nil
	})
	if err != nil {
		return ReadmeError{Err: err}
	}
	return result
}
