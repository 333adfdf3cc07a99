// Package github provides an HTTP client for the GitHub REST API.
//
// # Overview
//
// The client covers what SCM reconciliation needs: repositories by stable
// numeric id or by owner/name, users by login, repository licenses and
// topics, conditional README fetches and markdown rendering.
//
// # Usage
//
//	client := github.NewClient(backend, os.Getenv("GITHUB_TOKEN"), time.Hour)
//	repo, err := client.RepositoryByID(ctx, 1234567)
//	switch r := client.Readme(ctx, repo.ID, lastUpdated).(type) {
//	case github.ReadmeContent:
//	    // r.Markdown changed since lastUpdated
//	case github.ReadmeNotModified, github.ReadmeNotFound:
//	case github.ReadmeError:
//	    // r.Err; try again next cycle
//	}
//
// # Authentication
//
// Without a token GitHub allows 60 requests per hour. Set a token for any
// real workload; rate-limit responses surface as
// [errors.RateLimitedError].
//
// [errors.RateLimitedError]: github.com/matzehuels/kmpindex/pkg/errors.RateLimitedError
package github
