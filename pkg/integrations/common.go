package integrations

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrNotFound is returned when a resource doesn't exist upstream.
	ErrNotFound = errors.New("not found")

	// ErrNotModified is returned for 304 responses to conditional requests.
	ErrNotModified = errors.New("not modified")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")
)

var repoURLReplacer = strings.NewReplacer(
	"scm:git:git@github.com:", "https://github.com/",
	"scm:git:ssh://git@github.com/", "https://github.com/",
	"scm:git:git://github.com/", "https://github.com/",
	"scm:git:https://", "https://",
	"scm:git:http://", "http://",
	"scm:git:", "",
	"git@github.com:", "https://github.com/",
	"ssh://git@github.com/", "https://github.com/",
	"git://github.com/", "https://github.com/",
)

// NormalizeRepoURL converts the repository URL spellings found in POM files
// (scm:git:..., git@, git://, git+) to canonical HTTPS form and strips a
// trailing .git. Returns empty string if raw is empty.
func NormalizeRepoURL(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "git+")
	s = repoURLReplacer.Replace(s)
	s = strings.TrimSuffix(s, "/")
	return strings.TrimSuffix(s, ".git")
}

// ExtractRepoURL finds the owner and repository name in the first of urls
// that re matches. The re parameter should capture owner (group 1) and
// repo name (group 2). Sponsor links are skipped.
func ExtractRepoURL(re *regexp.Regexp, urls ...string) (owner, repo string, ok bool) {
	for _, u := range urls {
		if u == "" || strings.Contains(u, "/sponsors/") {
			continue
		}
		if m := re.FindStringSubmatch(NormalizeRepoURL(u)); len(m) >= 3 {
			return m[1], strings.TrimSuffix(m[2], ".git"), true
		}
	}
	return "", "", false
}

// URLEncode percent-encodes a string for use in URLs.
func URLEncode(s string) string { return url.QueryEscape(s) }
