// Package readme turns raw repository README markdown into the three forms
// kmpindex stores: markdown with absolute links, sanitized HTML, and a
// minimized plain-text rendition used as generation context.
package readme

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Renderer renders markdown to HTML in the context of a repository.
// *github.Client implements it.
type Renderer interface {
	RenderMarkdown(ctx context.Context, markdown, repoContext string) (string, error)
}

// RepoContext locates the repository a README belongs to.
type RepoContext struct {
	Owner         string
	Name          string
	DefaultBranch string
}

// FullName returns "owner/name".
func (r RepoContext) FullName() string { return r.Owner + "/" + r.Name }

func (r RepoContext) branch() string {
	if r.DefaultBranch == "" {
		return "HEAD"
	}
	return r.DefaultBranch
}

// Result is a transformed README.
type Result struct {
	Markdown  string
	HTML      string
	Minimized string
}

// Processor transforms READMEs. It is safe for concurrent use.
type Processor struct {
	renderer Renderer
	ugc      *bluemonday.Policy
	strict   *bluemonday.Policy
}

// NewProcessor returns a Processor rendering through r.
func NewProcessor(r Renderer) *Processor {
	ugc := bluemonday.UGCPolicy()
	ugc.AllowAttrs("align").OnElements("p", "div", "img", "h1", "h2", "h3")
	ugc.AllowAttrs("width", "height").OnElements("img")
	strict := bluemonday.StrictPolicy()
	strict.AddSpaceWhenStrippingTag(true)
	return &Processor{renderer: r, ugc: ugc, strict: strict}
}

// Transform rewrites relative links, renders and sanitizes HTML, and
// derives the minimized text.
func (p *Processor) Transform(ctx context.Context, markdown string, repo RepoContext) (*Result, error) {
	md := RewriteLinks(markdown, repo)
	rendered, err := p.renderer.RenderMarkdown(ctx, md, repo.FullName())
	if err != nil {
		return nil, fmt.Errorf("render readme of %s: %w", repo.FullName(), err)
	}
	safe := p.ugc.Sanitize(rendered)
	return &Result{
		Markdown:  md,
		HTML:      safe,
		Minimized: Minimize(p.strict.Sanitize(safe)),
	}, nil
}

var whitespace = regexp.MustCompile(`\s+`)

// Minimize unescapes entities in tag-free text and collapses whitespace.
func Minimize(text string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(html.UnescapeString(text), " "))
}

var (
	// ![alt](target) and [text](target), with an optional "title".
	mdLink = regexp.MustCompile(`(!?)\[([^\]]*)\]\(\s*<?([^)\s>]+)>?(\s+"[^"]*")?\s*\)`)
	// src="..." and href="..." in inline HTML.
	htmlAttr = regexp.MustCompile(`\b(src|href)\s*=\s*"([^"]+)"`)
)

// RewriteLinks makes relative links and images in markdown absolute.
// Images point at raw content, links at the repository browser.
func RewriteLinks(markdown string, repo RepoContext) string {
	out := mdLink.ReplaceAllStringFunc(markdown, func(m string) string {
		g := mdLink.FindStringSubmatch(m)
		target, ok := absolute(g[3], repo, g[1] == "!")
		if !ok {
			return m
		}
		return g[1] + "[" + g[2] + "](" + target + g[4] + ")"
	})
	return htmlAttr.ReplaceAllStringFunc(out, func(m string) string {
		g := htmlAttr.FindStringSubmatch(m)
		target, ok := absolute(g[2], repo, g[1] == "src")
		if !ok {
			return m
		}
		return g[1] + `="` + target + `"`
	})
}

func absolute(target string, repo RepoContext, raw bool) (string, bool) {
	if target == "" || strings.HasPrefix(target, "#") || strings.HasPrefix(target, "//") {
		return "", false
	}
	if u, err := url.Parse(target); err != nil || u.Scheme != "" {
		return "", false
	}
	clean := path.Clean("/" + strings.TrimPrefix(target, "./"))
	if strings.HasSuffix(target, "/") && clean != "/" {
		clean += "/"
	}
	if raw {
		return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s%s", repo.FullName(), repo.branch(), clean), true
	}
	return fmt.Sprintf("https://github.com/%s/blob/%s%s", repo.FullName(), repo.branch(), clean), true
}
