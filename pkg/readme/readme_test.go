package readme

import (
	"context"
	"errors"
	"strings"
	"testing"
)

var ktor = RepoContext{Owner: "ktorio", Name: "ktor", DefaultBranch: "main"}

func TestRewriteLinks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"relative link", "[docs](docs/README.md)", "[docs](https://github.com/ktorio/ktor/blob/main/docs/README.md)"},
		{"dot slash", "[x](./a/b.md)", "[x](https://github.com/ktorio/ktor/blob/main/a/b.md)"},
		{"root relative", "[x](/LICENSE)", "[x](https://github.com/ktorio/ktor/blob/main/LICENSE)"},
		{"image", "![logo](.github/logo.png)", "![logo](https://raw.githubusercontent.com/ktorio/ktor/main/.github/logo.png)"},
		{"title kept", `[x](a.md "A")`, `[x](https://github.com/ktorio/ktor/blob/main/a.md "A")`},
		{"absolute untouched", "[x](https://ktor.io)", "[x](https://ktor.io)"},
		{"anchor untouched", "[x](#install)", "[x](#install)"},
		{"mailto untouched", "[x](mailto:a@b.c)", "[x](mailto:a@b.c)"},
		{"html img", `<img src="img/a.svg" width="40">`, `<img src="https://raw.githubusercontent.com/ktorio/ktor/main/img/a.svg" width="40">`},
		{"html href", `<a href="CONTRIBUTING.md">c</a>`, `<a href="https://github.com/ktorio/ktor/blob/main/CONTRIBUTING.md">c</a>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RewriteLinks(tt.in, ktor); got != tt.want {
				t.Errorf("RewriteLinks(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type fakeRenderer struct {
	html string
	err  error
	got  string
}

func (f *fakeRenderer) RenderMarkdown(_ context.Context, md, repoContext string) (string, error) {
	f.got = md
	return f.html, f.err
}

func TestTransform(t *testing.T) {
	r := &fakeRenderer{html: `<h1>Ktor</h1><script>alert(1)</script><p onclick="x()">Async &amp; fast</p>`}
	p := NewProcessor(r)

	res, err := p.Transform(context.Background(), "# Ktor\n[docs](docs.md)", ktor)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !strings.Contains(r.got, "https://github.com/ktorio/ktor/blob/main/docs.md") {
		t.Errorf("renderer got unrewritten markdown: %q", r.got)
	}
	if strings.Contains(res.HTML, "<script") || strings.Contains(res.HTML, "onclick") {
		t.Errorf("HTML not sanitized: %q", res.HTML)
	}
	if res.Minimized != "Ktor Async & fast" {
		t.Errorf("Minimized = %q", res.Minimized)
	}
}

func TestTransformRenderError(t *testing.T) {
	p := NewProcessor(&fakeRenderer{err: errors.New("boom")})
	if _, err := p.Transform(context.Background(), "# x", ktor); err == nil {
		t.Error("expected error")
	}
}
