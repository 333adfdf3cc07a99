package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/kmpindex/pkg/cache"
	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/httputil"
)

func newTestClient(t *testing.T, headers map[string]string) *Client {
	t.Helper()
	c, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}
	client := NewClient(c, "test:", time.Hour, headers)
	client.SetRetry(httputil.Policy{Attempts: 3, Delay: time.Millisecond})
	return client
}

func TestClientGet(t *testing.T) {
	type response struct {
		Message string `json:"message"`
	}

	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		json.NewEncoder(w).Encode(response{Message: "hello"})
	}))
	defer server.Close()

	client := newTestClient(t, nil)

	var resp response
	if err := client.Get(context.Background(), server.URL, &resp); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if resp.Message != "hello" {
		t.Errorf("Get() message = %q, want %q", resp.Message, "hello")
	}
	if userAgent == "" {
		t.Error("User-Agent header not sent")
	}
}

func TestClientGetWithHeadersOverridesDefaults(t *testing.T) {
	var custom, override string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		custom = r.Header.Get("X-Custom")
		override = r.Header.Get("X-Override")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	client := newTestClient(t, map[string]string{"X-Override": "default"})

	var resp map[string]string
	err := client.GetWithHeaders(context.Background(), server.URL,
		map[string]string{"X-Custom": "custom", "X-Override": "overridden"}, &resp)
	if err != nil {
		t.Fatalf("GetWithHeaders() error: %v", err)
	}
	if custom != "custom" || override != "overridden" {
		t.Errorf("headers = %q, %q", custom, override)
	}
}

func TestClientGetText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nexus.index.timestamp=20240101000000.000 +0000"))
	}))
	defer server.Close()

	text, err := newTestClient(t, nil).GetText(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("GetText() error: %v", err)
	}
	if text != "nexus.index.timestamp=20240101000000.000 +0000" {
		t.Errorf("GetText() = %q", text)
	}
}

func TestClientGet404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	var resp map[string]string
	err := newTestClient(t, nil).Get(context.Background(), server.URL, &resp)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestClientRetries500(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":"yes"}`))
	}))
	defer server.Close()

	var resp map[string]string
	if err := newTestClient(t, nil).Get(context.Background(), server.URL, &resp); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestClientGivesUpOn500(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var resp map[string]string
	err := newTestClient(t, nil).Get(context.Background(), server.URL, &resp)
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("Get() error = %v, want ErrNetwork", err)
	}
	if !kerrors.IsTransient(err) {
		t.Error("5xx should classify as transient")
	}
}

func TestClientCachedFetchAttempts(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, nil)
	ctx := context.Background()
	var body string
	err := client.Cached(ctx, "pom", false, &body, func() error {
		resp, err := client.Fetch(ctx, http.MethodGet, server.URL, nil, nil)
		if err != nil {
			return err
		}
		body = string(resp.Body)
		return nil
	})
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Cached() error = %v, want ErrNetwork", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hit %d times, want 3", got)
	}
}

func TestClientTimeoutNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, nil)
	client.SetTimeout(50 * time.Millisecond)

	var resp map[string]string
	err := client.Get(context.Background(), server.URL, &resp)
	if !kerrors.Is(err, kerrors.ErrCodeTimeout) {
		t.Fatalf("Get() error = %v, want TIMEOUT", err)
	}
	if httputil.IsRetryable(err) {
		t.Error("timeout marked retryable")
	}
	if !kerrors.IsTransient(err) {
		t.Error("timeout should classify as transient")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}
}

func TestClientCached(t *testing.T) {
	client := newTestClient(t, nil)
	ctx := context.Background()

	type testData struct {
		Value string `json:"value"`
	}

	fetchCount := 0
	fetch := func(v *testData) func() error {
		return func() error {
			fetchCount++
			v.Value = "fetched"
			return nil
		}
	}

	var first testData
	if err := client.Cached(ctx, "k", false, &first, fetch(&first)); err != nil {
		t.Fatalf("Cached() error: %v", err)
	}
	var second testData
	if err := client.Cached(ctx, "k", false, &second, fetch(&second)); err != nil {
		t.Fatalf("Cached() error: %v", err)
	}
	if fetchCount != 1 {
		t.Errorf("fetch count = %d, want 1", fetchCount)
	}
	if second.Value != "fetched" {
		t.Errorf("cached value = %q", second.Value)
	}

	var third testData
	_ = client.Cached(ctx, "k", true, &third, fetch(&third))
	if fetchCount != 2 {
		t.Errorf("refresh should bypass cache, fetch count = %d", fetchCount)
	}
}

func TestClientCachedFetchError(t *testing.T) {
	client := newTestClient(t, nil)

	fetchCount := 0
	var value string
	err := client.Cached(context.Background(), "err", false, &value, func() error {
		fetchCount++
		return ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Cached() error = %v, want ErrNotFound", err)
	}
	if fetchCount != 1 {
		t.Errorf("non-retryable error fetched %d times", fetchCount)
	}
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		header     http.Header
		wantErr    error
		retryable  bool
		rateLimits bool
	}{
		{name: "200 OK", code: 200},
		{name: "304", code: 304, wantErr: ErrNotModified},
		{name: "404", code: 404, wantErr: ErrNotFound},
		{name: "410", code: 410, wantErr: ErrNotFound},
		{name: "500", code: 500, wantErr: ErrNetwork, retryable: true},
		{name: "503", code: 503, wantErr: ErrNetwork, retryable: true},
		{name: "429", code: 429, header: http.Header{"Retry-After": {"30"}}, retryable: true, rateLimits: true},
		{name: "403 rate limit", code: 403, header: http.Header{"X-Ratelimit-Remaining": {"0"}}, rateLimits: true},
		{name: "403 plain", code: 403, wantErr: ErrNetwork},
		{name: "400", code: 400, wantErr: ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			err := CheckStatus(&Response{StatusCode: tt.code, Header: h})

			if tt.code == 200 {
				if err != nil {
					t.Errorf("CheckStatus() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("CheckStatus() should return error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckStatus() error = %v, want %v", err, tt.wantErr)
			}
			if got := httputil.IsRetryable(err); got != tt.retryable {
				t.Errorf("retryable = %v, want %v", got, tt.retryable)
			}
			var rl *kerrors.RateLimitedError
			if got := errors.As(err, &rl); got != tt.rateLimits {
				t.Errorf("rate limited = %v, want %v", got, tt.rateLimits)
			}
		})
	}
}

func TestResponseLastModified(t *testing.T) {
	r := &Response{Header: http.Header{"Last-Modified": {"Wed, 21 Oct 2015 07:28:00 GMT"}}}
	got := r.LastModified()
	if got == nil {
		t.Fatal("LastModified() = nil")
	}
	want := time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("LastModified() = %v, want %v", got, want)
	}

	if (&Response{Header: http.Header{}}).LastModified() != nil {
		t.Error("missing header should give nil")
	}
}

func TestNormalizeRepoURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"https url", "https://github.com/user/repo", "https://github.com/user/repo"},
		{"with .git suffix", "https://github.com/user/repo.git", "https://github.com/user/repo"},
		{"trailing slash", "https://github.com/user/repo/", "https://github.com/user/repo"},
		{"git@ to https", "git@github.com:user/repo", "https://github.com/user/repo"},
		{"git:// to https", "git://github.com/user/repo", "https://github.com/user/repo"},
		{"git+ prefix", "git+https://github.com/user/repo", "https://github.com/user/repo"},
		{"scm https", "scm:git:https://github.com/user/repo.git", "https://github.com/user/repo"},
		{"scm ssh", "scm:git:ssh://git@github.com/user/repo.git", "https://github.com/user/repo"},
		{"scm git@", "scm:git:git@github.com:user/repo.git", "https://github.com/user/repo"},
		{"with spaces", "  https://github.com/user/repo  ", "https://github.com/user/repo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeRepoURL(tt.input); got != tt.want {
				t.Errorf("NormalizeRepoURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractRepoURL(t *testing.T) {
	re := regexp.MustCompile(`https?://github\.com/([^/]+)/([^/]+?)(?:\.git)?(?:[/?#]|$)`)

	owner, repo, ok := ExtractRepoURL(re, "", "https://github.com/sponsors/x", "scm:git:git@github.com:ktorio/ktor.git")
	if !ok || owner != "ktorio" || repo != "ktor" {
		t.Errorf("ExtractRepoURL() = %q, %q, %v", owner, repo, ok)
	}

	if _, _, ok := ExtractRepoURL(re, "https://gitlab.com/a/b"); ok {
		t.Error("non-GitHub URL matched")
	}
}
