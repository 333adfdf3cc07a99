package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/matzehuels/kmpindex/pkg/buildinfo"
	"github.com/matzehuels/kmpindex/pkg/cache"
	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/httputil"
	"github.com/matzehuels/kmpindex/pkg/observability"
)

// maxBodySize caps how much of a response body is read into memory.
const maxBodySize = 32 << 20

// Client provides shared HTTP functionality for all upstream clients.
// It handles caching, retry logic, and common request headers.
type Client struct {
	http      *http.Client
	cache     cache.Cache
	namespace string
	ttl       time.Duration
	headers   map[string]string
	retry     httputil.Policy
}

// NewClient creates a Client whose cache entries live under namespace in
// backend with the given TTL. Headers are applied to all requests; pass nil
// if none are needed.
func NewClient(backend cache.Cache, namespace string, ttl time.Duration, headers map[string]string) *Client {
	return &Client{
		http:      httputil.NewClient(0),
		cache:     cache.Namespace(backend, namespace),
		namespace: namespace,
		ttl:       ttl,
		headers:   headers,
		retry:     httputil.DefaultPolicy,
	}
}

// SetRetry replaces the retry policy.
func (c *Client) SetRetry(p httputil.Policy) { c.retry = p }

// SetTimeout replaces the underlying HTTP client with one using timeout.
func (c *Client) SetTimeout(timeout time.Duration) { c.http = httputil.NewClient(timeout) }

// Retry runs fn under the client's retry policy.
func (c *Client) Retry(ctx context.Context, fn func() error) error {
	return c.retry.Do(ctx, fn)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// LastModified parses the Last-Modified header, if present.
func (r *Response) LastModified() *time.Time {
	v := r.Header.Get("Last-Modified")
	if v == "" {
		return nil
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// Cached retrieves v from cache or executes fetch and caches the result.
// If refresh is true, the cache is bypassed and fetch is always called.
// fetch is called once; it retries through [Client.Fetch] where needed.
func (c *Client) Cached(ctx context.Context, key string, refresh bool, v any, fetch func() error) error {
	hooks := observability.Cache()
	if !refresh {
		if data, ok, _ := c.cache.Get(ctx, key); ok {
			if json.Unmarshal(data, v) == nil {
				hooks.OnCacheHit(ctx, c.namespace)
				return nil
			}
		}
		hooks.OnCacheMiss(ctx, c.namespace)
	}
	if err := fetch(); err != nil {
		return err
	}
	if data, err := json.Marshal(v); err == nil {
		if c.cache.Set(ctx, key, data, c.ttl) == nil {
			hooks.OnCacheSet(ctx, c.namespace, len(data))
		}
	}
	return nil
}

// Get performs a GET request and JSON-decodes the response into v.
func (c *Client) Get(ctx context.Context, url string, v any) error {
	return c.GetWithHeaders(ctx, url, nil, v)
}

// GetWithHeaders performs a GET with additional headers merged with defaults.
// Request-specific headers override client defaults for the same key.
func (c *Client) GetWithHeaders(ctx context.Context, url string, headers map[string]string, v any) error {
	resp, err := c.Fetch(ctx, http.MethodGet, url, headers, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return kerrors.Wrap(kerrors.ErrCodeInvalidDescriptor, err, "decode %s", url)
	}
	return nil
}

// GetText performs a GET request and returns the body as a string.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	resp, err := c.Fetch(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// Fetch performs a request under the retry policy and returns the response
// when the status is 200. Other statuses are mapped to errors by CheckStatus.
func (c *Client) Fetch(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	var resp *Response
	err := c.retry.Do(ctx, func() error {
		r, err := c.Do(ctx, method, url, headers, body)
		if err != nil {
			return err
		}
		if err := CheckStatus(r); err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

// Do performs a single request without retry or status mapping. Callers
// that need to inspect non-200 statuses (conditional requests) use it
// directly.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	hooks := observability.HTTP()
	hooks.OnRequest(ctx, method, req.URL.Host, req.URL.Path)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, method, req.URL.Host, req.URL.Path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transportError(err, "%s %s", method, url)
	}
	defer resp.Body.Close()
	hooks.OnResponse(ctx, method, req.URL.Host, req.URL.Path, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, transportError(err, "read %s", url)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// transportError classifies a failed round trip. Timeouts are not retried
// inline; the caller records them and tries again on its next cycle.
func transportError(err error, format string, args ...any) error {
	cause := fmt.Errorf("%w: %v", ErrNetwork, err)
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return kerrors.Wrap(kerrors.ErrCodeTimeout, cause, format, args...)
	}
	return httputil.Retryable(kerrors.Wrap(kerrors.ErrCodeNetwork, cause, format, args...))
}

// CheckStatus maps a response status to nil (200) or an error: 304 to
// ErrNotModified, 404 and 410 to ErrNotFound, 429 and 5xx to retryable
// errors, and everything else to ErrNetwork.
func CheckStatus(r *Response) error {
	code := r.StatusCode
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotModified:
		return ErrNotModified
	case code == http.StatusNotFound || code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return httputil.Retryable(rateLimited(r))
	case code == http.StatusForbidden && r.Header.Get("X-RateLimit-Remaining") == "0":
		// Primary rate limit; the window is usually too long to wait out inline.
		return rateLimited(r)
	case code >= 500:
		return httputil.Retryable(kerrors.Wrap(kerrors.ErrCodeNetwork, ErrNetwork, "status %d", code))
	default:
		return kerrors.Wrap(kerrors.ErrCodeNetwork, ErrNetwork, "status %d", code)
	}
}

func rateLimited(r *Response) error {
	e := &kerrors.RateLimitedError{Message: fmt.Sprintf("status %d", r.StatusCode)}
	if s := r.Header.Get("Retry-After"); s != "" {
		e.RetryAfter, _ = strconv.Atoi(s)
	} else if s := r.Header.Get("X-RateLimit-Reset"); s != "" {
		if reset, err := strconv.ParseInt(s, 10, 64); err == nil {
			e.RetryAfter = max(int(time.Until(time.Unix(reset, 0)).Seconds()), 0)
		}
	}
	return e
}
