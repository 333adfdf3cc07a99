package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// MaxRedirects is the number of redirects a client follows before failing.
const MaxRedirects = 3

// DefaultTimeout bounds every outbound request.
const DefaultTimeout = 10 * time.Second

// ErrTooManyRedirects is returned when a redirect chain exceeds MaxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// NewClient creates an HTTP client with the given timeout (DefaultTimeout
// when zero) that follows at most MaxRedirects redirects.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
	}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > MaxRedirects {
		return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, MaxRedirects)
	}
	return nil
}
