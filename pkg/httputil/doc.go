// Package httputil provides the HTTP plumbing shared by every outbound
// client in kmpindex.
//
// # Retry
//
// [Retry] re-runs an operation that failed with a [RetryableError], doubling
// the delay after each attempt. Only transient failures (network errors,
// 5xx and 429 responses) should be wrapped as retryable; everything else is
// returned on the first attempt.
//
//	err := httputil.Retry(ctx, 3, 500*time.Millisecond, func() error {
//	    return fetchGroupIndex(ctx, group)
//	})
//
// # Redirects
//
// [NewClient] builds an *http.Client with a bounded timeout that follows at
// most [MaxRedirects] redirects. Maven mirrors answer with 301, 302, 303, 307
// and 308 depending on the CDN in front of them.
package httputil
