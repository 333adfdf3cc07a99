// Package cache provides byte-oriented caches for HTTP responses and
// discovery snapshots.
//
// Three backends implement [Cache]:
//   - [FileCache] for single-process CLI runs (~/.cache/kmpindex)
//   - [RedisCache] for worker fleets sharing one cache
//   - [NullCache] to disable caching
//
// Cached data is never authoritative. Anything that must survive a
// restart consistently (watermarks, queue rows, backoff) lives in the store.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values with an optional TTL.
type Cache interface {
	// Get returns the value and true on a hit. A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data. A zero ttl means the entry does not expire.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// Namespaced prefixes every key with ns, so that several clients can share
// one backend without colliding.
type Namespaced struct {
	inner Cache
	ns    string
}

// Namespace wraps c so that every key is prefixed with ns.
func Namespace(c Cache, ns string) *Namespaced {
	if c == nil {
		c = NewNullCache()
	}
	return &Namespaced{inner: c, ns: ns}
}

func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.inner.Get(ctx, n.ns+key)
}

func (n *Namespaced) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return n.inner.Set(ctx, n.ns+key, data, ttl)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.ns+key)
}

// Close is a no-op; the underlying cache is owned by whoever created it.
func (n *Namespaced) Close() error { return nil }

var _ Cache = (*Namespaced)(nil)
