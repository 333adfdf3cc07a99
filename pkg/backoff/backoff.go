// Package backoff tracks per-entity failure cooldowns.
//
// One [Store] serves every concern; the namespace argument keeps concerns
// apart, so an owner that keeps failing to sync is not skipped for tag
// generation. Entries live in a [Repository], which in production is the
// relational store so that every worker process sees the same windows.
//
// The cooldown after n consecutive failures is
//
//	min(Base * 2^min(n, CapExponent), Ceiling)
//
// and a single success clears the entry.
package backoff

import (
	"context"
	"time"

	"github.com/matzehuels/kmpindex/pkg/model"
)

// Namespaces used by the refresh jobs.
const (
	NamespaceOwnerSync             = "owner-sync"
	NamespaceRepoSync              = "repo-sync"
	NamespaceDescriptionGeneration = "description-generation"
	NamespaceTagGeneration         = "tag-generation"
)

// Repository persists backoff entries.
type Repository interface {
	// LookupBackoff returns the entry for (ns, id), or nil if there is none.
	LookupBackoff(ctx context.Context, ns, id string) (*model.BackoffEntry, error)

	// IncrementFailure atomically increments the failure count of (ns, id),
	// creating the entry if needed, and sets its window to until(count).
	IncrementFailure(ctx context.Context, ns, id string, until func(failures int) time.Time) (*model.BackoffEntry, error)

	// ClearBackoff removes the entry for (ns, id).
	ClearBackoff(ctx context.Context, ns, id string) error
}

// Policy shapes the cooldown curve.
type Policy struct {
	Base        time.Duration
	CapExponent int
	Ceiling     time.Duration
}

// DefaultPolicy starts at 15 minutes and never exceeds a day.
var DefaultPolicy = Policy{Base: 15 * time.Minute, CapExponent: 6, Ceiling: 24 * time.Hour}

// Cooldown returns the window length after failures consecutive failures.
func (p Policy) Cooldown(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := p.Base
	for range min(failures, p.CapExponent) {
		if p.Ceiling > 0 && d >= p.Ceiling {
			break
		}
		d *= 2
	}
	if p.Ceiling > 0 && d > p.Ceiling {
		return p.Ceiling
	}
	return d
}

// Store answers "should this entity be skipped right now" for any namespace.
// It is safe for concurrent use when its Repository is.
type Store struct {
	repo   Repository
	policy Policy
	now    func() time.Time
}

// New returns a Store over repo. A zero policy means DefaultPolicy.
func New(repo Repository, policy Policy) *Store {
	if policy.Base <= 0 {
		policy = DefaultPolicy
	}
	return &Store{repo: repo, policy: policy, now: time.Now}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Policy returns the store's cooldown policy.
func (s *Store) Policy() Policy { return s.policy }

// IsBackedOff reports whether (ns, id) is inside its cooldown window.
func (s *Store) IsBackedOff(ctx context.Context, ns, id string) (bool, error) {
	e, err := s.repo.LookupBackoff(ctx, ns, id)
	if err != nil || e == nil {
		return false, err
	}
	return s.now().Before(e.BackedOffUntil), nil
}

// OnSuccess clears any failure state of (ns, id).
func (s *Store) OnSuccess(ctx context.Context, ns, id string) error {
	return s.repo.ClearBackoff(ctx, ns, id)
}

// OnFailure records a failure of (ns, id) and returns the updated entry.
func (s *Store) OnFailure(ctx context.Context, ns, id string) (*model.BackoffEntry, error) {
	now := s.now()
	return s.repo.IncrementFailure(ctx, ns, id, func(failures int) time.Time {
		return now.Add(s.policy.Cooldown(failures))
	})
}
