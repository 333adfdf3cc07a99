// Package memory is an in-process implementation of store.Store.
//
// It is used by tests and by dry runs (--storage memory). All methods are
// safe for concurrent use; a single mutex guards every table and no I/O
// happens under it. Returned values are copies.
package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/store"
)

var _ store.Store = (*Store)(nil)

type lease struct {
	until time.Time
}

func (l lease) held(now time.Time) bool { return now.Before(l.until) }

// Store is an in-memory store.Store.
type Store struct {
	mu  sync.Mutex
	now func() time.Time
	ids int64

	requests  map[int64]*model.IndexingRequest
	reqLeases map[int64]lease

	packages map[int64]*model.Package

	owners      map[int64]*model.ScmOwner
	ownerLeases map[int64]lease
	repos       map[int64]*model.ScmRepository
	repoLeases  map[int64]lease
	readmes     map[int64]*model.Readme

	projects      map[int64]*model.Project
	projectLeases map[int64]lease
	tags          map[int64][]model.Tag

	watermarks map[string]time.Time
	backoff    map[string]model.BackoffEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		now:           time.Now,
		requests:      make(map[int64]*model.IndexingRequest),
		reqLeases:     make(map[int64]lease),
		packages:      make(map[int64]*model.Package),
		owners:        make(map[int64]*model.ScmOwner),
		ownerLeases:   make(map[int64]lease),
		repos:         make(map[int64]*model.ScmRepository),
		repoLeases:    make(map[int64]lease),
		readmes:       make(map[int64]*model.Readme),
		projects:      make(map[int64]*model.Project),
		projectLeases: make(map[int64]lease),
		tags:          make(map[int64][]model.Tag),
		watermarks:    make(map[string]time.Time),
		backoff:       make(map[string]model.BackoffEntry),
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) nextID() int64 {
	s.ids++
	return s.ids
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// =============================================================================
// Queue
// =============================================================================

func (s *Store) KnownVersions(context.Context) (model.KnownVersions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(model.KnownVersions)
	for _, p := range s.packages {
		known.Add(p.Coordinate())
	}
	for _, r := range s.requests {
		known.Add(r.ArtifactCoordinate)
	}
	return known, nil
}

func (s *Store) Enqueue(_ context.Context, coords []model.ArtifactCoordinate, reindex bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make(map[string]bool, len(s.requests))
	for _, r := range s.requests {
		pending[r.ArtifactCoordinate.ID()] = true
	}
	now := s.now()
	n := 0
	for _, c := range coords {
		if pending[c.ID()] {
			continue
		}
		pending[c.ID()] = true
		id := s.nextID()
		s.requests[id] = &model.IndexingRequest{ID: id, ArtifactCoordinate: c, Reindex: reindex, CreatedAt: now}
		n++
	}
	return n, nil
}

// EnqueueDuplicate inserts a request even if one is pending for the same
// coordinate. It mimics rows written by concurrent discoverers before the
// uniqueness check ran and exists for RemoveDuplicates tests.
func (s *Store) EnqueueDuplicate(c model.ArtifactCoordinate) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.requests[id] = &model.IndexingRequest{ID: id, ArtifactCoordinate: c, CreatedAt: s.now()}
	return id
}

func (s *Store) RemoveDuplicates(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldest := make(map[string]int64)
	for id, r := range s.requests {
		if cur, ok := oldest[r.ArtifactCoordinate.ID()]; !ok || id < cur {
			oldest[r.ArtifactCoordinate.ID()] = id
		}
	}
	n := 0
	for id, r := range s.requests {
		if oldest[r.ArtifactCoordinate.ID()] != id && !s.reqLeases[id].held(s.now()) {
			delete(s.requests, id)
			delete(s.reqLeases, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) ClaimNext(_ context.Context, d time.Duration) (*model.IndexingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var next *model.IndexingRequest
	for id, r := range s.requests {
		if s.reqLeases[id].held(now) {
			continue
		}
		if next == nil || id < next.ID {
			next = r
		}
	}
	if next == nil {
		return nil, nil
	}
	s.reqLeases[next.ID] = lease{until: now.Add(d)}
	r := *next
	return &r, nil
}

func (s *Store) Complete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.requests, id)
	delete(s.reqLeases, id)
	return nil
}

func (s *Store) Fail(_ context.Context, id int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	now := s.now()
	r.FailedAttempts++
	r.FailedAt = &now
	r.LastError = message
	return nil
}

func (s *Store) Failures(_ context.Context, limit int) ([]model.IndexingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.IndexingRequest
	for _, r := range s.requests {
		if r.FailedAttempts > 0 {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailedAttempts != out[j].FailedAttempts {
			return out[i].FailedAttempts > out[j].FailedAttempts
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) QueueStats(context.Context) (store.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var st store.QueueStats
	for id, r := range s.requests {
		st.Pending++
		if s.reqLeases[id].held(now) {
			st.Claimed++
		}
		if r.FailedAttempts > 0 {
			st.Failing++
		}
		if st.OldestAt == nil || r.CreatedAt.Before(*st.OldestAt) {
			t := r.CreatedAt
			st.OldestAt = &t
		}
	}
	return st, nil
}

// =============================================================================
// Packages
// =============================================================================

func clonePackage(p *model.Package) *model.Package {
	c := *p
	c.Licenses = append([]model.License(nil), p.Licenses...)
	c.Developers = append([]model.Developer(nil), p.Developers...)
	c.Targets = append([]model.PackageTarget(nil), p.Targets...)
	return &c
}

func (s *Store) findPackage(groupID, artifactID, version string) *model.Package {
	for _, p := range s.packages {
		if p.GroupID == groupID && p.ArtifactID == artifactID && p.Version == version {
			return p
		}
	}
	return nil
}

func (s *Store) PackageByCoordinates(_ context.Context, groupID, artifactID, version string) (*model.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findPackage(groupID, artifactID, version)
	if p == nil {
		return nil, store.ErrNotFound
	}
	return clonePackage(p), nil
}

func (s *Store) LatestPackage(_ context.Context, key model.ArtifactKey) (*model.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.Package
	for _, p := range s.packages {
		if p.GroupID != key.GroupID || p.ArtifactID != key.ArtifactID {
			continue
		}
		if latest == nil || p.ReleasedAt.After(latest.ReleasedAt) ||
			(p.ReleasedAt.Equal(latest.ReleasedAt) && p.ID > latest.ID) {
			latest = p
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return clonePackage(latest), nil
}

func (s *Store) assignTargetIDs(targets []model.PackageTarget) {
	for i := range targets {
		if targets[i].ID == 0 {
			targets[i].ID = s.nextID()
		}
	}
}

func (s *Store) InsertPackage(_ context.Context, p *model.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findPackage(p.GroupID, p.ArtifactID, p.Version) != nil {
		return fmt.Errorf("%w: package %s", store.ErrConflict, p.Coordinate())
	}
	now := s.now()
	p.ID = s.nextID()
	p.CreatedAt, p.UpdatedAt = now, now
	for i := range p.Targets {
		p.Targets[i].ID = 0
	}
	s.assignTargetIDs(p.Targets)
	s.packages[p.ID] = clonePackage(p)
	return nil
}

func (s *Store) UpdatePackage(_ context.Context, p *model.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.findPackage(p.GroupID, p.ArtifactID, p.Version)
	if cur == nil {
		return store.ErrNotFound
	}
	p.ID = cur.ID
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = s.now()
	p.Targets = model.MergeTargets(cur.Targets, p.Targets)
	s.assignTargetIDs(p.Targets)
	s.packages[p.ID] = clonePackage(p)
	return nil
}

func (s *Store) KnownArtifacts(_ context.Context, sourceID string) ([]model.ArtifactKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[model.ArtifactKey]bool)
	var out []model.ArtifactKey
	for _, p := range s.packages {
		k := p.Coordinate().Key()
		if p.SourceID == sourceID && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// =============================================================================
// Watermarks
// =============================================================================

func (s *Store) Watermark(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.watermarks[key]
	return t, ok, nil
}

func (s *Store) SetWatermark(_ context.Context, key string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[key] = t
	return nil
}

// =============================================================================
// Backoff
// =============================================================================

func backoffKey(ns, id string) string { return ns + "\x00" + id }

func (s *Store) LookupBackoff(_ context.Context, ns, id string) (*model.BackoffEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.backoff[backoffKey(ns, id)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) IncrementFailure(_ context.Context, ns, id string, until func(int) time.Time) (*model.BackoffEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.backoff[backoffKey(ns, id)]
	e.Namespace, e.EntityID = ns, id
	e.FailureCount++
	e.BackedOffUntil = until(e.FailureCount)
	s.backoff[backoffKey(ns, id)] = e
	return &e, nil
}

func (s *Store) ClearBackoff(_ context.Context, ns, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backoff, backoffKey(ns, id))
	return nil
}

func (s *Store) backedOff(ns string, id int64, now time.Time) bool {
	e, ok := s.backoff[backoffKey(ns, store.EntityID(id))]
	return ok && now.Before(e.BackedOffUntil)
}

// pickOldest returns the candidate with the smallest timestamp, breaking
// ties at random.
func pickOldest[T any](candidates []T, ts func(T) time.Time) (T, bool) {
	var zero T
	if len(candidates) == 0 {
		return zero, false
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	best := candidates[0]
	for _, c := range candidates[1:] {
		if ts(c).Before(ts(best)) {
			best = c
		}
	}
	return best, true
}
