package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/store"
)

// =============================================================================
// Owners
// =============================================================================

func (s *Store) OwnerByID(_ context.Context, id int64) (*model.ScmOwner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owners[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (s *Store) OwnerByNativeID(_ context.Context, nativeID int64) (*model.ScmOwner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.owners {
		if o.NativeID == nativeID {
			c := *o
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateOwner(_ context.Context, o *model.ScmOwner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.owners {
		if cur.NativeID == o.NativeID {
			return fmt.Errorf("%w: owner %d", store.ErrConflict, o.NativeID)
		}
	}
	o.ID = s.nextID()
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = s.now()
	}
	c := *o
	s.owners[o.ID] = &c
	return nil
}

func (s *Store) UpdateOwner(_ context.Context, o *model.ScmOwner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[o.ID]; !ok {
		return store.ErrNotFound
	}
	c := *o
	s.owners[o.ID] = &c
	// Keep the mirrored owner fields on linked repositories in step.
	for _, r := range s.repos {
		if r.OwnerID == o.ID {
			r.OwnerLogin, r.OwnerType = o.Login, o.Type
		}
	}
	return nil
}

func (s *Store) ClaimStaleOwner(_ context.Context, olderThan, d time.Duration, backoffNS string) (*model.ScmOwner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var candidates []*model.ScmOwner
	for id, o := range s.owners {
		if o.UpdatedAt.After(now.Add(-olderThan)) || s.ownerLeases[id].held(now) || s.backedOff(backoffNS, id, now) {
			continue
		}
		candidates = append(candidates, o)
	}
	o, ok := pickOldest(candidates, func(o *model.ScmOwner) time.Time { return o.UpdatedAt })
	if !ok {
		return nil, nil
	}
	s.ownerLeases[o.ID] = lease{until: now.Add(d)}
	c := *o
	return &c, nil
}

// =============================================================================
// Repositories
// =============================================================================

func (s *Store) RepositoryByID(_ context.Context, id int64) (*model.ScmRepository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *Store) RepositoryByNativeID(_ context.Context, nativeID int64) (*model.ScmRepository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.repos {
		if r.NativeID == nativeID {
			c := *r
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) RepositoryByName(_ context.Context, ownerLogin, name string) (*model.ScmRepository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.repos {
		if model.SameLogin(r.OwnerLogin, ownerLogin) && model.SameLogin(r.Name, name) {
			c := *r
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateRepository(_ context.Context, r *model.ScmRepository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[r.OwnerID]; !ok {
		return fmt.Errorf("%w: owner %d", store.ErrNotFound, r.OwnerID)
	}
	for _, cur := range s.repos {
		if cur.NativeID == r.NativeID {
			return fmt.Errorf("%w: repository %d", store.ErrConflict, r.NativeID)
		}
	}
	r.ID = s.nextID()
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	c := *r
	s.repos[r.ID] = &c
	return nil
}

func (s *Store) UpdateRepository(_ context.Context, r *model.ScmRepository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.repos[r.ID]
	if !ok {
		return store.ErrNotFound
	}
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = s.now()
	c := *r
	s.repos[r.ID] = &c
	return nil
}

func (s *Store) TouchRepository(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[id]
	if !ok {
		return store.ErrNotFound
	}
	r.LastCheckedAt = at
	return nil
}

func (s *Store) ClaimStaleRepository(_ context.Context, olderThan, d time.Duration, backoffNS string) (*model.ScmRepository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var candidates []*model.ScmRepository
	for id, r := range s.repos {
		if r.LastCheckedAt.After(now.Add(-olderThan)) || s.repoLeases[id].held(now) || s.backedOff(backoffNS, id, now) {
			continue
		}
		candidates = append(candidates, r)
	}
	r, ok := pickOldest(candidates, func(r *model.ScmRepository) time.Time { return r.LastCheckedAt })
	if !ok {
		return nil, nil
	}
	s.repoLeases[r.ID] = lease{until: now.Add(d)}
	c := *r
	return &c, nil
}

func (s *Store) Readme(_ context.Context, repositoryID int64) (*model.Readme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.readmes[repositoryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *Store) SaveReadme(_ context.Context, r *model.Readme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = s.now()
	}
	c := *r
	s.readmes[r.RepositoryID] = &c
	return nil
}

// =============================================================================
// Projects
// =============================================================================

func (s *Store) ProjectByID(_ context.Context, id int64) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) ProjectByRepository(_ context.Context, repositoryID int64) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.RepositoryID == repositoryID {
			c := *p
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.projects {
		if cur.RepositoryID == p.RepositoryID {
			return fmt.Errorf("%w: project for repository %d", store.ErrConflict, p.RepositoryID)
		}
	}
	p.ID = s.nextID()
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	c := *p
	s.projects[p.ID] = &c
	return nil
}

func (s *Store) UpdateProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.projects[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = s.now()
	c := *p
	s.projects[p.ID] = &c
	return nil
}

func (s *Store) ClaimProject(_ context.Context, criteria store.ProjectCriteria, d time.Duration, backoffNS string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var candidates []*model.Project
	for id, p := range s.projects {
		switch criteria {
		case store.MissingDescription:
			if p.Description != "" {
				continue
			}
		case store.MissingTags:
			if len(s.tags[id]) > 0 {
				continue
			}
		}
		if r, ok := s.repos[p.RepositoryID]; !ok || !r.HasReadme {
			continue
		}
		if s.projectLeases[id].held(now) || s.backedOff(backoffNS, id, now) {
			continue
		}
		candidates = append(candidates, p)
	}
	p, ok := pickOldest(candidates, func(p *model.Project) time.Time { return p.UpdatedAt })
	if !ok {
		return nil, nil
	}
	s.projectLeases[p.ID] = lease{until: now.Add(d)}
	c := *p
	return &c, nil
}

func (s *Store) Tags(_ context.Context, projectID int64) ([]model.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Tag(nil), s.tags[projectID]...), nil
}

func (s *Store) ReplaceTags(_ context.Context, projectID int64, origin model.TagOrigin, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return fmt.Errorf("%w: project %d", store.ErrNotFound, projectID)
	}
	var kept []model.Tag
	for _, t := range s.tags[projectID] {
		if t.Origin != origin {
			kept = append(kept, t)
		}
	}
	seen := make(map[string]bool)
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		kept = append(kept, model.Tag{ProjectID: projectID, Origin: origin, Value: v})
	}
	s.tags[projectID] = kept
	return nil
}
