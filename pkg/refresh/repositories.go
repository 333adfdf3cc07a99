package refresh

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmpindex/pkg/backoff"
	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/store"
)

// DefaultRepositoryInterval is how often a repository is resynced.
const DefaultRepositoryInterval = 24 * time.Hour

// Resyncer brings a stored repository up to date. *scm.Engine implements it.
type Resyncer interface {
	Resync(ctx context.Context, repo *model.ScmRepository) (*model.ScmRepository, error)
}

// RepositoryRefresher resyncs repositories that were not checked recently.
type RepositoryRefresher struct {
	engine   Resyncer
	store    store.Scm
	backoff  *backoff.Store
	interval time.Duration
	lease    time.Duration
	logger   *log.Logger
}

// NewRepositoryRefresher creates a RepositoryRefresher. A nil logger means
// log.Default().
func NewRepositoryRefresher(engine Resyncer, st store.Scm, bo *backoff.Store, logger *log.Logger) *RepositoryRefresher {
	if logger == nil {
		logger = log.Default()
	}
	return &RepositoryRefresher{
		engine:   engine,
		store:    st,
		backoff:  bo,
		interval: DefaultRepositoryInterval,
		lease:    store.DefaultLease,
		logger:   logger.With("component", "repo-sync"),
	}
}

// SetInterval sets how long a check stays fresh.
func (r *RepositoryRefresher) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// RunOnce resyncs one repository. It reports false when none was due.
func (r *RepositoryRefresher) RunOnce(ctx context.Context) (bool, error) {
	repo, err := r.store.ClaimStaleRepository(ctx, r.interval, r.lease, backoff.NamespaceRepoSync)
	if err != nil {
		return false, claimError("repository", err)
	}
	if repo == nil {
		return false, nil
	}
	_ = attempt(ctx, r.backoff, r.logger, backoff.NamespaceRepoSync, repo.ID, func() error {
		updated, err := r.engine.Resync(ctx, repo)
		if err != nil {
			return err
		}
		r.logger.Debug("resynced repository", "repo", updated.FullName())
		return nil
	})
	return true, nil
}
