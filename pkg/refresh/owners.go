package refresh

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmpindex/pkg/backoff"
	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/integrations/github"
	"github.com/matzehuels/kmpindex/pkg/scm"
	"github.com/matzehuels/kmpindex/pkg/store"
)

// DefaultOwnerStaleness is how long an owner profile is trusted.
const DefaultOwnerStaleness = 24 * time.Hour

// UserHost looks up accounts on the source-control host.
type UserHost interface {
	User(ctx context.Context, login string) (*github.User, error)
}

// OwnerRefresher re-reads owner profiles from the host.
type OwnerRefresher struct {
	host       UserHost
	store      store.Scm
	backoff    *backoff.Store
	staleAfter time.Duration
	lease      time.Duration
	now        func() time.Time
	logger     *log.Logger
}

// NewOwnerRefresher creates an OwnerRefresher. A nil logger means
// log.Default().
func NewOwnerRefresher(host UserHost, st store.Scm, bo *backoff.Store, logger *log.Logger) *OwnerRefresher {
	if logger == nil {
		logger = log.Default()
	}
	return &OwnerRefresher{
		host:       host,
		store:      st,
		backoff:    bo,
		staleAfter: DefaultOwnerStaleness,
		lease:      store.DefaultLease,
		now:        time.Now,
		logger:     logger.With("component", "owner-sync"),
	}
}

// SetStaleAfter sets how old an owner must be to be refreshed.
func (r *OwnerRefresher) SetStaleAfter(d time.Duration) {
	if d > 0 {
		r.staleAfter = d
	}
}

// SetClock overrides the time source used to stamp refreshed owners.
func (r *OwnerRefresher) SetClock(now func() time.Time) { r.now = now }

// RunOnce refreshes one stale owner. It reports false when no owner was
// due. Refresh failures are recorded in the backoff store, not returned.
func (r *OwnerRefresher) RunOnce(ctx context.Context) (bool, error) {
	owner, err := r.store.ClaimStaleOwner(ctx, r.staleAfter, r.lease, backoff.NamespaceOwnerSync)
	if err != nil {
		return false, claimError("owner", err)
	}
	if owner == nil {
		return false, nil
	}
	_ = attempt(ctx, r.backoff, r.logger, backoff.NamespaceOwnerSync, owner.ID, func() error {
		u, err := r.host.User(ctx, owner.Login)
		if err != nil {
			return err
		}
		if u.ID != owner.NativeID {
			// The login now belongs to another account; repository resyncs
			// relink the affected repositories.
			return kerrors.New(kerrors.ErrCodeIntegrity, "login %s now belongs to account %d, not %d", owner.Login, u.ID, owner.NativeID)
		}
		scm.ApplyUser(owner, u)
		owner.UpdatedAt = r.now().UTC()
		if err := r.store.UpdateOwner(ctx, owner); err != nil {
			return err
		}
		r.logger.Debug("refreshed owner", "login", owner.Login, "homepage", owner.Homepage)
		return nil
	})
	return true, nil
}
