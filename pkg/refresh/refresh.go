// Package refresh keeps owners, repositories and projects up to date.
//
// Each refresher claims one stale entity per RunOnce call, refreshes it and
// records the outcome in its backoff namespace. Claims skip entities that
// are backed off, so a permanently broken entity is retried on an
// exponentially growing schedule without holding up the others.
package refresh

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmpindex/pkg/backoff"
	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/store"
)

// attempt runs fn for entity id and records the result in namespace ns.
// A panic in fn is recovered and counts as a failure of id. The returned
// error is fn's; failing to record the outcome is only logged.
func attempt(ctx context.Context, bo *backoff.Store, logger *log.Logger, ns string, id int64, fn func() error) (err error) {
	entity := store.EntityID(id)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during refresh", "namespace", ns, "id", id, "panic", r, "stack", string(debug.Stack()))
			err = kerrors.New(kerrors.ErrCodeInternal, "panic: %v", r)
		}
		// Record against a context that outlives cancellation of ctx.
		bctx := context.WithoutCancel(ctx)
		if err == nil {
			if cerr := bo.OnSuccess(bctx, ns, entity); cerr != nil {
				logger.Warn("clear backoff", "namespace", ns, "id", id, "error", cerr)
			}
			return
		}
		entry, ferr := bo.OnFailure(bctx, ns, entity)
		if ferr != nil {
			logger.Warn("record backoff", "namespace", ns, "id", id, "error", ferr)
			return
		}
		// Transient upstream failures are expected and clear up on their own.
		logf := logger.Error
		if kerrors.IsTransient(err) {
			logf = logger.Warn
		}
		logf("refresh failed",
			"namespace", ns,
			"id", id,
			"failures", entry.FailureCount,
			"backed_off_until", entry.BackedOffUntil,
			"error", err)
	}()
	return fn()
}

func claimError(what string, err error) error {
	return fmt.Errorf("claim %s: %w", what, err)
}
