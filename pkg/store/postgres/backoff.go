package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matzehuels/kmpindex/pkg/model"
)

func (s *Store) LookupBackoff(ctx context.Context, ns, id string) (*model.BackoffEntry, error) {
	e := model.BackoffEntry{Namespace: ns, EntityID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT failure_count, backed_off_until FROM backoff_entries
		WHERE namespace = $1 AND entity_id = $2`, ns, id).Scan(&e.FailureCount, &e.BackedOffUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err, "lookup backoff")
	}
	return &e, nil
}

// IncrementFailure upserts the counter first; the row lock it takes
// serializes concurrent failures of the same key until commit.
func (s *Store) IncrementFailure(ctx context.Context, ns, id string, until func(int) time.Time) (*model.BackoffEntry, error) {
	e := model.BackoffEntry{Namespace: ns, EntityID: id}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO backoff_entries (namespace, entity_id, failure_count, backed_off_until)
			VALUES ($1, $2, 1, now())
			ON CONFLICT (namespace, entity_id)
			DO UPDATE SET failure_count = backoff_entries.failure_count + 1
			RETURNING failure_count`, ns, id).Scan(&e.FailureCount); err != nil {
			return err
		}
		e.BackedOffUntil = until(e.FailureCount)
		_, err := tx.Exec(ctx, `
			UPDATE backoff_entries SET backed_off_until = $3
			WHERE namespace = $1 AND entity_id = $2`, ns, id, e.BackedOffUntil)
		return err
	})
	if err != nil {
		return nil, mapErr(err, "increment backoff")
	}
	return &e, nil
}

func (s *Store) ClearBackoff(ctx context.Context, ns, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM backoff_entries WHERE namespace = $1 AND entity_id = $2`, ns, id)
	return mapErr(err, "clear backoff")
}
