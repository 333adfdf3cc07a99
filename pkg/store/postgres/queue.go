package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/store"
)

const requestColumns = `id, group_id, artifact_id, version, source_id, released_at,
	reindex, failed_attempts, failed_at, coalesce(last_error, ''), created_at`

func scanRequest(row pgx.Row) (*model.IndexingRequest, error) {
	var r model.IndexingRequest
	err := row.Scan(&r.ID, &r.GroupID, &r.ArtifactID, &r.Version, &r.SourceID, &r.ReleasedAt,
		&r.Reindex, &r.FailedAttempts, &r.FailedAt, &r.LastError, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) KnownVersions(ctx context.Context) (model.KnownVersions, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT group_id, artifact_id, version FROM packages
		UNION
		SELECT group_id, artifact_id, version FROM indexing_requests`)
	if err != nil {
		return nil, mapErr(err, "known versions")
	}
	defer rows.Close()

	known := make(model.KnownVersions)
	for rows.Next() {
		var c model.ArtifactCoordinate
		if err := rows.Scan(&c.GroupID, &c.ArtifactID, &c.Version); err != nil {
			return nil, mapErr(err, "known versions")
		}
		known.Add(c)
	}
	return known, mapErr(rows.Err(), "known versions")
}

func (s *Store) Enqueue(ctx context.Context, coords []model.ArtifactCoordinate, reindex bool) (int, error) {
	if len(coords) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, c := range coords {
		batch.Queue(`
			INSERT INTO indexing_requests (group_id, artifact_id, version, source_id, released_at, reindex)
			SELECT $1::text, $2::text, $3::text, $4::text, $5::timestamptz, $6::boolean
			WHERE NOT EXISTS (
				SELECT 1 FROM indexing_requests
				WHERE group_id = $1 AND artifact_id = $2 AND version = $3 AND source_id = $4)`,
			c.GroupID, c.ArtifactID, c.Version, c.SourceID, c.ReleasedAt, reindex)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	n := 0
	for range coords {
		tag, err := results.Exec()
		if err != nil {
			return n, mapErr(err, "enqueue")
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}

func (s *Store) RemoveDuplicates(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM indexing_requests r
		USING indexing_requests o
		WHERE r.group_id = o.group_id
		  AND r.artifact_id = o.artifact_id
		  AND r.version = o.version
		  AND r.source_id = o.source_id
		  AND r.id > o.id
		  AND (r.claimed_until IS NULL OR r.claimed_until < now())`)
	if err != nil {
		return 0, mapErr(err, "remove duplicates")
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ClaimNext(ctx context.Context, lease time.Duration) (*model.IndexingRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx, `
		UPDATE indexing_requests SET claimed_until = now() + $1 * interval '1 second'
		WHERE id = (
			SELECT id FROM indexing_requests
			WHERE claimed_until IS NULL OR claimed_until < now()
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED)
		RETURNING `+requestColumns, seconds(lease)))
	return claimed(r, err, "claim request")
}

func (s *Store) Complete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM indexing_requests WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "complete request")
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, id int64, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE indexing_requests
		SET failed_attempts = failed_attempts + 1, failed_at = now(), last_error = $2
		WHERE id = $1`, id, message)
	if err != nil {
		return mapErr(err, "fail request")
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Failures(ctx context.Context, limit int) ([]model.IndexingRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM indexing_requests
		WHERE failed_attempts > 0
		ORDER BY failed_attempts DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, mapErr(err, "list failures")
	}
	defer rows.Close()

	var out []model.IndexingRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, mapErr(err, "list failures")
		}
		out = append(out, *r)
	}
	return out, mapErr(rows.Err(), "list failures")
}

func (s *Store) QueueStats(ctx context.Context) (store.QueueStats, error) {
	var st store.QueueStats
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE claimed_until > now()),
		       count(*) FILTER (WHERE failed_attempts > 0),
		       min(created_at)
		FROM indexing_requests`).Scan(&st.Pending, &st.Claimed, &st.Failing, &st.OldestAt)
	return st, mapErr(err, "queue stats")
}
