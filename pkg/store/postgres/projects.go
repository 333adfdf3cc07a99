package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/store"
)

const projectColumns = `id, repository_id, name, latest_version, latest_released_at, description,
	created_at, updated_at`

func scanProject(row pgx.Row) (*model.Project, error) {
	var p model.Project
	err := row.Scan(&p.ID, &p.RepositoryID, &p.Name, &p.LatestVersion, &p.LatestReleasedAt, &p.Description,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ProjectByID(ctx context.Context, id int64) (*model.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	return p, mapErr(err, "project")
}

func (s *Store) ProjectByRepository(ctx context.Context, repositoryID int64) (*model.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE repository_id = $1`, repositoryID))
	return p, mapErr(err, "project for repository")
}

func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO projects (repository_id, name, latest_version, latest_released_at, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		p.RepositoryID, p.Name, p.LatestVersion, p.LatestReleasedAt, p.Description,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return mapErr(err, "create project "+p.Name)
}

func (s *Store) UpdateProject(ctx context.Context, p *model.Project) error {
	err := s.pool.QueryRow(ctx, `
		UPDATE projects SET name = $2, latest_version = $3, latest_released_at = $4, description = $5,
			updated_at = now(), claimed_until = NULL
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.LatestVersion, p.LatestReleasedAt, p.Description,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err, "update project "+p.Name)
}

func (s *Store) ClaimProject(ctx context.Context, criteria store.ProjectCriteria, lease time.Duration, backoffNS string) (*model.Project, error) {
	cond := `p.description = ''`
	if criteria == store.MissingTags {
		cond = `NOT EXISTS (SELECT 1 FROM project_tags t WHERE t.project_id = p.id)`
	}
	p, err := scanProject(s.pool.QueryRow(ctx, `
		UPDATE projects SET claimed_until = now() + $1 * interval '1 second'
		WHERE id = (
			SELECT p.id FROM projects p
			JOIN scm_repositories r ON r.id = p.repository_id
			WHERE `+cond+`
			  AND r.has_readme
			  AND (p.claimed_until IS NULL OR p.claimed_until < now())
			  AND NOT EXISTS (
				SELECT 1 FROM backoff_entries b
				WHERE b.namespace = $2 AND b.entity_id = p.id::text AND b.backed_off_until > now())
			ORDER BY p.updated_at, random()
			LIMIT 1
			FOR UPDATE OF p SKIP LOCKED)
		RETURNING `+projectColumns, seconds(lease), backoffNS))
	return claimed(p, err, "claim project "+criteria.String())
}

func (s *Store) Tags(ctx context.Context, projectID int64) ([]model.Tag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT origin, value FROM project_tags WHERE project_id = $1 ORDER BY origin, value`, projectID)
	if err != nil {
		return nil, mapErr(err, "tags")
	}
	defer rows.Close()

	var out []model.Tag
	for rows.Next() {
		t := model.Tag{ProjectID: projectID}
		if err := rows.Scan(&t.Origin, &t.Value); err != nil {
			return nil, mapErr(err, "tags")
		}
		out = append(out, t)
	}
	return out, mapErr(rows.Err(), "tags")
}

func (s *Store) ReplaceTags(ctx context.Context, projectID int64, origin model.TagOrigin, values []string) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM project_tags WHERE project_id = $1 AND origin = $2`, projectID, origin); err != nil {
			return err
		}
		for _, v := range values {
			if _, err := tx.Exec(ctx, `
				INSERT INTO project_tags (project_id, origin, value) VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`, projectID, origin, v); err != nil {
				return err
			}
		}
		return nil
	})
	return mapErr(err, "replace tags")
}
