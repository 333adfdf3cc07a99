package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matzehuels/kmpindex/pkg/model"
)

const packageColumns = `id, project_id, group_id, artifact_id, version, source_id, released_at,
	name, description, description_generated, url, scm_url, build_tool, build_tool_version,
	kotlin_version, licenses, developers, created_at, updated_at`

func scanPackage(row pgx.Row) (*model.Package, error) {
	var p model.Package
	err := row.Scan(&p.ID, &p.ProjectID, &p.GroupID, &p.ArtifactID, &p.Version, &p.SourceID, &p.ReleasedAt,
		&p.Name, &p.Description, &p.DescriptionGenerated, &p.URL, &p.ScmURL, &p.BuildTool, &p.BuildToolVersion,
		&p.KotlinVersion, &p.Licenses, &p.Developers, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadTargets(ctx context.Context, q querier, packageID int64) ([]model.PackageTarget, error) {
	rows, err := q.Query(ctx, `
		SELECT id, platform, target FROM package_targets WHERE package_id = $1`, packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PackageTarget
	for rows.Next() {
		var t model.PackageTarget
		if err := rows.Scan(&t.ID, &t.Platform, &t.Target); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	model.SortTargets(out)
	return out, nil
}

func (s *Store) packageWhere(ctx context.Context, what, where string, args ...any) (*model.Package, error) {
	p, err := scanPackage(s.pool.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages `+where, args...))
	if err != nil {
		return nil, mapErr(err, what)
	}
	if p.Targets, err = loadTargets(ctx, s.pool, p.ID); err != nil {
		return nil, mapErr(err, what)
	}
	return p, nil
}

func (s *Store) PackageByCoordinates(ctx context.Context, groupID, artifactID, version string) (*model.Package, error) {
	return s.packageWhere(ctx, "package "+groupID+":"+artifactID+":"+version,
		`WHERE group_id = $1 AND artifact_id = $2 AND version = $3`, groupID, artifactID, version)
}

func (s *Store) LatestPackage(ctx context.Context, key model.ArtifactKey) (*model.Package, error) {
	return s.packageWhere(ctx, "latest package "+key.String(),
		`WHERE group_id = $1 AND artifact_id = $2 ORDER BY released_at DESC, id DESC LIMIT 1`,
		key.GroupID, key.ArtifactID)
}

func insertTargets(ctx context.Context, tx pgx.Tx, packageID int64, targets []model.PackageTarget) error {
	for i := range targets {
		if targets[i].ID != 0 {
			continue
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO package_targets (package_id, platform, target) VALUES ($1, $2, $3)
			RETURNING id`, packageID, targets[i].Platform, targets[i].Target).Scan(&targets[i].ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) InsertPackage(ctx context.Context, p *model.Package) error {
	for i := range p.Targets {
		p.Targets[i].ID = 0
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO packages (project_id, group_id, artifact_id, version, source_id, released_at,
				name, description, description_generated, url, scm_url, build_tool, build_tool_version,
				kotlin_version, licenses, developers)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id, created_at, updated_at`,
			p.ProjectID, p.GroupID, p.ArtifactID, p.Version, p.SourceID, p.ReleasedAt,
			p.Name, p.Description, p.DescriptionGenerated, p.URL, p.ScmURL, p.BuildTool, p.BuildToolVersion,
			p.KotlinVersion, p.Licenses, p.Developers,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		return insertTargets(ctx, tx, p.ID, p.Targets)
	})
	return mapErr(err, "insert package "+p.Coordinate().String())
}

func (s *Store) UpdatePackage(ctx context.Context, p *model.Package) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var id int64
		var created time.Time
		if err := tx.QueryRow(ctx, `
			SELECT id, created_at FROM packages
			WHERE group_id = $1 AND artifact_id = $2 AND version = $3
			FOR UPDATE`, p.GroupID, p.ArtifactID, p.Version).Scan(&id, &created); err != nil {
			return err
		}
		existing, err := loadTargets(ctx, tx, id)
		if err != nil {
			return err
		}
		p.ID, p.CreatedAt = id, created
		p.Targets = model.MergeTargets(existing, p.Targets)

		if err := tx.QueryRow(ctx, `
			UPDATE packages SET project_id = $2, source_id = $3, released_at = $4, name = $5,
				description = $6, description_generated = $7, url = $8, scm_url = $9, build_tool = $10,
				build_tool_version = $11, kotlin_version = $12, licenses = $13, developers = $14,
				updated_at = now()
			WHERE id = $1
			RETURNING updated_at`,
			id, p.ProjectID, p.SourceID, p.ReleasedAt, p.Name,
			p.Description, p.DescriptionGenerated, p.URL, p.ScmURL, p.BuildTool,
			p.BuildToolVersion, p.KotlinVersion, p.Licenses, p.Developers,
		).Scan(&p.UpdatedAt); err != nil {
			return err
		}

		keep := make([]int64, 0, len(p.Targets))
		for _, t := range p.Targets {
			if t.ID != 0 {
				keep = append(keep, t.ID)
			}
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM package_targets WHERE package_id = $1 AND NOT (id = ANY($2))`, id, keep); err != nil {
			return err
		}
		return insertTargets(ctx, tx, id, p.Targets)
	})
	return mapErr(err, "update package "+p.Coordinate().String())
}

func (s *Store) KnownArtifacts(ctx context.Context, sourceID string) ([]model.ArtifactKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT group_id, artifact_id FROM packages
		WHERE source_id = $1
		ORDER BY group_id, artifact_id`, sourceID)
	if err != nil {
		return nil, mapErr(err, "known artifacts")
	}
	defer rows.Close()

	var out []model.ArtifactKey
	for rows.Next() {
		var k model.ArtifactKey
		if err := rows.Scan(&k.GroupID, &k.ArtifactID); err != nil {
			return nil, mapErr(err, "known artifacts")
		}
		out = append(out, k)
	}
	return out, mapErr(rows.Err(), "known artifacts")
}
