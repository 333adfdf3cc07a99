package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/store"
)

// =============================================================================
// Owners
// =============================================================================

const ownerColumns = `id, native_id, login, type, name, description, homepage, twitter_handle,
	email, location, company, followers, updated_at`

func scanOwner(row pgx.Row) (*model.ScmOwner, error) {
	var o model.ScmOwner
	err := row.Scan(&o.ID, &o.NativeID, &o.Login, &o.Type, &o.Name, &o.Description, &o.Homepage,
		&o.TwitterHandle, &o.Email, &o.Location, &o.Company, &o.Followers, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) OwnerByID(ctx context.Context, id int64) (*model.ScmOwner, error) {
	o, err := scanOwner(s.pool.QueryRow(ctx, `SELECT `+ownerColumns+` FROM scm_owners WHERE id = $1`, id))
	return o, mapErr(err, "owner")
}

func (s *Store) OwnerByNativeID(ctx context.Context, nativeID int64) (*model.ScmOwner, error) {
	o, err := scanOwner(s.pool.QueryRow(ctx, `SELECT `+ownerColumns+` FROM scm_owners WHERE native_id = $1`, nativeID))
	return o, mapErr(err, "owner")
}

func (s *Store) CreateOwner(ctx context.Context, o *model.ScmOwner) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scm_owners (native_id, login, type, name, description, homepage, twitter_handle,
			email, location, company, followers, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		o.NativeID, o.Login, o.Type, o.Name, o.Description, o.Homepage, o.TwitterHandle,
		o.Email, o.Location, o.Company, o.Followers, o.UpdatedAt).Scan(&o.ID)
	return mapErr(err, "create owner "+o.Login)
}

// UpdateOwner also refreshes the mirrored login and type on linked
// repositories.
func (s *Store) UpdateOwner(ctx context.Context, o *model.ScmOwner) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE scm_owners SET native_id = $2, login = $3, type = $4, name = $5, description = $6,
				homepage = $7, twitter_handle = $8, email = $9, location = $10, company = $11,
				followers = $12, updated_at = $13, claimed_until = NULL
			WHERE id = $1`,
			o.ID, o.NativeID, o.Login, o.Type, o.Name, o.Description,
			o.Homepage, o.TwitterHandle, o.Email, o.Location, o.Company,
			o.Followers, o.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		_, err = tx.Exec(ctx, `
			UPDATE scm_repositories SET owner_login = $2, owner_type = $3
			WHERE owner_id = $1 AND (owner_login <> $2 OR owner_type <> $3)`, o.ID, o.Login, o.Type)
		return err
	})
	return mapErr(err, "update owner "+o.Login)
}

func (s *Store) ClaimStaleOwner(ctx context.Context, olderThan, lease time.Duration, backoffNS string) (*model.ScmOwner, error) {
	o, err := scanOwner(s.pool.QueryRow(ctx, `
		UPDATE scm_owners SET claimed_until = now() + $2 * interval '1 second'
		WHERE id = (
			SELECT o.id FROM scm_owners o
			WHERE o.updated_at < now() - $1 * interval '1 second'
			  AND (o.claimed_until IS NULL OR o.claimed_until < now())
			  AND NOT EXISTS (
				SELECT 1 FROM backoff_entries b
				WHERE b.namespace = $3 AND b.entity_id = o.id::text AND b.backed_off_until > now())
			ORDER BY o.updated_at, random()
			LIMIT 1
			FOR UPDATE SKIP LOCKED)
		RETURNING `+ownerColumns, seconds(olderThan), seconds(lease), backoffNS))
	return claimed(o, err, "claim owner")
}

// =============================================================================
// Repositories
// =============================================================================

const repositoryColumns = `id, native_id, owner_id, owner_login, owner_type, name, description,
	default_branch, homepage, has_gh_pages, has_issues, has_wiki, has_readme, license_key,
	license_name, stars, open_issues, last_activity_at, created_at, updated_at, last_checked_at`

func scanRepository(row pgx.Row) (*model.ScmRepository, error) {
	var r model.ScmRepository
	err := row.Scan(&r.ID, &r.NativeID, &r.OwnerID, &r.OwnerLogin, &r.OwnerType, &r.Name, &r.Description,
		&r.DefaultBranch, &r.Homepage, &r.HasGhPages, &r.HasIssues, &r.HasWiki, &r.HasReadme, &r.LicenseKey,
		&r.LicenseName, &r.Stars, &r.OpenIssues, &r.LastActivityAt, &r.CreatedAt, &r.UpdatedAt, &r.LastCheckedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) RepositoryByID(ctx context.Context, id int64) (*model.ScmRepository, error) {
	r, err := scanRepository(s.pool.QueryRow(ctx, `SELECT `+repositoryColumns+` FROM scm_repositories WHERE id = $1`, id))
	return r, mapErr(err, "repository")
}

func (s *Store) RepositoryByNativeID(ctx context.Context, nativeID int64) (*model.ScmRepository, error) {
	r, err := scanRepository(s.pool.QueryRow(ctx, `SELECT `+repositoryColumns+` FROM scm_repositories WHERE native_id = $1`, nativeID))
	return r, mapErr(err, "repository")
}

func (s *Store) RepositoryByName(ctx context.Context, ownerLogin, name string) (*model.ScmRepository, error) {
	r, err := scanRepository(s.pool.QueryRow(ctx, `
		SELECT `+repositoryColumns+` FROM scm_repositories
		WHERE lower(owner_login) = lower($1) AND lower(name) = lower($2)
		ORDER BY id LIMIT 1`, ownerLogin, name))
	return r, mapErr(err, "repository "+ownerLogin+"/"+name)
}

func (s *Store) CreateRepository(ctx context.Context, r *model.ScmRepository) error {
	if r.LastCheckedAt.IsZero() {
		r.LastCheckedAt = time.Now()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scm_repositories (native_id, owner_id, owner_login, owner_type, name, description,
			default_branch, homepage, has_gh_pages, has_issues, has_wiki, has_readme, license_key,
			license_name, stars, open_issues, last_activity_at, last_checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, created_at, updated_at`,
		r.NativeID, r.OwnerID, r.OwnerLogin, r.OwnerType, r.Name, r.Description,
		r.DefaultBranch, r.Homepage, r.HasGhPages, r.HasIssues, r.HasWiki, r.HasReadme, r.LicenseKey,
		r.LicenseName, r.Stars, r.OpenIssues, r.LastActivityAt, r.LastCheckedAt,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	return mapErr(err, "create repository "+r.FullName())
}

func (s *Store) UpdateRepository(ctx context.Context, r *model.ScmRepository) error {
	err := s.pool.QueryRow(ctx, `
		UPDATE scm_repositories SET native_id = $2, owner_id = $3, owner_login = $4, owner_type = $5,
			name = $6, description = $7, default_branch = $8, homepage = $9, has_gh_pages = $10,
			has_issues = $11, has_wiki = $12, has_readme = $13, license_key = $14, license_name = $15,
			stars = $16, open_issues = $17, last_activity_at = $18, last_checked_at = $19,
			updated_at = now(), claimed_until = NULL
		WHERE id = $1
		RETURNING created_at, updated_at`,
		r.ID, r.NativeID, r.OwnerID, r.OwnerLogin, r.OwnerType,
		r.Name, r.Description, r.DefaultBranch, r.Homepage, r.HasGhPages,
		r.HasIssues, r.HasWiki, r.HasReadme, r.LicenseKey, r.LicenseName,
		r.Stars, r.OpenIssues, r.LastActivityAt, r.LastCheckedAt,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	return mapErr(err, "update repository "+r.FullName())
}

func (s *Store) TouchRepository(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scm_repositories SET last_checked_at = $2, claimed_until = NULL WHERE id = $1`, id, at)
	if err != nil {
		return mapErr(err, "touch repository")
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ClaimStaleRepository(ctx context.Context, olderThan, lease time.Duration, backoffNS string) (*model.ScmRepository, error) {
	r, err := scanRepository(s.pool.QueryRow(ctx, `
		UPDATE scm_repositories SET claimed_until = now() + $2 * interval '1 second'
		WHERE id = (
			SELECT r.id FROM scm_repositories r
			WHERE r.last_checked_at < now() - $1 * interval '1 second'
			  AND (r.claimed_until IS NULL OR r.claimed_until < now())
			  AND NOT EXISTS (
				SELECT 1 FROM backoff_entries b
				WHERE b.namespace = $3 AND b.entity_id = r.id::text AND b.backed_off_until > now())
			ORDER BY r.last_checked_at, random()
			LIMIT 1
			FOR UPDATE SKIP LOCKED)
		RETURNING `+repositoryColumns, seconds(olderThan), seconds(lease), backoffNS))
	return claimed(r, err, "claim repository")
}

func (s *Store) Readme(ctx context.Context, repositoryID int64) (*model.Readme, error) {
	r := model.Readme{RepositoryID: repositoryID}
	err := s.pool.QueryRow(ctx, `
		SELECT markdown, html, minimized, updated_at FROM scm_readmes WHERE repository_id = $1`,
		repositoryID).Scan(&r.Markdown, &r.HTML, &r.Minimized, &r.UpdatedAt)
	if err != nil {
		return nil, mapErr(err, "readme")
	}
	return &r, nil
}

func (s *Store) SaveReadme(ctx context.Context, r *model.Readme) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scm_readmes (repository_id, markdown, html, minimized, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (repository_id) DO UPDATE SET markdown = EXCLUDED.markdown, html = EXCLUDED.html,
			minimized = EXCLUDED.minimized, updated_at = EXCLUDED.updated_at`,
		r.RepositoryID, r.Markdown, r.HTML, r.Minimized, r.UpdatedAt)
	return mapErr(err, "save readme")
}
