package scm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/integrations"
	"github.com/matzehuels/kmpindex/pkg/integrations/github"
	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/readme"
	"github.com/matzehuels/kmpindex/pkg/store"
	"github.com/matzehuels/kmpindex/pkg/tags"
)

// Host is the subset of the GitHub API the engine uses.
type Host interface {
	RepositoryByID(ctx context.Context, id int64) (*github.Repository, error)
	Repository(ctx context.Context, owner, name string) (*github.Repository, error)
	User(ctx context.Context, login string) (*github.User, error)
	License(ctx context.Context, repoID int64) (*github.License, error)
	Readme(ctx context.Context, repoID int64, since time.Time) github.ReadmeResult
	Topics(ctx context.Context, repoID int64) ([]string, error)
}

// ReadmeTransformer turns raw README markdown into its stored forms.
type ReadmeTransformer interface {
	Transform(ctx context.Context, markdown string, repo readme.RepoContext) (*readme.Result, error)
}

// Store is the persistence the engine needs.
type Store interface {
	store.Scm
	store.Projects
}

// Engine reconciles repositories and owners. It is safe for concurrent use;
// all shared state lives in the store.
type Engine struct {
	host    Host
	store   Store
	readme  ReadmeTransformer
	catalog *tags.Catalog
	logger  *log.Logger
	now     func() time.Time
}

// New creates an Engine. A nil catalog means tags.Default(); a nil logger
// means log.Default().
func New(host Host, st Store, transformer ReadmeTransformer, catalog *tags.Catalog, logger *log.Logger) *Engine {
	if catalog == nil {
		catalog = tags.Default()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		host:    host,
		store:   st,
		readme:  transformer,
		catalog: catalog,
		logger:  logger.With("component", "scm"),
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// GetOrCreate returns the local repository ownerLogin/name, creating and
// reconciling it from the host if it is not stored yet. A repository that
// was renamed on the host but is known locally by its numeric id is
// resynced instead of duplicated.
func (e *Engine) GetOrCreate(ctx context.Context, ownerLogin, name string) (*model.ScmRepository, error) {
	local, err := e.store.RepositoryByName(ctx, ownerLogin, name)
	if err == nil {
		return local, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hostRepo, err := e.host.Repository(ctx, ownerLogin, name)
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return nil, kerrors.Wrap(kerrors.ErrCodeNotFound, err, "repository %s/%s", ownerLogin, name)
		}
		return nil, fmt.Errorf("resolve %s/%s: %w", ownerLogin, name, err)
	}

	if known, err := e.store.RepositoryByNativeID(ctx, hostRepo.ID); err == nil {
		e.logger.Info("repository known under another name", "repo", known.FullName(), "now", hostRepo.FullName)
		return e.reconcile(ctx, known, hostRepo)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	owner, err := e.ownerForAccount(ctx, hostRepo.Owner)
	if err != nil {
		return nil, err
	}
	repo := &model.ScmRepository{LastCheckedAt: e.now()}
	applyRepository(repo, hostRepo)
	repo.LinkOwner(owner)
	if err := e.store.CreateRepository(ctx, repo); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another worker created it first.
			return e.store.RepositoryByNativeID(ctx, hostRepo.ID)
		}
		return nil, err
	}
	e.logger.Info("created repository", "repo", repo.FullName(), "native_id", repo.NativeID)

	return e.reconcile(ctx, repo, hostRepo)
}

// Resync brings repo up to date with the host. A repository that resolves
// neither by id nor by name only gets its last-checked time touched, and
// the prior record is returned.
func (e *Engine) Resync(ctx context.Context, repo *model.ScmRepository) (*model.ScmRepository, error) {
	hostRepo, err := e.resolve(ctx, repo)
	if err != nil {
		return nil, err
	}
	if hostRepo == nil {
		now := e.now()
		e.logger.Warn("repository no longer resolvable", "repo", repo.FullName(), "native_id", repo.NativeID)
		if err := e.store.TouchRepository(ctx, repo.ID, now); err != nil {
			return nil, err
		}
		prior := *repo
		prior.LastCheckedAt = now
		return &prior, nil
	}
	return e.reconcile(ctx, repo, hostRepo)
}

// resolve looks the repository up by numeric id, then by owner/name. It
// returns nil, nil when neither resolves to the same repository.
func (e *Engine) resolve(ctx context.Context, repo *model.ScmRepository) (*github.Repository, error) {
	if repo.NativeID != 0 {
		h, err := e.host.RepositoryByID(ctx, repo.NativeID)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, integrations.ErrNotFound) {
			return nil, fmt.Errorf("resolve %s by id: %w", repo.FullName(), err)
		}
	}
	h, err := e.host.Repository(ctx, repo.OwnerLogin, repo.Name)
	if errors.Is(err, integrations.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s by name: %w", repo.FullName(), err)
	}
	if repo.NativeID != 0 && h.ID != repo.NativeID {
		// The name now belongs to a different repository.
		return nil, nil
	}
	return h, nil
}

// reconcile applies the host state to repo and persists it. Only the final
// write can fail the call.
func (e *Engine) reconcile(ctx context.Context, repo *model.ScmRepository, h *github.Repository) (*model.ScmRepository, error) {
	next := *repo
	applyRepository(&next, h)
	logger := e.logger.With("repo", h.FullName)

	if err := e.reconcileOwner(ctx, &next, h.Owner); err != nil {
		logger.Warn("owner reconciliation failed", "err", err)
	}
	if err := e.reconcileLicense(ctx, &next); err != nil {
		logger.Warn("license fetch failed", "err", err)
	}
	if err := e.reconcileReadme(ctx, repo, &next); err != nil {
		logger.Warn("readme reconciliation failed", "err", err)
	}

	next.LastCheckedAt = e.now()
	if err := e.store.UpdateRepository(ctx, &next); err != nil {
		return nil, err
	}

	if err := e.ReconcileTags(ctx, &next); err != nil {
		logger.Warn("tag reconciliation failed", "err", err)
	}
	return &next, nil
}

// reconcileOwner detects renames and relocations of the owning account.
func (e *Engine) reconcileOwner(ctx context.Context, repo *model.ScmRepository, hostOwner github.Owner) error {
	if model.SameLogin(hostOwner.Login, repo.OwnerLogin) {
		return nil
	}

	account, err := e.host.User(ctx, hostOwner.Login)
	if err != nil {
		return fmt.Errorf("fetch account %s: %w", hostOwner.Login, err)
	}
	current, err := e.store.OwnerByID(ctx, repo.OwnerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if current != nil && current.NativeID == account.ID {
		e.logger.Info("owner renamed", "from", current.Login, "to", account.Login)
		current.Login = account.Login
		current.Type = ownerType(account.Type)
		if err := e.store.UpdateOwner(ctx, current); err != nil {
			return err
		}
		repo.LinkOwner(current)
		return nil
	}

	owner, err := e.ownerFromUser(ctx, account)
	if err != nil {
		return err
	}
	e.logger.Info("repository relocated", "repo", repo.Name, "from", repo.OwnerLogin, "to", owner.Login)
	repo.LinkOwner(owner)
	return nil
}

// ownerForAccount gets or creates the owner of a freshly discovered
// repository. The profile fetch is best effort.
func (e *Engine) ownerForAccount(ctx context.Context, acct github.Owner) (*model.ScmOwner, error) {
	if o, err := e.store.OwnerByNativeID(ctx, acct.ID); err == nil {
		return e.syncLogin(ctx, o, acct.Login, acct.Type)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	u, err := e.host.User(ctx, acct.Login)
	if err != nil {
		e.logger.Warn("owner profile unavailable", "login", acct.Login, "err", err)
		u = &github.User{ID: acct.ID, Login: acct.Login, Type: acct.Type}
	}
	return e.ownerFromUser(ctx, u)
}

// ownerFromUser gets or creates the owner row of account u by numeric id.
func (e *Engine) ownerFromUser(ctx context.Context, u *github.User) (*model.ScmOwner, error) {
	o, err := e.store.OwnerByNativeID(ctx, u.ID)
	if err == nil {
		return e.syncLogin(ctx, o, u.Login, u.Type)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	o = &model.ScmOwner{UpdatedAt: e.now()}
	ApplyUser(o, u)
	if err := e.store.CreateOwner(ctx, o); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return e.store.OwnerByNativeID(ctx, u.ID)
		}
		return nil, err
	}
	e.logger.Info("created owner", "login", o.Login, "native_id", o.NativeID)
	return o, nil
}

// syncLogin renames a stored owner in place when the host login differs.
func (e *Engine) syncLogin(ctx context.Context, o *model.ScmOwner, login, hostType string) (*model.ScmOwner, error) {
	if o.Login == login && o.Type == ownerType(hostType) {
		return o, nil
	}
	o.Login = login
	o.Type = ownerType(hostType)
	if err := e.store.UpdateOwner(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (e *Engine) reconcileLicense(ctx context.Context, repo *model.ScmRepository) error {
	l, err := e.host.License(ctx, repo.NativeID)
	if errors.Is(err, integrations.ErrNotFound) {
		repo.LicenseKey, repo.LicenseName = "", ""
		return nil
	}
	if err != nil {
		return err
	}
	repo.LicenseKey = l.SPDXID
	if repo.LicenseKey == "" || repo.LicenseKey == "NOASSERTION" {
		repo.LicenseKey = l.Key
	}
	repo.LicenseName = l.Name
	return nil
}

// reconcileReadme fetches the README conditionally on when its content was
// last stored. prev is the record as loaded; next receives the new flag.
func (e *Engine) reconcileReadme(ctx context.Context, prev, next *model.ScmRepository) error {
	var since time.Time
	if prev.HasReadme {
		stored, err := e.store.Readme(ctx, prev.ID)
		switch {
		case err == nil:
			since = stored.UpdatedAt
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
	}

	switch r := e.host.Readme(ctx, next.NativeID, since).(type) {
	case github.ReadmeContent:
		out, err := e.readme.Transform(ctx, r.Markdown, readme.RepoContext{
			Owner:         next.OwnerLogin,
			Name:          next.Name,
			DefaultBranch: next.DefaultBranch,
		})
		if err != nil {
			return err
		}
		if err := e.store.SaveReadme(ctx, &model.Readme{
			RepositoryID: next.ID,
			Markdown:     out.Markdown,
			HTML:         out.HTML,
			Minimized:    out.Minimized,
			UpdatedAt:    e.now(),
		}); err != nil {
			return err
		}
		next.HasReadme = true
	case github.ReadmeNotModified:
		next.HasReadme = true
	case github.ReadmeNotFound:
		next.HasReadme = false
	case github.ReadmeError:
		return r.Err
	}
	return nil
}

// ReconcileTags replaces the GITHUB-origin tags of the repository's project
// with its canonicalized topics, skipping values the project already
// carries as USER tags. Repositories without a project are skipped.
func (e *Engine) ReconcileTags(ctx context.Context, repo *model.ScmRepository) error {
	project, err := e.store.ProjectByRepository(ctx, repo.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	topics, err := e.host.Topics(ctx, repo.NativeID)
	if err != nil {
		return fmt.Errorf("fetch topics: %w", err)
	}
	existing, err := e.store.Tags(ctx, project.ID)
	if err != nil {
		return err
	}
	return e.store.ReplaceTags(ctx, project.ID, model.TagOriginGitHub, GitHubTags(e.catalog, topics, existing))
}

// GitHubTags computes the GITHUB-origin tag set for topics given a
// project's current tags: canonical values minus those present as USER tags.
func GitHubTags(catalog *tags.Catalog, topics []string, existing []model.Tag) []string {
	user := make(map[string]bool)
	for _, t := range existing {
		if t.Origin == model.TagOriginUser {
			user[t.Value] = true
		}
	}
	var out []string
	for _, v := range catalog.Canonicalize(topics) {
		if !user[v] {
			out = append(out, v)
		}
	}
	return out
}
