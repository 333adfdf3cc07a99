package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/integrations"
	"github.com/matzehuels/kmpindex/pkg/integrations/github"
	"github.com/matzehuels/kmpindex/pkg/integrations/maven"
	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/observability"
	"github.com/matzehuels/kmpindex/pkg/store"
)

// maxErrorLength caps the error message stored on a failed request.
const maxErrorLength = 2000

// MetadataProvider reads artifact files from one repository.
// *maven.Client implements it.
type MetadataProvider interface {
	FetchPOM(ctx context.Context, groupID, artifactID, version string) (*maven.POM, error)
	FetchToolingMetadata(ctx context.Context, groupID, artifactID, version string) (*maven.ToolingMetadata, error)
	FetchModuleMetadata(ctx context.Context, groupID, artifactID, version string) (*maven.ModuleMetadata, error)
}

// Repositories links packages to source repositories. *scm.Engine
// implements it.
type Repositories interface {
	GetOrCreate(ctx context.Context, ownerLogin, name string) (*model.ScmRepository, error)
	ReconcileTags(ctx context.Context, repo *model.ScmRepository) error
}

// DescriptionGenerator writes package descriptions.
type DescriptionGenerator interface {
	GenerateDescription(ctx context.Context, in model.GenerationContext) (string, error)
}

// Store is the persistence the indexer needs.
type Store interface {
	store.Queue
	store.Packages
	store.Projects
	Readme(ctx context.Context, repositoryID int64) (*model.Readme, error)
}

// Indexer processes indexing requests. It holds no per-request state and
// is safe for concurrent use.
type Indexer struct {
	store     Store
	providers map[string]MetadataProvider
	repos     Repositories
	describer DescriptionGenerator
	lease     time.Duration
	logger    *log.Logger
	now       func() time.Time
}

// New creates an Indexer. providers maps source ids to their repositories.
// A nil repos disables repository linking; a nil logger means
// log.Default().
func New(st Store, providers map[string]MetadataProvider, repos Repositories, logger *log.Logger) *Indexer {
	if logger == nil {
		logger = log.Default()
	}
	return &Indexer{
		store:     st,
		providers: providers,
		repos:     repos,
		lease:     store.DefaultLease,
		logger:    logger.With("component", "indexer"),
		now:       time.Now,
	}
}

// SetDescriptionGenerator sets the generator used to refresh generated
// descriptions on new versions.
func (ix *Indexer) SetDescriptionGenerator(g DescriptionGenerator) { ix.describer = g }

// SetLease sets how long a claimed request stays invisible to other workers.
func (ix *Indexer) SetLease(d time.Duration) {
	if d > 0 {
		ix.lease = d
	}
}

// SetClock replaces the time source.
func (ix *Indexer) SetClock(now func() time.Time) { ix.now = now }

// ProcessNext claims and processes one request. It reports false when the
// queue had nothing to claim. A failure to index the request is recorded
// on the request and is not returned, and neither is a failure to record
// the outcome: the request keeps its lease and is claimed again once it
// expires. The returned error is reserved for claiming failing.
func (ix *Indexer) ProcessNext(ctx context.Context) (bool, error) {
	req, err := ix.store.ClaimNext(ctx, ix.lease)
	if err != nil {
		return false, fmt.Errorf("claim request: %w", err)
	}
	if req == nil {
		return false, nil
	}

	coord := req.ArtifactCoordinate.String()
	hooks := observability.Pipeline()
	hooks.OnIndexStart(ctx, coord)
	start := time.Now()
	err = ix.index(ctx, req)
	hooks.OnIndexComplete(ctx, coord, time.Since(start), err)

	// Bookkeeping must land even when ctx was cancelled mid-request.
	bctx := context.WithoutCancel(ctx)
	if err != nil {
		logf := ix.logger.Error
		if kerrors.IsTransient(err) {
			logf = ix.logger.Warn
		}
		logf("index failed",
			"request", req.ID,
			"coordinate", coord,
			"source", req.SourceID,
			"attempt", req.FailedAttempts+1,
			"error", err)
		if ferr := ix.store.Fail(bctx, req.ID, kerrors.Message(err, maxErrorLength)); ferr != nil {
			ix.logger.Error("record failure", "request", req.ID, "coordinate", coord, "error", ferr)
		}
		return true, nil
	}
	if err := ix.store.Complete(bctx, req.ID); err != nil {
		ix.logger.Error("complete request", "request", req.ID, "coordinate", coord, "error", err)
	}
	return true, nil
}

// Drain processes requests until the queue is empty, limit requests were
// processed (limit <= 0 means no limit), or ctx is done.
func (ix *Indexer) Drain(ctx context.Context, limit int) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := ix.ProcessNext(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		n++
	}
	return n, nil
}

// Run starts workers that drain the queue and poll it every idle interval
// once it is empty. A worker whose claim fails logs the error and tries
// again after the idle interval. Run returns when ctx is done.
func (ix *Indexer) Run(ctx context.Context, workers int, idle time.Duration) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				if _, err := ix.Drain(ctx, 0); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					ix.logger.Error("indexing worker", "worker", i, "error", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(idle):
				}
			}
		})
	}
	return g.Wait()
}

func (ix *Indexer) index(ctx context.Context, req *model.IndexingRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kerrors.New(kerrors.ErrCodeInternal, "panic: %v", r)
		}
	}()

	if req.Version == "" {
		return kerrors.New(kerrors.ErrCodeUnsupported, "request %d has no version; indexing every version is not supported", req.ID)
	}
	provider, ok := ix.providers[req.SourceID]
	if !ok {
		return kerrors.New(kerrors.ErrCodeConfig, "no metadata provider for source %q", req.SourceID)
	}

	pom, err := provider.FetchPOM(ctx, req.GroupID, req.ArtifactID, req.Version)
	if err != nil {
		return fmt.Errorf("fetch pom: %w", err)
	}
	released := ix.releaseTime(req, pom)

	build, err := fetchBuild(ctx, provider, req.ArtifactCoordinate)
	if err != nil {
		return fmt.Errorf("fetch build metadata: %w", err)
	}
	if len(build.targets) == 0 {
		ix.logger.Info("skipping artifact without multiplatform targets", "coordinate", req.ArtifactCoordinate)
		return nil
	}

	repo, project, err := ix.link(ctx, req.ArtifactCoordinate, pom)
	if err != nil {
		return err
	}

	pkg := &model.Package{
		GroupID:          req.GroupID,
		ArtifactID:       req.ArtifactID,
		Version:          req.Version,
		SourceID:         req.SourceID,
		ReleasedAt:       released,
		Name:             pom.Name,
		URL:              pom.URL,
		ScmURL:           pom.SCM.URL,
		BuildTool:        build.tool,
		BuildToolVersion: build.toolVersion,
		KotlinVersion:    build.kotlinVersion,
		Licenses:         licenses(pom),
		Developers:       developers(pom),
		Targets:          build.targets,
	}
	if project != nil {
		pkg.ProjectID = &project.ID
	}
	if err := ix.describe(ctx, pkg, pom, repo, project); err != nil {
		return err
	}
	if err := ix.persist(ctx, req, pkg); err != nil {
		return err
	}
	if project != nil {
		if err := ix.advanceProject(ctx, project, pkg); err != nil {
			return err
		}
	}
	ix.logger.Info("indexed package",
		"coordinate", req.ArtifactCoordinate,
		"targets", len(pkg.Targets),
		"reindex", req.Reindex)
	return nil
}

func (ix *Indexer) releaseTime(req *model.IndexingRequest, pom *maven.POM) time.Time {
	switch {
	case req.ReleasedAt != nil:
		return req.ReleasedAt.UTC()
	case pom.LastModified != nil:
		return pom.LastModified.UTC()
	default:
		return ix.now().UTC()
	}
}

type buildInfo struct {
	tool          string
	toolVersion   string
	kotlinVersion string
	targets       []model.PackageTarget
}

// fetchBuild reads kotlin-tooling-metadata.json, falling back to the
// Gradle .module file. A release publishing neither yields no targets.
func fetchBuild(ctx context.Context, p MetadataProvider, c model.ArtifactCoordinate) (*buildInfo, error) {
	tooling, err := p.FetchToolingMetadata(ctx, c.GroupID, c.ArtifactID, c.Version)
	if err == nil {
		return &buildInfo{
			tool:          tooling.BuildSystem,
			toolVersion:   tooling.BuildSystemVersion,
			kotlinVersion: tooling.BuildPluginVersion,
			targets:       ToolingTargets(tooling),
		}, nil
	}
	if !errors.Is(err, integrations.ErrNotFound) {
		return nil, err
	}

	module, err := p.FetchModuleMetadata(ctx, c.GroupID, c.ArtifactID, c.Version)
	if errors.Is(err, integrations.ErrNotFound) {
		return &buildInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &buildInfo{
		tool:        "Gradle",
		toolVersion: module.CreatedBy.Gradle.Version,
		targets:     ModuleTargets(module),
	}, nil
}

// RepositoryRef returns the GitHub owner and name a POM points at. Groups
// under androidx publish without SCM URLs and live in androidx/androidx.
func RepositoryRef(groupID string, pom *maven.POM) (owner, name string, ok bool) {
	if owner, name, ok = github.ExtractURL(pom.RepositoryURLs()...); ok {
		return owner, name, true
	}
	if groupID == "androidx" || strings.HasPrefix(groupID, "androidx.") {
		return "androidx", "androidx", true
	}
	return "", "", false
}

// link resolves the repository and project of a package. Both are nil when
// the POM names no GitHub repository or the repository does not exist.
func (ix *Indexer) link(ctx context.Context, c model.ArtifactCoordinate, pom *maven.POM) (*model.ScmRepository, *model.Project, error) {
	if ix.repos == nil {
		return nil, nil, nil
	}
	owner, name, ok := RepositoryRef(c.GroupID, pom)
	if !ok {
		ix.logger.Debug("no repository reference", "coordinate", c)
		return nil, nil, nil
	}
	repo, err := ix.repos.GetOrCreate(ctx, owner, name)
	if kerrors.Is(err, kerrors.ErrCodeNotFound) {
		ix.logger.Warn("repository not found", "coordinate", c, "repo", owner+"/"+name)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("link repository %s/%s: %w", owner, name, err)
	}

	project, err := ix.store.ProjectByRepository(ctx, repo.ID)
	if err == nil {
		return repo, project, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}
	project = &model.Project{RepositoryID: repo.ID, Name: repo.Name}
	if err := ix.store.CreateProject(ctx, project); err != nil {
		if errors.Is(err, store.ErrConflict) {
			project, err = ix.store.ProjectByRepository(ctx, repo.ID)
			return repo, project, err
		}
		return nil, nil, fmt.Errorf("create project for %s: %w", repo.FullName(), err)
	}
	ix.logger.Info("created project", "project", project.Name, "repo", repo.FullName())
	if err := ix.repos.ReconcileTags(ctx, repo); err != nil {
		ix.logger.Warn("tag reconciliation failed", "repo", repo.FullName(), "error", err)
	}
	return repo, project, nil
}

// describe sets the package description. A description generated for the
// artifact's latest version is regenerated for this one; otherwise the POM
// description is used. When regeneration is unavailable or fails the
// previous generated text is carried over.
func (ix *Indexer) describe(ctx context.Context, pkg *model.Package, pom *maven.POM, repo *model.ScmRepository, project *model.Project) error {
	pkg.Description = pom.Description
	latest, err := ix.store.LatestPackage(ctx, pkg.Coordinate().Key())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !latest.DescriptionGenerated {
		return nil
	}

	pkg.Description, pkg.DescriptionGenerated = latest.Description, true
	if ix.describer == nil {
		return nil
	}
	in := model.GenerationContext{ProjectName: pom.Name, Description: pom.Description}
	if in.ProjectName == "" {
		in.ProjectName = pkg.ArtifactID
	}
	if project != nil {
		in.ProjectName = project.Name
	}
	if repo != nil {
		in.Repository = repo.FullName()
		if repo.HasReadme {
			if rd, err := ix.store.Readme(ctx, repo.ID); err == nil {
				in.Readme = rd.Minimized
			}
		}
	}
	desc, err := ix.describer.GenerateDescription(ctx, in)
	if err != nil {
		ix.logger.Warn("description generation failed", "coordinate", pkg.Coordinate(), "error", err)
		return nil
	}
	pkg.Description = desc
	return nil
}

// persist inserts a new coordinate or overwrites the stored row of an
// existing one, reusing matching target rows.
func (ix *Indexer) persist(ctx context.Context, req *model.IndexingRequest, pkg *model.Package) error {
	_, err := ix.store.PackageByCoordinates(ctx, pkg.GroupID, pkg.ArtifactID, pkg.Version)
	switch {
	case err == nil:
		if !req.Reindex {
			ix.logger.Debug("coordinate already indexed, updating", "coordinate", req.ArtifactCoordinate)
		}
		return ix.store.UpdatePackage(ctx, pkg)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	if err := ix.store.InsertPackage(ctx, pkg); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ix.store.UpdatePackage(ctx, pkg)
		}
		return fmt.Errorf("insert package: %w", err)
	}
	return nil
}

// advanceProject moves the project's latest-version pointer to pkg when
// pkg is its newest release.
func (ix *Indexer) advanceProject(ctx context.Context, project *model.Project, pkg *model.Package) error {
	if project.LatestReleasedAt != nil && pkg.ReleasedAt.Before(*project.LatestReleasedAt) {
		return nil
	}
	released := pkg.ReleasedAt
	project.LatestVersion = pkg.Version
	project.LatestReleasedAt = &released
	if err := ix.store.UpdateProject(ctx, project); err != nil {
		return fmt.Errorf("update project %d: %w", project.ID, err)
	}
	return nil
}

func licenses(pom *maven.POM) []model.License {
	var out []model.License
	for _, l := range pom.Licenses {
		if l.Name == "" && l.URL == "" {
			continue
		}
		out = append(out, model.License{Name: strings.TrimSpace(l.Name), URL: strings.TrimSpace(l.URL)})
	}
	return out
}

func developers(pom *maven.POM) []model.Developer {
	var out []model.Developer
	for _, d := range pom.Developers {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			name = strings.TrimSpace(d.ID)
		}
		if name == "" {
			continue
		}
		out = append(out, model.Developer{Name: name, URL: strings.TrimSpace(d.URL)})
	}
	return out
}
