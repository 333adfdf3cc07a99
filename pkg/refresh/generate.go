package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmpindex/pkg/backoff"
	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/store"
	"github.com/matzehuels/kmpindex/pkg/tags"
)

// Describer writes project descriptions. *genai.Generator implements it.
type Describer interface {
	GenerateDescription(ctx context.Context, in model.GenerationContext) (string, error)
}

// Tagger proposes project tags. *genai.Generator implements it.
type Tagger interface {
	GenerateTags(ctx context.Context, in model.GenerationContext) ([]string, error)
}

// ProjectStore is the persistence the generators need.
type ProjectStore interface {
	store.Projects
	RepositoryByID(ctx context.Context, id int64) (*model.ScmRepository, error)
	Readme(ctx context.Context, repositoryID int64) (*model.Readme, error)
}

// generationContext assembles the text handed to a generator.
func generationContext(ctx context.Context, st ProjectStore, p *model.Project) (model.GenerationContext, error) {
	in := model.GenerationContext{ProjectName: p.Name}
	repo, err := st.RepositoryByID(ctx, p.RepositoryID)
	if err != nil {
		return in, fmt.Errorf("repository %d: %w", p.RepositoryID, err)
	}
	in.Repository = repo.FullName()
	in.Description = repo.Description
	rd, err := st.Readme(ctx, repo.ID)
	if err != nil {
		return in, fmt.Errorf("readme of %s: %w", repo.FullName(), err)
	}
	in.Readme = rd.Minimized
	return in, nil
}

// DescriptionGenerator fills in missing project descriptions.
type DescriptionGenerator struct {
	describer Describer
	store     ProjectStore
	backoff   *backoff.Store
	logger    *log.Logger
}

// NewDescriptionGenerator creates a DescriptionGenerator. A nil logger
// means log.Default().
func NewDescriptionGenerator(d Describer, st ProjectStore, bo *backoff.Store, logger *log.Logger) *DescriptionGenerator {
	if logger == nil {
		logger = log.Default()
	}
	return &DescriptionGenerator{
		describer: d,
		store:     st,
		backoff:   bo,
		logger:    logger.With("component", backoff.NamespaceDescriptionGeneration),
	}
}

// RunOnce generates the description of one project that has a README but
// no description. It reports false when no project qualified.
func (g *DescriptionGenerator) RunOnce(ctx context.Context) (bool, error) {
	p, err := g.store.ClaimProject(ctx, store.MissingDescription, store.DefaultLease, backoff.NamespaceDescriptionGeneration)
	if err != nil {
		return false, claimError("project", err)
	}
	if p == nil {
		return false, nil
	}
	_ = attempt(ctx, g.backoff, g.logger, backoff.NamespaceDescriptionGeneration, p.ID, func() error {
		in, err := generationContext(ctx, g.store, p)
		if err != nil {
			return err
		}
		desc, err := g.describer.GenerateDescription(ctx, in)
		if err != nil {
			return err
		}
		desc = strings.TrimSpace(desc)
		if desc == "" {
			return kerrors.New(kerrors.ErrCodeInvalidDescriptor, "generator returned an empty description")
		}
		p.Description = desc
		if err := g.store.UpdateProject(ctx, p); err != nil {
			return err
		}
		g.logger.Info("generated description", "project", p.Name)
		return nil
	})
	return true, nil
}

// TagGenerator assigns AI tags to projects without tags.
type TagGenerator struct {
	tagger  Tagger
	store   ProjectStore
	catalog *tags.Catalog
	backoff *backoff.Store
	logger  *log.Logger
}

// NewTagGenerator creates a TagGenerator. A nil catalog means
// tags.Default(); a nil logger means log.Default().
func NewTagGenerator(t Tagger, st ProjectStore, catalog *tags.Catalog, bo *backoff.Store, logger *log.Logger) *TagGenerator {
	if catalog == nil {
		catalog = tags.Default()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TagGenerator{
		tagger:  t,
		store:   st,
		catalog: catalog,
		backoff: bo,
		logger:  logger.With("component", backoff.NamespaceTagGeneration),
	}
}

// errNoCanonicalTags marks a generation whose proposals all fell outside
// the catalog or were already assigned.
var errNoCanonicalTags = errors.New("no new canonical tags")

// RunOnce generates AI tags for one project. Proposals are canonicalized
// and values already present with a higher-precedence origin are dropped.
func (g *TagGenerator) RunOnce(ctx context.Context) (bool, error) {
	p, err := g.store.ClaimProject(ctx, store.MissingTags, store.DefaultLease, backoff.NamespaceTagGeneration)
	if err != nil {
		return false, claimError("project", err)
	}
	if p == nil {
		return false, nil
	}
	_ = attempt(ctx, g.backoff, g.logger, backoff.NamespaceTagGeneration, p.ID, func() error {
		in, err := generationContext(ctx, g.store, p)
		if err != nil {
			return err
		}
		proposed, err := g.tagger.GenerateTags(ctx, in)
		if err != nil {
			return err
		}
		existing, err := g.store.Tags(ctx, p.ID)
		if err != nil {
			return err
		}
		values := AITags(g.catalog, proposed, existing)
		if len(values) == 0 {
			return fmt.Errorf("project %s: %w", p.Name, errNoCanonicalTags)
		}
		if err := g.store.ReplaceTags(ctx, p.ID, model.TagOriginAI, values); err != nil {
			return err
		}
		g.logger.Info("generated tags", "project", p.Name, "tags", strings.Join(values, ","))
		return nil
	})
	return true, nil
}

// AITags canonicalizes proposed and drops values the project already
// carries with an origin that outranks AI.
func AITags(catalog *tags.Catalog, proposed []string, existing []model.Tag) []string {
	taken := make(map[string]bool)
	for _, t := range existing {
		if t.Origin.Precedence() > model.TagOriginAI.Precedence() {
			taken[t.Value] = true
		}
	}
	var out []string
	for _, v := range catalog.Canonicalize(proposed) {
		if !taken[v] {
			out = append(out, v)
		}
	}
	return out
}
