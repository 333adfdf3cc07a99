// Package store defines the persistence ports of the pipeline.
//
// The relational store is the only shared mutable resource: queue rows,
// claim leases, backoff windows and watermarks all live here, so any number
// of worker processes can run against one database without talking to each
// other. Two implementations exist: [memory] for tests and dry runs, and
// [postgres] for production.
//
// Claim operations hand out a row to exactly one caller and never block on
// rows another caller holds. Claims are leases: a claimed row is invisible
// to other claimants until the lease expires or the holder releases it, so
// a crashed worker only delays its row.
//
// [memory]: github.com/matzehuels/kmpindex/pkg/store/memory
// [postgres]: github.com/matzehuels/kmpindex/pkg/store/postgres
package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/matzehuels/kmpindex/pkg/backoff"
	"github.com/matzehuels/kmpindex/pkg/model"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an insert violates a uniqueness constraint.
	ErrConflict = errors.New("store: conflict")
)

// EntityID formats a surrogate id as a backoff entity id.
func EntityID(id int64) string { return strconv.FormatInt(id, 10) }

// DefaultLease is how long a claimed row stays reserved.
const DefaultLease = 10 * time.Minute

// QueueStats summarizes the indexing queue.
type QueueStats struct {
	Pending  int        `json:"pending"`
	Claimed  int        `json:"claimed"`
	Failing  int        `json:"failing"`
	OldestAt *time.Time `json:"oldest_at,omitempty"`
}

// Queue is the indexing request queue.
type Queue interface {
	// KnownVersions returns every version already indexed or queued.
	KnownVersions(ctx context.Context) (model.KnownVersions, error)

	// Enqueue inserts a request per coordinate unless one is already
	// pending for the same coordinate, and returns the number inserted.
	Enqueue(ctx context.Context, coords []model.ArtifactCoordinate, reindex bool) (int, error)

	// RemoveDuplicates deletes all but the oldest pending request of each
	// coordinate and returns the number removed.
	RemoveDuplicates(ctx context.Context) (int, error)

	// ClaimNext leases the oldest unclaimed request, or returns nil if
	// none is available.
	ClaimNext(ctx context.Context, lease time.Duration) (*model.IndexingRequest, error)

	// Complete deletes a processed request.
	Complete(ctx context.Context, id int64) error

	// Fail records a failed attempt. The lease is kept, so the request is
	// retried on a later pass once it expires.
	Fail(ctx context.Context, id int64, message string) error

	// Failures lists requests with at least one failed attempt, most
	// attempts first.
	Failures(ctx context.Context, limit int) ([]model.IndexingRequest, error)

	QueueStats(ctx context.Context) (QueueStats, error)
}

// Packages stores indexed package versions.
type Packages interface {
	PackageByCoordinates(ctx context.Context, groupID, artifactID, version string) (*model.Package, error)

	// LatestPackage returns the most recently released version of key.
	LatestPackage(ctx context.Context, key model.ArtifactKey) (*model.Package, error)

	// InsertPackage stores p and its targets atomically and sets their ids.
	InsertPackage(ctx context.Context, p *model.Package) error

	// UpdatePackage overwrites the row matching p's coordinates. Target
	// rows whose (platform, target) key survives keep their id; others
	// are created or dropped.
	UpdatePackage(ctx context.Context, p *model.Package) error

	// KnownArtifacts lists the artifacts indexed from sourceID.
	KnownArtifacts(ctx context.Context, sourceID string) ([]model.ArtifactKey, error)
}

// Scm stores repositories, owners and READMEs from the source-control host.
type Scm interface {
	OwnerByID(ctx context.Context, id int64) (*model.ScmOwner, error)
	OwnerByNativeID(ctx context.Context, nativeID int64) (*model.ScmOwner, error)
	CreateOwner(ctx context.Context, o *model.ScmOwner) error
	UpdateOwner(ctx context.Context, o *model.ScmOwner) error

	// ClaimStaleOwner leases the least recently updated owner not updated
	// within olderThan and not backed off in backoffNS.
	ClaimStaleOwner(ctx context.Context, olderThan, lease time.Duration, backoffNS string) (*model.ScmOwner, error)

	RepositoryByID(ctx context.Context, id int64) (*model.ScmRepository, error)
	RepositoryByNativeID(ctx context.Context, nativeID int64) (*model.ScmRepository, error)
	RepositoryByName(ctx context.Context, ownerLogin, name string) (*model.ScmRepository, error)
	CreateRepository(ctx context.Context, r *model.ScmRepository) error
	UpdateRepository(ctx context.Context, r *model.ScmRepository) error

	// TouchRepository sets only the last-checked timestamp.
	TouchRepository(ctx context.Context, id int64, at time.Time) error

	// ClaimStaleRepository leases the least recently checked repository not
	// checked within olderThan and not backed off in backoffNS.
	ClaimStaleRepository(ctx context.Context, olderThan, lease time.Duration, backoffNS string) (*model.ScmRepository, error)

	Readme(ctx context.Context, repositoryID int64) (*model.Readme, error)
	SaveReadme(ctx context.Context, r *model.Readme) error
}

// ProjectCriteria selects projects for generation jobs.
type ProjectCriteria int

const (
	// MissingDescription matches projects without a description.
	MissingDescription ProjectCriteria = iota
	// MissingTags matches projects without any tag.
	MissingTags
)

func (c ProjectCriteria) String() string {
	if c == MissingTags {
		return "missing-tags"
	}
	return "missing-description"
}

// Projects stores projects and their tags.
type Projects interface {
	ProjectByID(ctx context.Context, id int64) (*model.Project, error)
	ProjectByRepository(ctx context.Context, repositoryID int64) (*model.Project, error)
	CreateProject(ctx context.Context, p *model.Project) error
	UpdateProject(ctx context.Context, p *model.Project) error

	// ClaimProject leases the least recently updated project matching
	// criteria whose repository has a README and which is not backed off
	// in backoffNS.
	ClaimProject(ctx context.Context, criteria ProjectCriteria, lease time.Duration, backoffNS string) (*model.Project, error)

	Tags(ctx context.Context, projectID int64) ([]model.Tag, error)

	// ReplaceTags deletes every tag of origin on the project and inserts
	// values in one transaction.
	ReplaceTags(ctx context.Context, projectID int64, origin model.TagOrigin, values []string) error
}

// Watermarks stores per-source progress markers.
type Watermarks interface {
	Watermark(ctx context.Context, key string) (time.Time, bool, error)
	SetWatermark(ctx context.Context, key string, t time.Time) error
}

// Store is the full persistence surface.
type Store interface {
	Queue
	Packages
	Scm
	Projects
	Watermarks
	backoff.Repository

	Ping(ctx context.Context) error
	Close() error
}
