package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmpindex/pkg/backoff"
	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/integrations/github"
	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/store"
	"github.com/matzehuels/kmpindex/pkg/store/memory"
	"github.com/matzehuels/kmpindex/pkg/tags"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T) (*memory.Store, *backoff.Store, *clock) {
	t.Helper()
	c := &clock{t: t0}
	st := memory.New()
	st.SetClock(c.now)
	bo := backoff.New(st, backoff.Policy{})
	bo.SetClock(c.now)
	return st, bo, c
}

func quiet() *log.Logger { return log.New(io.Discard) }

func failures(t *testing.T, st *memory.Store, ns string, id int64) int {
	t.Helper()
	e, err := st.LookupBackoff(context.Background(), ns, store.EntityID(id))
	if err != nil {
		t.Fatalf("LookupBackoff: %v", err)
	}
	if e == nil {
		return 0
	}
	return e.FailureCount
}

func seedOwner(t *testing.T, st *memory.Store, nativeID int64, login string, updated time.Time) *model.ScmOwner {
	t.Helper()
	o := &model.ScmOwner{NativeID: nativeID, Login: login, Type: model.OwnerOrganization, UpdatedAt: updated}
	if err := st.CreateOwner(context.Background(), o); err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}
	return o
}

// seedProject stores an owner, repository and project. The repository has a
// README only when readme is non-empty.
func seedProject(t *testing.T, st *memory.Store, nativeID int64, name, readme string) *model.Project {
	t.Helper()
	ctx := context.Background()
	o := seedOwner(t, st, nativeID, name+"-org", t0)
	r := &model.ScmRepository{
		NativeID:    nativeID + 1000,
		OwnerID:     o.ID,
		OwnerLogin:  o.Login,
		OwnerType:   o.Type,
		Name:        name,
		Description: name + " for Kotlin Multiplatform",
		HasReadme:   readme != "",
	}
	if err := st.CreateRepository(ctx, r); err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}
	if readme != "" {
		if err := st.SaveReadme(ctx, &model.Readme{RepositoryID: r.ID, Markdown: readme, Minimized: readme}); err != nil {
			t.Fatalf("SaveReadme: %v", err)
		}
	}
	p := &model.Project{RepositoryID: r.ID, Name: name}
	if err := st.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

// =============================================================================
// Owners
// =============================================================================

type fakeHost struct {
	users map[string]*github.User
	err   error
	calls int
}

func (h *fakeHost) User(_ context.Context, login string) (*github.User, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	u, ok := h.users[login]
	if !ok {
		return nil, errors.New("no such user")
	}
	c := *u
	return &c, nil
}

func TestOwnerRefresherUpdatesProfile(t *testing.T) {
	st, bo, c := setup(t)
	ctx := context.Background()
	owner := seedOwner(t, st, 7, "ktorio", t0.Add(-48*time.Hour))
	host := &fakeHost{users: map[string]*github.User{
		"ktorio": {ID: 7, Login: "ktorio", Type: "Organization", Name: "Ktor", Blog: "ktor.io", Followers: 120},
	}}
	r := NewOwnerRefresher(host, st, bo, quiet())
	r.SetClock(c.now)

	ok, err := r.RunOnce(ctx)
	if err != nil || !ok {
		t.Fatalf("RunOnce = %v, %v", ok, err)
	}
	got, err := st.OwnerByID(ctx, owner.ID)
	if err != nil {
		t.Fatalf("OwnerByID: %v", err)
	}
	if got.Name != "Ktor" || got.Homepage != "https://ktor.io" || got.Followers != 120 {
		t.Errorf("owner = %+v", got)
	}
	if !got.UpdatedAt.Equal(t0) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, t0)
	}

	// A freshly refreshed owner is not stale.
	ok, err = r.RunOnce(ctx)
	if err != nil || ok {
		t.Errorf("second RunOnce = %v, %v, want false", ok, err)
	}
}

func TestOwnerRefresherBackoff(t *testing.T) {
	st, bo, c := setup(t)
	ctx := context.Background()
	owner := seedOwner(t, st, 7, "ktorio", t0.Add(-48*time.Hour))
	host := &fakeHost{err: errors.New("connection reset")}
	r := NewOwnerRefresher(host, st, bo, quiet())
	r.SetClock(c.now)

	if ok, err := r.RunOnce(ctx); err != nil || !ok {
		t.Fatalf("RunOnce = %v, %v", ok, err)
	}
	if n := failures(t, st, backoff.NamespaceOwnerSync, owner.ID); n != 1 {
		t.Fatalf("failures = %d, want 1", n)
	}

	// The lease has expired but the owner is still cooling down.
	c.advance(11 * time.Minute)
	if ok, err := r.RunOnce(ctx); err != nil || ok {
		t.Fatalf("RunOnce during cooldown = %v, %v, want false", ok, err)
	}
	if host.calls != 1 {
		t.Errorf("host calls = %d, want 1", host.calls)
	}

	c.advance(bo.Policy().Cooldown(1))
	host.err = nil
	host.users = map[string]*github.User{"ktorio": {ID: 7, Login: "ktorio", Type: "Organization"}}
	if ok, err := r.RunOnce(ctx); err != nil || !ok {
		t.Fatalf("RunOnce after cooldown = %v, %v", ok, err)
	}
	if n := failures(t, st, backoff.NamespaceOwnerSync, owner.ID); n != 0 {
		t.Errorf("failures after success = %d, want 0", n)
	}
}

func TestOwnerRefresherReassignedLogin(t *testing.T) {
	st, bo, c := setup(t)
	ctx := context.Background()
	owner := seedOwner(t, st, 7, "ktorio", t0.Add(-48*time.Hour))
	host := &fakeHost{users: map[string]*github.User{
		"ktorio": {ID: 99, Login: "ktorio", Name: "Someone else"},
	}}
	r := NewOwnerRefresher(host, st, bo, quiet())
	r.SetClock(c.now)

	if ok, err := r.RunOnce(ctx); err != nil || !ok {
		t.Fatalf("RunOnce = %v, %v", ok, err)
	}
	if n := failures(t, st, backoff.NamespaceOwnerSync, owner.ID); n != 1 {
		t.Errorf("failures = %d, want 1", n)
	}
	got, _ := st.OwnerByID(ctx, owner.ID)
	if got.NativeID != 7 || got.Name != "" {
		t.Errorf("owner was overwritten: %+v", got)
	}
}

// =============================================================================
// Repositories
// =============================================================================

type fakeResyncer struct {
	st  *memory.Store
	at  func() time.Time
	err error
}

func (f *fakeResyncer) Resync(ctx context.Context, repo *model.ScmRepository) (*model.ScmRepository, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := f.st.TouchRepository(ctx, repo.ID, f.at()); err != nil {
		return nil, err
	}
	return repo, nil
}

func TestRepositoryRefresher(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantFailures int
		wantAgain    bool
	}{
		{name: "success", wantFailures: 0, wantAgain: false},
		{name: "failure", err: errors.New("rate limited"), wantFailures: 1, wantAgain: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, bo, c := setup(t)
			ctx := context.Background()
			p := seedProject(t, st, 7, "ktor", "")
			r := NewRepositoryRefresher(&fakeResyncer{st: st, at: c.now, err: tt.err}, st, bo, quiet())

			if ok, err := r.RunOnce(ctx); err != nil || !ok {
				t.Fatalf("RunOnce = %v, %v", ok, err)
			}
			if n := failures(t, st, backoff.NamespaceRepoSync, p.RepositoryID); n != tt.wantFailures {
				t.Errorf("failures = %d, want %d", n, tt.wantFailures)
			}
			// Past the lease: a success is fresh, a failure is backed off.
			c.advance(11 * time.Minute)
			ok, err := r.RunOnce(ctx)
			if err != nil || ok != tt.wantAgain {
				t.Errorf("second RunOnce = %v, %v, want %v", ok, err, tt.wantAgain)
			}
		})
	}
}

// =============================================================================
// Generation
// =============================================================================

type fakeGenerator struct {
	desc   string
	tags   []string
	err    error
	panics bool
	seen   []model.GenerationContext
}

func (g *fakeGenerator) GenerateDescription(_ context.Context, in model.GenerationContext) (string, error) {
	g.seen = append(g.seen, in)
	if g.panics {
		panic("generator exploded")
	}
	return g.desc, g.err
}

func (g *fakeGenerator) GenerateTags(_ context.Context, in model.GenerationContext) ([]string, error) {
	g.seen = append(g.seen, in)
	if g.panics {
		panic("generator exploded")
	}
	return g.tags, g.err
}

func TestDescriptionGenerator(t *testing.T) {
	st, bo, _ := setup(t)
	ctx := context.Background()
	p := seedProject(t, st, 7, "ktor", "Ktor is a framework for connected applications.")
	seedProject(t, st, 8, "no-readme", "")
	gen := &fakeGenerator{desc: "  Asynchronous client and server framework.\n"}
	g := NewDescriptionGenerator(gen, st, bo, quiet())

	if ok, err := g.RunOnce(ctx); err != nil || !ok {
		t.Fatalf("RunOnce = %v, %v", ok, err)
	}
	got, _ := st.ProjectByID(ctx, p.ID)
	if got.Description != "Asynchronous client and server framework." {
		t.Errorf("Description = %q", got.Description)
	}
	want := model.GenerationContext{
		ProjectName: "ktor",
		Repository:  "ktor-org/ktor",
		Description: "ktor for Kotlin Multiplatform",
		Readme:      "Ktor is a framework for connected applications.",
	}
	if len(gen.seen) != 1 || gen.seen[0] != want {
		t.Errorf("context = %+v, want %+v", gen.seen, want)
	}

	// The remaining project has no README and never qualifies.
	if ok, err := g.RunOnce(ctx); err != nil || ok {
		t.Errorf("second RunOnce = %v, %v, want false", ok, err)
	}
}

func TestDescriptionGeneratorFailures(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{name: "error", gen: &fakeGenerator{err: errors.New("quota exceeded")}},
		{name: "empty", gen: &fakeGenerator{desc: "   "}},
		{name: "panic", gen: &fakeGenerator{panics: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, bo, c := setup(t)
			ctx := context.Background()
			p := seedProject(t, st, 7, "ktor", "readme")
			g := NewDescriptionGenerator(tt.gen, st, bo, quiet())

			ok, err := g.RunOnce(ctx)
			if err != nil || !ok {
				t.Fatalf("RunOnce = %v, %v", ok, err)
			}
			if n := failures(t, st, backoff.NamespaceDescriptionGeneration, p.ID); n != 1 {
				t.Errorf("failures = %d, want 1", n)
			}
			got, _ := st.ProjectByID(ctx, p.ID)
			if got.Description != "" {
				t.Errorf("Description = %q, want empty", got.Description)
			}
			c.advance(11 * time.Minute)
			if ok, _ := g.RunOnce(ctx); ok {
				t.Error("backed-off project was claimed again")
			}
		})
	}
}

func TestTagGenerator(t *testing.T) {
	st, bo, _ := setup(t)
	ctx := context.Background()
	p := seedProject(t, st, 7, "ktor", "readme")
	gen := &fakeGenerator{tags: []string{"KMP", "Jetpack Compose", "not-a-tag", "kmm"}}
	g := NewTagGenerator(gen, st, nil, bo, quiet())

	if ok, err := g.RunOnce(ctx); err != nil || !ok {
		t.Fatalf("RunOnce = %v, %v", ok, err)
	}
	got, err := st.Tags(ctx, p.ID)
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	var values []string
	for _, tag := range got {
		if tag.Origin != model.TagOriginAI {
			t.Errorf("tag %q has origin %s", tag.Value, tag.Origin)
		}
		values = append(values, tag.Value)
	}
	sort.Strings(values)
	if want := []string{"compose", "kotlin-multiplatform"}; !reflect.DeepEqual(values, want) {
		t.Errorf("tags = %v, want %v", values, want)
	}
	if ok, _ := g.RunOnce(ctx); ok {
		t.Error("tagged project was claimed again")
	}
}

func TestTagGeneratorNoCanonicalTags(t *testing.T) {
	st, bo, _ := setup(t)
	ctx := context.Background()
	p := seedProject(t, st, 7, "ktor", "readme")
	g := NewTagGenerator(&fakeGenerator{tags: []string{"misc", "stuff"}}, st, nil, bo, quiet())

	if ok, err := g.RunOnce(ctx); err != nil || !ok {
		t.Fatalf("RunOnce = %v, %v", ok, err)
	}
	if n := failures(t, st, backoff.NamespaceTagGeneration, p.ID); n != 1 {
		t.Errorf("failures = %d, want 1", n)
	}
}

func TestAITags(t *testing.T) {
	catalog := tags.Default()
	tests := []struct {
		name     string
		proposed []string
		existing []model.Tag
		want     []string
	}{
		{
			name:     "canonicalized",
			proposed: []string{"KMP", "kotlin-multiplatform", "Jetpack Compose"},
			want:     []string{"kotlin-multiplatform", "compose"},
		},
		{
			name:     "user tag wins",
			proposed: []string{"compose", "android"},
			existing: []model.Tag{{Origin: model.TagOriginUser, Value: "compose"}},
			want:     []string{"android"},
		},
		{
			name:     "github tag wins",
			proposed: []string{"androidx", "ios"},
			existing: []model.Tag{{Origin: model.TagOriginGitHub, Value: "android"}},
			want:     []string{"ios"},
		},
		{
			name:     "previous ai tags are replaced",
			proposed: []string{"wasm"},
			existing: []model.Tag{{Origin: model.TagOriginAI, Value: "wasm"}},
			want:     []string{"wasm"},
		},
		{
			name:     "nothing known",
			proposed: []string{"misc"},
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AITags(catalog, tt.proposed, tt.existing)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AITags = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAttemptLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"transient", kerrors.Wrap(kerrors.ErrCodeNetwork, errors.New("reset"), "GET /users/x"), "warn"},
		{"timeout", kerrors.New(kerrors.ErrCodeTimeout, "GET /users/x"), "warn"},
		{"permanent", errors.New("decode owner: unexpected EOF"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, bo, _ := setup(t)
			var buf bytes.Buffer
			logger := log.NewWithOptions(&buf, log.Options{Formatter: log.JSONFormatter})

			err := attempt(context.Background(), bo, logger, backoff.NamespaceOwnerSync, 7, func() error { return tt.err })
			if !errors.Is(err, tt.err) {
				t.Fatalf("attempt = %v, want %v", err, tt.err)
			}
			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("decode log %q: %v", buf.String(), err)
			}
			if line["level"] != tt.level || line["msg"] != "refresh failed" {
				t.Errorf("log = %v, want level %s", line, tt.level)
			}
		})
	}
}
