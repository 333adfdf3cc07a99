package scm

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmpindex/pkg/integrations"
	"github.com/matzehuels/kmpindex/pkg/integrations/github"
	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/readme"
	"github.com/matzehuels/kmpindex/pkg/store/memory"
	"github.com/matzehuels/kmpindex/pkg/tags"
)

type fakeHost struct {
	repos       map[int64]*github.Repository
	users       map[string]*github.User
	topics      map[int64][]string
	readme      github.ReadmeResult
	readmeSince time.Time
	licenseErr  error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		repos:  make(map[int64]*github.Repository),
		users:  make(map[string]*github.User),
		topics: make(map[int64][]string),
		readme: github.ReadmeNotFound{},
	}
}

func (h *fakeHost) addRepo(id int64, owner github.Owner, name string) *github.Repository {
	r := &github.Repository{ID: id, Name: name, FullName: owner.Login + "/" + name, Owner: owner, DefaultBranch: "main", Stars: 10}
	h.repos[id] = r
	if _, ok := h.users[strings.ToLower(owner.Login)]; !ok {
		h.users[strings.ToLower(owner.Login)] = &github.User{ID: owner.ID, Login: owner.Login, Type: owner.Type}
	}
	return r
}

func (h *fakeHost) RepositoryByID(_ context.Context, id int64) (*github.Repository, error) {
	if r, ok := h.repos[id]; ok {
		c := *r
		return &c, nil
	}
	return nil, integrations.ErrNotFound
}

func (h *fakeHost) Repository(_ context.Context, owner, name string) (*github.Repository, error) {
	for _, r := range h.repos {
		if strings.EqualFold(r.Owner.Login, owner) && strings.EqualFold(r.Name, name) {
			c := *r
			return &c, nil
		}
	}
	return nil, integrations.ErrNotFound
}

func (h *fakeHost) User(_ context.Context, login string) (*github.User, error) {
	if u, ok := h.users[strings.ToLower(login)]; ok {
		return u, nil
	}
	return nil, integrations.ErrNotFound
}

func (h *fakeHost) License(context.Context, int64) (*github.License, error) {
	if h.licenseErr != nil {
		return nil, h.licenseErr
	}
	return &github.License{Key: "apache-2.0", Name: "Apache License 2.0", SPDXID: "Apache-2.0"}, nil
}

func (h *fakeHost) Readme(_ context.Context, _ int64, since time.Time) github.ReadmeResult {
	h.readmeSince = since
	return h.readme
}

func (h *fakeHost) Topics(_ context.Context, id int64) ([]string, error) {
	return h.topics[id], nil
}

type fakeTransformer struct{}

func (fakeTransformer) Transform(_ context.Context, md string, repo readme.RepoContext) (*readme.Result, error) {
	return &readme.Result{Markdown: md, HTML: "<p>" + md + "</p>", Minimized: md}, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeHost, *memory.Store) {
	t.Helper()
	host := newFakeHost()
	st := memory.New()
	return New(host, st, fakeTransformer{}, nil, log.New(io.Discard)), host, st
}

var jetbrains = github.Owner{ID: 100, Login: "JetBrains", Type: "Organization"}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	e, host, st := newTestEngine(t)
	host.addRepo(1, jetbrains, "compose-multiplatform")
	host.readme = github.ReadmeContent{Markdown: "# Compose"}

	repo, err := e.GetOrCreate(ctx, "jetbrains", "compose-multiplatform")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if repo.ID == 0 || repo.NativeID != 1 || repo.OwnerLogin != "JetBrains" || repo.OwnerType != model.OwnerOrganization {
		t.Errorf("repo = %+v", repo)
	}
	if !repo.HasReadme || repo.LicenseKey != "Apache-2.0" {
		t.Errorf("readme/license not reconciled: %+v", repo)
	}
	if r, err := st.Readme(ctx, repo.ID); err != nil || r.Markdown != "# Compose" {
		t.Errorf("readme = %+v, %v", r, err)
	}

	again, err := e.GetOrCreate(ctx, "JetBrains", "Compose-Multiplatform")
	if err != nil || again.ID != repo.ID {
		t.Errorf("second GetOrCreate = %+v, %v", again, err)
	}

	if _, err := e.GetOrCreate(ctx, "nobody", "nothing"); err == nil {
		t.Error("expected error for unknown repository")
	}
}

func TestResyncOwnerRename(t *testing.T) {
	ctx := context.Background()
	e, host, st := newTestEngine(t)
	h := host.addRepo(1, github.Owner{ID: 7, Login: "old-login", Type: "User"}, "lib")
	repo, err := e.GetOrCreate(ctx, "old-login", "lib")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	ownerID := repo.OwnerID

	h.Owner = github.Owner{ID: 7, Login: "new-login", Type: "User"}
	host.users["new-login"] = &github.User{ID: 7, Login: "new-login", Type: "User"}

	got, err := e.Resync(ctx, repo)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if got.OwnerID != ownerID {
		t.Errorf("owner linkage changed on rename: %d -> %d", ownerID, got.OwnerID)
	}
	if got.OwnerLogin != "new-login" {
		t.Errorf("OwnerLogin = %q, want new-login", got.OwnerLogin)
	}
	o, _ := st.OwnerByID(ctx, ownerID)
	if o.Login != "new-login" || o.NativeID != 7 {
		t.Errorf("owner = %+v", o)
	}
}

func TestResyncOwnerRelocation(t *testing.T) {
	ctx := context.Background()
	e, host, st := newTestEngine(t)
	h := host.addRepo(1, github.Owner{ID: 7, Login: "alice", Type: "User"}, "lib")
	repo, err := e.GetOrCreate(ctx, "alice", "lib")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	oldOwner := repo.OwnerID

	h.Owner = github.Owner{ID: 9, Login: "acme", Type: "Organization"}
	host.users["acme"] = &github.User{ID: 9, Login: "acme", Type: "Organization", Name: "Acme Inc"}

	got, err := e.Resync(ctx, repo)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if got.OwnerID == oldOwner {
		t.Fatal("relocation must link a different owner")
	}
	if got.OwnerLogin != "acme" || got.OwnerType != model.OwnerOrganization {
		t.Errorf("mirrored owner = %q/%q", got.OwnerLogin, got.OwnerType)
	}
	o, _ := st.OwnerByID(ctx, got.OwnerID)
	if o.NativeID != 9 || o.Name != "Acme Inc" {
		t.Errorf("new owner = %+v", o)
	}
	if prev, _ := st.OwnerByID(ctx, oldOwner); prev.Login != "alice" {
		t.Errorf("previous owner modified: %+v", prev)
	}
}

func TestResyncUnresolvable(t *testing.T) {
	ctx := context.Background()
	e, host, st := newTestEngine(t)
	host.addRepo(1, jetbrains, "gone")
	repo, err := e.GetOrCreate(ctx, "JetBrains", "gone")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	delete(host.repos, 1)

	later := time.Now().Add(time.Hour)
	e.SetClock(func() time.Time { return later })
	got, err := e.Resync(ctx, repo)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	stored, _ := st.RepositoryByID(ctx, repo.ID)
	if !stored.LastCheckedAt.Equal(later) {
		t.Errorf("LastCheckedAt = %v, want %v", stored.LastCheckedAt, later)
	}
	if stored.Stars != repo.Stars || stored.Description != repo.Description || !stored.UpdatedAt.Equal(repo.UpdatedAt) {
		t.Errorf("unresolvable repository was modified: %+v", stored)
	}
	if got.ID != repo.ID || got.Name != repo.Name {
		t.Errorf("Resync returned %+v", got)
	}
}

func TestResyncFindsRenamedRepositoryByID(t *testing.T) {
	ctx := context.Background()
	e, host, _ := newTestEngine(t)
	h := host.addRepo(1, jetbrains, "old-name")
	repo, _ := e.GetOrCreate(ctx, "JetBrains", "old-name")

	h.Name = "new-name"
	got, err := e.Resync(ctx, repo)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if got.Name != "new-name" || got.ID != repo.ID {
		t.Errorf("renamed repo = %+v", got)
	}
}

func TestResyncReadmeNotModified(t *testing.T) {
	ctx := context.Background()
	e, host, st := newTestEngine(t)
	host.addRepo(1, jetbrains, "lib")
	host.readme = github.ReadmeContent{Markdown: "v1"}
	repo, _ := e.GetOrCreate(ctx, "JetBrains", "lib")
	before, _ := st.Readme(ctx, repo.ID)

	host.readme = github.ReadmeNotModified{}
	got, err := e.Resync(ctx, repo)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if !got.HasReadme {
		t.Error("HasReadme must stay true on not-modified")
	}
	if !host.readmeSince.Equal(before.UpdatedAt) {
		t.Errorf("conditional since = %v, want %v", host.readmeSince, before.UpdatedAt)
	}
	after, _ := st.Readme(ctx, repo.ID)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("readme content written on not-modified: %+v -> %+v", before, after)
	}
}

func TestResyncReadmeOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		result github.ReadmeResult
		want   bool
	}{
		{"not found clears", github.ReadmeNotFound{}, false},
		{"error keeps", github.ReadmeError{Err: errors.New("timeout")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e, host, _ := newTestEngine(t)
			host.addRepo(1, jetbrains, "lib")
			host.readme = github.ReadmeContent{Markdown: "v1"}
			repo, _ := e.GetOrCreate(ctx, "JetBrains", "lib")

			host.readme = tt.result
			got, err := e.Resync(ctx, repo)
			if err != nil {
				t.Fatalf("Resync: %v", err)
			}
			if got.HasReadme != tt.want {
				t.Errorf("HasReadme = %v, want %v", got.HasReadme, tt.want)
			}
		})
	}
}

func TestResyncReadmeSinceSurvivesFailedCycle(t *testing.T) {
	ctx := context.Background()
	e, host, st := newTestEngine(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	e.SetClock(clock)
	st.SetClock(clock)

	host.addRepo(1, jetbrains, "lib")
	host.readme = github.ReadmeContent{Markdown: "# v1"}
	repo, err := e.GetOrCreate(ctx, "JetBrains", "lib")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	saved := now

	now = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	host.readme = github.ReadmeError{Err: errors.New("connection reset")}
	repo, err = e.Resync(ctx, repo)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}

	now = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	host.readme = github.ReadmeContent{Markdown: "# v2"}
	if _, err := e.Resync(ctx, repo); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if !host.readmeSince.Equal(saved) {
		t.Errorf("conditional since = %v, want the stored content time %v", host.readmeSince, saved)
	}
	if r, _ := st.Readme(ctx, repo.ID); r.Markdown != "# v2" {
		t.Errorf("readme = %q, want the edited content", r.Markdown)
	}
}

func TestResyncPartialFailurePersistsBasicFields(t *testing.T) {
	ctx := context.Background()
	e, host, st := newTestEngine(t)
	h := host.addRepo(1, jetbrains, "lib")
	repo, _ := e.GetOrCreate(ctx, "JetBrains", "lib")

	h.Stars = 999
	h.Description = "updated"
	host.licenseErr = errors.New("license endpoint down")
	host.readme = github.ReadmeError{Err: errors.New("timeout")}

	if _, err := e.Resync(ctx, repo); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	stored, _ := st.RepositoryByID(ctx, repo.ID)
	if stored.Stars != 999 || stored.Description != "updated" {
		t.Errorf("basic fields not persisted: %+v", stored)
	}
}

func TestReconcileTagsPrecedence(t *testing.T) {
	ctx := context.Background()
	e, host, st := newTestEngine(t)
	host.addRepo(1, jetbrains, "lib")
	repo, _ := e.GetOrCreate(ctx, "JetBrains", "lib")

	p := &model.Project{RepositoryID: repo.ID, Name: "lib"}
	st.CreateProject(ctx, p)
	st.ReplaceTags(ctx, p.ID, model.TagOriginUser, []string{"kotlin"})
	st.ReplaceTags(ctx, p.ID, model.TagOriginAI, []string{"ui"})
	st.ReplaceTags(ctx, p.ID, model.TagOriginGitHub, []string{"stale"})

	host.topics[1] = []string{"Kotlin", "kotlin-multiplatform", "not-in-catalog"}
	if err := e.ReconcileTags(ctx, repo); err != nil {
		t.Fatalf("ReconcileTags: %v", err)
	}

	got := make(map[model.TagOrigin][]string)
	all, _ := st.Tags(ctx, p.ID)
	for _, tag := range all {
		got[tag.Origin] = append(got[tag.Origin], tag.Value)
	}
	for _, v := range got {
		sort.Strings(v)
	}
	want := map[model.TagOrigin][]string{
		model.TagOriginUser:   {"kotlin"},
		model.TagOriginGitHub: {"kotlin-multiplatform"},
		model.TagOriginAI:     {"ui"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %v, want %v", got, want)
	}
}

func TestGitHubTags(t *testing.T) {
	existing := []model.Tag{{Origin: model.TagOriginUser, Value: "kotlin"}}
	catalog, err := tags.ParseCatalog([]byte("[[tag]]\nname = \"kotlin\"\n[[tag]]\nname = \"spring\"\n"))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	got := GitHubTags(catalog, []string{"kotlin", "Spring"}, existing)
	if !reflect.DeepEqual(got, []string{"spring"}) {
		t.Errorf("GitHubTags = %v, want [spring]", got)
	}
}

func TestNormalizeHomepage(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"example.com", "https://example.com"},
		{"http://example.com", "https://example.com"},
		{"https://example.com", "https://example.com"},
		{" ftp://example.com ", "ftp://example.com"},
	}
	for _, tt := range tests {
		if got := NormalizeHomepage(tt.in); got != tt.want {
			t.Errorf("NormalizeHomepage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
