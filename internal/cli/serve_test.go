package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmpindex/pkg/buildinfo"
	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/observability"
	"github.com/matzehuels/kmpindex/pkg/store/memory"
)

// downStore is a store whose database is unreachable.
type downStore struct{ *memory.Store }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func newTestCounters(t *testing.T) *observability.Counters {
	t.Helper()
	c, err := observability.NewCounters()
	if err != nil {
		t.Fatalf("NewCounters: %v", err)
	}
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c
}

func getJSON(t *testing.T, h http.Handler, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	if v != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
			t.Fatalf("%s: decode %q: %v", path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestOpsRouterHealth(t *testing.T) {
	logger := log.New(io.Discard)

	tests := []struct {
		name       string
		store      opsStore
		path       string
		wantStatus int
		wantField  string
	}{
		{"healthz", memory.New(), "/healthz", http.StatusOK, "ok"},
		{"ready", memory.New(), "/readyz", http.StatusOK, "ready"},
		{"database down", downStore{memory.New()}, "/readyz", http.StatusServiceUnavailable, "unavailable"},
		{"healthz ignores database", downStore{memory.New()}, "/healthz", http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			status := getJSON(t, newOpsRouter(tt.store, newTestCounters(t), logger), tt.path, &body)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if body["status"] != tt.wantField {
				t.Errorf("status field = %q, want %q", body["status"], tt.wantField)
			}
		})
	}
}

func TestOpsRouterQueue(t *testing.T) {
	ctx := t.Context()
	st := memory.New()
	coords := []model.ArtifactCoordinate{
		{GroupID: "io.ktor", ArtifactID: "ktor-client-core", Version: "3.0.0", SourceID: "central"},
		{GroupID: "io.ktor", ArtifactID: "ktor-server-core", Version: "3.0.0", SourceID: "central"},
	}
	if _, err := st.Enqueue(ctx, coords, false); err != nil {
		t.Fatal(err)
	}
	req, err := st.ClaimNext(ctx, time.Minute)
	if err != nil || req == nil {
		t.Fatalf("ClaimNext() = %v, %v", req, err)
	}
	if err := st.Fail(ctx, req.ID, "pom not found"); err != nil {
		t.Fatal(err)
	}

	var snap queueSnapshot
	if status := getJSON(t, newOpsRouter(st, newTestCounters(t), log.New(io.Discard)), "/queue", &snap); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if snap.Stats.Failing != 1 {
		t.Errorf("Failing = %d, want 1", snap.Stats.Failing)
	}
	if len(snap.Failures) != 1 || snap.Failures[0].LastError != "pom not found" {
		t.Errorf("Failures = %+v", snap.Failures)
	}
}

func TestOpsRouterVersion(t *testing.T) {
	var body map[string]string
	getJSON(t, newOpsRouter(memory.New(), newTestCounters(t), log.New(io.Discard)), "/version", &body)
	if body["version"] != buildinfo.Version {
		t.Errorf("version = %q, want %q", body["version"], buildinfo.Version)
	}
}

func TestOpsRouterNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	newOpsRouter(memory.New(), newTestCounters(t), log.New(io.Discard)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestOpsRouterStats(t *testing.T) {
	counters := newTestCounters(t)
	counters.OnJobComplete(t.Context(), "repo-sync", time.Second, errors.New("rate limited"))

	var snap observability.Snapshot
	getJSON(t, newOpsRouter(memory.New(), counters, log.New(io.Discard)), "/stats", &snap)
	job := snap.Jobs["repo-sync"]
	if job.Runs != 1 || job.Failures != 1 || job.LastErr != "rate limited" {
		t.Errorf("repo-sync = %+v", job)
	}
}
