package maven

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/kmpindex/pkg/cache"
	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/httputil"
	"github.com/matzehuels/kmpindex/pkg/integrations"
)

const testPOM = `<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <modelVersion>4.0.0</modelVersion>
  <groupId>io.ktor</groupId>
  <artifactId>ktor-client-core</artifactId>
  <version>2.3.4</version>
  <name>ktor-client-core</name>
  <description>
    Ktor is a framework for quickly creating
    web applications in Kotlin
  </description>
  <url>https://github.com/ktorio/ktor</url>
  <licenses>
    <license>
      <name>The Apache Software License, Version 2.0</name>
      <url>https://www.apache.org/licenses/LICENSE-2.0.txt</url>
    </license>
  </licenses>
  <developers>
    <developer><id>JetBrains</id><name>Jetbrains Team</name></developer>
  </developers>
  <scm>
    <url>https://github.com/ktorio/ktor.git</url>
  </scm>
</project>`

const testTooling = `{
  "schemaVersion": "1.1.0",
  "buildSystem": "Gradle",
  "buildSystemVersion": "8.2",
  "buildPlugin": "org.jetbrains.kotlin.gradle.plugin.KotlinMultiplatformPluginWrapper",
  "buildPluginVersion": "1.9.10",
  "projectTargets": [
    {"target": "org.jetbrains.kotlin.gradle.plugin.mpp.KotlinJvmTarget", "platformType": "jvm", "extras": {"jvm": {"jvmTarget": "1.8"}}},
    {"target": "org.jetbrains.kotlin.gradle.plugin.mpp.KotlinNativeTarget", "platformType": "native", "extras": {"native": {"konanTarget": "ios_arm64"}}}
  ]
}`

const testModule = `{
  "formatVersion": "1.1",
  "createdBy": {"gradle": {"version": "8.4"}},
  "variants": [
    {"name": "jvmApiElements", "attributes": {"org.jetbrains.kotlin.platform.type": "jvm", "org.gradle.jvm.version": 17}}
  ]
}`

func newTestRepo(t *testing.T) (*Client, *int) {
	t.Helper()
	searches := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/maven2/io/ktor/ktor-client-core/2.3.4/ktor-client-core-2.3.4.pom", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Thu, 31 Aug 2023 10:00:00 GMT")
		w.Write([]byte(testPOM))
	})
	mux.HandleFunc("/maven2/io/ktor/ktor-client-core/2.3.4/ktor-client-core-2.3.4-kotlin-tooling-metadata.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testTooling))
	})
	mux.HandleFunc("/maven2/io/ktor/ktor-client-core/2.3.4/ktor-client-core-2.3.4.module", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testModule))
	})
	mux.HandleFunc("/maven2/io/ktor/ktor-client-core/maven-metadata.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<metadata><groupId>io.ktor</groupId><artifactId>ktor-client-core</artifactId>
<versioning><latest>2.3.5</latest><release>2.3.5</release>
<versions><version>2.3.4</version><version>2.3.5</version></versions>
<lastUpdated>20231012093000</lastUpdated></versioning></metadata>`))
	})
	mux.HandleFunc("/maven2/.index/nexus-maven-repository-index.properties", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#Sat Jun 15 01:32:01 UTC 2024\nnexus.index.id=central\nnexus.index.timestamp=20240615013201.123 +0000\n"))
	})
	mux.HandleFunc("/solrsearch/select", func(w http.ResponseWriter, r *http.Request) {
		searches++
		if r.URL.Query().Get("core") != "gav" {
			t.Errorf("core = %q, want gav", r.URL.Query().Get("core"))
		}
		resp := searchResponse{}
		resp.Response.NumFound = 1
		resp.Response.Docs = []SearchDoc{{GroupID: "io.ktor", ArtifactID: "ktor-io", Version: "2.3.4", Timestamp: 1693476000000}}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(cache.NewNullCache(), srv.URL+"/maven2/", time.Hour)
	c.SetSearchURL(srv.URL + "/solrsearch/select")
	c.SetRetry(httputil.Policy{Attempts: 1})
	return c, &searches
}

func TestFetchPOM(t *testing.T) {
	c, _ := newTestRepo(t)

	pom, err := c.FetchPOM(context.Background(), "io.ktor", "ktor-client-core", "2.3.4")
	if err != nil {
		t.Fatalf("FetchPOM: %v", err)
	}
	if pom.Description != "Ktor is a framework for quickly creating web applications in Kotlin" {
		t.Errorf("Description = %q", pom.Description)
	}
	if pom.SCM.URL != "https://github.com/ktorio/ktor.git" {
		t.Errorf("SCM.URL = %q", pom.SCM.URL)
	}
	if len(pom.Licenses) != 1 || len(pom.Developers) != 1 {
		t.Errorf("licenses=%d developers=%d", len(pom.Licenses), len(pom.Developers))
	}
	want := time.Date(2023, 8, 31, 10, 0, 0, 0, time.UTC)
	if pom.LastModified == nil || !pom.LastModified.Equal(want) {
		t.Errorf("LastModified = %v, want %v", pom.LastModified, want)
	}
}

func TestFetchPOMAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(cache.NewNullCache(), srv.URL+"/maven2/", time.Hour)
	c.SetRetry(httputil.Policy{Attempts: 3, Delay: time.Millisecond})
	_, err := c.FetchPOM(context.Background(), "io.ktor", "ktor-client-core", "2.3.4")
	if !errors.Is(err, integrations.ErrNetwork) {
		t.Fatalf("FetchPOM error = %v, want ErrNetwork", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hit %d times, want 3", got)
	}
}

func TestFetchPOMRejectsMissingVersion(t *testing.T) {
	c, _ := newTestRepo(t)

	_, err := c.FetchPOM(context.Background(), "io.ktor", "ktor-client-core", "")
	if !kerrors.Is(err, kerrors.ErrCodeUnsupported) {
		t.Errorf("err = %v, want UNSUPPORTED", err)
	}
}

func TestFetchToolingMetadata(t *testing.T) {
	c, _ := newTestRepo(t)

	meta, err := c.FetchToolingMetadata(context.Background(), "io.ktor", "ktor-client-core", "2.3.4")
	if err != nil {
		t.Fatalf("FetchToolingMetadata: %v", err)
	}
	if meta.BuildSystemVersion != "8.2" || meta.BuildPluginVersion != "1.9.10" {
		t.Errorf("build info = %s %s", meta.BuildSystemVersion, meta.BuildPluginVersion)
	}
	if len(meta.ProjectTargets) != 2 {
		t.Fatalf("targets = %d, want 2", len(meta.ProjectTargets))
	}
	if meta.ProjectTargets[1].Extras.Native.KonanTarget != "ios_arm64" {
		t.Errorf("konanTarget = %q", meta.ProjectTargets[1].Extras.Native.KonanTarget)
	}
}

func TestFetchToolingMetadataNotFound(t *testing.T) {
	c, _ := newTestRepo(t)

	_, err := c.FetchToolingMetadata(context.Background(), "io.ktor", "ktor-client-core", "9.9.9")
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchModuleMetadata(t *testing.T) {
	c, _ := newTestRepo(t)

	meta, err := c.FetchModuleMetadata(context.Background(), "io.ktor", "ktor-client-core", "2.3.4")
	if err != nil {
		t.Fatalf("FetchModuleMetadata: %v", err)
	}
	if meta.CreatedBy.Gradle.Version != "8.4" {
		t.Errorf("gradle = %q", meta.CreatedBy.Gradle.Version)
	}
	v := meta.Variants[0]
	if got := v.Attribute("org.gradle.jvm.version"); got != "17" {
		t.Errorf("jvm version = %q, want 17", got)
	}
	if got := v.Attribute("org.jetbrains.kotlin.platform.type"); got != "jvm" {
		t.Errorf("platform = %q", got)
	}
}

func TestFetchMetadata(t *testing.T) {
	c, _ := newTestRepo(t)

	meta, err := c.FetchMetadata(context.Background(), "io.ktor", "ktor-client-core")
	if err != nil {
		t.Fatalf("FetchMetadata: %v", err)
	}
	if len(meta.Versions) != 2 || meta.Versions[1] != "2.3.5" {
		t.Errorf("Versions = %v", meta.Versions)
	}
	if ts, ok := meta.UpdatedAt(); !ok || ts.Year() != 2023 {
		t.Errorf("UpdatedAt = %v, %v", ts, ok)
	}
}

func TestIndexTimestamp(t *testing.T) {
	c, _ := newTestRepo(t)

	ts, err := c.IndexTimestamp(context.Background())
	if err != nil {
		t.Fatalf("IndexTimestamp: %v", err)
	}
	want := time.Date(2024, 6, 15, 1, 32, 1, 123_000_000, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("IndexTimestamp = %v, want %v", ts, want)
	}
}

func TestParseIndexTimestampMissing(t *testing.T) {
	if _, err := ParseIndexTimestamp("nexus.index.id=central\n"); err == nil {
		t.Error("expected error for missing timestamp")
	}
}

func TestSearch(t *testing.T) {
	c, searches := newTestRepo(t)

	page, err := c.Search(context.Background(), "l:kotlin-tooling-metadata", 0, 200)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if page.NumFound != 1 || page.Docs[0].ArtifactID != "ktor-io" {
		t.Errorf("page = %+v", page)
	}
	if page.Docs[0].ReleasedAt() == nil {
		t.Error("ReleasedAt = nil")
	}
	if *searches != 1 {
		t.Errorf("searches = %d", *searches)
	}
}
