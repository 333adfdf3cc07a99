// Package integrations provides HTTP clients for the external systems the
// pipeline reads from.
//
// Each upstream has its own subpackage:
//
//   - [maven]: Maven-layout repositories (POM, tooling and module metadata,
//     maven-metadata.xml, index properties, Central search)
//   - [googlemaven]: Google's Maven master and group indexes
//   - [github]: the GitHub REST API (repositories, users, README, topics)
//   - [genai]: an OpenAI-compatible text generation endpoint
//
// # Shared Infrastructure
//
// [Client] wraps an *http.Client with default headers, response caching via
// [cache.Cache], retry of transient failures and a bounded redirect policy.
// Subpackage clients embed it:
//
//	base := integrations.NewClient(backend, "maven:", 24*time.Hour, nil)
//	var meta maven.Metadata
//	err := base.Cached(ctx, key, false, &meta, func() error { ... })
//
// Status codes are mapped to [ErrNotFound], [ErrNotModified] and
// [ErrNetwork]; 5xx and 429 responses are retryable.
//
// [maven]: github.com/matzehuels/kmpindex/pkg/integrations/maven
// [googlemaven]: github.com/matzehuels/kmpindex/pkg/integrations/googlemaven
// [github]: github.com/matzehuels/kmpindex/pkg/integrations/github
// [genai]: github.com/matzehuels/kmpindex/pkg/integrations/genai
package integrations
