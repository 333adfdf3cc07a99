package maven

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
)

// ToolingMetadata is the kotlin-tooling-metadata.json published next to
// Kotlin Multiplatform releases.
type ToolingMetadata struct {
	SchemaVersion      string          `json:"schemaVersion"`
	BuildSystem        string          `json:"buildSystem"`
	BuildSystemVersion string          `json:"buildSystemVersion"`
	BuildPlugin        string          `json:"buildPlugin"`
	BuildPluginVersion string          `json:"buildPluginVersion"`
	ProjectTargets     []ToolingTarget `json:"projectTargets"`
}

// ToolingTarget is one compilation target.
type ToolingTarget struct {
	Target       string        `json:"target"`
	PlatformType string        `json:"platformType"`
	Extras       ToolingExtras `json:"extras"`
}

// ToolingExtras holds the per-platform details of a target.
type ToolingExtras struct {
	JVM     *JVMExtras     `json:"jvm,omitempty"`
	Android *AndroidExtras `json:"android,omitempty"`
	JS      *JSExtras      `json:"js,omitempty"`
	Wasm    *WasmExtras    `json:"wasm,omitempty"`
	Native  *NativeExtras  `json:"native,omitempty"`
}

type JVMExtras struct {
	JvmTarget       string `json:"jvmTarget"`
	WithJavaEnabled bool   `json:"withJavaEnabled"`
}

type AndroidExtras struct {
	SourceCompatibility string `json:"sourceCompatibility"`
	TargetCompatibility string `json:"targetCompatibility"`
}

type JSExtras struct {
	IsBrowserConfigured bool `json:"isBrowserConfigured"`
	IsNodejsConfigured  bool `json:"isNodejsConfigured"`
}

type WasmExtras struct {
	WasmTargets         []string `json:"wasmTargets"`
	IsBrowserConfigured bool     `json:"isBrowserConfigured"`
	IsNodejsConfigured  bool     `json:"isNodejsConfigured"`
}

type NativeExtras struct {
	KonanTarget     string `json:"konanTarget"`
	KonanVersion    string `json:"konanVersion"`
	KonanAbiVersion string `json:"konanAbiVersion"`
}

// FetchToolingMetadata retrieves kotlin-tooling-metadata.json for a release.
// Returns an error wrapping integrations.ErrNotFound when the release does
// not publish one.
func (c *Client) FetchToolingMetadata(ctx context.Context, groupID, artifactID, version string) (*ToolingMetadata, error) {
	var meta ToolingMetadata
	err := c.Cached(ctx, cacheKey("tooling", groupID, artifactID, version), false, &meta, func() error {
		url := c.FileURL(groupID, artifactID, version, "-kotlin-tooling-metadata.json")
		resp, err := c.Fetch(ctx, http.MethodGet, url, nil, nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(resp.Body, &meta); err != nil {
			return kerrors.Wrap(kerrors.ErrCodeInvalidDescriptor, err, "parse %s", url)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// ModuleMetadata is a Gradle module metadata (.module) file.
type ModuleMetadata struct {
	FormatVersion string `json:"formatVersion"`
	CreatedBy     struct {
		Gradle struct {
			Version string `json:"version"`
		} `json:"gradle"`
	} `json:"createdBy"`
	Variants []ModuleVariant `json:"variants"`
}

// ModuleVariant is one published variant. Attribute values are strings,
// numbers or booleans.
type ModuleVariant struct {
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
}

// Attribute returns a variant attribute rendered as a string.
func (v ModuleVariant) Attribute(name string) string {
	switch val := v.Attributes[name].(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "true"
		}
		return "false"
	}
	return ""
}

// FetchModuleMetadata retrieves the Gradle .module file for a release.
func (c *Client) FetchModuleMetadata(ctx context.Context, groupID, artifactID, version string) (*ModuleMetadata, error) {
	var meta ModuleMetadata
	err := c.Cached(ctx, cacheKey("module", groupID, artifactID, version), false, &meta, func() error {
		url := c.FileURL(groupID, artifactID, version, ".module")
		resp, err := c.Fetch(ctx, http.MethodGet, url, nil, nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(resp.Body, &meta); err != nil {
			return kerrors.Wrap(kerrors.ErrCodeInvalidDescriptor, err, "parse %s", url)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}
