package indexer

import (
	"strings"

	"github.com/matzehuels/kmpindex/pkg/integrations/maven"
	"github.com/matzehuels/kmpindex/pkg/model"
)

const (
	multiplatformPluginWrapper = "KotlinMultiplatformPluginWrapper"
	legacyJVMTarget            = "1.8"
)

// Gradle module metadata attributes.
const (
	attrPlatformType = "org.jetbrains.kotlin.platform.type"
	attrNativeTarget = "org.jetbrains.kotlin.native.target"
	attrWasmTarget   = "org.jetbrains.kotlin.wasm.target"
	attrJVMVersion   = "org.gradle.jvm.version"
)

// targetSet collects targets, dropping duplicate (platform, target) pairs.
type targetSet struct {
	seen    map[string]bool
	targets []model.PackageTarget
}

func (s *targetSet) add(p model.Platform, target string) {
	t := model.PackageTarget{Platform: p, Target: strings.TrimSpace(target)}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[t.Key()] {
		return
	}
	s.seen[t.Key()] = true
	s.targets = append(s.targets, t)
}

func (s *targetSet) sorted() []model.PackageTarget {
	model.SortTargets(s.targets)
	return s.targets
}

// ToolingTargets maps the targets of a kotlin-tooling-metadata.json file.
// Unknown platform types are skipped.
func ToolingTargets(meta *maven.ToolingMetadata) []model.PackageTarget {
	var set targetSet
	for _, t := range meta.ProjectTargets {
		platform, ok := model.ParsePlatform(t.PlatformType)
		if !ok {
			continue
		}
		x := t.Extras
		switch platform {
		case model.PlatformJVM:
			target := ""
			if x.JVM != nil {
				target = x.JVM.JvmTarget
			}
			if target == "" && strings.HasSuffix(meta.BuildPlugin, multiplatformPluginWrapper) {
				target = legacyJVMTarget
			}
			set.add(platform, target)
		case model.PlatformAndroidJVM:
			target := ""
			if x.Android != nil {
				target = x.Android.TargetCompatibility
			}
			set.add(platform, target)
		case model.PlatformJS:
			if x.JS == nil || (!x.JS.IsBrowserConfigured && !x.JS.IsNodejsConfigured) {
				set.add(platform, "")
				continue
			}
			if x.JS.IsBrowserConfigured {
				set.add(platform, "browser")
			}
			if x.JS.IsNodejsConfigured {
				set.add(platform, "node")
			}
		case model.PlatformWasm:
			if x.Wasm == nil || len(x.Wasm.WasmTargets) == 0 {
				set.add(platform, "")
				continue
			}
			for _, w := range x.Wasm.WasmTargets {
				set.add(platform, w)
			}
		case model.PlatformNative:
			target := ""
			if x.Native != nil {
				target = x.Native.KonanTarget
			}
			set.add(platform, target)
		default:
			set.add(platform, "")
		}
	}
	return set.sorted()
}

// ModuleTargets maps the variants of a Gradle .module file that carry a
// Kotlin platform type. Variants without one are not Kotlin variants.
func ModuleTargets(meta *maven.ModuleMetadata) []model.PackageTarget {
	var set targetSet
	for _, v := range meta.Variants {
		platform, ok := model.ParsePlatform(v.Attribute(attrPlatformType))
		if !ok {
			continue
		}
		switch platform {
		case model.PlatformJVM, model.PlatformAndroidJVM:
			set.add(platform, v.Attribute(attrJVMVersion))
		case model.PlatformWasm:
			set.add(platform, v.Attribute(attrWasmTarget))
		case model.PlatformNative:
			set.add(platform, v.Attribute(attrNativeTarget))
		default:
			set.add(platform, "")
		}
	}
	return set.sorted()
}
