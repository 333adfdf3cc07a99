// Package tags normalizes free-text topics into canonical project tags.
//
// A topic is first normalized (lowercased, trimmed, inner whitespace
// collapsed to single hyphens) and then looked up in a catalog of
// canonical names and their synonyms. Topics with no catalog entry are
// dropped. The default catalog is embedded from catalog.toml.
package tags

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var defaultCatalog []byte

// Normalize lowercases s, trims it and replaces each run of inner
// whitespace with one hyphen.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

// NormalizeAll normalizes topics, dropping blanks and duplicates while
// keeping first-seen order.
func NormalizeAll(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	var out []string
	for _, t := range topics {
		n := Normalize(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Catalog maps normalized spellings to canonical tag names.
type Catalog struct {
	lookup map[string]string
}

type catalogFile struct {
	Tag []struct {
		Name     string   `toml:"name"`
		Synonyms []string `toml:"synonyms"`
	} `toml:"tag"`
}

// ParseCatalog parses a catalog in the catalog.toml format. A synonym
// claimed by two canonical names is an error.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("parse tag catalog: %w", err)
	}
	c := &Catalog{lookup: make(map[string]string)}
	add := func(spelling, canonical string) error {
		key := Normalize(spelling)
		if prev, ok := c.lookup[key]; ok && prev != canonical {
			return fmt.Errorf("tag catalog: %q maps to both %q and %q", key, prev, canonical)
		}
		c.lookup[key] = canonical
		return nil
	}
	for _, t := range f.Tag {
		name := Normalize(t.Name)
		if name == "" {
			return nil, fmt.Errorf("tag catalog: entry without name")
		}
		if err := add(name, name); err != nil {
			return nil, err
		}
		for _, s := range t.Synonyms {
			if err := add(s, name); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := ParseCatalog(defaultCatalog)
		if err != nil {
			panic(err)
		}
		defaultCat = c
	})
	return defaultCat
}

// Canonical returns the canonical tag for a topic.
func (c *Catalog) Canonical(topic string) (string, bool) {
	name, ok := c.lookup[Normalize(topic)]
	return name, ok
}

// Canonicalize normalizes topics and maps them to canonical tags,
// dropping unknown topics and duplicates.
func (c *Catalog) Canonicalize(topics []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range NormalizeAll(topics) {
		name, ok := c.lookup[t]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Len returns the number of known spellings.
func (c *Catalog) Len() int { return len(c.lookup) }
