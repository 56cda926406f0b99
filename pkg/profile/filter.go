package profile

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Filter selects profiles in List. All set fields must match.
type Filter struct {
	// Name matches the profile name exactly.
	Name string
	// NamePattern is a glob (e.g. "ci-*") matched against the name.
	NamePattern string
	// Tags must all be present on the profile.
	Tags []string
	// Metadata keys must all equal the profile's metadata values.
	Metadata map[string]string
}

type matcher struct {
	filter  Filter
	pattern glob.Glob
}

func newMatcher(f Filter) (*matcher, error) {
	m := &matcher{filter: f}
	if f.NamePattern != "" {
		g, err := glob.Compile(f.NamePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid name pattern %q: %w", f.NamePattern, err)
		}
		m.pattern = g
	}
	return m, nil
}

func (m *matcher) match(p *Profile) bool {
	if m.filter.Name != "" && p.Name != m.filter.Name {
		return false
	}
	if m.pattern != nil && !m.pattern.Match(p.Name) {
		return false
	}
	for _, tag := range m.filter.Tags {
		if !p.Metadata.HasTag(tag) {
			return false
		}
	}
	for key, want := range m.filter.Metadata {
		got, ok := p.Metadata.Value(key)
		if !ok || got != want {
			return false
		}
	}
	return true
}
