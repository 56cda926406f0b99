// Package profile persists named, browser-scoped configuration bundles and
// their user-data directories.
//
// Each browser type has its own Store rooted at <base>/<browser-type>. The
// root holds one directory per profile id, a metadata.json manifest listing
// every profile, and an exports/ directory for portable archives:
//
//	profiles/chrome/
//	    3f2b…/              user-data directory handed to the browser
//	    metadata.json       full snapshot, rewritten on every mutation
//	    metadata.lock       cross-process lock for manifest writes
//	    exports/work-3f2b….zip
//
// Profiles referenced by a running session are leased (see Store.Acquire) and
// cannot be deleted until every lease is released.
package profile

import (
	"time"

	"github.com/entrhq/browsergrid/pkg/types"
)

// Profile is a persisted browser configuration bundle.
type Profile struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	BrowserType types.BrowserType `json:"browserType"`
	Options     types.Options     `json:"options"`
	CreatedAt   time.Time         `json:"createdAt"`
	LastUsed    time.Time         `json:"lastUsed"`
	Metadata    Metadata          `json:"metadata"`
}

// Metadata is free-form descriptive data attached to a profile.
type Metadata struct {
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Value returns the metadata value for key. "description" maps to the
// Description field, everything else to Extra.
func (m Metadata) Value(key string) (string, bool) {
	if key == "description" {
		return m.Description, m.Description != ""
	}
	v, ok := m.Extra[key]
	return v, ok
}

// HasTag reports whether tag is present.
func (m Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (m Metadata) clone() Metadata {
	out := Metadata{Description: m.Description}
	if m.Tags != nil {
		out.Tags = append([]string(nil), m.Tags...)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func (p *Profile) clone() *Profile {
	c := *p
	c.Options = p.Options.Clone()
	c.Metadata = p.Metadata.clone()
	return &c
}

// Spec describes a profile to create.
type Spec struct {
	Name     string
	Options  types.Options
	Metadata Metadata
}

// Update carries the fields to merge into an existing profile. Nil fields are
// left untouched.
type Update struct {
	Name     *string
	Options  *types.Options
	Metadata *Metadata
}
