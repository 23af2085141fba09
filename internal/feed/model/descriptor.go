// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// DefaultPageLimit applies when a descriptor does not set Limit.
const DefaultPageLimit = 50

// Category is the kind of feed a descriptor requests.
type Category string

const (
	CategoryHome      Category = "home"
	CategoryDiscovery Category = "discovery"
	CategoryHashtag   Category = "hashtag"
	CategoryProfile   Category = "profile"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryHome, CategoryDiscovery, CategoryHashtag, CategoryProfile:
		return true
	}
	return false
}

// OrderBy is the result-ordering field requested from the source.
type OrderBy string

const (
	OrderCreatedAt OrderBy = "created_at"
	OrderTrending  OrderBy = "trending"
)

// Descriptor is a named, typed subscription request. It is immutable once a
// coordinator has been built with it.
type Descriptor struct {
	Name     string              `json:"name" yaml:"name"`
	Category Category            `json:"category" yaml:"category"`
	Kinds    []int               `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Authors  []string            `json:"authors,omitempty" yaml:"authors,omitempty"`
	Tags     map[string][]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	OrderBy  OrderBy             `json:"order_by,omitempty" yaml:"order_by,omitempty"`
	Limit    int                 `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// foldTag case-folds a hashtag value. Casers carry state, so each call gets its own.
func foldTag(v string) string {
	return cases.Fold().String(strings.TrimPrefix(strings.TrimSpace(v), "#"))
}

// HashtagTag is the tag name used for hashtag filters.
const HashtagTag = "t"

// Normalize returns a copy with sorted authors and kinds, case-folded hashtags
// and defaults applied.
func (d Descriptor) Normalize() Descriptor {
	out := d
	if out.OrderBy == "" {
		out.OrderBy = OrderCreatedAt
	}
	if out.Limit <= 0 {
		out.Limit = DefaultPageLimit
	}
	out.Authors = slices.Clone(d.Authors)
	sort.Strings(out.Authors)
	out.Authors = slices.Compact(out.Authors)
	out.Kinds = slices.Clone(d.Kinds)
	slices.Sort(out.Kinds)
	out.Kinds = slices.Compact(out.Kinds)

	if len(d.Tags) > 0 {
		out.Tags = make(map[string][]string, len(d.Tags))
		for name, values := range d.Tags {
			vs := slices.Clone(values)
			if name == HashtagTag {
				for i, v := range vs {
					vs[i] = foldTag(v)
				}
			}
			sort.Strings(vs)
			out.Tags[name] = slices.Compact(vs)
		}
	}
	return out
}

// Validate checks the descriptor for obvious misconfiguration.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor: name is required")
	}
	if !d.Category.Valid() {
		return fmt.Errorf("descriptor %q: unknown category %q", d.Name, d.Category)
	}
	if d.Category == CategoryHashtag && len(d.Tags[HashtagTag]) == 0 {
		return fmt.Errorf("descriptor %q: hashtag feed needs at least one %q tag", d.Name, HashtagTag)
	}
	if d.Category == CategoryProfile && len(d.Authors) == 0 {
		return fmt.Errorf("descriptor %q: profile feed needs at least one author", d.Name)
	}
	if d.Limit < 0 {
		return fmt.Errorf("descriptor %q: limit must not be negative", d.Name)
	}
	return nil
}

// Key is a deterministic identity for the normalized request.
func (d Descriptor) Key() string {
	n := d.Normalize()
	var b strings.Builder
	b.WriteString(string(n.Category))
	b.WriteString("|")
	b.WriteString(n.Name)
	b.WriteString("|k=")
	for i, k := range n.Kinds {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strconv.Itoa(k))
	}
	b.WriteString("|a=")
	b.WriteString(strings.Join(n.Authors, ","))
	names := make([]string, 0, len(n.Tags))
	for name := range n.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString("|#")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(strings.Join(n.Tags[name], ","))
	}
	b.WriteString("|o=")
	b.WriteString(string(n.OrderBy))
	b.WriteString("|l=")
	b.WriteString(strconv.Itoa(n.Limit))
	return b.String()
}

// Matches reports whether item satisfies the descriptor filters.
func (d Descriptor) Matches(item ContentItem) bool {
	n := d.Normalize()
	if len(n.Kinds) > 0 && !slices.Contains(n.Kinds, item.Kind) {
		return false
	}
	if len(n.Authors) > 0 && !slices.Contains(n.Authors, item.Author) {
		return false
	}
	for name, want := range n.Tags {
		have := item.Tags[name]
		found := false
		for _, h := range have {
			if name == HashtagTag {
				h = foldTag(h)
			}
			if slices.Contains(want, h) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Cursor paginates backwards in time. It marks the oldest item seen so far
// in Newer order, so items sharing that timestamp stay reachable. The zero
// value means "newest".
type Cursor struct {
	Until int64  `json:"until,omitempty"`
	ID    string `json:"id,omitempty"`
}

// IsZero reports whether the cursor has not been advanced.
func (c Cursor) IsZero() bool { return c.Until == 0 && c.ID == "" }

// Admits reports whether it sorts strictly after the cursor position.
func (c Cursor) Admits(it ContentItem) bool {
	if c.IsZero() {
		return true
	}
	if it.CreatedAt != c.Until {
		return it.CreatedAt < c.Until
	}
	return it.ID < c.ID
}

// Lower moves the cursor to it when it is older than the current position.
func (c Cursor) Lower(it ContentItem) Cursor {
	if c.Admits(it) {
		return Cursor{Until: it.CreatedAt, ID: it.ID}
	}
	return c
}
