// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "strconv"

// DiscriminatorTag scopes addressable items within (author, kind).
const DiscriminatorTag = "d"

// ContentItem is one content event. Treat it as immutable once received.
type ContentItem struct {
	ID           string              `json:"id"`
	Author       string              `json:"author"`
	CreatedAt    int64               `json:"created_at"`
	Kind         int                 `json:"kind"`
	Tags         map[string][]string `json:"tags,omitempty"`
	MediaRef     string              `json:"media_ref,omitempty"`
	ThumbnailRef string              `json:"thumbnail_ref,omitempty"`
}

// Tag returns the first value of the named tag, or "".
func (c ContentItem) Tag(name string) string {
	if v := c.Tags[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Playable reports whether the item references media.
func (c ContentItem) Playable() bool {
	return c.MediaRef != ""
}

// Newer orders items newest first; equal timestamps fall back to the larger ID.
func Newer(a, b ContentItem) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

// Class tells how an item's canonical identity is derived.
type Class int

const (
	// Regular items are identified by their own ID.
	Regular Class = iota
	// Replaceable items are identified by (author, kind).
	Replaceable
	// Addressable items are identified by (author, kind, d-tag).
	Addressable
)

func (c Class) String() string {
	switch c {
	case Replaceable:
		return "replaceable"
	case Addressable:
		return "addressable"
	default:
		return "regular"
	}
}

// Classifier maps an item kind to its class.
type Classifier func(kind int) Class

// Classify applies the event network's kind ranges.
func Classify(kind int) Class {
	switch {
	case kind == 0 || kind == 3 || (kind >= 10000 && kind < 20000):
		return Replaceable
	case kind >= 30000 && kind < 40000:
		return Addressable
	default:
		return Regular
	}
}

// ScopeKey returns the replacement scope of item under classify. ok is false
// for regular items.
func ScopeKey(item ContentItem, classify Classifier) (key string, ok bool) {
	if classify == nil {
		classify = Classify
	}
	switch classify(item.Kind) {
	case Replaceable:
		return item.Author + ":" + strconv.Itoa(item.Kind), true
	case Addressable:
		return item.Author + ":" + strconv.Itoa(item.Kind) + ":" + item.Tag(DiscriminatorTag), true
	default:
		return "", false
	}
}
