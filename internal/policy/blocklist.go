// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package policy implements the moderation hook consulted before items enter
// a feed.
package policy

import (
	"strings"

	"github.com/ManuGH/clipfeed/internal/feed/model"
	"golang.org/x/text/cases"
)

// Blocklist rejects items by author or hashtag.
type Blocklist struct {
	authors map[string]struct{}
	tags    map[string]struct{}
}

// NewBlocklist builds a blocklist. Hashtags match case-insensitively and
// without a leading '#'.
func NewBlocklist(authors, tags []string) *Blocklist {
	b := &Blocklist{
		authors: make(map[string]struct{}, len(authors)),
		tags:    make(map[string]struct{}, len(tags)),
	}
	for _, a := range authors {
		if a = strings.TrimSpace(a); a != "" {
			b.authors[a] = struct{}{}
		}
	}
	for _, t := range tags {
		if t = fold(t); t != "" {
			b.tags[t] = struct{}{}
		}
	}
	return b
}

func fold(tag string) string {
	return cases.Fold().String(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

// Empty reports whether nothing is blocked.
func (b *Blocklist) Empty() bool {
	return b == nil || (len(b.authors) == 0 && len(b.tags) == 0)
}

// Include reports whether item may enter a feed.
func (b *Blocklist) Include(item model.ContentItem) bool {
	if b.Empty() {
		return true
	}
	if _, blocked := b.authors[item.Author]; blocked {
		return false
	}
	if len(b.tags) > 0 {
		for _, v := range item.Tags[model.HashtagTag] {
			if _, blocked := b.tags[fold(v)]; blocked {
				return false
			}
		}
	}
	return true
}
