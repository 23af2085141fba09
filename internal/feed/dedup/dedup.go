// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dedup maintains the canonical set of content items: duplicates are
// rejected and replaceable items keep only their newest version.
package dedup

import (
	"sort"

	"github.com/ManuGH/clipfeed/internal/feed/model"
)

// Outcome is the result class of an ingestion.
type Outcome string

const (
	Accepted          Outcome = "accepted"
	Superseded        Outcome = "superseded"
	RejectedDuplicate Outcome = "rejected_duplicate"
	Filtered          Outcome = "filtered"
	Invalid           Outcome = "invalid"
)

// Result describes what Ingest did.
type Result struct {
	Outcome Outcome
	// Replaced is the ID of the older version evicted by an accepted
	// replaceable item.
	Replaced string
}

// Stored reports whether the item is now part of the canonical set.
func (r Result) Stored() bool { return r.Outcome == Accepted }

// Policy decides whether an item may enter the canonical set at all.
type Policy func(model.ContentItem) bool

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithPolicy installs a moderation hook consulted before acceptance.
func WithPolicy(p Policy) Option {
	return func(d *Deduplicator) { d.policy = p }
}

// WithClassifier overrides the kind classification.
func WithClassifier(c model.Classifier) Option {
	return func(d *Deduplicator) {
		if c != nil {
			d.classify = c
		}
	}
}

// Deduplicator owns the canonical set. It is not safe for concurrent use.
type Deduplicator struct {
	items    map[string]model.ContentItem
	arrival  map[string]uint64
	seq      uint64
	scopes   map[string]string // scope key -> item ID
	policy   Policy
	classify model.Classifier
}

// New creates an empty canonical set.
func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{
		items:    make(map[string]model.ContentItem),
		arrival:  make(map[string]uint64),
		scopes:   make(map[string]string),
		classify: model.Classify,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetPolicy swaps the moderation hook. Items already accepted stay.
func (d *Deduplicator) SetPolicy(p Policy) {
	d.policy = p
}

// Ingest offers item to the canonical set.
func (d *Deduplicator) Ingest(item model.ContentItem) Result {
	if item.ID == "" || item.Author == "" {
		return Result{Outcome: Invalid}
	}
	if _, exists := d.items[item.ID]; exists {
		return Result{Outcome: RejectedDuplicate}
	}
	if d.policy != nil && !d.policy(item) {
		return Result{Outcome: Filtered}
	}

	scope, replaceable := model.ScopeKey(item, d.classify)
	if !replaceable {
		d.store(item)
		return Result{Outcome: Accepted}
	}

	currentID, taken := d.scopes[scope]
	if !taken {
		d.store(item)
		d.scopes[scope] = item.ID
		return Result{Outcome: Accepted}
	}
	current := d.items[currentID]
	if !model.Newer(item, current) {
		return Result{Outcome: Superseded}
	}
	delete(d.items, currentID)
	delete(d.arrival, currentID)
	d.store(item)
	d.scopes[scope] = item.ID
	return Result{Outcome: Accepted, Replaced: currentID}
}

func (d *Deduplicator) store(item model.ContentItem) {
	d.seq++
	d.items[item.ID] = item
	d.arrival[item.ID] = d.seq
}

// Get returns the canonical item for id.
func (d *Deduplicator) Get(id string) (model.ContentItem, bool) {
	it, ok := d.items[id]
	return it, ok
}

// Len returns the size of the canonical set.
func (d *Deduplicator) Len() int {
	return len(d.items)
}

// Items returns a copy of the canonical set in arrival order. A replacement
// counts as a new arrival.
func (d *Deduplicator) Items() []model.ContentItem {
	out := make([]model.ContentItem, 0, len(d.items))
	for _, it := range d.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return d.arrival[out[i].ID] < d.arrival[out[j].ID] })
	return out
}

// Remove drops id from the canonical set and its scope index.
func (d *Deduplicator) Remove(id string) bool {
	it, ok := d.items[id]
	if !ok {
		return false
	}
	delete(d.items, id)
	delete(d.arrival, id)
	if scope, replaceable := model.ScopeKey(it, d.classify); replaceable && d.scopes[scope] == id {
		delete(d.scopes, scope)
	}
	return true
}

// Clear empties the canonical set.
func (d *Deduplicator) Clear() {
	d.items = make(map[string]model.ContentItem)
	d.arrival = make(map[string]uint64)
	d.scopes = make(map[string]string)
}
