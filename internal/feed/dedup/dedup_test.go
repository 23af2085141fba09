// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dedup

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kindProfile = 0

func TestRegularDuplicateRejected(t *testing.T) {
	d := New()
	it := model.ContentItem{ID: "a", Author: "x", CreatedAt: 10, Kind: 22}

	assert.Equal(t, Accepted, d.Ingest(it).Outcome)
	assert.Equal(t, RejectedDuplicate, d.Ingest(it).Outcome)
	assert.Equal(t, 1, d.Len())
}

func TestReplaceableOlderIsSuperseded(t *testing.T) {
	d := New()
	first := model.ContentItem{ID: "A", Author: "X", CreatedAt: 100, Kind: kindProfile}
	older := model.ContentItem{ID: "A2", Author: "X", CreatedAt: 50, Kind: kindProfile}

	require.True(t, d.Ingest(first).Stored())
	res := d.Ingest(older)
	assert.False(t, res.Stored())
	assert.Equal(t, Superseded, res.Outcome)

	got, ok := d.Get("A")
	require.True(t, ok)
	assert.Equal(t, int64(100), got.CreatedAt)
	_, ok = d.Get("A2")
	assert.False(t, ok)
}

func TestReplaceableNewerReplaces(t *testing.T) {
	d := New()
	require.True(t, d.Ingest(model.ContentItem{ID: "old", Author: "X", CreatedAt: 100, Kind: 10002}).Stored())

	res := d.Ingest(model.ContentItem{ID: "new", Author: "X", CreatedAt: 101, Kind: 10002})
	assert.Equal(t, Accepted, res.Outcome)
	assert.Equal(t, "old", res.Replaced)
	assert.Equal(t, 1, d.Len())

	// The evicted version cannot come back.
	res = d.Ingest(model.ContentItem{ID: "old", Author: "X", CreatedAt: 100, Kind: 10002})
	assert.Equal(t, Superseded, res.Outcome)
}

func TestReplaceableTieBreaksOnLargerID(t *testing.T) {
	d := New()
	require.True(t, d.Ingest(model.ContentItem{ID: "m", Author: "X", CreatedAt: 5, Kind: 0}).Stored())

	assert.Equal(t, Superseded, d.Ingest(model.ContentItem{ID: "a", Author: "X", CreatedAt: 5, Kind: 0}).Outcome)
	res := d.Ingest(model.ContentItem{ID: "z", Author: "X", CreatedAt: 5, Kind: 0})
	assert.Equal(t, Accepted, res.Outcome)
	assert.Equal(t, "m", res.Replaced)
}

func TestAddressableScopesByDiscriminator(t *testing.T) {
	d := New()
	a := model.ContentItem{ID: "1", Author: "X", CreatedAt: 1, Kind: 34236, Tags: map[string][]string{"d": {"clip-a"}}}
	b := model.ContentItem{ID: "2", Author: "X", CreatedAt: 1, Kind: 34236, Tags: map[string][]string{"d": {"clip-b"}}}
	a2 := model.ContentItem{ID: "3", Author: "X", CreatedAt: 2, Kind: 34236, Tags: map[string][]string{"d": {"clip-a"}}}

	assert.True(t, d.Ingest(a).Stored())
	assert.True(t, d.Ingest(b).Stored())
	res := d.Ingest(a2)
	assert.True(t, res.Stored())
	assert.Equal(t, "1", res.Replaced)
	assert.Equal(t, 2, d.Len())
}

func TestPolicyFilters(t *testing.T) {
	d := New(WithPolicy(func(it model.ContentItem) bool { return it.Author != "spam" }))
	assert.Equal(t, Filtered, d.Ingest(model.ContentItem{ID: "a", Author: "spam", Kind: 22}).Outcome)
	assert.Equal(t, Accepted, d.Ingest(model.ContentItem{ID: "b", Author: "ok", Kind: 22}).Outcome)
	assert.Equal(t, Invalid, d.Ingest(model.ContentItem{ID: "", Author: "ok"}).Outcome)
}

func TestRemoveClearsScope(t *testing.T) {
	d := New()
	require.True(t, d.Ingest(model.ContentItem{ID: "p", Author: "X", CreatedAt: 9, Kind: 0}).Stored())
	assert.True(t, d.Remove("p"))
	assert.False(t, d.Remove("p"))
	assert.True(t, d.Ingest(model.ContentItem{ID: "q", Author: "X", CreatedAt: 1, Kind: 0}).Stored())
}

// For random ingestion sequences the canonical set holds at most one item per
// scope key, and it is the newest item ever accepted for that scope.
func TestCanonicalSetInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		d := New()
		newest := map[string]model.ContentItem{}
		for i := 0; i < 200; i++ {
			kind := []int{0, 22, 34236, 10002}[rng.Intn(4)]
			it := model.ContentItem{
				ID:        fmt.Sprintf("id-%d", rng.Intn(150)),
				Author:    fmt.Sprintf("author-%d", rng.Intn(4)),
				CreatedAt: int64(rng.Intn(20)),
				Kind:      kind,
				Tags:      map[string][]string{"d": {fmt.Sprintf("d%d", rng.Intn(3))}},
			}
			if !d.Ingest(it).Stored() {
				continue
			}
			if scope, ok := model.ScopeKey(it, nil); ok {
				if cur, seen := newest[scope]; !seen || model.Newer(it, cur) {
					newest[scope] = it
				}
			}
		}

		held := map[string]string{}
		for _, it := range d.Items() {
			scope, ok := model.ScopeKey(it, nil)
			if !ok {
				continue
			}
			prev, dup := held[scope]
			require.False(t, dup, "scope %s held by %s and %s", scope, prev, it.ID)
			held[scope] = it.ID
		}
		for scope, want := range newest {
			assert.Equal(t, want.ID, held[scope], "scope %s", scope)
		}
	}
}

func TestItemsKeepArrivalOrder(t *testing.T) {
	d := New()
	for _, id := range []string{"c", "a", "b"} {
		require.True(t, d.Ingest(model.ContentItem{ID: id, Author: "x", Kind: 22}).Stored())
	}
	require.True(t, d.Ingest(model.ContentItem{ID: "p1", Author: "x", CreatedAt: 1, Kind: 0}).Stored())
	require.True(t, d.Ingest(model.ContentItem{ID: "z", Author: "x", Kind: 22}).Stored())
	require.True(t, d.Ingest(model.ContentItem{ID: "p2", Author: "x", CreatedAt: 2, Kind: 0}).Stored())

	var got []string
	for _, it := range d.Items() {
		got = append(got, it.ID)
	}
	assert.Equal(t, []string{"c", "a", "b", "z", "p2"}, got)
}
