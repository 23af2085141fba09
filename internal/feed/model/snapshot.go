// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "maps"

// FeedSnapshot is an immutable ordered view of a feed. Every change produces a
// new snapshot; consumers never mutate one.
type FeedSnapshot struct {
	SurfaceID   string                `json:"surface_id"`
	Version     uint64                `json:"version"`
	Items       []ContentItem         `json:"items"`
	Status      map[string]ItemStatus `json:"status,omitempty"`
	Cursor      Cursor                `json:"cursor"`
	HasMore     bool                  `json:"has_more"`
	LoadingMore bool                  `json:"loading_more"`
}

// Len returns the number of items.
func (s FeedSnapshot) Len() int { return len(s.Items) }

// IDs returns item identifiers in feed order.
func (s FeedSnapshot) IDs() []string {
	out := make([]string, len(s.Items))
	for i, it := range s.Items {
		out[i] = it.ID
	}
	return out
}

// IndexOf returns the position of id, or -1.
func (s FeedSnapshot) IndexOf(id string) int {
	for i, it := range s.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// StatusOf returns the status of id. Items without state report not_loaded.
func (s FeedSnapshot) StatusOf(id string) ItemStatus {
	if st, ok := s.Status[id]; ok {
		return st
	}
	return ItemStatus{State: StateNotLoaded, Presentation: Present(StateNotLoaded)}
}

// Clone returns a deep copy of the slice and map headers.
func (s FeedSnapshot) Clone() FeedSnapshot {
	out := s
	out.Items = append([]ContentItem(nil), s.Items...)
	out.Status = maps.Clone(s.Status)
	return out
}
