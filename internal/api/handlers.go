// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/go-chi/chi/v5"
)

// SurfaceInfo summarizes a surface for listings.
type SurfaceInfo struct {
	ID         string           `json:"id"`
	Descriptor model.Descriptor `json:"descriptor"`
	Open       bool             `json:"open"`
	Items      int              `json:"items"`
	Version    uint64           `json:"version"`
}

type activeRequest struct {
	Active *bool `json:"active"`
}

type foregroundRequest struct {
	Foreground *bool `json:"foreground"`
}

type focusRequest struct {
	ItemID string `json:"item_id"`
}

func (s *Server) handleForeground(w http.ResponseWriter, r *http.Request) {
	var req foregroundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Foreground == nil {
		writeBadRequest(w, `body must be {"foreground": bool}`)
		return
	}
	s.reg.SetForeground(*req.Foreground)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSurfaces(w http.ResponseWriter, _ *http.Request) {
	surfaces := s.reg.Surfaces()
	out := make([]SurfaceInfo, 0, len(surfaces))
	for _, sf := range surfaces {
		snap := sf.Current()
		out = append(out, SurfaceInfo{
			ID:         sf.ID(),
			Descriptor: sf.Descriptor(),
			Open:       sf.Open(),
			Items:      snap.Len(),
			Version:    snap.Version,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// surface resolves {surfaceID} or writes a 404.
func (s *Server) surface(w http.ResponseWriter, r *http.Request) (Surface, bool) {
	id := chi.URLParam(r, "surfaceID")
	sf, ok := s.reg.Surface(id)
	if !ok {
		writeNotFound(w, "surface "+id)
	}
	return sf, ok
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sf, ok := s.surface(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sf.Current())
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	sf, ok := s.surface(w, r)
	if !ok {
		return
	}
	res, err := sf.LoadMore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sf, ok := s.surface(w, r)
	if !ok {
		return
	}
	if err := sf.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	sf, ok := s.surface(w, r)
	if !ok {
		return
	}
	var req activeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		writeBadRequest(w, `body must be {"active": bool}`)
		return
	}
	sf.MarkActive(*req.Active)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	sf, ok := s.surface(w, r)
	if !ok {
		return
	}
	var req focusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == "" {
		writeBadRequest(w, `body must be {"item_id": string}`)
		return
	}
	if err := sf.Focus(r.Context(), req.ItemID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sf, ok := s.surface(w, r)
	if !ok {
		return
	}
	if err := sf.Retry(r.Context(), chi.URLParam(r, "itemID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSeen(w http.ResponseWriter, r *http.Request) {
	sf, ok := s.surface(w, r)
	if !ok {
		return
	}
	sf.MarkSeen(r.Context(), chi.URLParam(r, "itemID"))
	w.WriteHeader(http.StatusNoContent)
}
