package api

import (
	"net/http"

	"github.com/steladb/stela/internal/controller"
	sterrors "github.com/steladb/stela/internal/errors"
	"github.com/steladb/stela/pkg/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "available"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, version.GetInfo())
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var settings controller.IndexSettings
	if err := s.decodeJSON(w, r, &settings); err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.ctrl.CreateIndex(r.Context(), settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	views, err := s.ctrl.ListIndexes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	view, err := s.ctrl.GetIndex(r.Context(), r.PathValue("uid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateIndex(w http.ResponseWriter, r *http.Request) {
	var settings controller.IndexSettings
	if err := s.decodeJSON(w, r, &settings); err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.ctrl.UpdateIndex(r.Context(), r.PathValue("uid"), settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeleteIndex(r.Context(), r.PathValue("uid")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSwapIndexes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Indexes []string `json:"indexes"`
	}
	if err := s.decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(body.Indexes) != 2 {
		s.writeError(w, r, sterrors.Newf(sterrors.CodeBadParameter,
			"swap requires exactly two index uids, got %d", len(body.Indexes)))
		return
	}

	if err := s.ctrl.SwapIndexes(r.Context(), body.Indexes[0], body.Indexes[1]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ctrl.GetStats(r.Context(), r.PathValue("uid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
