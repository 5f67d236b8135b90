package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/steladb/stela/internal/engine"
	sterrors "github.com/steladb/stela/internal/errors"
)

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	query := engine.SearchQuery{
		Query:  r.URL.Query().Get("q"),
		Offset: offset,
		Limit:  limit,
	}
	if facets := r.URL.Query().Get("facetsDistribution"); facets != "" {
		query.FacetsDistribution = strings.Split(facets, ",")
	}
	s.search(w, r, query)
}

func (s *Server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var query engine.SearchQuery
	if err := s.decodeJSON(w, r, &query); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.search(w, r, query)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, query engine.SearchQuery) {
	result, err := s.ctrl.Search(r.Context(), r.PathValue("uid"), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.ctrl.GetSettings(r.Context(), r.PathValue("uid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings engine.Settings
	if err := s.decodeJSON(w, r, &settings); err != nil {
		s.writeError(w, r, err)
		return
	}

	st, err := s.ctrl.UpdateSettings(r.Context(), r.PathValue("uid"), settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleUpdateFacets(w http.ResponseWriter, r *http.Request) {
	var facets engine.Facets
	if err := s.decodeJSON(w, r, &facets); err != nil {
		s.writeError(w, r, err)
		return
	}

	st, err := s.ctrl.UpdateFacets(r.Context(), r.PathValue("uid"), facets)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.ctrl.AllUpdateStatuses(r.Context(), r.PathValue("uid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("taskId")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.writeError(w, r, sterrors.Newf(sterrors.CodeBadParameter,
			"taskId must be a non-negative integer, got %q", raw))
		return
	}

	st, err := s.ctrl.UpdateStatus(r.Context(), r.PathValue("uid"), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}
