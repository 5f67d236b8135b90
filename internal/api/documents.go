package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/steladb/stela/internal/engine"
	sterrors "github.com/steladb/stela/internal/errors"
)

// handleAddDocuments accepts a document payload and streams it into
// the update pipeline. The handler blocks until the payload is fully
// handed over, so the request body stays readable for the forwarder.
func (s *Server) handleAddDocuments(method engine.AddMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := payloadFormat(r.Header.Get("Content-Type"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if r.ContentLength > s.maxPayload {
			s.writeError(w, r, sterrors.Newf(sterrors.CodePayloadTooLarge,
				"payload of %d bytes exceeds the %d byte limit", r.ContentLength, s.maxPayload))
			return
		}

		body := http.MaxBytesReader(w, r.Body, s.maxPayload)
		st, err := s.ctrl.AddDocuments(r.Context(), r.PathValue("uid"), method, format,
			body, r.URL.Query().Get("primaryKey"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, st)
	}
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	docs, err := s.ctrl.Documents(r.Context(), r.PathValue("uid"), offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ctrl.Document(r.Context(), r.PathValue("uid"), r.PathValue("docid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// handleDeleteBatch deletes documents by id. The body is a JSON array
// of ids; numbers are canonicalized the same way document extraction
// does, so `[1]` deletes the document added with `{"id": 1}`.
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.maxPayload)
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		s.writeError(w, r, mapDecodeError(err))
		return
	}

	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		switch id := v.(type) {
		case string:
			ids = append(ids, id)
		case json.Number:
			ids = append(ids, id.String())
		default:
			s.writeError(w, r, sterrors.Newf(sterrors.CodeBadParameter,
				"document ids must be strings or numbers, got %T", v))
			return
		}
	}

	st, err := s.ctrl.DeleteDocuments(r.Context(), r.PathValue("uid"), ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.ClearDocuments(r.Context(), r.PathValue("uid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, st)
}

// queryInt parses a non-negative integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, sterrors.Newf(sterrors.CodeBadParameter,
			"%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}
