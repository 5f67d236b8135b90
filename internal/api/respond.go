package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/steladb/stela/internal/engine"
	sterrors "github.com/steladb/stela/internal/errors"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Kind    string `json:"kind"`
}

// httpStatus maps an error to its response status. Kinds carry the
// mapping; payload_too_large is the one code with a status of its own.
func httpStatus(err error) int {
	if sterrors.GetCode(err) == sterrors.CodePayloadTooLarge {
		return http.StatusRequestEntityTooLarge
	}
	switch sterrors.KindOf(err) {
	case sterrors.KindNotFound:
		return http.StatusNotFound
	case sterrors.KindAlreadyExists:
		return http.StatusConflict
	case sterrors.KindValidation, sterrors.KindTransport:
		return http.StatusBadRequest
	case sterrors.KindUnavailable:
		return http.StatusServiceUnavailable
	case sterrors.KindUnimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response body", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	code := sterrors.GetCode(err)
	if code == "" {
		code = sterrors.CodeInternal
	}

	slog.Debug("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("code", code),
		slog.String("error", err.Error()))

	s.writeJSON(w, status, errorBody{
		Message: err.Error(),
		Code:    code,
		Kind:    string(sterrors.KindOf(err)),
	})
}

// decodeJSON reads a request body into dst, bounded by the configured
// payload limit.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, s.maxPayload)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	return nil
}

func mapDecodeError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return sterrors.Newf(sterrors.CodePayloadTooLarge,
			"request body exceeds the %d byte limit", tooBig.Limit)
	}
	return sterrors.New(sterrors.CodeBadPayloadFormat, "failed to decode request body", err)
}

// payloadFormat picks the document encoding from the Content-Type
// header. An absent header defaults to JSON.
func payloadFormat(header string) (engine.PayloadFormat, error) {
	if header == "" {
		return engine.FormatJSON, nil
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return "", sterrors.New(sterrors.CodeBadPayloadFormat, "failed to parse content type", err)
	}
	switch mediaType {
	case "application/json":
		return engine.FormatJSON, nil
	case "application/x-ndjson":
		return engine.FormatNDJSON, nil
	case "text/csv":
		return engine.FormatCSV, nil
	default:
		return "", sterrors.Newf(sterrors.CodeBadPayloadFormat, "unsupported content type %q", mediaType)
	}
}
