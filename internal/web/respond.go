package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/emiliopalmerini/mltrackr/internal/domain"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Failure kinds carried in the error field of a failed response.
const (
	kindValidation          = "validation"
	kindNotFound            = "not_found"
	kindConflict            = "conflict"
	kindStoreUnavailable    = "store_unavailable"
	kindInsightsUnavailable = "insights_unavailable"
	kindInternal            = "internal"
)

type envelope struct {
	Success    bool               `json:"success"`
	Data       any                `json:"data,omitempty"`
	Message    string             `json:"message,omitempty"`
	Error      string             `json:"error,omitempty"`
	Field      string             `json:"field,omitempty"`
	Pagination *domain.Pagination `json:"pagination,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("write response", slog.String("error", err.Error()))
	}
}

func (s *Server) ok(w http.ResponseWriter, status int, data any, message string) {
	s.writeJSON(w, status, envelope{Success: true, Data: data, Message: message})
}

// deny matches middleware.Deny.
func (s *Server) deny(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	s.writeJSON(w, status, envelope{Success: false, Error: kind, Message: message})
}

// fail maps a service error to its status code. Internal details are logged,
// never sent.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		s.writeJSON(w, http.StatusBadRequest, envelope{Error: kindValidation, Field: ve.Field, Message: ve.Error()})
	case errors.Is(err, domain.ErrNotFound):
		s.deny(w, r, http.StatusNotFound, kindNotFound, "Experiment not found")
	case errors.Is(err, domain.ErrConflict):
		s.deny(w, r, http.StatusConflict, kindConflict, "Experiment was modified concurrently, retry the request")
	case errors.Is(err, domain.ErrInsightsUnavailable):
		s.log.Warn("insights unavailable", slog.String("error", err.Error()))
		s.deny(w, r, http.StatusServiceUnavailable, kindInsightsUnavailable, "Error generating AI insights")
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.log.Error("store unavailable", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		s.deny(w, r, http.StatusServiceUnavailable, kindStoreUnavailable, "Storage is temporarily unavailable")
	default:
		s.log.Error("unhandled error", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		s.deny(w, r, http.StatusInternalServerError, kindInternal, "Something went wrong")
	}
}

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return domain.Invalid("body", "must not be empty")
		case errors.As(err, &syntaxErr):
			return domain.Invalid("body", "malformed JSON at offset %d", syntaxErr.Offset)
		case errors.As(err, &typeErr):
			return domain.Invalid(typeErr.Field, "must be a %s", typeErr.Type)
		case errors.As(err, &maxErr):
			return domain.Invalid("body", "must not exceed %d bytes", maxErr.Limit)
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return domain.Invalid(strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`), "is not a known field")
		default:
			return domain.Invalid("body", "%v", err)
		}
	}
	if dec.More() {
		return domain.Invalid("body", "must contain a single JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return domain.Invalid("body", "must contain a single JSON object")
	}
	return nil
}

func parseFloatParam(raw, field string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, domain.Invalid(field, "must be a number")
	}
	return &v, nil
}

func parseIntParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Invalid(field, "must be an integer")
	}
	return v, nil
}
