package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    errs.Code         `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps ledger errors onto HTTP statuses: validation 400,
// continuity 409, not found 404, anything else 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorDetail{Code: errs.CodeOf(err), Message: err.Error()}
	status := http.StatusInternalServerError

	var ce *errs.ContinuityError
	var le *errs.Error
	switch {
	case errors.As(err, &ce):
		status = http.StatusConflict
		body.Details = map[string]string{"field": ce.Field, "expected": ce.Expected, "actual": ce.Actual}
	case errors.As(err, &le) && le.Code == errs.CodeValidation:
		status = http.StatusBadRequest
		body.Details = le.Details
	case errs.IsNotFound(err):
		status = http.StatusNotFound
		if le != nil {
			body.Details = le.Details
		}
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err))
		body.Message = "internal error"
		body.Code = ""
	}
	writeJSON(w, status, errorBody{Error: body})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Validation("invalid request body: %v", err)
	}
	return nil
}

func entityParam(r *http.Request) model.EntityRef {
	return model.Ref(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.ValidationField(name, "%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

func int64Query(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errs.ValidationField(name, "%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

// timeQuery parses an RFC 3339 timestamp. A missing parameter yields nil.
func timeQuery(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, errs.ValidationField(name, "%s must be an RFC 3339 timestamp, got %q", name, raw)
	}
	return &t, nil
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
