package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/SigNoz/storefront-api/internal/middleware"
	"github.com/SigNoz/storefront-api/internal/models"
	"github.com/SigNoz/storefront-api/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("failed to encode response", "error", err)
	}
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and answered with a generic 500 so storage details never leak.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.log.ErrorContext(r.Context(), "request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFrom(r.Context()),
		)
		msg = "internal server error"
	}
	a.writeJSON(w, status, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return &services.ValidationError{Field: "body", Message: "request body is required"}
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &services.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &services.ValidationError{Field: name, Message: fmt.Sprintf("invalid id %q", raw)}
	}
	return id, nil
}

func pathProductID(r *http.Request, name string) (models.ProductID, error) {
	raw := mux.Vars(r)[name]
	id, err := models.ParseProductID(raw)
	if err != nil {
		return models.ProductID{}, &services.ValidationError{Field: name, Message: fmt.Sprintf("invalid product id %q", raw)}
	}
	return id, nil
}

// queryInt returns def when the parameter is absent and a validation error when it is not a number
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &services.ValidationError{Field: name, Message: "must be an integer"}
	}
	return v, nil
}
