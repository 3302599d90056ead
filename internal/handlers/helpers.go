package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/crowdfactor/backend/internal/models"
	"github.com/crowdfactor/backend/internal/services"
)

// decodeJSON reads a request body into dst with the shared body
// discipline: 1MB cap, unknown fields rejected, exactly one object.
// On failure it writes the error response and reports false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError maps a service error onto its HTTP status.
func respondError(w http.ResponseWriter, err error) {
	services.SendErrorResponse(w, err.Error(), errorStatus(err), nil)
}

// errorStatus translates the error kinds of the service layer. Hard
// failures keep their kind distinguishable so callers can decide to
// retry, abort or alert.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrUnknownCurrency):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateCurrency),
		errors.Is(err, models.ErrDuplicateAction),
		errors.Is(err, models.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientBalance),
		errors.Is(err, models.ErrPaymentTooLow),
		errors.Is(err, models.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
