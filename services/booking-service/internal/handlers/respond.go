package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okovalchuk/slotline/services/booking-service/internal/booking"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses.
// Conflicts are expected and non-fatal (client picks another slot); storage
// faults are transient and retryable by the caller, never by the engine.
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *booking.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "field": ve.Field, "detail": ve.Detail})
		return
	}
	var ce *booking.ConflictError
	if errors.As(err, &ce) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": string(ce.Reason), "detail": ce.Detail})
		return
	}
	switch {
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrPermissionDenied):
		http.Error(w, "permission denied", http.StatusForbidden)
	case errors.Is(err, booking.ErrInvalidTransition):
		http.Error(w, "invalid status transition", http.StatusUnprocessableEntity)
	case errors.Is(err, booking.ErrStorageUnavailable):
		http.Error(w, "storage unavailable, retry later", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// actorFromRequest reads the identity the authentication layer asserted.
// The engine trusts these headers; verifying credentials is the gateway's job.
func actorFromRequest(r *http.Request) (booking.Actor, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		return booking.Actor{}, false
	}
	role, err := booking.ParseRole(r.Header.Get("X-User-Role"))
	if err != nil {
		role = booking.RoleUser
	}
	return booking.Actor{Role: role, UserID: userID}, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (booking.Actor, bool) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
	}
	return actor, ok
}
