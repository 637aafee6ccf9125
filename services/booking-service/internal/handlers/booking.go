package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okovalchuk/slotline/services/booking-service/internal/booking"
	"github.com/okovalchuk/slotline/services/booking-service/internal/schedule"
)

type BookingHandler struct {
	ledger *booking.Ledger
	logger *slog.Logger
}

func NewBookingHandler(ledger *booking.Ledger, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{ledger: ledger, logger: logger}
}

type slotItem struct {
	OperatorID string `json:"operator_id"`
	ServiceID  string `json:"service_id"`
	ScheduleID string `json:"schedule_id,omitempty"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

// Slots is the public listAvailable surface. Availability is point-in-time:
// nothing here is cached, every call recomputes against committed bookings.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	serviceID := strings.TrimSpace(q.Get("serviceId"))
	operatorID := strings.TrimSpace(q.Get("operatorId"))

	dateFrom, err := schedule.ParseDate(strings.TrimSpace(q.Get("dateFrom")))
	if err != nil {
		writeDomainError(w, &booking.ValidationError{Field: "dateFrom", Detail: "must be YYYY-MM-DD"})
		return
	}
	dateTo, err := schedule.ParseDate(strings.TrimSpace(q.Get("dateTo")))
	if err != nil {
		writeDomainError(w, &booking.ValidationError{Field: "dateTo", Detail: "must be YYYY-MM-DD"})
		return
	}
	durationMins, err := strconv.Atoi(strings.TrimSpace(q.Get("duration")))
	if err != nil {
		writeDomainError(w, &booking.ValidationError{Field: "duration", Detail: "must be an integer number of minutes"})
		return
	}

	slots, err := h.ledger.ListAvailable(r.Context(), booking.SlotQuery{
		ServiceID:  serviceID,
		OperatorID: operatorID,
		DateFrom:   dateFrom,
		DateTo:     dateTo,
		Duration:   time.Duration(durationMins) * time.Minute,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			OperatorID: s.OperatorID,
			ServiceID:  s.ServiceID,
			ScheduleID: s.ScheduleID,
			Start:      s.Start.UTC().Format(time.RFC3339),
			End:        s.End.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": items, "total": len(items)})
}

type reserveRequest struct {
	ServiceID  string `json:"service_id"`
	OperatorID string `json:"operator_id"`
	ScheduleID string `json:"schedule_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Notes      string `json:"notes"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id"`
	OperatorID    string `json:"operator_id"`
	ScheduleID    string `json:"schedule_id,omitempty"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
}

func toItem(appt booking.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID: appt.ID,
		ServiceID:     appt.ServiceID,
		OperatorID:    appt.OperatorID,
		ScheduleID:    appt.ScheduleID,
		Start:         appt.Start.UTC().Format(time.RFC3339),
		End:           appt.End.UTC().Format(time.RFC3339),
		Status:        string(appt.Status),
		Notes:         appt.Notes,
	}
}

func (h *BookingHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeDomainError(w, &booking.ValidationError{Field: "start", Detail: "must be RFC 3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		writeDomainError(w, &booking.ValidationError{Field: "end", Detail: "must be RFC 3339"})
		return
	}

	appt, err := h.ledger.Reserve(r.Context(), actor, booking.ReserveRequest{
		ServiceID:  strings.TrimSpace(req.ServiceID),
		OperatorID: strings.TrimSpace(req.OperatorID),
		ScheduleID: strings.TrimSpace(req.ScheduleID),
		Start:      start,
		End:        end,
		Notes:      strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(appt))
}

// Get serves a single appointment by id from the /api/v1/appointments/
// subtree. The transition routes register exact paths, so they win over this
// pattern.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/appointments/")
	if id == "" || strings.Contains(id, "/") {
		writeDomainError(w, booking.ErrNotFound)
		return
	}

	appt, err := h.ledger.Get(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var status booking.Status
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		parsed, err := booking.ParseStatus(raw)
		if err != nil {
			writeDomainError(w, &booking.ValidationError{Field: "status", Detail: err.Error()})
			return
		}
		status = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	appts, err := h.ledger.ListForUser(r.Context(), actor, strings.TrimSpace(q.Get("userId")), status, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toItem(appt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items, "total": len(items)})
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.Cancel)
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.Confirm)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.Complete)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, booking.Actor, string) (booking.Appointment, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	appt, err := op(r.Context(), actor, strings.TrimSpace(req.AppointmentID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}
