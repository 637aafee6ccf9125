package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/okovalchuk/slotline/services/booking-service/internal/booking"
	"github.com/okovalchuk/slotline/services/booking-service/internal/schedule"
	"github.com/okovalchuk/slotline/services/booking-service/internal/storage"
)

type ScheduleHandler struct {
	ledger *booking.Ledger
	repo   *storage.ScheduleRepository
	logger *slog.Logger
}

func NewScheduleHandler(ledger *booking.Ledger, repo *storage.ScheduleRepository, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{ledger: ledger, repo: repo, logger: logger}
}

type ruleRequest struct {
	OperatorID  string             `json:"operator_id"`
	ServiceID   string             `json:"service_id"`
	DayOfWeek   string             `json:"day_of_week"`
	StartTime   string             `json:"start_time"`
	EndTime     string             `json:"end_time"`
	IsRecurring *bool              `json:"is_recurring"`
	Exceptions  []exceptionPayload `json:"exceptions"`
}

type exceptionPayload struct {
	Date        string `json:"date"`
	IsAvailable bool   `json:"is_available"`
	Reason      string `json:"reason"`
}

type ruleItem struct {
	ID          string             `json:"id"`
	OperatorID  string             `json:"operator_id"`
	ServiceID   string             `json:"service_id"`
	DayOfWeek   string             `json:"day_of_week"`
	StartTime   string             `json:"start_time"`
	EndTime     string             `json:"end_time"`
	IsRecurring bool               `json:"is_recurring"`
	Exceptions  []exceptionPayload `json:"exceptions,omitempty"`
}

// resolveOperator decides which operator a calendar mutation targets:
// operators act on their own calendar only, administrators must name the
// operator explicitly, everyone else is refused.
func resolveOperator(actor booking.Actor, operatorID string) (string, error) {
	operatorID = strings.TrimSpace(operatorID)
	switch actor.Role {
	case booking.RoleOperator:
		if operatorID == "" {
			operatorID = actor.UserID
		}
		if operatorID != actor.UserID {
			return "", booking.ErrPermissionDenied
		}
		return operatorID, nil
	case booking.RoleAdministrator:
		if operatorID == "" {
			return "", &booking.ValidationError{Field: "operatorId", Detail: "required"}
		}
		return operatorID, nil
	default:
		return "", booking.ErrPermissionDenied
	}
}

// parseRule turns the wire payload into a domain rule.
func parseRule(actor booking.Actor, req ruleRequest) (schedule.Rule, error) {
	operatorID, err := resolveOperator(actor, req.OperatorID)
	if err != nil {
		return schedule.Rule{}, err
	}

	day, err := schedule.ParseDayOfWeek(req.DayOfWeek)
	if err != nil {
		return schedule.Rule{}, &booking.ValidationError{Field: "dayOfWeek", Detail: "must be MONDAY..SUNDAY"}
	}
	start, err := schedule.ParseClock(req.StartTime)
	if err != nil {
		return schedule.Rule{}, &booking.ValidationError{Field: "startTime", Detail: "must be HH:MM"}
	}
	end, err := schedule.ParseClock(req.EndTime)
	if err != nil {
		return schedule.Rule{}, &booking.ValidationError{Field: "endTime", Detail: "must be HH:MM"}
	}

	recurring := true
	if req.IsRecurring != nil {
		recurring = *req.IsRecurring
	}

	rule := schedule.Rule{
		OperatorID:  operatorID,
		ServiceID:   strings.TrimSpace(req.ServiceID),
		Day:         day,
		Start:       start,
		End:         end,
		IsRecurring: recurring,
	}
	for _, ex := range req.Exceptions {
		date, err := schedule.ParseDate(ex.Date)
		if err != nil {
			return schedule.Rule{}, &booking.ValidationError{Field: "exceptions.date", Detail: "must be YYYY-MM-DD"}
		}
		rule.Exceptions = append(rule.Exceptions, schedule.Exception{
			Date:        date,
			IsAvailable: ex.IsAvailable,
			Reason:      strings.TrimSpace(ex.Reason),
		})
	}
	if err := rule.Validate(); err != nil {
		return schedule.Rule{}, &booking.ValidationError{Field: "rule", Detail: err.Error()}
	}
	return rule, nil
}

// Create validates the rule against the operator's existing calendar and
// persists it. A structural window overlap is rejected, never auto-resolved.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	rule, err := parseRule(actor, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.ledger.ValidateRule(r.Context(), rule); err != nil {
		writeDomainError(w, err)
		return
	}

	id, err := h.repo.CreateRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("schedule rule created",
		"rule_id", id,
		"operator_id", rule.OperatorID,
		"day", schedule.DayName(rule.Day),
	)
	rule.ID = id
	writeJSON(w, http.StatusCreated, toRuleItem(rule))
}

// Validate is the dry-run variant of Create: same checks, nothing persisted.
func (h *ScheduleHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	rule, err := parseRule(actor, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.ledger.ValidateRule(r.Context(), rule); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	operatorID := strings.TrimSpace(r.URL.Query().Get("operatorId"))
	if operatorID == "" && actor.Role == booking.RoleOperator {
		operatorID = actor.UserID
	}
	if operatorID == "" {
		writeDomainError(w, &booking.ValidationError{Field: "operatorId", Detail: "required"})
		return
	}
	if actor.Role == booking.RoleOperator && operatorID != actor.UserID {
		writeDomainError(w, booking.ErrPermissionDenied)
		return
	}

	rules, err := h.repo.RulesForOperator(r.Context(), operatorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ruleItem, 0, len(rules))
	for _, rule := range rules {
		items = append(items, toRuleItem(rule))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": items, "total": len(items)})
}

// Delete removes a rule and its exceptions. Operators may only delete rules
// from their own calendar; future appointments already booked against the rule
// keep their reserved ranges.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != booking.RoleOperator && actor.Role != booking.RoleAdministrator {
		writeDomainError(w, booking.ErrPermissionDenied)
		return
	}

	ruleID := strings.TrimSpace(r.URL.Query().Get("id"))
	if ruleID == "" {
		writeDomainError(w, &booking.ValidationError{Field: "id", Detail: "required"})
		return
	}

	if actor.Role == booking.RoleOperator {
		rules, err := h.repo.RulesForOperator(r.Context(), actor.UserID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		owned := false
		for _, rule := range rules {
			if rule.ID == ruleID {
				owned = true
				break
			}
		}
		if !owned {
			writeDomainError(w, booking.ErrNotFound)
			return
		}
	}

	if err := h.repo.DeleteRule(r.Context(), ruleID); err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.Info("schedule rule deleted", "rule_id", ruleID, "operator_id", actor.UserID)
	w.WriteHeader(http.StatusNoContent)
}

type exceptionRequest struct {
	ScheduleID  string `json:"schedule_id"`
	Date        string `json:"date"`
	IsAvailable bool   `json:"is_available"`
	Reason      string `json:"reason"`
}

// AddException blacks out (or re-confirms) one date on a rule. Exceptions
// never add a differently-shaped window.
func (h *ScheduleHandler) AddException(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != booking.RoleOperator && actor.Role != booking.RoleAdministrator {
		writeDomainError(w, booking.ErrPermissionDenied)
		return
	}

	var req exceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ScheduleID = strings.TrimSpace(req.ScheduleID)
	if req.ScheduleID == "" {
		writeDomainError(w, &booking.ValidationError{Field: "scheduleId", Detail: "required"})
		return
	}
	date, err := schedule.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		writeDomainError(w, &booking.ValidationError{Field: "date", Detail: "must be YYYY-MM-DD"})
		return
	}
	if len(req.Reason) > 200 {
		writeDomainError(w, &booking.ValidationError{Field: "reason", Detail: "longer than 200 characters"})
		return
	}

	err = h.repo.AddException(r.Context(), req.ScheduleID, schedule.Exception{
		Date:        date,
		IsAvailable: req.IsAvailable,
		Reason:      strings.TrimSpace(req.Reason),
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateException) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "duplicate_exception", "detail": err.Error()})
			return
		}
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type timezoneRequest struct {
	OperatorID string `json:"operator_id"`
	Timezone   string `json:"timezone"`
}

// SetTimezone records the IANA zone the operator's windows are read in.
// Administrators name the target operator; operators set their own.
func (h *ScheduleHandler) SetTimezone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req timezoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	operatorID, err := resolveOperator(actor, req.OperatorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := schedule.LoadZone(req.Timezone); err != nil {
		writeDomainError(w, &booking.ValidationError{Field: "timezone", Detail: "unknown IANA zone"})
		return
	}

	if err := h.repo.UpsertOperatorZone(r.Context(), operatorID, strings.TrimSpace(req.Timezone)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toRuleItem(rule schedule.Rule) ruleItem {
	item := ruleItem{
		ID:          rule.ID,
		OperatorID:  rule.OperatorID,
		ServiceID:   rule.ServiceID,
		DayOfWeek:   schedule.DayName(rule.Day),
		StartTime:   rule.Start.String(),
		EndTime:     rule.End.String(),
		IsRecurring: rule.IsRecurring,
	}
	for _, ex := range rule.Exceptions {
		item.Exceptions = append(item.Exceptions, exceptionPayload{
			Date:        schedule.DateKey(ex.Date),
			IsAvailable: ex.IsAvailable,
			Reason:      ex.Reason,
		})
	}
	return item
}
