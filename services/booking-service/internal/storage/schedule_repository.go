package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/okovalchuk/slotline/libs/db"
	"github.com/okovalchuk/slotline/services/booking-service/internal/booking"
	"github.com/okovalchuk/slotline/services/booking-service/internal/schedule"
)

var ErrDuplicateException = errors.New("exception already exists for that date")

// ScheduleRepository persists schedule rules, their dated exceptions and the
// operator profile (timezone). It is the ledger's RuleSource.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) CreateRule(ctx context.Context, rule schedule.Rule) (string, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", unavailable(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO schedule_rules (id, operator_id, service_id, day_of_week, start_minute, end_minute, is_recurring)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rule.ID, rule.OperatorID, rule.ServiceID, int(rule.Day), int(rule.Start), int(rule.End), rule.IsRecurring)
	if err != nil {
		if isExclusion(err) {
			return "", ruleOverlap()
		}
		return "", unavailable(err)
	}

	for _, ex := range rule.Exceptions {
		if err := insertException(ctx, tx, rule.ID, ex); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isExclusion(err) {
			return "", ruleOverlap()
		}
		return "", unavailable(err)
	}
	return rule.ID, nil
}

// ruleOverlap reports a lost race between two concurrent creates whose windows
// both passed validation before either was committed.
func ruleOverlap() error {
	return &booking.ConflictError{Reason: booking.RuleOverlap, Detail: "window overlaps an existing rule"}
}

func (r *ScheduleRepository) AddException(ctx context.Context, ruleID string, ex schedule.Exception) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM schedule_rules WHERE id = $1)
	`, ruleID).Scan(&exists); err != nil {
		return unavailable(err)
	}
	if !exists {
		return booking.ErrNotFound
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertException(ctx, tx, ruleID, ex); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func insertException(ctx context.Context, tx pgx.Tx, ruleID string, ex schedule.Exception) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO schedule_exceptions (schedule_id, on_date, is_available, reason)
		VALUES ($1, $2, $3, $4)
	`, ruleID, ex.Date, ex.IsAvailable, ex.Reason)
	if err != nil {
		if isUnique(err) {
			return ErrDuplicateException
		}
		return unavailable(err)
	}
	return nil
}

// DeleteRule removes the rule and its exceptions. Appointments that reference
// the rule keep their reserved ranges; the FK nulls their provenance instead
// of blocking the delete.
func (r *ScheduleRepository) DeleteRule(ctx context.Context, ruleID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedule_rules WHERE id = $1`, ruleID)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *ScheduleRepository) RulesForOperator(ctx context.Context, operatorID string) ([]schedule.Rule, error) {
	return r.queryRules(ctx, `
		SELECT id::text, operator_id::text, service_id::text, day_of_week, start_minute, end_minute, is_recurring
		FROM schedule_rules
		WHERE operator_id = $1
		ORDER BY id
	`, operatorID)
}

func (r *ScheduleRepository) RulesForService(ctx context.Context, serviceID, operatorID string) ([]schedule.Rule, error) {
	return r.queryRules(ctx, `
		SELECT id::text, operator_id::text, service_id::text, day_of_week, start_minute, end_minute, is_recurring
		FROM schedule_rules
		WHERE service_id = $1
			AND ($2 = '' OR operator_id::text = $2)
		ORDER BY id
	`, serviceID, operatorID)
}

func (r *ScheduleRepository) queryRules(ctx context.Context, sql string, args ...any) ([]schedule.Rule, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var rules []schedule.Rule
	ids := make([]string, 0, 8)
	for rows.Next() {
		var rule schedule.Rule
		var day, startMin, endMin int
		if err := rows.Scan(&rule.ID, &rule.OperatorID, &rule.ServiceID, &day, &startMin, &endMin, &rule.IsRecurring); err != nil {
			return nil, unavailable(err)
		}
		rule.Day = time.Weekday(day)
		rule.Start = schedule.Clock(startMin)
		rule.End = schedule.Clock(endMin)
		rules = append(rules, rule)
		ids = append(ids, rule.ID)
	}
	if rows.Err() != nil {
		return nil, unavailable(rows.Err())
	}
	if len(rules) == 0 {
		return nil, nil
	}

	exceptions, err := r.exceptionsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		rules[i].Exceptions = exceptions[rules[i].ID]
	}
	return rules, nil
}

func (r *ScheduleRepository) exceptionsFor(ctx context.Context, ruleIDs []string) (map[string][]schedule.Exception, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT schedule_id::text, on_date, is_available, COALESCE(reason, '')
		FROM schedule_exceptions
		WHERE schedule_id::text = ANY($1)
		ORDER BY on_date ASC
	`, ruleIDs)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := make(map[string][]schedule.Exception)
	for rows.Next() {
		var ruleID string
		var ex schedule.Exception
		if err := rows.Scan(&ruleID, &ex.Date, &ex.IsAvailable, &ex.Reason); err != nil {
			return nil, unavailable(err)
		}
		out[ruleID] = append(out[ruleID], ex)
	}
	if rows.Err() != nil {
		return nil, unavailable(rows.Err())
	}
	return out, nil
}

// OperatorZone returns the operator's IANA zone id, or empty when the
// operator has no profile row yet (the ledger falls back to the portal zone).
func (r *ScheduleRepository) OperatorZone(ctx context.Context, operatorID string) (string, error) {
	var zone string
	err := r.pool.QueryRow(ctx, `
		SELECT timezone FROM operator_profiles WHERE operator_id = $1
	`, operatorID).Scan(&zone)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", unavailable(err)
	}
	return zone, nil
}

func (r *ScheduleRepository) UpsertOperatorZone(ctx context.Context, operatorID, zone string) error {
	if _, err := schedule.LoadZone(zone); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO operator_profiles (operator_id, timezone)
		VALUES ($1, $2)
		ON CONFLICT (operator_id) DO UPDATE
		SET timezone = EXCLUDED.timezone, updated_at = now()
	`, operatorID, zone)
	if err != nil {
		return unavailable(err)
	}
	return nil
}
