package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/okovalchuk/slotline/libs/db"
	"github.com/okovalchuk/slotline/services/booking-service/internal/booking"
	"github.com/okovalchuk/slotline/services/booking-service/internal/outbox"
)

// AppointmentRepository is the Postgres booking.Store. Reservation atomicity
// comes from the appointments exclusion constraint over (operator_id,
// service_id, time range) filtered to blocking statuses: under concurrent
// inserts for intersecting ranges the database commits exactly one row and
// raises 23P01 for the rest, with no in-process locking and across any number
// of service instances.
type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

func (r *AppointmentRepository) Reserve(ctx context.Context, appt *booking.Appointment, evt booking.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, user_id, service_id, operator_id, schedule_id, start_time, end_time, status, notes)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8, $9)
	`, appt.ID, appt.UserID, appt.ServiceID, appt.OperatorID, appt.ScheduleID,
		appt.Start, appt.End, string(appt.Status), appt.Notes)
	if err != nil {
		if isExclusion(err) {
			return booking.ErrSlotConflict
		}
		return unavailable(err)
	}

	if err := r.insertEvent(ctx, tx, evt); err != nil {
		return unavailable(err)
	}
	if err := tx.Commit(ctx); err != nil {
		if isExclusion(err) {
			return booking.ErrSlotConflict
		}
		return unavailable(err)
	}
	return nil
}

const appointmentColumns = `
	id::text, user_id::text, service_id::text, operator_id::text,
	COALESCE(schedule_id::text, ''), start_time, end_time, status,
	COALESCE(notes, ''), created_at, updated_at`

func (r *AppointmentRepository) Get(ctx context.Context, id string) (booking.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Appointment{}, booking.ErrNotFound
		}
		return booking.Appointment{}, unavailable(err)
	}
	return appt, nil
}

func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id string, from, to booking.Status, evt booking.Event) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, unavailable(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return false, unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		// Either gone or the status moved underneath us; the ledger re-reads.
		return false, nil
	}

	if err := r.insertEvent(ctx, tx, evt); err != nil {
		return false, unavailable(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, unavailable(err)
	}
	return true, nil
}

func (r *AppointmentRepository) ListBlocking(ctx context.Context, serviceID, operatorID string, from, to time.Time) ([]booking.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE service_id = $1
			AND ($2 = '' OR operator_id::text = $2)
			AND status IN ('pending', 'confirmed')
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, serviceID, operatorID, from, to)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListByUser(ctx context.Context, userID string, status booking.Status, limit int) ([]booking.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1
			AND ($2 = '' OR status = $2)
		ORDER BY start_time DESC
		LIMIT $3
	`, userID, string(status), limit)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *AppointmentRepository) insertEvent(ctx context.Context, tx pgx.Tx, evt booking.Event) error {
	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   evt.AppointmentID,
		EventType:     evt.Type,
		Payload:       evt.Payload,
	})
}

func collectAppointments(rows pgx.Rows) ([]booking.Appointment, error) {
	var appts []booking.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, unavailable(rows.Err())
	}
	return appts, nil
}

func scanAppointment(row pgx.Row) (booking.Appointment, error) {
	var appt booking.Appointment
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.UserID,
		&appt.ServiceID,
		&appt.OperatorID,
		&appt.ScheduleID,
		&appt.Start,
		&appt.End,
		&status,
		&appt.Notes,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return booking.Appointment{}, err
	}
	appt.Status = booking.Status(status)
	return appt, nil
}

// isExclusion matches the exclusion-constraint violation raised when two
// blocking appointments claim intersecting ranges on the same booking key.
func isExclusion(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", booking.ErrStorageUnavailable, err)
}
