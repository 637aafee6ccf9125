package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/okovalchuk/slotline/libs/db"
)

// ErrNoContact means the user has no contact row; the account system owns
// that table and a missing row is a normal, skippable condition.
var ErrNoContact = errors.New("no contact on file")

type Notification struct {
	AppointmentID string
	UserID        string
	OperatorID    string
	EventType     string
	Channel       string
	Recipient     string
	Status        string
	Detail        string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, user_id, operator_id, event_type, channel, recipient, status, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.AppointmentID, n.UserID, n.OperatorID, n.EventType, n.Channel, n.Recipient, n.Status, n.Detail)
	return err
}

// ContactEmail resolves a user's email from the user_contacts table.
func (r *Repository) ContactEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx, `
		SELECT email FROM user_contacts WHERE user_id = $1
	`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoContact
	}
	if err != nil {
		return "", err
	}
	return email, nil
}
