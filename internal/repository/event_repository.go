package repository

import (
	"database/sql"

	"github.com/maildrip/maildrip-backend/internal/model"
)

// EventRepositoryInterface is the append-only event log. Nothing updates or
// deletes rows here; corrections elsewhere are always additive.
type EventRepositoryInterface interface {
	Append(ev *model.RecipientEvent) error
	ListByRecipient(recipientID int) ([]model.RecipientEvent, error)
}

type EventRepository struct {
	DB *sql.DB
}

func (r *EventRepository) Append(ev *model.RecipientEvent) error {
	query := `
        INSERT INTO recipient_events (broadcast_id, recipient_id, event_type, payload, occurred_at, created_at)
        VALUES (NULLIF($1, 0), NULLIF($2, 0), $3, $4, $5, NOW())
        RETURNING id, created_at
    `
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	return r.DB.QueryRow(query, ev.BroadcastID, ev.RecipientID, ev.EventType, payload, ev.OccurredAt).
		Scan(&ev.ID, &ev.CreatedAt)
}

func (r *EventRepository) ListByRecipient(recipientID int) ([]model.RecipientEvent, error) {
	query := `
        SELECT id, COALESCE(broadcast_id, 0), COALESCE(recipient_id, 0), event_type, payload, occurred_at, created_at
        FROM recipient_events
        WHERE recipient_id=$1
        ORDER BY occurred_at ASC, id ASC
    `
	rows, err := r.DB.Query(query, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.RecipientEvent{}
	for rows.Next() {
		var ev model.RecipientEvent
		if err := rows.Scan(&ev.ID, &ev.BroadcastID, &ev.RecipientID, &ev.EventType, &ev.Payload, &ev.OccurredAt, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

var _ EventRepositoryInterface = (*EventRepository)(nil)
