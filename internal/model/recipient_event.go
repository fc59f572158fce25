package model

import (
	"encoding/json"
	"time"
)

// RecipientEvent is one append-only audit record. RecipientID may be zero
// when a provider notification could not be correlated back to a recipient;
// the raw payload is still kept for debugging.
type RecipientEvent struct {
	ID          int             `db:"id" json:"id"`
	BroadcastID int             `db:"broadcast_id" json:"broadcast_id,omitempty"`
	RecipientID int             `db:"recipient_id" json:"recipient_id,omitempty"`
	EventType   EventType       `db:"event_type" json:"event_type"`
	Payload     json.RawMessage `db:"payload" json:"payload,omitempty"`
	OccurredAt  time.Time       `db:"occurred_at" json:"occurred_at"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
