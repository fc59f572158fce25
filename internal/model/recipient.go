package model

import "time"

// Recipient is the durable per-(broadcast, contact) ledger row. One row per
// pair, enforced by a unique constraint; rows are never deleted while the
// broadcast exists.
type Recipient struct {
	ID           int             `db:"id" json:"id"`
	BroadcastID  int             `db:"broadcast_id" json:"broadcast_id"`
	ContactID    int             `db:"contact_id" json:"contact_id"`
	Status       RecipientStatus `db:"status" json:"status"`
	AttemptCount int             `db:"attempt_count" json:"attempt_count"`

	QueuedAt    *time.Time `db:"queued_at" json:"queued_at,omitempty"`
	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	OpenedAt    *time.Time `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt   *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
	FailedAt    *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	SkippedAt   *time.Time `db:"skipped_at" json:"skipped_at,omitempty"`

	ProviderMessageID string `db:"provider_message_id" json:"provider_message_id,omitempty"`
	LastError         string `db:"last_error" json:"last_error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
