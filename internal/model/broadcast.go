package model

import "time"

type Broadcast struct {
	ID                int             `db:"id" json:"id"`
	Name              string          `db:"name" json:"name"`
	GroupID           int             `db:"group_id" json:"group_id"`
	TemplateID        int             `db:"template_id" json:"template_id"`
	Status            BroadcastStatus `db:"status" json:"status"`
	MessagesPerMinute int             `db:"messages_per_minute" json:"messages_per_minute"`
	StartsAt          *time.Time      `db:"starts_at" json:"starts_at,omitempty"`
	StartsAtTimezone  string          `db:"starts_at_timezone" json:"starts_at_timezone"`

	// Snapshot fields are frozen on the first scheduled->running promotion
	// and never re-derived, so the sent content cannot change mid-flight.
	SnapshotSubject         string `db:"snapshot_subject" json:"snapshot_subject,omitempty"`
	SnapshotHTMLContent     string `db:"snapshot_html_content" json:"snapshot_html_content,omitempty"`
	SnapshotTemplateVersion int    `db:"snapshot_template_version" json:"snapshot_template_version,omitempty"`

	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Snapshotted reports whether content has been frozen for this broadcast.
func (b *Broadcast) Snapshotted() bool {
	return b.SnapshotTemplateVersion > 0
}

// Due reports whether a scheduled broadcast should be promoted to running.
// starts_at is stored in UTC; comparison is done in UTC regardless of the
// display timezone the operator picked.
func (b *Broadcast) Due(now time.Time) bool {
	if b.Status != BroadcastScheduled || b.StartsAt == nil {
		return false
	}
	return !b.StartsAt.UTC().After(now.UTC())
}
