package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/maildrip/maildrip-backend/internal/model"
)

type RecipientRepositoryInterface interface {
	// EnrollPending inserts a pending row for the pair, doing nothing if
	// the contact is already enrolled. Returns true on a fresh insert.
	EnrollPending(broadcastID, contactID int) (bool, error)

	// ClaimPending atomically flips up to limit pending recipients to
	// queued, oldest id first, and returns the claimed rows.
	ClaimPending(broadcastID, limit int, now time.Time) ([]*model.Recipient, error)

	// ReleaseStale resets queued rows whose queued_at is older than the
	// cutoff back to pending. Returns how many rows were recovered.
	ReleaseStale(broadcastID int, cutoff time.Time) (int, error)

	// MarkSent / MarkFailed record a send outcome, guarded on the row
	// still being queued so a redelivered task cannot double-record.
	MarkSent(recipientID int, providerMessageID string, sentAt time.Time) (bool, error)
	MarkFailed(recipientID int, lastError string, failedAt time.Time) (bool, error)

	// AdvanceFunnel conditionally moves a recipient to `to`, only when its
	// current status is one of `from`. Used by the webhook reconciler for
	// monotonic delivered/opened/clicked/bounced/complained transitions.
	AdvanceFunnel(recipientID int, to model.RecipientStatus, from []model.RecipientStatus, at time.Time) (bool, error)

	// ResetForRequeue flips failed-like recipients back to pending,
	// clearing queued_at/failed_at/last_error. Returns the reset count.
	ResetForRequeue(broadcastID int, statuses []model.RecipientStatus) (int, error)

	GetByID(id int) (*model.Recipient, error)
	GetByProviderMessageID(providerMessageID string) (*model.Recipient, error)
	CountOutstanding(broadcastID int) (int, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

var recipientColumns = `id, broadcast_id, contact_id, status, attempt_count,
	queued_at, sent_at, delivered_at, opened_at, clicked_at, failed_at, skipped_at,
	provider_message_id, last_error, created_at, updated_at`

func (r *RecipientRepository) EnrollPending(broadcastID, contactID int) (bool, error) {
	query := `
        INSERT INTO recipients (broadcast_id, contact_id, status, attempt_count, created_at, updated_at)
        VALUES ($1, $2, 'pending', 0, NOW(), NOW())
        ON CONFLICT (broadcast_id, contact_id) DO NOTHING
    `
	res, err := r.DB.Exec(query, broadcastID, contactID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanRecipient(row interface{ Scan(...any) error }) (*model.Recipient, error) {
	var rec model.Recipient
	var providerMessageID, lastError sql.NullString
	err := row.Scan(
		&rec.ID, &rec.BroadcastID, &rec.ContactID, &rec.Status, &rec.AttemptCount,
		&rec.QueuedAt, &rec.SentAt, &rec.DeliveredAt, &rec.OpenedAt, &rec.ClickedAt,
		&rec.FailedAt, &rec.SkippedAt, &providerMessageID, &lastError,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ProviderMessageID = providerMessageID.String
	rec.LastError = lastError.String
	return &rec, nil
}

// ClaimPending selects by id ascending for reproducible tick output, and
// uses FOR UPDATE SKIP LOCKED so two dispatchers racing on the same
// broadcast never claim the same row twice.
func (r *RecipientRepository) ClaimPending(broadcastID, limit int, now time.Time) ([]*model.Recipient, error) {
	query := `
        UPDATE recipients
        SET status='queued', queued_at=$1, updated_at=NOW()
        WHERE id IN (
            SELECT id FROM recipients
            WHERE broadcast_id=$2 AND status='pending'
            ORDER BY id ASC
            LIMIT $3
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + recipientColumns

	rows, err := r.DB.Query(query, now, broadcastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claimed := []*model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, rec)
	}
	return claimed, rows.Err()
}

func (r *RecipientRepository) ReleaseStale(broadcastID int, cutoff time.Time) (int, error) {
	query := `
        UPDATE recipients
        SET status='pending', queued_at=NULL, updated_at=NOW()
        WHERE broadcast_id=$1 AND status='queued' AND queued_at < $2
    `
	res, err := r.DB.Exec(query, broadcastID, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *RecipientRepository) MarkSent(recipientID int, providerMessageID string, sentAt time.Time) (bool, error) {
	query := `
        UPDATE recipients
        SET status='sent', sent_at=$1, provider_message_id=$2,
            attempt_count=attempt_count+1, last_error='', updated_at=NOW()
        WHERE id=$3 AND status='queued'
    `
	res, err := r.DB.Exec(query, sentAt, providerMessageID, recipientID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *RecipientRepository) MarkFailed(recipientID int, lastError string, failedAt time.Time) (bool, error) {
	query := `
        UPDATE recipients
        SET status='failed', failed_at=$1, last_error=$2,
            attempt_count=attempt_count+1, updated_at=NOW()
        WHERE id=$3 AND status='queued'
    `
	res, err := r.DB.Exec(query, failedAt, lastError, recipientID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AdvanceFunnel writes the status and its matching timestamp column in one
// guarded UPDATE. Zero rows affected means the precondition no longer holds
// (duplicate or out-of-order notification) and the caller should ignore it.
func (r *RecipientRepository) AdvanceFunnel(recipientID int, to model.RecipientStatus, from []model.RecipientStatus, at time.Time) (bool, error) {
	var tsColumn string
	switch to {
	case model.RecipientDelivered:
		tsColumn = "delivered_at"
	case model.RecipientOpened:
		tsColumn = "opened_at"
	case model.RecipientClicked:
		tsColumn = "clicked_at"
	case model.RecipientBounced, model.RecipientComplained:
		tsColumn = "failed_at"
	case model.RecipientSkipped:
		tsColumn = "skipped_at"
	default:
		tsColumn = "updated_at"
	}

	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	query := `
        UPDATE recipients
        SET status=$1, ` + tsColumn + `=$2, updated_at=NOW()
        WHERE id=$3 AND status = ANY($4)
    `
	res, err := r.DB.Exec(query, to, at, recipientID, pq.Array(fromStrs))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *RecipientRepository) ResetForRequeue(broadcastID int, statuses []model.RecipientStatus) (int, error) {
	statusStrs := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrs[i] = string(s)
	}
	query := `
        UPDATE recipients
        SET status='pending', queued_at=NULL, failed_at=NULL, last_error='', updated_at=NOW()
        WHERE broadcast_id=$1 AND status = ANY($2)
    `
	res, err := r.DB.Exec(query, broadcastID, pq.Array(statusStrs))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *RecipientRepository) GetByID(id int) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id=$1`
	rec, err := scanRecipient(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *RecipientRepository) GetByProviderMessageID(providerMessageID string) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE provider_message_id=$1`
	rec, err := scanRecipient(r.DB.QueryRow(query, providerMessageID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// CountOutstanding counts rows still owned by the dispatch loop. Zero means
// the broadcast has no remaining work and can be completed.
func (r *RecipientRepository) CountOutstanding(broadcastID int) (int, error) {
	var count int
	err := r.DB.QueryRow(`
        SELECT COUNT(*)
        FROM recipients
        WHERE broadcast_id=$1 AND status IN ('pending', 'queued')
    `, broadcastID).Scan(&count)
	return count, err
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
