package repository

import (
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/maildrip/maildrip-backend/internal/errors"
	"github.com/maildrip/maildrip-backend/internal/model"
)

type BroadcastRepositoryInterface interface {
	Create(b *model.Broadcast) error
	GetByID(id int) (*model.Broadcast, error)
	ListBroadcasts(offset, limit int, status string) ([]*model.Broadcast, int, error)

	// ListDispatchable returns broadcasts the tick should look at:
	// scheduled or running, never paused/terminal.
	ListDispatchable() ([]*model.Broadcast, error)

	// UpdateStatus applies a status-guarded transition. Returns true when
	// the row was in `from` and has been moved to `to`.
	UpdateStatus(broadcastID int, from, to model.BroadcastStatus) (bool, error)

	// PromoteToRunning moves a due scheduled broadcast to running and
	// freezes the snapshot fields, both exactly once. A racing tick gets
	// applied=false and must reload.
	PromoteToRunning(broadcastID int, subject, html string, version int, startedAt time.Time) (bool, error)

	// MarkCompleted finishes a running broadcast.
	MarkCompleted(broadcastID int, completedAt time.Time) (bool, error)

	UpdateStartsAt(broadcastID int, startsAt time.Time, tz string) error

	GetRecipientStats(broadcastID int) (map[model.RecipientStatus]int, error)
}

type BroadcastRepository struct {
	DB *sql.DB
}

var broadcastColumns = `id, name, group_id, template_id, status, messages_per_minute,
	starts_at, starts_at_timezone, snapshot_subject, snapshot_html_content,
	snapshot_template_version, started_at, completed_at, created_at, updated_at`

func (r *BroadcastRepository) Create(b *model.Broadcast) error {
	b.CreatedAt = time.Now().UTC()
	if b.Status == "" {
		b.Status = model.BroadcastDraft
	}
	query := `
        INSERT INTO broadcasts (name, group_id, template_id, status, messages_per_minute, starts_at, starts_at_timezone, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRow(query,
		b.Name, b.GroupID, b.TemplateID, b.Status, b.MessagesPerMinute,
		b.StartsAt, b.StartsAtTimezone, b.CreatedAt,
	).Scan(&b.ID)
}

func scanBroadcast(row interface{ Scan(...any) error }) (*model.Broadcast, error) {
	var b model.Broadcast
	var snapSubject, snapHTML, tz sql.NullString
	var snapVersion sql.NullInt64
	err := row.Scan(
		&b.ID, &b.Name, &b.GroupID, &b.TemplateID, &b.Status, &b.MessagesPerMinute,
		&b.StartsAt, &tz, &snapSubject, &snapHTML, &snapVersion,
		&b.StartedAt, &b.CompletedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.StartsAtTimezone = tz.String
	b.SnapshotSubject = snapSubject.String
	b.SnapshotHTMLContent = snapHTML.String
	b.SnapshotTemplateVersion = int(snapVersion.Int64)
	return &b, nil
}

func (r *BroadcastRepository) GetByID(id int) (*model.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE id=$1`
	b, err := scanBroadcast(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewBroadcastNotFound(id)
		}
		return nil, err
	}
	return b, nil
}

func (r *BroadcastRepository) ListBroadcasts(offset, limit int, status string) ([]*model.Broadcast, int, error) {
	broadcasts := []*model.Broadcast{}
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, 0, err
		}
		broadcasts = append(broadcasts, b)
	}

	countQuery := `SELECT COUNT(*) FROM broadcasts WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return broadcasts, total, nil
}

func (r *BroadcastRepository) ListDispatchable() ([]*model.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts
        WHERE status IN ('scheduled', 'running')
        ORDER BY id ASC`
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	broadcasts := []*model.Broadcast{}
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, rows.Err()
}

func (r *BroadcastRepository) UpdateStatus(broadcastID int, from, to model.BroadcastStatus) (bool, error) {
	query := `UPDATE broadcasts SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`
	res, err := r.DB.Exec(query, to, broadcastID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// PromoteToRunning is guarded on both the scheduled status and the snapshot
// version still being zero, so content is frozen at most once even when two
// dispatcher instances race on the same broadcast.
func (r *BroadcastRepository) PromoteToRunning(broadcastID int, subject, html string, version int, startedAt time.Time) (bool, error) {
	query := `
        UPDATE broadcasts
        SET status='running',
            snapshot_subject=$1,
            snapshot_html_content=$2,
            snapshot_template_version=$3,
            started_at=COALESCE(started_at, $4),
            updated_at=NOW()
        WHERE id=$5 AND status='scheduled' AND COALESCE(snapshot_template_version, 0)=0
    `
	res, err := r.DB.Exec(query, subject, html, version, startedAt, broadcastID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *BroadcastRepository) MarkCompleted(broadcastID int, completedAt time.Time) (bool, error) {
	query := `UPDATE broadcasts SET status='completed', completed_at=$1, updated_at=NOW() WHERE id=$2 AND status='running'`
	res, err := r.DB.Exec(query, completedAt, broadcastID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *BroadcastRepository) UpdateStartsAt(broadcastID int, startsAt time.Time, tz string) error {
	query := `UPDATE broadcasts SET starts_at=$1, starts_at_timezone=$2, updated_at=NOW() WHERE id=$3`
	_, err := r.DB.Exec(query, startsAt, tz, broadcastID)
	return err
}

func (r *BroadcastRepository) GetRecipientStats(broadcastID int) (map[model.RecipientStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM recipients WHERE broadcast_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.RecipientStatus]int{}
	for rows.Next() {
		var status model.RecipientStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ BroadcastRepositoryInterface = (*BroadcastRepository)(nil)
