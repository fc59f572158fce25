package repository

import (
	"database/sql"

	appErrors "github.com/maildrip/maildrip-backend/internal/errors"
	"github.com/maildrip/maildrip-backend/internal/model"
)

// TemplateRepositoryInterface is the read-only template store view used for
// snapshotting at promotion time and attachment loading at send time.
type TemplateRepositoryInterface interface {
	GetByID(id int) (*model.Template, error)
	ListAttachments(templateID int) ([]model.Attachment, error)
}

type TemplateRepository struct {
	DB *sql.DB
}

func (r *TemplateRepository) GetByID(id int) (*model.Template, error) {
	query := `
        SELECT id, name, subject, html_content, version, created_at, updated_at
        FROM templates WHERE id=$1
    `
	var t model.Template
	err := r.DB.QueryRow(query, id).Scan(&t.ID, &t.Name, &t.Subject, &t.HTMLContent, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewTemplateNotFound(id)
		}
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepository) ListAttachments(templateID int) ([]model.Attachment, error) {
	query := `
        SELECT id, template_id, filename, content_type, content
        FROM template_attachments
        WHERE template_id=$1
        ORDER BY id ASC
    `
	rows, err := r.DB.Query(query, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attachments := []model.Attachment{}
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.TemplateID, &a.Filename, &a.ContentType, &a.Content); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
