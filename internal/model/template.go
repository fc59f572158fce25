package model

import "time"

type Template struct {
	ID          int       `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Subject     string    `db:"subject" json:"subject"`
	HTMLContent string    `db:"html_content" json:"html_content"`
	Version     int       `db:"version" json:"version"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type Attachment struct {
	ID          int    `db:"id" json:"id"`
	TemplateID  int    `db:"template_id" json:"template_id"`
	Filename    string `db:"filename" json:"filename"`
	ContentType string `db:"content_type" json:"content_type"`
	Content     []byte `db:"content" json:"-"`
}
