package repository

import (
	"database/sql"

	"github.com/maildrip/maildrip-backend/internal/model"
)

// ContactRepositoryInterface is the read-mostly view of the contact store
// the dispatch engine consumes. The only write is the complaint-driven
// unsubscribe flag.
type ContactRepositoryInterface interface {
	GetByID(id int) (*model.Contact, error)
	// ListActiveContacts returns group members that are neither invalid
	// nor unsubscribed, i.e. the enrollment-eligible set.
	ListActiveContacts(groupID int) ([]model.Contact, error)
	GroupExists(groupID int) (bool, error)
	Unsubscribe(contactID int) error
}

type ContactRepository struct {
	DB *sql.DB
}

func (r *ContactRepository) GetByID(id int) (*model.Contact, error) {
	query := `
        SELECT id, email, first_name, last_name, company, is_unsubscribed, is_invalid
        FROM contacts
        WHERE id = $1
    `
	row := r.DB.QueryRow(query, id)

	var c model.Contact
	if err := row.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Company, &c.IsUnsubscribed, &c.IsInvalid); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepository) ListActiveContacts(groupID int) ([]model.Contact, error) {
	query := `
        SELECT c.id, c.email, c.first_name, c.last_name, c.company, c.is_unsubscribed, c.is_invalid
        FROM contacts c
        JOIN contact_group_members m ON m.contact_id = c.id
        WHERE m.group_id = $1 AND c.is_unsubscribed = FALSE AND c.is_invalid = FALSE
        ORDER BY c.id ASC
    `
	rows, err := r.DB.Query(query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Company, &c.IsUnsubscribed, &c.IsInvalid); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *ContactRepository) GroupExists(groupID int) (bool, error) {
	var count int
	err := r.DB.QueryRow(`SELECT COUNT(*) FROM contact_groups WHERE id=$1`, groupID).Scan(&count)
	return count > 0, err
}

func (r *ContactRepository) Unsubscribe(contactID int) error {
	_, err := r.DB.Exec(`UPDATE contacts SET is_unsubscribed=TRUE WHERE id=$1`, contactID)
	return err
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
