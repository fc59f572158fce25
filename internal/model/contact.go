package model

type Contact struct {
	ID             int    `db:"id" json:"id"`
	Email          string `db:"email" json:"email"`
	FirstName      string `db:"first_name" json:"first_name"`
	LastName       string `db:"last_name" json:"last_name"`
	Company        string `db:"company" json:"company"`
	IsUnsubscribed bool   `db:"is_unsubscribed" json:"is_unsubscribed"`
	IsInvalid      bool   `db:"is_invalid" json:"is_invalid"`
}

// FullName joins first and last name, tolerating either being empty.
func (c *Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

type ContactGroup struct {
	ID   int    `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
