package store

import (
	"database/sql"
	"time"

	"rcsd/internal/contact"
)

// UpsertContact inserts or updates an address-book entry. An empty
// display name never overwrites an existing one.
func (db *DB) UpsertContact(id contact.ID, displayName string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (number, display_name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
			updated_at = excluded.updated_at`,
		id.String(), displayName, now)
	return err
}

// SetDisplayName updates the display name for a contact, creating the
// entry when absent.
func (db *DB) SetDisplayName(id contact.ID, name string) error {
	return db.UpsertContact(id, name)
}

// SetBlocked marks a contact as blocked or unblocked.
func (db *DB) SetBlocked(id contact.ID, blocked bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (number, blocked, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			blocked = excluded.blocked,
			updated_at = excluded.updated_at`,
		id.String(), blocked, now)
	return err
}

// SetRegistered records the contact's last observed IMS registration
// state.
func (db *DB) SetRegistered(id contact.ID, registered bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (number, registered, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			registered = excluded.registered,
			updated_at = excluded.updated_at`,
		id.String(), registered, now)
	return err
}

// IsBlocked reports whether the contact is blocked. Unknown contacts
// are not blocked.
func (db *DB) IsBlocked(id contact.ID) (bool, error) {
	var blocked bool
	err := db.QueryRow(`SELECT blocked FROM contacts WHERE number = ?`, id.String()).
		Scan(&blocked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return blocked, nil
}

// GetContact returns an address-book entry by number.
func (db *DB) GetContact(id contact.ID) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT number, display_name, blocked, registered, rcs_capable, updated_at
		FROM contacts WHERE number = ?`, id.String()).
		Scan(&c.Number, &c.DisplayName, &c.Blocked, &c.Registered, &c.RcsCapable, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Contacts returns the full address book ordered by number.
func (db *DB) Contacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT number, display_name, blocked, registered, rcs_capable, updated_at
		FROM contacts ORDER BY number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Number, &c.DisplayName, &c.Blocked, &c.Registered,
			&c.RcsCapable, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AllContacts returns every known contact id. Rows whose number no
// longer parses are skipped.
func (db *DB) AllContacts() ([]contact.ID, error) {
	rows, err := db.Query(`SELECT number FROM contacts ORDER BY number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contact.ID
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		id, err := contact.Parse(number)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ContactCount returns the total number of address-book entries.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}
