package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ReplaceContacts swaps the indexed directory for contacts.
func (db *DB) ReplaceContacts(contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contacts`); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, display_name, status_message, is_self, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				display_name = excluded.display_name,
				status_message = excluded.status_message,
				is_self = excluded.is_self,
				updated_at = excluded.updated_at`,
			c.ID, c.DisplayName, c.StatusMessage, c.IsSelf, now); err != nil {
			return fmt.Errorf("insert contact %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetContact returns an indexed contact, or nil when absent.
func (db *DB) GetContact(id string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT id, display_name, status_message, is_self FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.DisplayName, &c.StatusMessage, &c.IsSelf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Stats counts indexed contacts, conversations and messages.
func (db *DB) Stats() (Stats, error) {
	var s Stats
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM contacts),
			(SELECT COUNT(DISTINCT conversation_id) FROM messages),
			(SELECT COUNT(*) FROM messages)`).
		Scan(&s.Contacts, &s.Conversations, &s.Messages)
	return s, err
}
