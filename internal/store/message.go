package store

import (
	"fmt"
	"time"
)

const upsertMessageSQL = `
	INSERT INTO messages (conversation_id, msg_id, sender_id, recipient_id, kind, body, created_at, indexed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
		body = excluded.body,
		kind = excluded.kind,
		indexed_at = excluded.indexed_at`

const selectMessageSQL = `
	SELECT m.id, m.conversation_id, m.msg_id, m.sender_id,
		COALESCE(NULLIF(c.display_name, ''), m.sender_id) AS sender_name,
		m.recipient_id, m.kind, m.body, m.created_at
	FROM messages m
	LEFT JOIN contacts c ON c.id = m.sender_id`

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL,
		m.ConversationID, m.MsgID, m.SenderID, m.RecipientID, m.Kind, m.Body, m.CreatedAt, time.Now().UnixMilli())
	return err
}

// ReplaceConversation drops every indexed message of conversationID and
// inserts msgs, in one transaction.
func (db *DB) ReplaceConversation(conversationID string, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(upsertMessageSQL,
			conversationID, m.MsgID, m.SenderID, m.RecipientID, m.Kind, m.Body, m.CreatedAt, now); err != nil {
			return fmt.Errorf("insert message %q: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns messages of a conversation, newest first, using
// keyset pagination on created_at.
func (db *DB) ListMessages(conversationID string, before int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if before <= 0 {
		before = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(selectMessageSQL+`
		WHERE m.conversation_id = ? AND m.created_at < ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.SenderName,
			&m.RecipientID, &m.Kind, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
