package store

import (
	"database/sql"
	"strings"
	"time"
)

// AddGroupChat appends a group-chat history row. Re-adding an existing
// chat id refreshes its state, reason and subject.
func (db *DB) AddGroupChat(gc *GroupChat) error {
	now := time.Now().UnixMilli()
	createdAt := gc.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	_, err := db.Exec(`
		INSERT INTO group_chats (
			chat_id, contribution_id, contact_number, subject, participants,
			direction, state, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			subject = excluded.subject,
			state = excluded.state,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		gc.ChatID, gc.ContributionID, gc.Contact, gc.Subject,
		strings.Join(gc.Participants, ","),
		gc.Direction, gc.State, gc.Reason, createdAt, now)
	return err
}

// SetGroupChatState updates the state (and optional reason) of a
// group-chat history row.
func (db *DB) SetGroupChatState(chatID, state, reason string) error {
	_, err := db.Exec(`
		UPDATE group_chats SET state = ?, reason = ?, updated_at = ?
		WHERE chat_id = ?`,
		state, reason, time.Now().UnixMilli(), chatID)
	return err
}

// GetGroupChat returns one group-chat history row by chat id.
func (db *DB) GetGroupChat(chatID string) (*GroupChat, error) {
	var gc GroupChat
	var participants string
	err := db.QueryRow(`
		SELECT chat_id, contribution_id, contact_number, subject, participants,
		       direction, state, reason, created_at, updated_at
		FROM group_chats WHERE chat_id = ?`, chatID).
		Scan(&gc.ChatID, &gc.ContributionID, &gc.Contact, &gc.Subject, &participants,
			&gc.Direction, &gc.State, &gc.Reason, &gc.CreatedAt, &gc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if participants != "" {
		gc.Participants = strings.Split(participants, ",")
	}
	return &gc, nil
}

// GroupChats returns the most recent group-chat history rows.
func (db *DB) GroupChats(limit int) ([]GroupChat, error) {
	rows, err := db.Query(`
		SELECT chat_id, contribution_id, contact_number, subject, participants,
		       direction, state, reason, created_at, updated_at
		FROM group_chats ORDER BY created_at DESC, chat_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupChat
	for rows.Next() {
		var gc GroupChat
		var participants string
		if err := rows.Scan(&gc.ChatID, &gc.ContributionID, &gc.Contact, &gc.Subject,
			&participants, &gc.Direction, &gc.State, &gc.Reason,
			&gc.CreatedAt, &gc.UpdatedAt); err != nil {
			return nil, err
		}
		if participants != "" {
			gc.Participants = strings.Split(participants, ",")
		}
		out = append(out, gc)
	}
	return out, rows.Err()
}

// AddMessage appends a chat message. Duplicate (message id, chat id)
// pairs are ignored so transport retransmissions stay deduplicated.
func (db *DB) AddMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (message_id, chat_id, contact_number, direction,
			mime_type, body, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, chat_id) DO NOTHING`,
		m.MessageID, m.ChatID, m.Contact, m.Direction, m.MimeType, m.Body, m.Timestamp)
	return err
}

// Messages returns a chat's messages, oldest first.
func (db *DB) Messages(chatID string, limit int) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, message_id, chat_id, contact_number, direction, mime_type,
		       body, timestamp
		FROM messages WHERE chat_id = ? ORDER BY timestamp, id LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MessageID, &m.ChatID, &m.Contact,
			&m.Direction, &m.MimeType, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GroupChatCount returns the total number of group-chat history rows.
func (db *DB) GroupChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM group_chats`).Scan(&count)
	return count, err
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
