package store

import "time"

// AddSharing appends a content-sharing history row. Re-adding an
// existing sharing id refreshes its state and reason.
func (db *DB) AddSharing(s *Sharing) error {
	now := time.Now().UnixMilli()
	createdAt := s.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	_, err := db.Exec(`
		INSERT INTO sharing_log (
			sharing_id, contact_number, kind, direction, state, reason,
			content_name, content_mime, content_size, transferred,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sharing_id) DO UPDATE SET
			state = excluded.state,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		s.SharingID, s.Contact, s.Kind, s.Direction, s.State, s.Reason,
		s.ContentName, s.ContentMime, s.ContentSize, s.Transferred,
		createdAt, now)
	return err
}

// SetSharingState updates the state (and optional reason) of a sharing
// history row.
func (db *DB) SetSharingState(sharingID, state, reason string) error {
	_, err := db.Exec(`
		UPDATE sharing_log SET state = ?, reason = ?, updated_at = ?
		WHERE sharing_id = ?`,
		state, reason, time.Now().UnixMilli(), sharingID)
	return err
}

// SetSharingProgress updates the transferred byte count of a sharing
// history row.
func (db *DB) SetSharingProgress(sharingID string, transferred int64) error {
	_, err := db.Exec(`
		UPDATE sharing_log SET transferred = ?, updated_at = ?
		WHERE sharing_id = ?`,
		transferred, time.Now().UnixMilli(), sharingID)
	return err
}

// GetSharing returns one sharing history row by id.
func (db *DB) GetSharing(sharingID string) (*Sharing, error) {
	var s Sharing
	err := db.QueryRow(`
		SELECT sharing_id, contact_number, kind, direction, state, reason,
		       content_name, content_mime, content_size, transferred,
		       created_at, updated_at
		FROM sharing_log WHERE sharing_id = ?`, sharingID).
		Scan(&s.SharingID, &s.Contact, &s.Kind, &s.Direction, &s.State, &s.Reason,
			&s.ContentName, &s.ContentMime, &s.ContentSize, &s.Transferred,
			&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SharingHistory returns the most recent sharing history rows.
func (db *DB) SharingHistory(limit int) ([]Sharing, error) {
	rows, err := db.Query(`
		SELECT sharing_id, contact_number, kind, direction, state, reason,
		       content_name, content_mime, content_size, transferred,
		       created_at, updated_at
		FROM sharing_log ORDER BY created_at DESC, sharing_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sharing
	for rows.Next() {
		var s Sharing
		if err := rows.Scan(&s.SharingID, &s.Contact, &s.Kind, &s.Direction,
			&s.State, &s.Reason, &s.ContentName, &s.ContentMime, &s.ContentSize,
			&s.Transferred, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SharingCount returns the total number of sharing history rows.
func (db *DB) SharingCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM sharing_log`).Scan(&count)
	return count, err
}
