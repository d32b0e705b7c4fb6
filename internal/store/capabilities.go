package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"rcsd/internal/capability"
	"rcsd/internal/contact"
)

// LoadCapabilities returns the persisted capability record for a
// contact, or nil if the contact has never been queried.
func (db *DB) LoadCapabilities(id contact.ID) (*capability.Record, error) {
	var rec capability.Record
	var extensions string
	err := db.QueryRow(`
		SELECT image_sharing, video_sharing, im_session, file_transfer,
		       geolocation_push, ip_voice_call, ip_video_call,
		       presence_discovery, social_presence, ft_http, ft_thumbnail,
		       ft_store_forward, im_store_forward, sip_automata,
		       extensions, last_request, last_refresh
		FROM capabilities WHERE contact_number = ?`, id.String()).
		Scan(&rec.ImageSharing, &rec.VideoSharing, &rec.ImSession, &rec.FileTransfer,
			&rec.GeolocationPush, &rec.IPVoiceCall, &rec.IPVideoCall,
			&rec.PresenceDiscovery, &rec.SocialPresence, &rec.FileTransferHTTP,
			&rec.FileTransferThumbnail, &rec.FileTransferStoreForward,
			&rec.GroupChatStoreForward, &rec.SIPAutomata,
			&extensions, &rec.TimestampOfLastRequest, &rec.TimestampOfLastRefresh)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if extensions != "" {
		rec.Extensions = strings.Split(extensions, ",")
	}
	return &rec, nil
}

// SaveCapabilities persists the capability record for a contact,
// creating the address-book entry when absent. A contact that reports
// any feature is flagged rcs_capable; the flag never downgrades.
func (db *DB) SaveCapabilities(id contact.ID, rec capability.Record) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO contacts (number, rcs_capable, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			rcs_capable = CASE WHEN excluded.rcs_capable = 1 THEN 1 ELSE contacts.rcs_capable END,
			updated_at = excluded.updated_at`,
		id.String(), rec.AnySupported(), now); err != nil {
		return fmt.Errorf("upsert contact %q: %w", id, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO capabilities (
			contact_number, image_sharing, video_sharing, im_session,
			file_transfer, geolocation_push, ip_voice_call, ip_video_call,
			presence_discovery, social_presence, ft_http, ft_thumbnail,
			ft_store_forward, im_store_forward, sip_automata,
			extensions, last_request, last_refresh)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_number) DO UPDATE SET
			image_sharing = excluded.image_sharing,
			video_sharing = excluded.video_sharing,
			im_session = excluded.im_session,
			file_transfer = excluded.file_transfer,
			geolocation_push = excluded.geolocation_push,
			ip_voice_call = excluded.ip_voice_call,
			ip_video_call = excluded.ip_video_call,
			presence_discovery = excluded.presence_discovery,
			social_presence = excluded.social_presence,
			ft_http = excluded.ft_http,
			ft_thumbnail = excluded.ft_thumbnail,
			ft_store_forward = excluded.ft_store_forward,
			im_store_forward = excluded.im_store_forward,
			sip_automata = excluded.sip_automata,
			extensions = excluded.extensions,
			last_request = excluded.last_request,
			last_refresh = excluded.last_refresh`,
		id.String(), rec.ImageSharing, rec.VideoSharing, rec.ImSession,
		rec.FileTransfer, rec.GeolocationPush, rec.IPVoiceCall, rec.IPVideoCall,
		rec.PresenceDiscovery, rec.SocialPresence, rec.FileTransferHTTP,
		rec.FileTransferThumbnail, rec.FileTransferStoreForward,
		rec.GroupChatStoreForward, rec.SIPAutomata,
		strings.Join(rec.Extensions, ","),
		rec.TimestampOfLastRequest, rec.TimestampOfLastRefresh); err != nil {
		return fmt.Errorf("upsert capabilities %q: %w", id, err)
	}

	return tx.Commit()
}

// TouchLastRequest updates the time of the last capability probe sent
// to the contact.
func (db *DB) TouchLastRequest(id contact.ID, ts int64) error {
	_, err := db.Exec(`UPDATE capabilities SET last_request = ? WHERE contact_number = ?`,
		ts, id.String())
	return err
}

// TouchLastRefresh updates the time of the last completed capability
// refresh for the contact.
func (db *DB) TouchLastRefresh(id contact.ID, ts int64) error {
	_, err := db.Exec(`UPDATE capabilities SET last_refresh = ? WHERE contact_number = ?`,
		ts, id.String())
	return err
}
