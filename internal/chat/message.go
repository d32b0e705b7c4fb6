package chat

import (
	"fmt"
	"strings"
)

// MIME types accepted on chat message entry points.
const (
	MimeText   = "text/plain"
	MimeGeoloc = "application/vnd.gsma.rcspushlocation+xml"
)

// Message kinds carried on broadcast message events.
const (
	MessageKindText   = "text"
	MessageKindGeoloc = "geoloc"
)

// IncomingMessage is a message delivered by a protocol session. From is
// the raw sender identity for group sessions; one-to-one sessions leave
// it empty, the peer being implicit.
type IncomingMessage struct {
	MessageID string
	From      string
	Mime      string
	Body      string
	Timestamp int64
}

// ClassifyMime maps a message MIME type onto its broadcast kind.
// Parameters after ';' are ignored.
func ClassifyMime(mime string) (string, error) {
	base := mime
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}
	switch strings.ToLower(strings.TrimSpace(base)) {
	case MimeText:
		return MessageKindText, nil
	case MimeGeoloc:
		return MessageKindGeoloc, nil
	}
	return "", fmt.Errorf("message mime type %q: %w", mime, ErrUnsupportedMime)
}
