package sharing

import "errors"

// ReasonMaxSessions is the rejection reason code broadcast to the
// application layer when an invitation hits the session quota.
const ReasonMaxSessions = "REJECTED_MAX_SHARING_SESSIONS"

var (
	// ErrCallNotEstablished: content sharing requires a connected call
	// with the contact.
	ErrCallNotEstablished = errors.New("no call established with contact")
	// ErrSizeExceeded: the image content is larger than the configured
	// maximum.
	ErrSizeExceeded = errors.New("content size exceeds configured maximum")
	// ErrMaxSessions: the concurrency quota for the content kind is
	// reached.
	ErrMaxSessions = errors.New("maximum sharing sessions reached")
)
