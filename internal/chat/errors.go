package chat

import "errors"

// ReasonMaxChats is the reason recorded on group chats whose initiation
// the core rejected.
const ReasonMaxChats = "REJECTED_MAX_CHATS"

var (
	// ErrNotRegistered is returned when an outbound chat operation runs
	// without an active platform registration.
	ErrNotRegistered = errors.New("platform is not registered")

	// ErrInitiationFailed is the normalized application-facing error for
	// core-level failures during group chat initiation. The original
	// failure message rides along in the error text.
	ErrInitiationFailed = errors.New("group chat initiation failed")

	// ErrUnsupportedMime marks messages that are neither plain text nor
	// a geolocation push.
	ErrUnsupportedMime = errors.New("unsupported message mime type")
)
