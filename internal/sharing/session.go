package sharing

import "rcsd/internal/contact"

// Session states as recorded in the sharing log and broadcast on the
// bus.
const (
	StateInvited     = "INVITED"
	StateInitiating  = "INITIATING"
	StateStarted     = "STARTED"
	StateTransferred = "TRANSFERRED"
	StateAborted     = "ABORTED"
	StateRejected    = "REJECTED"
	StateFailed      = "FAILED"
)

// Content describes what a sharing session carries.
type Content struct {
	Name string
	Mime string
	Size int64
}

// Session is one active content-sharing transfer. The service mutates
// State and Transferred under its operation lock; everything outside
// the service sees value snapshots.
type Session struct {
	SharingID   string
	Remote      contact.ID
	Direction   Direction
	Kind        Kind
	Content     Content
	State       string
	Transferred int64
	CreatedAt   int64
}
