package chat

import "context"

// Chat session states mirrored into the chat log.
const (
	StateInitiating = "INITIATING"
	StateStarted    = "STARTED"
	StateRejected   = "REJECTED"
	StateAborted    = "ABORTED"
	StateFailed     = "FAILED"
)

const (
	directionOriginating = "ORIGINATING"
	directionTerminating = "TERMINATING"
)

// Session is the directory-facing surface of an underlying protocol
// chat session. The transport owns the session's I/O; the directory
// only registers handles against it and listens for its callbacks.
type Session interface {
	ID() string
	RemoteIdentity() string
	RemoteDisplayName() string
	Attach(l Listener)
}

// OneToOneSession is a protocol session carrying a two-party chat.
type OneToOneSession interface {
	Session
	// FirstMessage returns the message carried inside the invitation,
	// nil when the invitation was empty.
	FirstMessage() *IncomingMessage
}

// GroupSession is a protocol session carrying a multi-party chat.
type GroupSession interface {
	Session
	ChatID() string
	ContributionID() string
	Subject() string
	Participants() []string
	// Start establishes the conference leg. It blocks until setup
	// finishes and runs on a directory-tracked goroutine, never on the
	// initiating caller.
	Start(ctx context.Context) error
}

// Listener receives callbacks from an underlying protocol session. Chat
// handles implement it.
type Listener interface {
	OnMessage(msg IncomingMessage)
	OnStateChanged(state, reason string)
}
