package store

// Contact is an address-book row.
type Contact struct {
	Number      string
	DisplayName string
	Blocked     bool
	Registered  bool
	RcsCapable  bool
	UpdatedAt   int64
}

// Sharing is a content-sharing history row, one per sharing session.
type Sharing struct {
	SharingID   string
	Contact     string
	Kind        string
	Direction   string
	State       string
	Reason      string
	ContentName string
	ContentMime string
	ContentSize int64
	Transferred int64
	CreatedAt   int64
	UpdatedAt   int64
}

// GroupChat is a group-chat history row, one per chat id.
type GroupChat struct {
	ChatID         string
	ContributionID string
	Contact        string
	Subject        string
	Participants   []string
	Direction      string
	State          string
	Reason         string
	CreatedAt      int64
	UpdatedAt      int64
}

// Message directions.
const (
	MessageIncoming = "INCOMING"
	MessageOutgoing = "OUTGOING"
)

// Message is a chat message row.
type Message struct {
	ID        int64
	MessageID string
	ChatID    string
	Contact   string
	Direction string
	MimeType  string
	Body      string
	Timestamp int64
}
