package bus

import "time"

// Event represents a domain event published on the bus. Kind is a
// dot-separated name whose first segment is the publishing subsystem
// ("sharing.invitation", "chat.message_received", "registration.status_changed");
// subscribers filter by prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
