package sharing

// RejectCode is the SIP-level response code used to decline an inbound
// invitation.
type RejectCode int

const (
	// RejectNotAcceptable (606): no call established with the contact.
	RejectNotAcceptable RejectCode = 606
	// RejectDecline (603): the contact is blocked.
	RejectDecline RejectCode = 603
	// RejectBusyHere (486): the session quota for the kind is reached.
	RejectBusyHere RejectCode = 486
)

// Responder is the transport callback for answering an invitation the
// service rejects. Fire-and-forget; the service never reads a result.
type Responder interface {
	Respond(code RejectCode)
}

// Invitation is an inbound content-sharing INVITE as handed over by the
// signaling transport. An empty SharingID gets one generated.
type Invitation struct {
	AssertedIdentity string
	SharingID        string
	Content          Content
	Responder        Responder
}
