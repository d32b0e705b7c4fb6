package sharing

// Kind is the content type of a sharing session.
type Kind string

const (
	KindImage  Kind = "IMAGE"
	KindVideo  Kind = "VIDEO"
	KindGeoloc Kind = "GEOLOC"
)

// Direction tells which side opened a session. It is a plain field on
// the session, checked by value.
type Direction string

const (
	Originating Direction = "ORIGINATING"
	Terminating Direction = "TERMINATING"
)
