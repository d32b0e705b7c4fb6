package contact

import (
	"fmt"
	"regexp"
	"strings"
)

// ID is a validated, normalized identifier for a remote party.
// Two IDs are equal iff their normalized forms are equal, so ID
// values can be compared with == and used as map keys.
type ID struct {
	value string
}

var numberRegexp = regexp.MustCompile(`^\+?[0-9]{3,15}$`)

// separators are the visual characters users and SIP headers put inside
// phone numbers. They carry no meaning and are stripped before validation.
var separators = strings.NewReplacer("-", "", " ", "", ".", "", "(", "", ")", "", "/", "")

// Parse normalizes raw into an ID. It accepts plain numbers, tel: URIs
// and sip: URIs (user part before '@'), strips visual separators and
// rewrites a 00 international prefix to +. An empty or non-numeric
// identity yields an error.
func Parse(raw string) (ID, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "tel:")
	if rest, ok := strings.CutPrefix(s, "sip:"); ok {
		if at := strings.IndexByte(rest, '@'); at >= 0 {
			rest = rest[:at]
		}
		s = rest
	}
	s = separators.Replace(s)
	if after, ok := strings.CutPrefix(s, "00"); ok && after != "" {
		s = "+" + after
	}
	if !numberRegexp.MatchString(s) {
		return ID{}, fmt.Errorf("invalid contact identity %q", raw)
	}
	return ID{value: s}, nil
}

// MustParse is Parse for fixtures and tests; it panics on invalid input.
func MustParse(raw string) ID {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the normalized form.
func (id ID) String() string {
	return id.value
}

// IsZero reports whether the ID is the zero value (no contact).
func (id ID) IsZero() bool {
	return id.value == ""
}
