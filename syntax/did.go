// Package syntax provides validated newtypes for the AT Protocol
// identifier grammar: DIDs, NSIDs, record keys, AT URIs, and PDS URLs.
//
// Validation is structural, not semantic: DIDs are not resolved against
// a directory and NSIDs are not checked against registered lexicons.
// Each type parses once at construction and serializes back to its
// canonical string form.
package syntax

import (
	"strings"

	"github.com/atkit-dev/atkit/aterr"
)

// DID is a validated decentralized identifier of the form
// did:<method>:<method-specific-id>, e.g. "did:plc:z72i7hdynmk6r22z27h6tvur".
type DID string

// ParseDID validates s as a DID.
func ParseDID(s string) (DID, error) {
	rest, ok := strings.CutPrefix(s, "did:")
	if !ok {
		return "", aterr.Invalidf("invalid DID %q: must start with 'did:'", s)
	}

	method, id, ok := strings.Cut(rest, ":")
	if !ok {
		return "", aterr.Invalidf("invalid DID %q: must have format 'did:<method>:<identifier>'", s)
	}

	if method == "" {
		return "", aterr.Invalidf("invalid DID %q: method must be non-empty", s)
	}
	for _, c := range method {
		if c < 'a' || c > 'z' {
			return "", aterr.Invalidf("invalid DID %q: method must be lowercase letters", s)
		}
	}

	if id == "" {
		return "", aterr.Invalidf("invalid DID %q: identifier must be non-empty", s)
	}

	return DID(s), nil
}

// String returns the full DID string.
func (d DID) String() string { return string(d) }

// Method returns the DID method, e.g. "plc" for "did:plc:...".
func (d DID) Method() string {
	rest := strings.TrimPrefix(string(d), "did:")
	method, _, _ := strings.Cut(rest, ":")
	return method
}

// Identifier returns the method-specific identifier.
func (d DID) Identifier() string {
	rest := strings.TrimPrefix(string(d), "did:")
	_, id, _ := strings.Cut(rest, ":")
	return id
}

// MarshalText serializes the DID as its canonical string.
func (d DID) MarshalText() ([]byte, error) {
	return []byte(d), nil
}

// UnmarshalText validates and stores the DID.
func (d *DID) UnmarshalText(text []byte) error {
	parsed, err := ParseDID(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
