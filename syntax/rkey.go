package syntax

import (
	"github.com/atkit-dev/atkit/aterr"
)

// RecordKey is a validated record key (rkey): 1-512 characters from
// [a-zA-Z0-9._~-], excluding the literals "." and "..". Record keys
// identify individual records within a collection.
type RecordKey string

// ParseRecordKey validates s as a record key.
func ParseRecordKey(s string) (RecordKey, error) {
	if s == "" {
		return "", aterr.NewInvalidInput("invalid rkey: cannot be empty")
	}
	if len(s) > 512 {
		return "", aterr.Invalidf("invalid rkey %q: exceeds maximum length of 512 characters", s)
	}
	if s == "." || s == ".." {
		return "", aterr.Invalidf("invalid rkey %q: cannot be '.' or '..'", s)
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if isASCIILetter(c) || isASCIIDigit(c) {
			continue
		}
		switch c {
		case '.', '-', '_', '~':
		default:
			return "", aterr.Invalidf("invalid rkey %q: contains invalid character %q", s, string(c))
		}
	}

	return RecordKey(s), nil
}

// String returns the record key string.
func (r RecordKey) String() string { return string(r) }

// MarshalText serializes the record key as its canonical string.
func (r RecordKey) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

// UnmarshalText validates and stores the record key.
func (r *RecordKey) UnmarshalText(text []byte) error {
	parsed, err := ParseRecordKey(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
