package syntax

import (
	"strings"

	"github.com/atkit-dev/atkit/aterr"
)

// Maximum NSID length per the AT Protocol specification.
const maxNSIDLen = 317

// NSID is a validated namespaced identifier in reverse-DNS notation,
// e.g. "app.bsky.feed.post". NSIDs name lexicon types and collections.
type NSID string

// ParseNSID validates s as an NSID: at least three dot-separated
// segments, each starting with a letter and containing only letters,
// digits, and hyphens.
func ParseNSID(s string) (NSID, error) {
	if s == "" {
		return "", aterr.NewInvalidInput("invalid NSID: cannot be empty")
	}
	if len(s) > maxNSIDLen {
		return "", aterr.Invalidf("invalid NSID %q: exceeds maximum length of %d characters", s, maxNSIDLen)
	}

	segments := strings.Split(s, ".")
	if len(segments) < 3 {
		return "", aterr.Invalidf("invalid NSID %q: must have at least 3 segments (e.g. 'app.bsky.feed')", s)
	}

	for _, seg := range segments {
		if seg == "" {
			return "", aterr.Invalidf("invalid NSID %q: contains an empty segment", s)
		}
		first := seg[0]
		if !isASCIILetter(first) {
			return "", aterr.Invalidf("invalid NSID %q: segment %q must start with a letter", s, seg)
		}
		for i := 0; i < len(seg); i++ {
			c := seg[i]
			if !isASCIILetter(c) && !isASCIIDigit(c) && c != '-' {
				return "", aterr.Invalidf("invalid NSID %q: segment %q contains invalid character %q", s, seg, string(c))
			}
		}
	}

	return NSID(s), nil
}

// String returns the full NSID string.
func (n NSID) String() string { return string(n) }

// Authority returns the first two segments, e.g. "app.bsky" for
// "app.bsky.feed.post".
func (n NSID) Authority() string {
	parts := strings.SplitN(string(n), ".", 3)
	if len(parts) >= 2 {
		return parts[0] + "." + parts[1]
	}
	return string(n)
}

// Name returns the segments after the authority, e.g. "feed.post" for
// "app.bsky.feed.post".
func (n NSID) Name() string {
	parts := strings.SplitN(string(n), ".", 3)
	if len(parts) >= 3 {
		return parts[2]
	}
	return ""
}

// MarshalText serializes the NSID as its canonical string.
func (n NSID) MarshalText() ([]byte, error) {
	return []byte(n), nil
}

// UnmarshalText validates and stores the NSID.
func (n *NSID) UnmarshalText(text []byte) error {
	parsed, err := ParseNSID(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isASCIIDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
