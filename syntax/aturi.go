package syntax

import (
	"strings"

	"github.com/atkit-dev/atkit/aterr"
)

// ATURI identifies a single record: at://<did>/<collection>/<rkey>.
// The zero value is not valid; construct via ParseATURI or ATURIFrom.
type ATURI struct {
	repo       DID
	collection NSID
	rkey       RecordKey
}

// ParseATURI validates s as an AT URI and splits it into its typed
// components.
func ParseATURI(s string) (ATURI, error) {
	rest, ok := strings.CutPrefix(s, "at://")
	if !ok {
		return ATURI{}, aterr.Invalidf("invalid AT URI %q: must start with 'at://'", s)
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		return ATURI{}, aterr.Invalidf("invalid AT URI %q: must have format 'at://<repo>/<collection>/<rkey>'", s)
	}

	repo, err := ParseDID(parts[0])
	if err != nil {
		return ATURI{}, aterr.Invalidf("invalid AT URI %q: bad DID %q", s, parts[0])
	}
	collection, err := ParseNSID(parts[1])
	if err != nil {
		return ATURI{}, aterr.Invalidf("invalid AT URI %q: bad NSID %q", s, parts[1])
	}
	rkey, err := ParseRecordKey(parts[2])
	if err != nil {
		return ATURI{}, aterr.Invalidf("invalid AT URI %q: bad rkey %q", s, parts[2])
	}

	return ATURI{repo: repo, collection: collection, rkey: rkey}, nil
}

// ATURIFrom assembles an AT URI from already-validated components.
func ATURIFrom(repo DID, collection NSID, rkey RecordKey) ATURI {
	return ATURI{repo: repo, collection: collection, rkey: rkey}
}

// Repo returns the repository DID.
func (u ATURI) Repo() DID { return u.repo }

// Collection returns the collection NSID.
func (u ATURI) Collection() NSID { return u.collection }

// RecordKey returns the record key.
func (u ATURI) RecordKey() RecordKey { return u.rkey }

// IsZero reports whether the URI is the zero value.
func (u ATURI) IsZero() bool { return u == ATURI{} }

// String returns the canonical at:// form.
func (u ATURI) String() string {
	return "at://" + string(u.repo) + "/" + string(u.collection) + "/" + string(u.rkey)
}

// MarshalText serializes the URI as its canonical string.
func (u ATURI) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText validates and stores the URI.
func (u *ATURI) UnmarshalText(text []byte) error {
	parsed, err := ParseATURI(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
