package repo

import "github.com/atkit-dev/atkit/syntax"

// Event is one firehose event. Exactly one field is non-nil; callers
// switch on which. The closed set of variants matches the
// com.atproto.sync.subscribeRepos message kinds.
type Event struct {
	Commit        *Commit
	Identity      *Identity
	HandleChange  *HandleChange
	AccountStatus *AccountStatus
	Tombstone     *Tombstone
	Info          *Info
}

// Commit describes one repository commit and the record operations it
// carried.
type Commit struct {
	Seq  int64
	Repo syntax.DID
	Rev  string
	Time string
	Ops  []CommitOp
}

// CommitOp is a single record mutation within a commit. Path is
// "<collection>/<rkey>". Action is one of "create", "update", or
// "delete". CID is empty for deletes. Value carries the record body
// when the stream includes it (local streams do, remote ones may not).
type CommitOp struct {
	Path   string
	Action string
	CID    string
	Value  *Value
}

// URI resolves the op's path against the commit's repo DID.
func (c *Commit) URI(op CommitOp) (syntax.ATURI, error) {
	return syntax.ParseATURI("at://" + c.Repo.String() + "/" + op.Path)
}

// Identity signals a change to a DID's identity data.
type Identity struct {
	Seq    int64
	DID    syntax.DID
	Handle string
	Time   string
}

// HandleChange signals a handle reassignment for a DID.
type HandleChange struct {
	Seq    int64
	DID    syntax.DID
	Handle string
	Time   string
}

// AccountStatus signals an account becoming active or inactive.
type AccountStatus struct {
	Seq    int64
	DID    syntax.DID
	Active bool
	Status string
	Time   string
}

// Tombstone signals permanent removal of a DID.
type Tombstone struct {
	Seq  int64
	DID  syntax.DID
	Time string
}

// Info is a diagnostic message from the stream, e.g. an outdated-cursor
// notice.
type Info struct {
	Name    string
	Message string
}
