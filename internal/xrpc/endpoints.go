package xrpc

import (
	"encoding/json"

	"github.com/atkit-dev/atkit/repo"
	"github.com/atkit-dev/atkit/syntax"
)

// XRPC method NSIDs used by this backend.
const (
	methodCreateSession  = "com.atproto.server.createSession"
	methodRefreshSession = "com.atproto.server.refreshSession"
	methodGetSession     = "com.atproto.server.getSession"
	methodCreateAccount  = "com.atproto.server.createAccount"
	methodDeleteAccount  = "com.atproto.server.deleteAccount"
	methodListRecords    = "com.atproto.repo.listRecords"
	methodGetRecord      = "com.atproto.repo.getRecord"
	methodCreateRecord   = "com.atproto.repo.createRecord"
	methodDeleteRecord   = "com.atproto.repo.deleteRecord"
	methodSubscribeRepos = "com.atproto.sync.subscribeRepos"
)

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	DID        syntax.DID `json:"did"`
	Handle     string     `json:"handle"`
	AccessJwt  string     `json:"accessJwt"`
	RefreshJwt string     `json:"refreshJwt"`
}

type getSessionResponse struct {
	DID    syntax.DID `json:"did"`
	Handle string     `json:"handle"`
	Email  string     `json:"email,omitempty"`
}

type createAccountRequest struct {
	Handle     string `json:"handle"`
	Password   string `json:"password"`
	Email      string `json:"email,omitempty"`
	InviteCode string `json:"inviteCode,omitempty"`
}

type deleteAccountRequest struct {
	DID      syntax.DID `json:"did"`
	Password string     `json:"password"`
	Token    string     `json:"token"`
}

type createRecordRequest struct {
	Repo       syntax.DID       `json:"repo"`
	Collection syntax.NSID      `json:"collection"`
	Record     json.RawMessage  `json:"record"`
	RKey       syntax.RecordKey `json:"rkey,omitempty"`
	Validate   *bool            `json:"validate,omitempty"`
}

type createRecordResponse struct {
	URI syntax.ATURI `json:"uri"`
	CID string       `json:"cid"`
}

type deleteRecordRequest struct {
	Repo       syntax.DID       `json:"repo"`
	Collection syntax.NSID      `json:"collection"`
	RKey       syntax.RecordKey `json:"rkey"`
}

type getRecordResponse struct {
	URI   syntax.ATURI `json:"uri"`
	CID   string       `json:"cid"`
	Value repo.Value   `json:"value"`
}

type listRecordsResponse struct {
	Records []getRecordResponse `json:"records"`
	Cursor  string              `json:"cursor,omitempty"`
}
