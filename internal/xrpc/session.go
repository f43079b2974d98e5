package xrpc

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/auth"
	"github.com/atkit-dev/atkit/repo"
	"github.com/atkit-dev/atkit/syntax"
)

// tokenState is the session's only mutable state. Clones of a session
// share one tokenState so a refresh is visible to all of them; the
// RWMutex guarantees no reader observes a half-replaced pair.
type tokenState struct {
	mu      sync.RWMutex
	access  auth.AccessToken
	refresh auth.RefreshToken
}

func (t *tokenState) get() (auth.AccessToken, auth.RefreshToken) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.access, t.refresh
}

func (t *tokenState) set(access auth.AccessToken, refresh auth.RefreshToken) {
	t.mu.Lock()
	t.access = access
	t.refresh = refresh
	t.mu.Unlock()
}

// Session is an authenticated binding of one DID to one remote PDS.
// Copies made with Clone share token state.
type Session struct {
	client *Client
	did    syntax.DID
	tokens *tokenState
}

func newSession(client *Client, did syntax.DID, access auth.AccessToken, refresh auth.RefreshToken) *Session {
	return &Session{
		client: client,
		did:    did,
		tokens: &tokenState{access: access, refresh: refresh},
	}
}

// DID returns the session's account DID.
func (s *Session) DID() syntax.DID { return s.did }

// PDS returns the URL of the server this session is bound to.
func (s *Session) PDS() syntax.PDSURL { return s.client.Base() }

// AccessToken returns the current access token for persistence.
func (s *Session) AccessToken() auth.AccessToken {
	access, _ := s.tokens.get()
	return access
}

// RefreshToken returns the current refresh token for persistence.
func (s *Session) RefreshToken() auth.RefreshToken {
	_, refresh := s.tokens.get()
	return refresh
}

// Clone returns a session sharing this session's token state.
func (s *Session) Clone() *Session {
	return &Session{client: s.client, did: s.did, tokens: s.tokens}
}

// Refresh calls com.atproto.server.refreshSession with the refresh
// token as bearer credential and no request body (some servers reject
// even an empty JSON object), then replaces the token pair atomically.
func (s *Session) Refresh(ctx context.Context) error {
	_, refresh := s.tokens.get()
	if refresh.IsZero() {
		return aterr.NewAuth("refresh: session has no refresh token")
	}

	var resp sessionResponse
	if err := s.client.Procedure(ctx, methodRefreshSession, nil, refresh.Raw(), &resp); err != nil {
		return err
	}

	s.tokens.set(auth.NewAccessToken(resp.AccessJwt), auth.NewRefreshToken(resp.RefreshJwt))
	return nil
}

// Describe calls com.atproto.server.getSession for the current account.
func (s *Session) Describe(ctx context.Context) (auth.SessionInfo, error) {
	access, _ := s.tokens.get()
	var resp getSessionResponse
	if err := s.client.Query(ctx, methodGetSession, nil, access.Raw(), &resp); err != nil {
		return auth.SessionInfo{}, err
	}
	return auth.SessionInfo{DID: resp.DID, Handle: resp.Handle, Email: resp.Email}, nil
}

// ListRecords returns one page of records from any repo's collection.
// limit <= 0 lets the server apply its default; cursor may be empty.
func (s *Session) ListRecords(ctx context.Context, repoDID syntax.DID, collection syntax.NSID, limit int, cursor string) (repo.ListRecordsOutput, error) {
	access, _ := s.tokens.get()

	params := url.Values{}
	params.Set("repo", repoDID.String())
	params.Set("collection", collection.String())
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp listRecordsResponse
	if err := s.client.Query(ctx, methodListRecords, params, access.Raw(), &resp); err != nil {
		return repo.ListRecordsOutput{}, err
	}

	out := repo.ListRecordsOutput{
		Records: make([]repo.Record, len(resp.Records)),
		Cursor:  resp.Cursor,
	}
	for i, r := range resp.Records {
		out.Records[i] = repo.Record{URI: r.URI, CID: r.CID, Value: r.Value}
	}
	return out, nil
}

// GetRecord fetches a single record by AT URI.
func (s *Session) GetRecord(ctx context.Context, uri syntax.ATURI) (repo.Record, error) {
	access, _ := s.tokens.get()

	params := url.Values{}
	params.Set("repo", uri.Repo().String())
	params.Set("collection", uri.Collection().String())
	params.Set("rkey", uri.RecordKey().String())

	var resp getRecordResponse
	if err := s.client.Query(ctx, methodGetRecord, params, access.Raw(), &resp); err != nil {
		return repo.Record{}, err
	}
	return repo.Record{URI: resp.URI, CID: resp.CID, Value: resp.Value}, nil
}

// CreateRecord writes a validated value into the session's own repo and
// returns the URI of the new record.
func (s *Session) CreateRecord(ctx context.Context, collection syntax.NSID, value repo.Value) (syntax.ATURI, error) {
	// A zero Value was never built through NewValue and would send null.
	if value.IsZero() {
		return syntax.ATURI{}, aterr.NewInvalidInput("create record: value is unset")
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return syntax.ATURI{}, aterr.Invalidf("create record: encode value: %v", err)
	}
	uri, _, err := s.CreateRecordRaw(ctx, collection, encoded)
	return uri, err
}

// CreateRecordRaw writes a raw JSON record body, bypassing client-side
// value validation, and returns the new record's URI and CID.
func (s *Session) CreateRecordRaw(ctx context.Context, collection syntax.NSID, rawJSON []byte) (syntax.ATURI, string, error) {
	access, _ := s.tokens.get()

	var resp createRecordResponse
	err := s.client.Procedure(ctx, methodCreateRecord, createRecordRequest{
		Repo:       s.did,
		Collection: collection,
		Record:     json.RawMessage(rawJSON),
	}, access.Raw(), &resp)
	if err != nil {
		return syntax.ATURI{}, "", err
	}
	return resp.URI, resp.CID, nil
}

// DeleteRecord removes a record from the session's own repo.
func (s *Session) DeleteRecord(ctx context.Context, uri syntax.ATURI) error {
	if uri.Repo() != s.did {
		return aterr.NewAuth("delete record: " + uri.String() + " is not in this session's repo")
	}
	access, _ := s.tokens.get()
	return s.client.Procedure(ctx, methodDeleteRecord, deleteRecordRequest{
		Repo:       uri.Repo(),
		Collection: uri.Collection(),
		RKey:       uri.RecordKey(),
	}, access.Raw(), nil)
}
