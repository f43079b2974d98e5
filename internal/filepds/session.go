package filepds

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/auth"
	"github.com/atkit-dev/atkit/repo"
	"github.com/atkit-dev/atkit/syntax"
)

// tokenState is shared across session clones; the RWMutex keeps the
// pair replacement atomic from any reader's point of view.
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

// Session binds one DID to one local PDS root. Copies made with Clone
// share token state.
type Session struct {
	pds    *PDS
	did    syntax.DID
	tokens *tokenState
}

func newSession(p *PDS, did syntax.DID, access auth.AccessToken, refresh auth.RefreshToken) *Session {
	return &Session{
		pds:    p,
		did:    did,
		tokens: &tokenState{access: access, refresh: refresh},
	}
}

// DID returns the session's account DID.
func (s *Session) DID() syntax.DID { return s.did }

// PDS returns the file URL of the backing root.
func (s *Session) PDS() syntax.PDSURL { return s.pds.url }

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
	return &Session{pds: s.pds, did: s.did, tokens: s.tokens}
}

// authorize validates the current access token against on-disk state.
func (s *Session) authorize() (Account, error) {
	access, _ := s.tokens.get()
	acct, err := s.pds.validateToken(access.Raw())
	if err != nil {
		return Account{}, err
	}
	if acct.DID != s.did {
		return Account{}, aterr.NewAuth("token does not match session account")
	}
	return acct, nil
}

// Refresh validates the refresh token, re-reads the account, and
// replaces the pair with a token derived from current account state.
func (s *Session) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, refresh := s.tokens.get()
	acct, err := s.pds.validateToken(refresh.Raw())
	if err != nil {
		return err
	}
	if acct.DID != s.did {
		return aterr.NewAuth("refresh token does not match session account")
	}

	token := makeToken(acct)
	s.tokens.set(auth.NewAccessToken(token), auth.NewRefreshToken(token))
	return nil
}

// Describe reads the session's account document.
func (s *Session) Describe(ctx context.Context) (auth.SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return auth.SessionInfo{}, err
	}
	acct, err := s.authorize()
	if err != nil {
		return auth.SessionInfo{}, err
	}
	return auth.SessionInfo{DID: acct.DID, Handle: acct.Handle}, nil
}

// ListRecords pages through any repo's collection; reads are not
// restricted to the session's own repo.
func (s *Session) ListRecords(ctx context.Context, repoDID syntax.DID, collection syntax.NSID, limit int, cursor string) (repo.ListRecordsOutput, error) {
	if err := ctx.Err(); err != nil {
		return repo.ListRecordsOutput{}, err
	}
	if _, err := s.authorize(); err != nil {
		return repo.ListRecordsOutput{}, err
	}
	return s.pds.store.ListRecords(repoDID, collection, limit, cursor)
}

// GetRecord reads a single record from any repo.
func (s *Session) GetRecord(ctx context.Context, uri syntax.ATURI) (repo.Record, error) {
	if err := ctx.Err(); err != nil {
		return repo.Record{}, err
	}
	if _, err := s.authorize(); err != nil {
		return repo.Record{}, err
	}
	rec, err := s.pds.store.GetRecord(uri)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return repo.Record{}, aterr.NewProtocol(404, "RecordNotFound", "record not found: "+uri.String(), "", "")
		}
		return repo.Record{}, err
	}
	return rec, nil
}

// CreateRecord writes a validated value into the session's own repo.
func (s *Session) CreateRecord(ctx context.Context, collection syntax.NSID, value repo.Value) (syntax.ATURI, error) {
	uri, _, err := s.createIn(ctx, s.did, collection, value)
	return uri, err
}

// CreateRecordIn writes into an explicitly named repo. Writes outside
// the session's own repo fail with Auth.
func (s *Session) CreateRecordIn(ctx context.Context, repoDID syntax.DID, collection syntax.NSID, value repo.Value) (syntax.ATURI, error) {
	uri, _, err := s.createIn(ctx, repoDID, collection, value)
	return uri, err
}

// CreateRecordRaw parses and validates a raw JSON record body before
// writing it, returning the new record's URI and CID.
func (s *Session) CreateRecordRaw(ctx context.Context, collection syntax.NSID, rawJSON []byte) (syntax.ATURI, string, error) {
	var value repo.Value
	if err := json.Unmarshal(rawJSON, &value); err != nil {
		return syntax.ATURI{}, "", err
	}
	return s.createIn(ctx, s.did, collection, value)
}

func (s *Session) createIn(ctx context.Context, repoDID syntax.DID, collection syntax.NSID, value repo.Value) (syntax.ATURI, string, error) {
	if err := ctx.Err(); err != nil {
		return syntax.ATURI{}, "", err
	}
	// A zero Value was never built through NewValue and would write null.
	if value.IsZero() {
		return syntax.ATURI{}, "", aterr.NewInvalidInput("create record: value is unset")
	}
	acct, err := s.authorize()
	if err != nil {
		return syntax.ATURI{}, "", err
	}
	if repoDID != acct.DID {
		return syntax.ATURI{}, "", aterr.NewAuth("cannot write to repo " + repoDID.String())
	}
	return s.pds.store.CreateRecord(repoDID, collection, "", value)
}

// DeleteRecord removes a record from the session's own repo. Deleting a
// missing record succeeds and still emits one delete event.
func (s *Session) DeleteRecord(ctx context.Context, uri syntax.ATURI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	acct, err := s.authorize()
	if err != nil {
		return err
	}
	if uri.Repo() != acct.DID {
		return aterr.NewAuth("cannot delete from repo " + uri.Repo().String())
	}
	return s.pds.store.DeleteRecord(uri)
}
