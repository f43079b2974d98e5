package filepds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/auth"
	"github.com/atkit-dev/atkit/syntax"
)

// PDS is a handle to one filesystem-backed server root.
type PDS struct {
	url   syntax.PDSURL
	store *Store
	log   *zap.Logger
}

// NewPDS opens (creating if needed) a local PDS at the file URL's path.
func NewPDS(url syntax.PDSURL, logger *zap.Logger) (*PDS, error) {
	root, err := url.FilePath()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := NewStore(root)
	if err != nil {
		return nil, err
	}
	return &PDS{url: url, store: store, log: logger}, nil
}

// URL returns the file URL of this PDS root.
func (p *PDS) URL() syntax.PDSURL { return p.url }

// Store exposes the underlying layout for tooling.
func (p *PDS) Store() *Store { return p.store }

// tokenPayload is the opaque content of local tokens: the DID plus the
// password hash current at issue time. Operations re-read the account
// and compare hashes, so a password change invalidates old tokens.
type tokenPayload struct {
	DID          syntax.DID `json:"did"`
	PasswordHash string     `json:"password_hash"`
}

func makeToken(acct Account) string {
	data, _ := json.Marshal(tokenPayload{DID: acct.DID, PasswordHash: acct.PasswordHash})
	return string(data)
}

func parseToken(raw string) (tokenPayload, error) {
	var payload tokenPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return tokenPayload{}, aterr.NewAuth("invalid session token")
	}
	if payload.DID == "" || payload.PasswordHash == "" {
		return tokenPayload{}, aterr.NewAuth("invalid session token")
	}
	return payload, nil
}

// validateToken re-reads the account and checks the token's embedded
// hash against the stored one.
func (p *PDS) validateToken(raw string) (Account, error) {
	payload, err := parseToken(raw)
	if err != nil {
		return Account{}, err
	}
	acct, err := p.store.GetAccount(payload.DID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, aterr.NewAuth("token account no longer exists")
		}
		return Account{}, err
	}
	if acct.PasswordHash != payload.PasswordHash {
		return Account{}, aterr.NewAuth("token is no longer valid")
	}
	return acct, nil
}

// resolveIdentifier accepts a handle or a DID string.
func (p *PDS) resolveIdentifier(identifier string) (Account, error) {
	if strings.HasPrefix(identifier, "did:") {
		did, err := syntax.ParseDID(identifier)
		if err != nil {
			return Account{}, err
		}
		return p.store.GetAccount(did)
	}
	return p.store.FindAccountByHandle(identifier)
}

// Login verifies credentials against the stored bcrypt hash and issues
// a token pair encoding the account's current hash.
func (p *PDS) Login(ctx context.Context, creds auth.Credentials) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acct, err := p.resolveIdentifier(creds.Identifier())
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, aterr.NewAuth("login rejected for " + creds.Identifier())
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(creds.Password())) != nil {
		return nil, aterr.NewAuth("login rejected for " + creds.Identifier())
	}

	p.log.Debug("local login succeeded", zap.String("did", acct.DID.String()))
	token := makeToken(acct)
	return newSession(p, acct.DID,
		auth.NewAccessToken(token),
		auth.NewRefreshToken(token)), nil
}

// Restore rebuilds a session from previously exported token material.
// Tokens are checked lazily; a stale pair surfaces as Auth on first use.
func (p *PDS) Restore(did syntax.DID, access auth.AccessToken, refresh auth.RefreshToken) *Session {
	return newSession(p, did, access, refresh)
}

// CreateAccount mints a DID, stores the account, and returns an initial
// token pair.
func (p *PDS) CreateAccount(ctx context.Context, params auth.CreateAccountParams) (auth.CreateAccountOutput, error) {
	if err := ctx.Err(); err != nil {
		return auth.CreateAccountOutput{}, err
	}

	acct, err := p.store.CreateAccount(params.Handle, params.Password)
	if err != nil {
		if errors.Is(err, ErrHandleTaken) {
			return auth.CreateAccountOutput{}, aterr.Invalidf("handle %q already taken", params.Handle)
		}
		return auth.CreateAccountOutput{}, err
	}

	p.log.Debug("local account created", zap.String("did", acct.DID.String()), zap.String("handle", acct.Handle))
	token := makeToken(acct)
	return auth.CreateAccountOutput{
		DID:          acct.DID,
		Handle:       acct.Handle,
		AccessToken:  auth.NewAccessToken(token),
		RefreshToken: auth.NewRefreshToken(token),
	}, nil
}

// DeleteAccount verifies the password and removes the account and all
// owned records. Each removed record yields one firehose delete event.
// token is accepted for signature parity with the remote backend and is
// not consulted.
func (p *PDS) DeleteAccount(ctx context.Context, did syntax.DID, password, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	acct, err := p.store.GetAccount(did)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return fmt.Errorf("delete account: %w", ErrAccountNotFound)
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return aterr.NewAuth("password verification failed for " + did.String())
	}
	return p.store.RemoveAccount(did)
}

// Firehose tails the event log from its current end.
func (p *PDS) Firehose(ctx context.Context) (*Firehose, error) {
	return openFirehose(ctx, p.store, tailFromEnd, p.log)
}

// FirehoseFrom tails the event log starting after the first cursor
// lines, replaying history before going live.
func (p *PDS) FirehoseFrom(ctx context.Context, cursor int64) (*Firehose, error) {
	if cursor < 0 {
		return nil, aterr.Invalidf("firehose cursor must be non-negative, got %d", cursor)
	}
	return openFirehose(ctx, p.store, cursor, p.log)
}
