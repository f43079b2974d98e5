package xrpc

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/auth"
	"github.com/atkit-dev/atkit/syntax"
)

// PDS is a handle to one remote AT Protocol server.
type PDS struct {
	client *Client
	log    *zap.Logger
}

// NewPDS opens a remote PDS handle. url must be an http(s) URL.
func NewPDS(url syntax.PDSURL, httpClient *http.Client, logger *zap.Logger) (*PDS, error) {
	if url.IsLocal() {
		return nil, aterr.Invalidf("xrpc: %q is not a network PDS URL", url.String())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDS{
		client: NewClient(url, httpClient, logger),
		log:    logger,
	}, nil
}

// URL returns the server's base URL.
func (p *PDS) URL() syntax.PDSURL { return p.client.Base() }

// Login calls com.atproto.server.createSession and returns an
// authenticated session bound to the returned DID.
func (p *PDS) Login(ctx context.Context, creds auth.Credentials) (*Session, error) {
	var resp sessionResponse
	err := p.client.Procedure(ctx, methodCreateSession, createSessionRequest{
		Identifier: creds.Identifier(),
		Password:   creds.Password(),
	}, "", &resp)
	if err != nil {
		if aterr.IsAuthError(err) {
			return nil, aterr.NewAuth("login rejected for " + creds.Identifier())
		}
		return nil, err
	}

	p.log.Debug("login succeeded", zap.String("did", resp.DID.String()))
	return newSession(p.client, resp.DID,
		auth.NewAccessToken(resp.AccessJwt),
		auth.NewRefreshToken(resp.RefreshJwt)), nil
}

// Restore rebuilds a session from previously exported token material.
// The tokens are not validated here; the first operation will surface
// an Auth error if they are stale.
func (p *PDS) Restore(did syntax.DID, access auth.AccessToken, refresh auth.RefreshToken) *Session {
	return newSession(p.client, did, access, refresh)
}

// CreateAccount calls com.atproto.server.createAccount.
func (p *PDS) CreateAccount(ctx context.Context, params auth.CreateAccountParams) (auth.CreateAccountOutput, error) {
	var resp sessionResponse
	err := p.client.Procedure(ctx, methodCreateAccount, createAccountRequest{
		Handle:     params.Handle,
		Password:   params.Password,
		Email:      params.Email,
		InviteCode: params.InviteCode,
	}, "", &resp)
	if err != nil {
		return auth.CreateAccountOutput{}, err
	}
	return auth.CreateAccountOutput{
		DID:          resp.DID,
		Handle:       resp.Handle,
		AccessToken:  auth.NewAccessToken(resp.AccessJwt),
		RefreshToken: auth.NewRefreshToken(resp.RefreshJwt),
	}, nil
}

// DeleteAccount calls com.atproto.server.deleteAccount. token is the
// server-issued deletion confirmation token, empty if the server does
// not require one.
func (p *PDS) DeleteAccount(ctx context.Context, did syntax.DID, password, token string) error {
	return p.client.Procedure(ctx, methodDeleteAccount, deleteAccountRequest{
		DID:      did,
		Password: password,
		Token:    token,
	}, "", nil)
}

// Firehose opens a live subscribeRepos stream.
func (p *PDS) Firehose(ctx context.Context) (*Firehose, error) {
	return dialFirehose(ctx, p.client.Base(), nil, p.log)
}

// FirehoseFrom opens a subscribeRepos stream seeking to a past cursor.
func (p *PDS) FirehoseFrom(ctx context.Context, cursor int64) (*Firehose, error) {
	return dialFirehose(ctx, p.client.Base(), &cursor, p.log)
}
