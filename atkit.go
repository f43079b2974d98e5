// Package atkit is a client toolkit for AT Protocol personal data
// servers. One capability API covers two backends: a remote server
// spoken to over XRPC, and a local filesystem store with the same
// semantics. Open selects the backend from the URL scheme; everything
// past that point is backend-agnostic.
//
//	pds, err := atkit.Open("https://bsky.social")
//	session, err := pds.Login(ctx, creds)
//	uri, err := session.CreateRecord(ctx, collection, value)
package atkit

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/atkit-dev/atkit/auth"
	"github.com/atkit-dev/atkit/internal/filepds"
	"github.com/atkit-dev/atkit/internal/xrpc"
	"github.com/atkit-dev/atkit/repo"
	"github.com/atkit-dev/atkit/syntax"
)

// ErrStopSubscription is returned by a SubscribeRepos handler to end
// the subscription without error.
var ErrStopSubscription = errors.New("atkit: stop subscription")

// Pds is a handle scoped to one server (remote or local).
type Pds interface {
	// URL returns the server's normalized base URL.
	URL() syntax.PDSURL
	// Login authenticates and returns a session bound to the account's
	// DID. Rejected credentials surface as an Auth error.
	Login(ctx context.Context, creds auth.Credentials) (Session, error)
	// Restore rebuilds a session from persisted token material. Tokens
	// are checked lazily on first use.
	Restore(did syntax.DID, access auth.AccessToken, refresh auth.RefreshToken) Session
	// CreateAccount registers an account and returns its DID plus an
	// initial token pair.
	CreateAccount(ctx context.Context, params auth.CreateAccountParams) (auth.CreateAccountOutput, error)
	// DeleteAccount verifies the password and removes the account.
	// token is a server-issued confirmation token where required.
	DeleteAccount(ctx context.Context, did syntax.DID, password, token string) error
	// Firehose opens a live event stream; no authentication required.
	Firehose(ctx context.Context) (Firehose, error)
	// FirehoseFrom opens an event stream seeking to a past cursor.
	FirehoseFrom(ctx context.Context, cursor int64) (Firehose, error)
}

// Session binds exactly one DID to exactly one PDS. Clones share token
// state; Refresh replaces the pair atomically for all of them.
type Session interface {
	DID() syntax.DID
	PDS() syntax.PDSURL
	// AccessToken and RefreshToken export current token material for
	// persistence. The values redact themselves when formatted.
	AccessToken() auth.AccessToken
	RefreshToken() auth.RefreshToken
	// Refresh replaces the token pair. Never triggered implicitly; a
	// 401 surfaces to the caller, who decides whether to refresh.
	Refresh(ctx context.Context) error
	// Describe reports the account behind the session.
	Describe(ctx context.Context) (auth.SessionInfo, error)
	// ListRecords pages through any repo's collection. limit <= 0
	// applies the backend default; cursor may be empty.
	ListRecords(ctx context.Context, repoDID syntax.DID, collection syntax.NSID, limit int, cursor string) (repo.ListRecordsOutput, error)
	// GetRecord reads a single record from any repo.
	GetRecord(ctx context.Context, uri syntax.ATURI) (repo.Record, error)
	// CreateRecord writes a validated value into the session's own repo.
	CreateRecord(ctx context.Context, collection syntax.NSID, value repo.Value) (syntax.ATURI, error)
	// CreateRecordRaw writes a raw JSON record body and returns the new
	// record's URI and CID.
	CreateRecordRaw(ctx context.Context, collection syntax.NSID, rawJSON []byte) (syntax.ATURI, string, error)
	// DeleteRecord removes a record from the session's own repo.
	DeleteRecord(ctx context.Context, uri syntax.ATURI) error
}

// Firehose is a stream of repository events. Next returns io.EOF when
// the stream ends; Close releases the connection or watcher.
type Firehose interface {
	Next(ctx context.Context) (*repo.Event, error)
	Close() error
}

// Both backends satisfy the session and firehose contracts.
var (
	_ Session  = (*xrpc.Session)(nil)
	_ Session  = (*filepds.Session)(nil)
	_ Firehose = (*xrpc.Firehose)(nil)
	_ Firehose = (*filepds.Firehose)(nil)
)

// Option configures Open.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// WithLogger installs a logger for diagnostic events. The default is a
// nop logger; no diagnostic event ever carries token or password
// material.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient overrides the HTTP client used by the remote backend.
// Ignored by the file backend.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// Open parses rawURL and returns the backend its scheme selects:
// file:// for the local store, http(s):// for XRPC.
func Open(rawURL string, opts ...Option) (Pds, error) {
	pdsURL, err := syntax.ParsePDSURL(rawURL)
	if err != nil {
		return nil, err
	}
	return OpenURL(pdsURL, opts...)
}

// OpenURL is Open for an already-parsed URL.
func OpenURL(pdsURL syntax.PDSURL, opts ...Option) (Pds, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if pdsURL.IsLocal() {
		p, err := filepds.NewPDS(pdsURL, o.logger)
		if err != nil {
			return nil, err
		}
		return &localPDS{pds: p}, nil
	}

	p, err := xrpc.NewPDS(pdsURL, o.httpClient, o.logger)
	if err != nil {
		return nil, err
	}
	return &remotePDS{pds: p}, nil
}

// RestoreSession reopens a session on pds from raw persisted tokens.
func RestoreSession(pds Pds, did syntax.DID, accessToken, refreshToken string) Session {
	return pds.Restore(did, auth.NewAccessToken(accessToken), auth.NewRefreshToken(refreshToken))
}

// SubscribeRepos opens a firehose on pds and invokes handler for each
// event until the stream ends, ctx is cancelled, or the handler returns
// an error. ErrStopSubscription stops cleanly.
func SubscribeRepos(ctx context.Context, pds Pds, handler func(*repo.Event) error) error {
	fh, err := pds.Firehose(ctx)
	if err != nil {
		return err
	}
	return consumeFirehose(ctx, fh, handler)
}

// SubscribeReposFrom is SubscribeRepos seeking to a past cursor before
// going live.
func SubscribeReposFrom(ctx context.Context, pds Pds, cursor int64, handler func(*repo.Event) error) error {
	fh, err := pds.FirehoseFrom(ctx, cursor)
	if err != nil {
		return err
	}
	return consumeFirehose(ctx, fh, handler)
}

func consumeFirehose(ctx context.Context, fh Firehose, handler func(*repo.Event) error) error {
	defer fh.Close()

	for {
		event, err := fh.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := handler(event); err != nil {
			if errors.Is(err, ErrStopSubscription) {
				return nil
			}
			return err
		}
	}
}

// remotePDS adapts the XRPC backend to the Pds contract.
type remotePDS struct {
	pds *xrpc.PDS
}

func (p *remotePDS) URL() syntax.PDSURL { return p.pds.URL() }

func (p *remotePDS) Login(ctx context.Context, creds auth.Credentials) (Session, error) {
	s, err := p.pds.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *remotePDS) Restore(did syntax.DID, access auth.AccessToken, refresh auth.RefreshToken) Session {
	return p.pds.Restore(did, access, refresh)
}

func (p *remotePDS) CreateAccount(ctx context.Context, params auth.CreateAccountParams) (auth.CreateAccountOutput, error) {
	return p.pds.CreateAccount(ctx, params)
}

func (p *remotePDS) DeleteAccount(ctx context.Context, did syntax.DID, password, token string) error {
	return p.pds.DeleteAccount(ctx, did, password, token)
}

func (p *remotePDS) Firehose(ctx context.Context) (Firehose, error) {
	return p.pds.Firehose(ctx)
}

func (p *remotePDS) FirehoseFrom(ctx context.Context, cursor int64) (Firehose, error) {
	return p.pds.FirehoseFrom(ctx, cursor)
}

// localPDS adapts the file backend to the Pds contract.
type localPDS struct {
	pds *filepds.PDS
}

func (p *localPDS) URL() syntax.PDSURL { return p.pds.URL() }

func (p *localPDS) Login(ctx context.Context, creds auth.Credentials) (Session, error) {
	s, err := p.pds.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *localPDS) Restore(did syntax.DID, access auth.AccessToken, refresh auth.RefreshToken) Session {
	return p.pds.Restore(did, access, refresh)
}

func (p *localPDS) CreateAccount(ctx context.Context, params auth.CreateAccountParams) (auth.CreateAccountOutput, error) {
	return p.pds.CreateAccount(ctx, params)
}

func (p *localPDS) DeleteAccount(ctx context.Context, did syntax.DID, password, token string) error {
	return p.pds.DeleteAccount(ctx, did, password, token)
}

func (p *localPDS) Firehose(ctx context.Context) (Firehose, error) {
	return p.pds.Firehose(ctx)
}

func (p *localPDS) FirehoseFrom(ctx context.Context, cursor int64) (Firehose, error) {
	return p.pds.FirehoseFrom(ctx, cursor)
}
