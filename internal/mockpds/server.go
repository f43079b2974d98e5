// Package mockpds is an in-memory AT Protocol PDS used as a test
// fixture for the remote backend. It speaks just enough XRPC for the
// client: session endpoints, record CRUD, and a subscribeRepos
// WebSocket emitting real CBOR wire frames.
package mockpds

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Token scopes matching the AT Protocol specification.
const (
	scopeAccess  = "com.atproto.access"
	scopeRefresh = "com.atproto.refresh"
)

// Token lifetimes.
const (
	accessTTL  = 2 * time.Hour
	refreshTTL = 90 * 24 * time.Hour
)

type tokenClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

type account struct {
	DID      string
	Handle   string
	Email    string
	Password string
}

type storedRecord struct {
	CID   string
	Value json.RawMessage
}

// Server is one in-memory PDS instance. Wrap Handler() in an
// httptest.Server to exercise the client against it.
type Server struct {
	echo   *echo.Echo
	secret []byte

	mu       sync.Mutex
	accounts map[string]*account // keyed by DID
	handles  map[string]string   // handle -> DID
	// records[did][collection][rkey]
	records map[string]map[string]map[string]storedRecord
	seq     int64
	frames  [][]byte
	subs    map[chan []byte]struct{}
	didSeq  int
}

// New builds a server with a random JWT secret and no accounts.
func New() *Server {
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)

	s := &Server{
		echo:     echo.New(),
		secret:   secret,
		accounts: make(map[string]*account),
		handles:  make(map[string]string),
		records:  make(map[string]map[string]map[string]storedRecord),
		subs:     make(map[chan []byte]struct{}),
	}
	s.echo.HideBanner = true
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler for use with httptest.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.POST("/xrpc/com.atproto.server.createSession", s.handleCreateSession)
	s.echo.POST("/xrpc/com.atproto.server.refreshSession", s.handleRefreshSession)
	s.echo.GET("/xrpc/com.atproto.server.getSession", s.handleGetSession)
	s.echo.POST("/xrpc/com.atproto.server.createAccount", s.handleCreateAccount)
	s.echo.POST("/xrpc/com.atproto.server.deleteAccount", s.handleDeleteAccount)
	s.echo.GET("/xrpc/com.atproto.repo.listRecords", s.handleListRecords)
	s.echo.GET("/xrpc/com.atproto.repo.getRecord", s.handleGetRecord)
	s.echo.POST("/xrpc/com.atproto.repo.createRecord", s.handleCreateRecord)
	s.echo.POST("/xrpc/com.atproto.repo.deleteRecord", s.handleDeleteRecord)
	s.echo.GET("/xrpc/com.atproto.sync.subscribeRepos", s.handleSubscribeRepos)
}

// AddAccount seeds an account directly, bypassing the endpoint.
func (s *Server) AddAccount(handle, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addAccountLocked(handle, "", password)
}

func (s *Server) addAccountLocked(handle, email, password string) string {
	s.didSeq++
	did := fmt.Sprintf("did:plc:mock%020d", s.didSeq)
	s.accounts[did] = &account{DID: did, Handle: handle, Email: email, Password: password}
	s.handles[handle] = did
	return did
}

func xrpcError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// --- token handling ---

func (s *Server) mintTokenPair(did string) (string, string, error) {
	now := time.Now()
	sign := func(scope string, ttl time.Duration) (string, error) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, &tokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   did,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				ID:        randomID(),
			},
			Scope: scope,
		})
		return token.SignedString(s.secret)
	}

	access, err := sign(scopeAccess, accessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err := sign(scopeRefresh, refreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Server) validateToken(tokenStr, expectedScope string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid || claims.Scope != expectedScope || claims.Subject == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.Subject, nil
}

// bearerDID extracts and validates the bearer token on a request.
func (s *Server) bearerDID(c echo.Context, scope string) (string, bool) {
	header := c.Request().Header.Get("Authorization")
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenStr == "" {
		return "", false
	}
	did, err := s.validateToken(tokenStr, scope)
	if err != nil {
		return "", false
	}
	return did, true
}

// --- session endpoints ---

func (s *Server) handleCreateSession(c echo.Context) error {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "Invalid JSON body")
	}
	if req.Identifier == "" || req.Password == "" {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "identifier and password are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	did := req.Identifier
	if !strings.HasPrefix(did, "did:") {
		did = s.handles[req.Identifier]
	}
	acct := s.accounts[did]
	if acct == nil || acct.Password != req.Password {
		return xrpcError(c, http.StatusUnauthorized, "AuthenticationRequired", "Invalid identifier or password")
	}

	access, refresh, err := s.mintTokenPair(acct.DID)
	if err != nil {
		return xrpcError(c, http.StatusInternalServerError, "InternalError", "Failed to create session")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"did":        acct.DID,
		"handle":     acct.Handle,
		"accessJwt":  access,
		"refreshJwt": refresh,
	})
}

// handleRefreshSession rejects any request body at all; real servers
// exist that refuse even an empty JSON object here, and the client must
// match that.
func (s *Server) handleRefreshSession(c echo.Context) error {
	if c.Request().ContentLength != 0 {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "refreshSession takes no request body")
	}

	did, ok := s.bearerDID(c, scopeRefresh)
	if !ok {
		return xrpcError(c, http.StatusUnauthorized, "InvalidToken", "Refresh token required")
	}

	s.mu.Lock()
	acct := s.accounts[did]
	s.mu.Unlock()
	if acct == nil {
		return xrpcError(c, http.StatusUnauthorized, "InvalidToken", "Account not found")
	}

	access, refresh, err := s.mintTokenPair(did)
	if err != nil {
		return xrpcError(c, http.StatusInternalServerError, "InternalError", "Failed to refresh session")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"did":        acct.DID,
		"handle":     acct.Handle,
		"accessJwt":  access,
		"refreshJwt": refresh,
	})
}

func (s *Server) handleGetSession(c echo.Context) error {
	did, ok := s.bearerDID(c, scopeAccess)
	if !ok {
		return xrpcError(c, http.StatusUnauthorized, "AuthRequired", "Access token required")
	}

	s.mu.Lock()
	acct := s.accounts[did]
	s.mu.Unlock()
	if acct == nil {
		return xrpcError(c, http.StatusNotFound, "AccountNotFound", "Account not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"did":    acct.DID,
		"handle": acct.Handle,
		"email":  acct.Email,
	})
}

func (s *Server) handleCreateAccount(c echo.Context) error {
	var req struct {
		Handle   string `json:"handle"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "Invalid JSON body")
	}
	if req.Handle == "" || req.Password == "" {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "handle and password are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.handles[req.Handle]; taken {
		return xrpcError(c, http.StatusConflict, "HandleTaken", "Handle already taken: "+req.Handle)
	}
	did := s.addAccountLocked(req.Handle, req.Email, req.Password)

	access, refresh, err := s.mintTokenPair(did)
	if err != nil {
		return xrpcError(c, http.StatusInternalServerError, "InternalError", "Account created but failed to generate session tokens")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"did":        did,
		"handle":     req.Handle,
		"accessJwt":  access,
		"refreshJwt": refresh,
	})
}

func (s *Server) handleDeleteAccount(c echo.Context) error {
	var req struct {
		DID      string `json:"did"`
		Password string `json:"password"`
		Token    string `json:"token"`
	}
	if err := c.Bind(&req); err != nil {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "Invalid JSON body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.accounts[req.DID]
	if acct == nil {
		return xrpcError(c, http.StatusNotFound, "AccountNotFound", "Account not found: "+req.DID)
	}
	if acct.Password != req.Password {
		return xrpcError(c, http.StatusUnauthorized, "AuthenticationRequired", "Invalid password")
	}

	delete(s.accounts, req.DID)
	delete(s.handles, acct.Handle)
	delete(s.records, req.DID)
	return c.JSON(http.StatusOK, map[string]string{})
}
