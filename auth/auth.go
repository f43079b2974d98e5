// Package auth holds credential and session token types. All secret
// material is kept in unexported fields and redacted from String,
// GoString, and fmt verbs so it cannot leak into logs or error text.
package auth

import (
	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/syntax"
)

const redacted = "[REDACTED]"

// Credentials are the identifier and password presented at login.
type Credentials struct {
	identifier string
	password   string
}

// NewCredentials validates and wraps a login identifier (handle or DID)
// and password.
func NewCredentials(identifier, password string) (Credentials, error) {
	if identifier == "" {
		return Credentials{}, aterr.NewInvalidInput("credentials: identifier cannot be empty")
	}
	if password == "" {
		return Credentials{}, aterr.NewInvalidInput("credentials: password cannot be empty")
	}
	return Credentials{identifier: identifier, password: password}, nil
}

// Identifier returns the login identifier.
func (c Credentials) Identifier() string { return c.identifier }

// Password returns the plaintext password. Callers must not log it.
func (c Credentials) Password() string { return c.password }

// String renders the identifier with the password redacted.
func (c Credentials) String() string {
	return "Credentials{identifier: " + c.identifier + ", password: " + redacted + "}"
}

// GoString matches String so %#v cannot expose the password.
func (c Credentials) GoString() string { return c.String() }

// AccessToken authenticates individual requests. The zero value means
// no token.
type AccessToken struct {
	s string
}

// NewAccessToken wraps a raw access token string.
func NewAccessToken(s string) AccessToken { return AccessToken{s: s} }

// Raw returns the token for use in an Authorization header. Callers
// must not log it.
func (t AccessToken) Raw() string { return t.s }

// IsZero reports whether the token is empty.
func (t AccessToken) IsZero() bool { return t.s == "" }

// String redacts the token.
func (t AccessToken) String() string { return redacted }

// GoString matches String so %#v cannot expose the token.
func (t AccessToken) GoString() string { return t.String() }

// RefreshToken obtains new token pairs. The zero value means no token.
type RefreshToken struct {
	s string
}

// NewRefreshToken wraps a raw refresh token string.
func NewRefreshToken(s string) RefreshToken { return RefreshToken{s: s} }

// Raw returns the token for the refresh request. Callers must not log it.
func (t RefreshToken) Raw() string { return t.s }

// IsZero reports whether the token is empty.
func (t RefreshToken) IsZero() bool { return t.s == "" }

// String redacts the token.
func (t RefreshToken) String() string { return redacted }

// GoString matches String so %#v cannot expose the token.
func (t RefreshToken) GoString() string { return t.String() }

// CreateAccountParams are the inputs to account creation.
type CreateAccountParams struct {
	Handle     string
	Password   string
	Email      string
	InviteCode string
}

// CreateAccountOutput is the result of account creation: the minted DID
// plus an initial session token pair.
type CreateAccountOutput struct {
	DID          syntax.DID
	Handle       string
	AccessToken  AccessToken
	RefreshToken RefreshToken
}

// SessionInfo describes the account behind a live session.
type SessionInfo struct {
	DID    syntax.DID
	Handle string
	Email  string
}
