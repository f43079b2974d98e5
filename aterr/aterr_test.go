package aterr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "auth",
			err:  NewAuth("login rejected for alice"),
			want: "auth error: login rejected for alice",
		},
		{
			name: "invalid_input",
			err:  Invalidf("invalid rkey %q", "a b"),
			want: `invalid input error: invalid rkey "a b"`,
		},
		{
			name: "protocol_with_status_and_code",
			err:  NewProtocol(400, "InvalidRequest", "repo is required", "{}", "https://pds/xrpc/x"),
			want: "protocol error: HTTP 400 [InvalidRequest]: repo is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestTransportWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransport("https://pds.example", cause)

	assert.Equal(t, Transport, KindOf(err))
	assert.True(t, errors.Is(err, cause))

	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "https://pds.example", ae.URL)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Auth, KindOf(NewAuth("nope")))
	assert.Equal(t, Protocol, KindOf(NewProtocol(500, "InternalError", "boom", "", "")))
	assert.Equal(t, InvalidInput, KindOf(NewInvalidInput("bad")))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(0), KindOf(nil))
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "auth_kind", err: NewAuth("rejected"), want: true},
		{name: "http_401", err: NewProtocol(401, "", "unauthorized", "", ""), want: true},
		{name: "expired_token_code", err: NewProtocol(400, "ExpiredToken", "token expired", "", ""), want: true},
		{name: "invalid_token_code", err: NewProtocol(400, "InvalidToken", "bad token", "", ""), want: true},
		{name: "authentication_required", err: NewProtocol(403, "AuthenticationRequired", "nope", "", ""), want: true},
		{name: "plain_protocol", err: NewProtocol(404, "RecordNotFound", "missing", "", ""), want: false},
		{name: "transport", err: NewTransport("x", errors.New("refused")), want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAuthError(tt.err))
		})
	}
}
