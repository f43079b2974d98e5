package auth

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredentials(t *testing.T) {
	creds, err := NewCredentials("alice.bsky.social", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice.bsky.social", creds.Identifier())
	assert.Equal(t, "hunter2", creds.Password())

	_, err = NewCredentials("", "hunter2")
	assert.Error(t, err)
	_, err = NewCredentials("alice.bsky.social", "")
	assert.Error(t, err)
}

func TestCredentialsRedaction(t *testing.T) {
	creds, err := NewCredentials("alice.bsky.social", "super-secret-password")
	require.NoError(t, err)

	for _, rendered := range []string{
		creds.String(),
		fmt.Sprintf("%v", creds),
		fmt.Sprintf("%s", creds),
		fmt.Sprintf("%#v", creds),
		fmt.Sprintf("%+v", creds),
	} {
		assert.NotContains(t, rendered, "super-secret-password")
		assert.Contains(t, rendered, "alice.bsky.social")
	}
}

func TestTokenRedaction(t *testing.T) {
	access := NewAccessToken("eyJ-access-material")
	refresh := NewRefreshToken("eyJ-refresh-material")

	assert.Equal(t, "eyJ-access-material", access.Raw())
	assert.Equal(t, "eyJ-refresh-material", refresh.Raw())

	for _, rendered := range []string{
		access.String(),
		fmt.Sprintf("%v", access),
		fmt.Sprintf("%s", access),
		fmt.Sprintf("%#v", access),
		refresh.String(),
		fmt.Sprintf("%v", refresh),
		fmt.Sprintf("%#v", refresh),
	} {
		assert.NotContains(t, rendered, "material")
	}
}

func TestTokenIsZero(t *testing.T) {
	assert.True(t, AccessToken{}.IsZero())
	assert.True(t, RefreshToken{}.IsZero())
	assert.False(t, NewAccessToken("x").IsZero())
	assert.False(t, NewRefreshToken("x").IsZero())
}
