package atkit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/auth"
	"github.com/atkit-dev/atkit/internal/mockpds"
	"github.com/atkit-dev/atkit/repo"
)

func openLocal(t *testing.T) Pds {
	t.Helper()
	pds, err := Open("file://" + t.TempDir())
	require.NoError(t, err)
	return pds
}

func mustCreds(t *testing.T, identifier, password string) auth.Credentials {
	t.Helper()
	creds, err := auth.NewCredentials(identifier, password)
	require.NoError(t, err)
	return creds
}

func mustValue(t *testing.T, fields map[string]any) repo.Value {
	t.Helper()
	v, err := repo.NewValue(fields)
	require.NoError(t, err)
	return v
}

func TestOpenDispatch(t *testing.T) {
	t.Run("file URL selects the local backend", func(t *testing.T) {
		pds, err := Open("file://" + t.TempDir())
		require.NoError(t, err)
		_, ok := pds.(*localPDS)
		assert.True(t, ok)
	})

	t.Run("https URL selects the remote backend", func(t *testing.T) {
		pds, err := Open("https://bsky.social")
		require.NoError(t, err)
		_, ok := pds.(*remotePDS)
		assert.True(t, ok)
	})

	t.Run("http is loopback only", func(t *testing.T) {
		_, err := Open("http://localhost:3000")
		require.NoError(t, err)

		_, err = Open("http://example.com")
		assert.Equal(t, aterr.InvalidInput, aterr.KindOf(err))
	})

	t.Run("rejects unknown schemes and relative paths", func(t *testing.T) {
		for _, raw := range []string{"ftp://example.com", "file://relative/store", "bsky.social", ""} {
			_, err := Open(raw)
			assert.Error(t, err, raw)
		}
	})
}

func TestLocalEndToEnd(t *testing.T) {
	pds := openLocal(t)
	ctx := context.Background()

	out, err := pds.CreateAccount(ctx, auth.CreateAccountParams{Handle: "alice.local", Password: "pw"})
	require.NoError(t, err)

	session, err := pds.Login(ctx, mustCreds(t, "alice.local", "pw"))
	require.NoError(t, err)
	assert.Equal(t, out.DID, session.DID())

	value := mustValue(t, map[string]any{"$type": "org.test.r", "text": "hello"})
	uri, err := session.CreateRecord(ctx, "org.test.r", value)
	require.NoError(t, err)

	rec, err := session.GetRecord(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, value.AsMap(), rec.Value.AsMap())

	listed, err := session.ListRecords(ctx, session.DID(), "org.test.r", 0, "")
	require.NoError(t, err)
	assert.Len(t, listed.Records, 1)

	require.NoError(t, session.DeleteRecord(ctx, uri))
}

func TestRemoteEndToEnd(t *testing.T) {
	mock := mockpds.New()
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()
	ctx := context.Background()

	pds, err := Open(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	mock.AddAccount("alice.test", "pw")
	session, err := pds.Login(ctx, mustCreds(t, "alice.test", "pw"))
	require.NoError(t, err)

	value := mustValue(t, map[string]any{"$type": "org.test.r", "text": "hello"})
	uri, err := session.CreateRecord(ctx, "org.test.r", value)
	require.NoError(t, err)

	rec, err := session.GetRecord(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, value.AsMap(), rec.Value.AsMap())
}

func TestRestoreSessionRoundTrip(t *testing.T) {
	pds := openLocal(t)
	ctx := context.Background()

	_, err := pds.CreateAccount(ctx, auth.CreateAccountParams{Handle: "alice.local", Password: "pw"})
	require.NoError(t, err)
	session, err := pds.Login(ctx, mustCreds(t, "alice.local", "pw"))
	require.NoError(t, err)

	// Persist and restore the way the CLI does: raw token strings.
	restored := RestoreSession(pds, session.DID(),
		session.AccessToken().Raw(), session.RefreshToken().Raw())

	info, err := restored.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice.local", info.Handle)
}

func TestSubscribeRepos(t *testing.T) {
	pds := openLocal(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := pds.CreateAccount(ctx, auth.CreateAccountParams{Handle: "alice.local", Password: "pw"})
	require.NoError(t, err)
	session, err := pds.Login(ctx, mustCreds(t, "alice.local", "pw"))
	require.NoError(t, err)

	value := mustValue(t, map[string]any{"$type": "org.test.r"})
	uri1, err := session.CreateRecord(ctx, "org.test.r", value)
	require.NoError(t, err)
	uri2, err := session.CreateRecord(ctx, "org.test.r", value)
	require.NoError(t, err)

	var got []*repo.Event
	err = SubscribeReposFrom(ctx, pds, 0, func(event *repo.Event) error {
		got = append(got, event)
		if len(got) == 2 {
			return ErrStopSubscription
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	first, err := got[0].Commit.URI(got[0].Commit.Ops[0])
	require.NoError(t, err)
	assert.Equal(t, uri1, first)
	second, err := got[1].Commit.URI(got[1].Commit.Ops[0])
	require.NoError(t, err)
	assert.Equal(t, uri2, second)
}

func TestSubscribeReposHandlerErrorPropagates(t *testing.T) {
	pds := openLocal(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := pds.CreateAccount(ctx, auth.CreateAccountParams{Handle: "alice.local", Password: "pw"})
	require.NoError(t, err)
	session, err := pds.Login(ctx, mustCreds(t, "alice.local", "pw"))
	require.NoError(t, err)

	value := mustValue(t, map[string]any{"$type": "org.test.r"})
	_, err = session.CreateRecord(ctx, "org.test.r", value)
	require.NoError(t, err)

	boom := aterr.NewInvalidInput("handler gave up")
	err = SubscribeReposFrom(ctx, pds, 0, func(*repo.Event) error { return boom })
	assert.ErrorIs(t, err, boom)
}
