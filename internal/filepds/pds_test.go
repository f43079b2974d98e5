package filepds

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/auth"
	"github.com/atkit-dev/atkit/repo"
	"github.com/atkit-dev/atkit/syntax"
)

func newTestPDS(t *testing.T) *PDS {
	t.Helper()
	url, err := syntax.ParsePDSURL("file://" + t.TempDir())
	require.NoError(t, err)
	pds, err := NewPDS(url, nil)
	require.NoError(t, err)
	return pds
}

func mustCreds(t *testing.T, identifier, password string) auth.Credentials {
	t.Helper()
	creds, err := auth.NewCredentials(identifier, password)
	require.NoError(t, err)
	return creds
}

func loginTestAccount(t *testing.T, pds *PDS, handle, password string) *Session {
	t.Helper()
	ctx := context.Background()
	_, err := pds.CreateAccount(ctx, auth.CreateAccountParams{Handle: handle, Password: password})
	require.NoError(t, err)
	session, err := pds.Login(ctx, mustCreds(t, handle, password))
	require.NoError(t, err)
	return session
}

func TestLoginByHandleAndDID(t *testing.T) {
	pds := newTestPDS(t)
	ctx := context.Background()

	out, err := pds.CreateAccount(ctx, auth.CreateAccountParams{Handle: "alice.local", Password: "pw"})
	require.NoError(t, err)

	byHandle, err := pds.Login(ctx, mustCreds(t, "alice.local", "pw"))
	require.NoError(t, err)
	assert.Equal(t, out.DID, byHandle.DID())

	byDID, err := pds.Login(ctx, mustCreds(t, out.DID.String(), "pw"))
	require.NoError(t, err)
	assert.Equal(t, out.DID, byDID.DID())
}

func TestLoginRejections(t *testing.T) {
	pds := newTestPDS(t)
	ctx := context.Background()
	_, err := pds.CreateAccount(ctx, auth.CreateAccountParams{Handle: "alice.local", Password: "pw"})
	require.NoError(t, err)

	_, err = pds.Login(ctx, mustCreds(t, "alice.local", "wrong"))
	assert.Equal(t, aterr.Auth, aterr.KindOf(err))

	_, err = pds.Login(ctx, mustCreds(t, "nobody.local", "pw"))
	assert.Equal(t, aterr.Auth, aterr.KindOf(err))
}

func TestSessionRecordRoundTrip(t *testing.T) {
	pds := newTestPDS(t)
	ctx := context.Background()
	session := loginTestAccount(t, pds, "alice.local", "pw")

	value, err := repo.NewValue(map[string]any{"$type": "org.test.r", "text": "x"})
	require.NoError(t, err)

	uri, err := session.CreateRecord(ctx, "org.test.r", value)
	require.NoError(t, err)
	assert.Equal(t, session.DID(), uri.Repo())

	out, err := session.ListRecords(ctx, session.DID(), "org.test.r", 0, "")
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, value.AsMap(), out.Records[0].Value.AsMap())

	rec, err := session.GetRecord(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, value.AsMap(), rec.Value.AsMap())

	require.NoError(t, session.DeleteRecord(ctx, uri))
	_, err = session.GetRecord(ctx, uri)
	assert.Equal(t, aterr.Protocol, aterr.KindOf(err))
}

func TestCreateRecordRawValidates(t *testing.T) {
	pds := newTestPDS(t)
	ctx := context.Background()
	session := loginTestAccount(t, pds, "alice.local", "pw")

	uri, recordCID, err := session.CreateRecordRaw(ctx, "org.test.r", []byte(`{"$type":"org.test.r","n":1}`))
	require.NoError(t, err)
	assert.False(t, uri.IsZero())
	assert.NotEmpty(t, recordCID)

	_, _, err = session.CreateRecordRaw(ctx, "org.test.r", []byte(`{"n":1}`))
	assert.Equal(t, aterr.InvalidInput, aterr.KindOf(err))
}

func TestCreateRecordRejectsZeroValue(t *testing.T) {
	pds := newTestPDS(t)
	ctx := context.Background()
	session := loginTestAccount(t, pds, "alice.local", "pw")

	_, err := session.CreateRecord(ctx, "org.test.r", repo.Value{})
	assert.Equal(t, aterr.InvalidInput, aterr.KindOf(err))

	_, err = session.CreateRecordIn(ctx, session.DID(), "org.test.r", repo.Value{})
	assert.Equal(t, aterr.InvalidInput, aterr.KindOf(err))
}

func TestCrossRepoAccess(t *testing.T) {
	pds := newTestPDS(t)
	ctx := context.Background()
	alice := loginTestAccount(t, pds, "alice.local", "pw")
	bob := loginTestAccount(t, pds, "bob.local", "pw")

	value, err := repo.NewValue(map[string]any{"$type": "org.test.r", "text": "alice's"})
	require.NoError(t, err)
	uri, err := alice.CreateRecord(ctx, "org.test.r", value)
	require.NoError(t, err)

	// Reads across repos are allowed.
	rec, err := bob.GetRecord(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, value.AsMap(), rec.Value.AsMap())

	listed, err := bob.ListRecords(ctx, alice.DID(), "org.test.r", 0, "")
	require.NoError(t, err)
	assert.Len(t, listed.Records, 1)

	// Writes are not.
	_, err = bob.CreateRecordIn(ctx, alice.DID(), "org.test.r", value)
	assert.Equal(t, aterr.Auth, aterr.KindOf(err))

	err = bob.DeleteRecord(ctx, uri)
	assert.Equal(t, aterr.Auth, aterr.KindOf(err))
}

func TestRefreshSharedAcrossClones(t *testing.T) {
	pds := newTestPDS(t)
	ctx := context.Background()
	session := loginTestAccount(t, pds, "alice.local", "pw")
	clone := session.Clone()

	require.NoError(t, clone.Refresh(ctx))

	// The pair is shared state: both handles observe the same tokens,
	// and both remain usable.
	assert.Equal(t, session.AccessToken().Raw(), clone.AccessToken().Raw())
	assert.Equal(t, session.RefreshToken().Raw(), clone.RefreshToken().Raw())

	value, err := repo.NewValue(map[string]any{"$type": "org.test.r"})
	require.NoError(t, err)
	_, err = session.CreateRecord(ctx, "org.test.r", value)
	require.NoError(t, err)
}

func TestConcurrentRefreshNeverTearsTokenPair(t *testing.T) {
	pds := newTestPDS(t)
	ctx := context.Background()
	session := loginTestAccount(t, pds, "alice.local", "pw")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clone := session.Clone()
			for j := 0; j < 20; j++ {
				if err := clone.Refresh(ctx); err != nil {
					t.Error(err)
					return
				}
				access, refresh := clone.AccessToken(), clone.RefreshToken()
				// Local pairs are issued together and identical.
				if access.Raw() != refresh.Raw() {
					t.Error("observed a torn token pair")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestRestoreSession(t *testing.T) {
	pds := newTestPDS(t)
	ctx := context.Background()
	session := loginTestAccount(t, pds, "alice.local", "pw")

	restored := pds.Restore(session.DID(), session.AccessToken(), session.RefreshToken())
	info, err := restored.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice.local", info.Handle)

	stale := pds.Restore(session.DID(),
		auth.NewAccessToken(`{"did":"did:plc:junk","password_hash":"junk"}`),
		auth.NewRefreshToken("junk"))
	_, err = stale.Describe(ctx)
	assert.Equal(t, aterr.Auth, aterr.KindOf(err))
}

func TestDeleteAccount(t *testing.T) {
	pds := newTestPDS(t)
	ctx := context.Background()
	session := loginTestAccount(t, pds, "alice.local", "pw")

	err := pds.DeleteAccount(ctx, session.DID(), "wrong", "")
	assert.Equal(t, aterr.Auth, aterr.KindOf(err))

	require.NoError(t, pds.DeleteAccount(ctx, session.DID(), "pw", ""))

	// Outstanding tokens die with the account.
	value, err := repo.NewValue(map[string]any{"$type": "org.test.r"})
	require.NoError(t, err)
	_, err = session.CreateRecord(ctx, "org.test.r", value)
	assert.Equal(t, aterr.Auth, aterr.KindOf(err))

	_, err = pds.Login(ctx, mustCreds(t, "alice.local", "pw"))
	assert.Equal(t, aterr.Auth, aterr.KindOf(err))
}

func TestNewPDSRejectsNetworkURL(t *testing.T) {
	url, err := syntax.ParsePDSURL("https://bsky.social")
	require.NoError(t, err)
	_, err = NewPDS(url, nil)
	assert.Equal(t, aterr.InvalidInput, aterr.KindOf(err))
}
