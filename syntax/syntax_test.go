package syntax

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "plc", input: "did:plc:z72i7hdynmk6r22z27h6tvur"},
		{name: "web", input: "did:web:example.com"},
		{name: "missing_prefix", input: "plc:abc", wantErr: true},
		{name: "missing_id", input: "did:plc:", wantErr: true},
		{name: "missing_method", input: "did::abc", wantErr: true},
		{name: "uppercase_method", input: "did:PLC:abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			did, err := ParseDID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, did.String())
		})
	}
}

func TestDIDComponents(t *testing.T) {
	did, err := ParseDID("did:plc:abc123")
	require.NoError(t, err)
	assert.Equal(t, "plc", did.Method())
	assert.Equal(t, "abc123", did.Identifier())
}

func TestParseNSID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "three_segments", input: "app.bsky.feed"},
		{name: "four_segments", input: "app.bsky.feed.post"},
		{name: "hyphenated", input: "org.some-site.feed"},
		{name: "two_segments", input: "app.bsky", wantErr: true},
		{name: "digit_start_segment", input: "app.1bad.feed", wantErr: true},
		{name: "empty_segment", input: "app..feed", wantErr: true},
		{name: "invalid_char", input: "app.bsky.fe_ed", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nsid, err := ParseNSID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, nsid.String())
		})
	}
}

func TestNSIDComponents(t *testing.T) {
	nsid, err := ParseNSID("app.bsky.feed.post")
	require.NoError(t, err)
	assert.Equal(t, "app.bsky", nsid.Authority())
	assert.Equal(t, "feed.post", nsid.Name())
}

func TestParseRecordKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "timestamp_hex", input: "18f2a7c3b9d1"},
		{name: "tid_like", input: "3kx2l5a7b2c2d"},
		{name: "allowed_punct", input: "a.b_c~d-e"},
		{name: "empty", input: "", wantErr: true},
		{name: "dot", input: ".", wantErr: true},
		{name: "dotdot", input: "..", wantErr: true},
		{name: "slash", input: "a/b", wantErr: true},
		{name: "space", input: "a b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rkey, err := ParseRecordKey(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, rkey.String())
		})
	}
}

func TestParseATURI(t *testing.T) {
	uri, err := ParseATURI("at://did:plc:abc123/app.bsky.feed.post/3kx2l5a7b2c2d")
	require.NoError(t, err)
	assert.Equal(t, DID("did:plc:abc123"), uri.Repo())
	assert.Equal(t, NSID("app.bsky.feed.post"), uri.Collection())
	assert.Equal(t, RecordKey("3kx2l5a7b2c2d"), uri.RecordKey())
	assert.Equal(t, "at://did:plc:abc123/app.bsky.feed.post/3kx2l5a7b2c2d", uri.String())

	for _, bad := range []string{
		"",
		"https://example.com",
		"at://did:plc:abc123",
		"at://did:plc:abc123/app.bsky.feed.post",
		"at://notadid/app.bsky.feed.post/key",
		"at://did:plc:abc123/nodots/key",
	} {
		_, err := ParseATURI(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestATURITextRoundTrip(t *testing.T) {
	uri, err := ParseATURI("at://did:plc:abc/org.test.coll/key1")
	require.NoError(t, err)

	data, err := json.Marshal(uri)
	require.NoError(t, err)
	assert.JSONEq(t, `"at://did:plc:abc/org.test.coll/key1"`, string(data))

	var back ATURI
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, uri, back)
}

func TestParsePDSURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "https", input: "https://bsky.social", want: "https://bsky.social"},
		{name: "https_trailing_slash", input: "https://bsky.social/", want: "https://bsky.social"},
		{name: "http_localhost", input: "http://localhost:8080", want: "http://localhost:8080"},
		{name: "http_loopback_v4", input: "http://127.0.0.1:3000", want: "http://127.0.0.1:3000"},
		{name: "http_loopback_v6", input: "http://[::1]:3000", want: "http://[::1]:3000"},
		{name: "file", input: "file:///tmp/pds", want: "file:///tmp/pds"},
		{name: "file_trailing_slash", input: "file:///tmp/pds/", want: "file:///tmp/pds"},
		{name: "file_localhost_host", input: "file://localhost/tmp/pds", want: "file://localhost/tmp/pds"},
		{name: "http_public_host", input: "http://example.com", wantErr: true},
		{name: "file_without_path", input: "file://", wantErr: true},
		{name: "file_with_host", input: "file://relative/store", wantErr: true},
		{name: "file_with_remote_host", input: "file://nfs.example.com/share/pds", wantErr: true},
		{name: "ftp", input: "ftp://example.com", wantErr: true},
		{name: "relative", input: "bsky.social", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParsePDSURL(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestPDSURLXRPCURL(t *testing.T) {
	u, err := ParsePDSURL("https://bsky.social/")
	require.NoError(t, err)
	got := u.XRPCURL("com.atproto.server.createSession")
	assert.Equal(t, "https://bsky.social/xrpc/com.atproto.server.createSession", got)
	assert.NotContains(t, got, "//xrpc")
}

func TestPDSURLWebsocketBase(t *testing.T) {
	https, err := ParsePDSURL("https://bsky.social")
	require.NoError(t, err)
	wss, err := https.WebsocketBase()
	require.NoError(t, err)
	assert.Equal(t, "wss://bsky.social", wss)

	http, err := ParsePDSURL("http://localhost:8080")
	require.NoError(t, err)
	ws, err := http.WebsocketBase()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080", ws)

	local, err := ParsePDSURL("file:///tmp/pds")
	require.NoError(t, err)
	_, err = local.WebsocketBase()
	assert.Error(t, err)
}

func TestPDSURLFilePath(t *testing.T) {
	local, err := ParsePDSURL("file:///var/data/pds")
	require.NoError(t, err)
	assert.True(t, local.IsLocal())

	path, err := local.FilePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/data/pds", path)

	remote, err := ParsePDSURL("https://bsky.social")
	require.NoError(t, err)
	assert.False(t, remote.IsLocal())
	_, err = remote.FilePath()
	assert.Error(t, err)
}
