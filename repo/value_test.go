package repo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/syntax"
)

func TestNewValue(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]any
		wantErr bool
	}{
		{
			name:   "valid",
			fields: map[string]any{"$type": "org.test.record", "text": "hello"},
		},
		{
			name:    "missing_type",
			fields:  map[string]any{"text": "hello"},
			wantErr: true,
		},
		{
			name:    "type_not_string",
			fields:  map[string]any{"$type": 42},
			wantErr: true,
		},
		{
			name:    "type_empty",
			fields:  map[string]any{"$type": ""},
			wantErr: true,
		},
		{
			name:    "type_not_nsid",
			fields:  map[string]any{"$type": "nodots"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewValue(tt.fields)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, aterr.InvalidInput, aterr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, syntax.NSID("org.test.record"), v.Type())
		})
	}
}

func TestValueWithType(t *testing.T) {
	collection := syntax.NSID("app.bsky.feed.post")
	v := ValueWithType(collection, map[string]any{"text": "hi", "$type": "ignored.other.type"})

	assert.Equal(t, collection, v.Type())
	text, ok := v.Get("text")
	require.True(t, ok)
	assert.Equal(t, "hi", text)
}

func TestValueUnmarshalRejectsMissingType(t *testing.T) {
	var v Value
	err := json.Unmarshal([]byte(`{"text":"no type here"}`), &v)
	require.Error(t, err)
	assert.Equal(t, aterr.InvalidInput, aterr.KindOf(err))
}

func TestValueJSONRoundTrip(t *testing.T) {
	v, err := NewValue(map[string]any{"$type": "org.test.record", "text": "x", "count": float64(3)})
	require.NoError(t, err)

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var back Value
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, v.AsMap(), back.AsMap())
}

func TestValueAsMapIsCopy(t *testing.T) {
	v, err := NewValue(map[string]any{"$type": "org.test.record"})
	require.NoError(t, err)

	m := v.AsMap()
	m["$type"] = "mutated.else.where"
	assert.Equal(t, syntax.NSID("org.test.record"), v.Type())
}

func TestCommitOpURI(t *testing.T) {
	commit := &Commit{
		Repo: syntax.DID("did:plc:abc"),
		Ops:  []CommitOp{{Path: "org.test.record/key1", Action: "create"}},
	}
	uri, err := commit.URI(commit.Ops[0])
	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:abc/org.test.record/key1", uri.String())
}
