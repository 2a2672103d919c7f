package mock

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHealsStaleMetadata(t *testing.T) {
	tests := []struct {
		name         string
		mock         Mock
		wantKind     QueryKind
		wantResource string
	}{
		{
			name:         "unknown kind rederived",
			mock:         Mock{Query: `db.users.find({})`, Kind: KindUnknown, Resource: "users"},
			wantKind:     KindFind,
			wantResource: "users",
		},
		{
			name:         "empty kind rederived",
			mock:         Mock{Query: "SELECT * FROM users", Resource: "users"},
			wantKind:     KindSelect,
			wantResource: "users",
		},
		{
			name:         "unknown resource rederived",
			mock:         Mock{Query: "SELECT * FROM users", Kind: KindSelect, Resource: "unknown"},
			wantKind:     KindSelect,
			wantResource: "users",
		},
		{
			name:         "healthy metadata untouched",
			mock:         Mock{Query: "SELECT * FROM users", Kind: KindDelete, Resource: "custom"},
			wantKind:     KindDelete,
			wantResource: "custom",
		},
		{
			name:         "unclassifiable stays unknown",
			mock:         Mock{Query: "EXPLAIN SELECT 1", Kind: KindUnknown, Resource: ""},
			wantKind:     KindUnknown,
			wantResource: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.mock
			m.Normalize()
			assert.Equal(t, tt.wantKind, m.Kind)
			assert.Equal(t, tt.wantResource, m.Resource)

			// Idempotent.
			m.Normalize()
			assert.Equal(t, tt.wantKind, m.Kind)
		})
	}
}

func TestHealingOnSerializationBoundary(t *testing.T) {
	// A persisted document from before classification was fixed: UNKNOWN
	// kind on a recognizable query. Reading it must heal the metadata.
	data := []byte(`{"id":"m1","proxyPort":27017,"key":"k","query":"db.users.find({})","kind":"UNKNOWN","resource":"unknown","enabled":true,"response":{}}`)

	var m Mock
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, KindFind, m.Kind)
	assert.Equal(t, "users", m.Resource)

	// Writing heals too.
	stale := &Mock{Query: "SELECT * FROM users", Kind: KindUnknown}
	out, err := json.Marshal(stale)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"kind":"SELECT"`)
	assert.Contains(t, string(out), `"resource":"users"`)
}

func TestCloneIsolation(t *testing.T) {
	m := &Mock{
		Key: "k",
		Response: Response{
			Headers: map[string]string{"Content-Type": "application/json"},
			Rows:    []map[string]any{{"id": 1}},
		},
	}
	c := m.Clone()
	c.Response.Headers["Content-Type"] = "text/plain"
	assert.Equal(t, "application/json", m.Response.Headers["Content-Type"])
}
