// Package mock provides stored substitute responses, the per-proxy mock
// store, and query classification.
package mock

import (
	"encoding/json"
	"time"
)

// QueryKind is the operation type extracted from query text or an HTTP
// method. UNKNOWN is an explicit, visible outcome, never a silent default.
type QueryKind string

const (
	KindSelect    QueryKind = "SELECT"
	KindInsert    QueryKind = "INSERT"
	KindUpdate    QueryKind = "UPDATE"
	KindDelete    QueryKind = "DELETE"
	KindCreate    QueryKind = "CREATE"
	KindDrop      QueryKind = "DROP"
	KindAlter     QueryKind = "ALTER"
	KindFind      QueryKind = "FIND"
	KindAggregate QueryKind = "AGGREGATE"
	KindCount     QueryKind = "COUNT"
	KindDistinct  QueryKind = "DISTINCT"
	KindUnknown   QueryKind = "UNKNOWN"
)

// Response is the canonical stored response: HTTP status/headers/body, or
// result rows for database mocks.
type Response struct {
	StatusCode int               `json:"statusCode,omitempty" yaml:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body       string            `json:"body,omitempty" yaml:"body,omitempty"`
	Rows       []map[string]any  `json:"rows,omitempty" yaml:"rows,omitempty"`
}

// Mock is a stored substitute response. The Key is unique within a proxy's
// store and doubles as the dedup fingerprint for database mocks.
type Mock struct {
	ID        string `json:"id" yaml:"id"`
	ProxyPort int    `json:"proxyPort" yaml:"proxyPort"`

	// Key is the normalized match key: "METHOD /path?query" for HTTP, the
	// query fingerprint for databases.
	Key string `json:"key" yaml:"key"`

	// HTTP identity.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`

	// Database identity.
	Query    string    `json:"query,omitempty" yaml:"query,omitempty"`
	Kind     QueryKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Resource string    `json:"resource,omitempty" yaml:"resource,omitempty"`

	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Response Response `json:"response" yaml:"response"`

	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Normalize re-derives stale type/resource metadata from the stored query
// text. Older persisted data carried UNKNOWN kinds and "unknown" resources;
// this self-healing pass runs on every serialization boundary and is
// idempotent.
func (m *Mock) Normalize() {
	if m.Query == "" {
		return
	}
	stale := m.Kind == "" || m.Kind == KindUnknown ||
		m.Resource == "" || m.Resource == "unknown"
	if !stale {
		return
	}
	kind, resource := ClassifyQuery(m.Query)
	if kind != KindUnknown {
		m.Kind = kind
	} else if m.Kind == "" {
		m.Kind = KindUnknown
	}
	if resource != "" {
		m.Resource = resource
	}
}

// mockAlias breaks marshal recursion.
type mockAlias Mock

// MarshalJSON applies Normalize before serializing, so stale metadata is
// healed every time a mock crosses the serialization boundary.
func (m *Mock) MarshalJSON() ([]byte, error) {
	m.Normalize()
	return json.Marshal((*mockAlias)(m))
}

// UnmarshalJSON decodes and then heals stale metadata.
func (m *Mock) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*mockAlias)(m)); err != nil {
		return err
	}
	m.Normalize()
	return nil
}

// Clone returns a deep-enough copy safe to hand across the store boundary.
func (m *Mock) Clone() *Mock {
	c := *m
	if m.Response.Headers != nil {
		c.Response.Headers = make(map[string]string, len(m.Response.Headers))
		for k, v := range m.Response.Headers {
			c.Response.Headers[k] = v
		}
	}
	if m.Response.Rows != nil {
		c.Response.Rows = make([]map[string]any, len(m.Response.Rows))
		copy(c.Response.Rows, m.Response.Rows)
	}
	return &c
}
