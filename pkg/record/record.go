// Package record holds intercepted request/response records and the
// bounded per-proxy history they live in.
package record

import (
	"time"

	"github.com/google/uuid"

	"github.com/interceptd/interceptd/pkg/diff"
)

// Status is the lifecycle state of a record. A record is created pending,
// transitions exactly once to a terminal status, then is immutable.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusTimeout
}

// Tags applied to records by the engines.
const (
	TagMocked       = "mocked"
	TagMockReplaced = "mock-replaced"
	TagDeduplicated = "deduplicated"
)

// Record is one intercepted exchange.
type Record struct {
	ID        string `json:"id"`
	ProxyPort int    `json:"proxyPort"`

	// Method is the HTTP method or query operation kind.
	Method string `json:"method"`

	// Path is the resource path (HTTP) or table/collection (database).
	Path string `json:"path,omitempty"`

	// Query is the raw URL query string for HTTP exchanges, or the query
	// text for database exchanges.
	Query string `json:"query,omitempty"`

	// Params are bound parameter values for extended-protocol queries.
	Params []string `json:"params,omitempty"`

	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	Status      Status    `json:"status"`
	DurationMs  int64     `json:"durationMs,omitempty"`

	// Response payload (one of the two shapes depending on protocol).
	ResponseStatus  int               `json:"responseStatus,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody    string            `json:"responseBody,omitempty"`
	ResponseRows    []map[string]any  `json:"responseRows,omitempty"`

	Error string   `json:"error,omitempty"`
	Tags  []string `json:"tags,omitempty"`

	// Mocked indicates the response was served from a mock without a
	// backend call.
	Mocked        bool   `json:"mocked,omitempty"`
	MatchedMockID string `json:"matchedMockId,omitempty"`

	// Comparison caches the last mock-vs-live difference result.
	Comparison *diff.Result `json:"comparison,omitempty"`
}

// New creates a pending record for a freshly classified exchange.
func New(port int, method, path string) *Record {
	return &Record{
		ID:        uuid.NewString(),
		ProxyPort: port,
		Method:    method,
		Path:      path,
		StartedAt: time.Now(),
		Status:    StatusPending,
	}
}

// HasTag reports whether the record carries the given tag.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends a tag if not already present.
func (r *Record) AddTag(tag string) {
	if !r.HasTag(tag) {
		r.Tags = append(r.Tags, tag)
	}
}

// Clone returns a copy safe to hand outside the history.
func (r *Record) Clone() *Record {
	c := *r
	c.Params = append([]string(nil), r.Params...)
	c.Tags = append([]string(nil), r.Tags...)
	if r.ResponseHeaders != nil {
		c.ResponseHeaders = make(map[string]string, len(r.ResponseHeaders))
		for k, v := range r.ResponseHeaders {
			c.ResponseHeaders[k] = v
		}
	}
	return &c
}
