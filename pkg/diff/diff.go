// Package diff compares a live backend response against a stored mock and
// reports structured differences used to flag drift.
package diff

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ohler55/ojg/oj"
)

// Kind classifies a single difference.
type Kind string

const (
	KindStatus Kind = "status"
	KindBody   Kind = "body"
	KindHeader Kind = "header"
)

// Relation classifies how a mismatched text body relates to the stored one.
type Relation string

const (
	RelationTruncated Relation = "truncated"
	RelationExtended  Relation = "extended"
	RelationUnrelated Relation = "unrelated"
)

// trackedHeaders are the only headers compared. Incidental headers (Date,
// Connection, Server) churn on every response and would be false positives.
var trackedHeaders = []string{"Content-Type", "Content-Length"}

// Response is the comparable projection of a response, independent of
// whether it came from a live call or a stored mock.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// Difference is one field-level mismatch.
type Difference struct {
	Kind     Kind     `json:"kind"`
	Field    string   `json:"field,omitempty"`
	Stored   string   `json:"stored"`
	Live     string   `json:"live"`
	Relation Relation `json:"relation,omitempty"`
}

// Result is the set of differences plus a human-readable summary.
type Result struct {
	Differences []Difference `json:"differences"`
	Summary     string       `json:"summary"`
}

// Empty reports whether no differences were found.
func (r *Result) Empty() bool {
	return r == nil || len(r.Differences) == 0
}

// Compare checks the live response against the stored mock response.
// Status mismatch is always a difference. Bodies that both parse as JSON
// are compared structurally (object key order is irrelevant); otherwise the
// raw text is compared and classified by substring containment.
func Compare(live, stored Response) *Result {
	res := &Result{}

	if live.StatusCode != stored.StatusCode {
		res.Differences = append(res.Differences, Difference{
			Kind:   KindStatus,
			Stored: fmt.Sprintf("%d", stored.StatusCode),
			Live:   fmt.Sprintf("%d", live.StatusCode),
		})
	}

	if d, ok := compareBodies(live.Body, stored.Body); !ok {
		res.Differences = append(res.Differences, d)
	}

	for _, h := range trackedHeaders {
		sv := headerValue(stored.Headers, h)
		lv := headerValue(live.Headers, h)
		if sv != "" && lv != "" && sv != lv {
			res.Differences = append(res.Differences, Difference{
				Kind:   KindHeader,
				Field:  h,
				Stored: sv,
				Live:   lv,
			})
		}
	}

	res.Summary = summarize(res.Differences)
	return res
}

// compareBodies returns ok=true when the bodies match.
func compareBodies(live, stored string) (Difference, bool) {
	if strings.TrimSpace(live) == strings.TrimSpace(stored) {
		return Difference{}, true
	}

	liveVal, liveErr := oj.ParseString(live)
	storedVal, storedErr := oj.ParseString(stored)
	if liveErr == nil && storedErr == nil {
		if reflect.DeepEqual(liveVal, storedVal) {
			return Difference{}, true
		}
		return Difference{
			Kind:     KindBody,
			Stored:   truncate(stored, 200),
			Live:     truncate(live, 200),
			Relation: relate(live, stored),
		}, false
	}

	return Difference{
		Kind:     KindBody,
		Stored:   truncate(stored, 200),
		Live:     truncate(live, 200),
		Relation: relate(live, stored),
	}, false
}

// relate classifies a raw-text mismatch to aid the summary: the live body
// is truncated (contained in stored), extended (contains stored), or
// unrelated.
func relate(live, stored string) Relation {
	l := strings.TrimSpace(live)
	s := strings.TrimSpace(stored)
	switch {
	case l != "" && strings.Contains(s, l):
		return RelationTruncated
	case s != "" && strings.Contains(l, s):
		return RelationExtended
	default:
		return RelationUnrelated
	}
}

func summarize(diffs []Difference) string {
	if len(diffs) == 0 {
		return "responses match"
	}
	parts := make([]string, 0, len(diffs))
	for _, d := range diffs {
		switch d.Kind {
		case KindStatus:
			parts = append(parts, fmt.Sprintf("status %s vs %s", d.Stored, d.Live))
		case KindBody:
			if d.Relation != "" {
				parts = append(parts, fmt.Sprintf("body %s", d.Relation))
			} else {
				parts = append(parts, "body differs")
			}
		case KindHeader:
			parts = append(parts, fmt.Sprintf("header %s %q vs %q", d.Field, d.Stored, d.Live))
		}
	}
	return strings.Join(parts, "; ")
}

func headerValue(h map[string]string, name string) string {
	if h == nil {
		return ""
	}
	if v, ok := h[name]; ok {
		return v
	}
	lower := strings.ToLower(name)
	for k, v := range h {
		if strings.ToLower(k) == lower {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
