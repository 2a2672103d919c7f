package manager

import (
	"net/http"

	"github.com/interceptd/interceptd/pkg/diff"
	"github.com/interceptd/interceptd/pkg/event"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
)

// HandleMockHit implements the drift policy: after a mock was served, the
// live backend response is compared against the stored one. Drift either
// replaces the mock (auto-replace on) or surfaces as a difference event --
// exactly one of the two, never both.
func (m *Manager) HandleMockHit(rec *record.Record, mk *mock.Mock, live diff.Response) {
	stored := diff.Response{
		StatusCode: mk.Response.StatusCode,
		Headers:    mk.Response.Headers,
		Body:       mk.Response.Body,
	}
	if stored.StatusCode == 0 {
		// A zero stored status is served as 200, so it must compare as 200
		// or every shadow call would report phantom drift.
		stored.StatusCode = http.StatusOK
	}
	result := diff.Compare(live, stored)

	m.history.Annotate(rec.ID, func(r *record.Record) { //nolint:errcheck
		r.Comparison = result
	})

	if result.Empty() {
		return
	}

	port := mk.ProxyPort
	if m.autoReplace.Load() {
		err := m.mocks.ReplaceResponse(port, mk.Key, mock.Response{
			StatusCode: live.StatusCode,
			Headers:    live.Headers,
			Body:       live.Body,
		})
		if err != nil {
			m.log.Warn("auto-replace failed", "port", port, "mock", mk.ID, "error", err)
			return
		}
		m.history.Annotate(rec.ID, func(r *record.Record) { //nolint:errcheck
			r.AddTag(record.TagMockReplaced)
		})
		m.log.Info("mock auto-replaced", "port", port, "mock", mk.ID, "summary", result.Summary)
		m.bus.Publish(event.Event{
			Type:      event.TypeMockAutoReplaced,
			ProxyPort: port,
			Payload: map[string]any{
				"mockId":     mk.ID,
				"recordId":   rec.ID,
				"comparison": result,
			},
		})
		return
	}

	m.log.Info("mock drift detected", "port", port, "mock", mk.ID, "summary", result.Summary)
	m.bus.Publish(event.Event{
		Type:      event.TypeMockDifference,
		ProxyPort: port,
		Payload: map[string]any{
			"mockId":     mk.ID,
			"recordId":   rec.ID,
			"comparison": result,
		},
	})
}
