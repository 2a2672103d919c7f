package manager

import (
	"errors"
	"fmt"

	"github.com/interceptd/interceptd/internal/matching"
	"github.com/interceptd/interceptd/pkg/event"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
)

// CreateMock stores a mock, deriving its match key and classification from
// its identity fields when not supplied.
func (m *Manager) CreateMock(mk *mock.Mock, replace bool) error {
	if mk == nil {
		return errors.New("nil mock")
	}
	entry := m.entry(mk.ProxyPort)
	if entry == nil {
		return fmt.Errorf("%w: %d", ErrProxyNotFound, mk.ProxyPort)
	}

	if mk.Key == "" {
		if entry.cfg.IsDatabase() {
			if mk.Query == "" {
				return errors.New("database mock requires query text")
			}
			mk.Key = matching.QueryFingerprint(mk.ProxyPort, mk.Query, nil)
		} else {
			if mk.Method == "" || mk.Path == "" {
				return errors.New("http mock requires method and path")
			}
			mk.Key = matching.RequestKey(mk.Method, mk.Path, "")
		}
	}
	mk.Normalize()

	if err := m.mocks.Add(mk, replace); err != nil {
		return err
	}
	m.mocks.Trim(mk.ProxyPort, entry.cfg.MaxMockHistory)

	m.bus.Publish(event.Event{
		Type:      event.TypeMockCreated,
		ProxyPort: mk.ProxyPort,
		Payload:   mk.Clone(),
	})
	return nil
}

// CreateMockFromRecord converts a completed request record into a mock of
// its captured response, so observed traffic can be pinned as test data.
func (m *Manager) CreateMockFromRecord(port int, recordID string, replace bool) (*mock.Mock, error) {
	entry := m.entry(port)
	if entry == nil {
		return nil, fmt.Errorf("%w: %d", ErrProxyNotFound, port)
	}
	rec := m.history.Get(recordID)
	if rec == nil {
		return nil, record.ErrRecordNotFound
	}
	if rec.ProxyPort != port {
		return nil, fmt.Errorf("record %s does not belong to proxy %d", recordID, port)
	}
	if !rec.Status.Terminal() || rec.Status != record.StatusSuccess {
		return nil, errors.New("only successful records can become mocks")
	}

	mk := &mock.Mock{
		ProxyPort: port,
		Enabled:   true,
	}
	if entry.cfg.IsDatabase() {
		mk.Key = matching.QueryFingerprint(port, rec.Query, rec.Params)
		mk.Query = rec.Query
		mk.Response = mock.Response{Rows: rec.ResponseRows}
	} else {
		mk.Key = matching.RequestKey(rec.Method, rec.Path, rec.Query)
		mk.Method = rec.Method
		mk.Path = rec.Path
		mk.Response = mock.Response{
			StatusCode: rec.ResponseStatus,
			Headers:    rec.ResponseHeaders,
			Body:       rec.ResponseBody,
		}
	}
	mk.Normalize()

	if err := m.CreateMock(mk, replace); err != nil {
		return nil, err
	}
	return mk, nil
}
