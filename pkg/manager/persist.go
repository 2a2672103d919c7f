package manager

import (
	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/event"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
)

// startPersistLoop subscribes to the event bus and schedules debounced
// document writes as traffic and mock changes happen. Returns the cancel
// function that tears the subscription down.
func (m *Manager) startPersistLoop() func() {
	ch, cancel := m.bus.Subscribe()
	go func() {
		for ev := range ch {
			switch ev.Type {
			case event.TypeResponse, event.TypeQueryComplete:
				port := ev.ProxyPort
				m.files.ScheduleSaveRequests(port, func() []*record.Record {
					return m.history.List(port, nil)
				})
			case event.TypeMockCreated, event.TypeMockAutoReplaced:
				port := ev.ProxyPort
				m.files.ScheduleSaveMocks(port, func() []*mock.Mock {
					return m.mocks.List(port)
				})
			}
		}
	}()
	return cancel
}

func (m *Manager) persistProxies() {
	if m.files == nil {
		return
	}
	m.mu.RLock()
	proxies := make([]*config.ProxyConfig, 0, len(m.proxies))
	for _, entry := range m.proxies {
		proxies = append(proxies, entry.cfg)
	}
	m.mu.RUnlock()
	if err := m.files.SaveProxies(proxies); err != nil {
		m.log.Warn("persist proxies failed", "error", err)
	}
}

func (m *Manager) saveMocksNow(port int) {
	if err := m.files.SaveMocks(port, m.mocks.List(port)); err != nil {
		m.log.Warn("persist mocks failed", "port", port, "error", err)
	}
}

func (m *Manager) saveRequestsNow(port int) {
	if err := m.files.SaveRequests(port, m.history.List(port, nil)); err != nil {
		m.log.Warn("persist requests failed", "port", port, "error", err)
	}
}
