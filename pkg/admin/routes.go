// Route registration for the control API.

package admin

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	// Health and platform status
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)

	// Proxy management
	s.mux.HandleFunc("GET /proxies", s.handleListProxies)
	s.mux.HandleFunc("POST /proxies", s.handleCreateProxy)
	s.mux.HandleFunc("GET /proxies/{port}", s.handleGetProxy)
	s.mux.HandleFunc("PUT /proxies/{port}", s.handleUpdateProxy)
	s.mux.HandleFunc("DELETE /proxies/{port}", s.handleDeleteProxy)
	s.mux.HandleFunc("POST /proxies/{port}/start", s.handleStartProxy)
	s.mux.HandleFunc("POST /proxies/{port}/stop", s.handleStopProxy)
	s.mux.HandleFunc("POST /proxies/{port}/test", s.handleTestProxy)
	s.mux.HandleFunc("GET /proxies/{port}/stats", s.handleProxyStats)

	// Request history
	s.mux.HandleFunc("GET /proxies/{port}/requests", s.handleListRequests)
	s.mux.HandleFunc("GET /proxies/{port}/requests/{id}", s.handleGetRequest)
	s.mux.HandleFunc("POST /proxies/{port}/requests/{id}/mock", s.handleMockFromRequest)

	// Mock management
	s.mux.HandleFunc("GET /proxies/{port}/mocks", s.handleListMocks)
	s.mux.HandleFunc("POST /proxies/{port}/mocks", s.handleCreateMock)
	s.mux.HandleFunc("DELETE /proxies/{port}/mocks/{id}", s.handleDeleteMock)
	s.mux.HandleFunc("POST /proxies/{port}/mocks/{id}/toggle", s.handleToggleMock)
	s.mux.HandleFunc("GET /proxies/{port}/mocks/export", s.handleExportMocks)
	s.mux.HandleFunc("POST /proxies/{port}/mocks/import", s.handleImportMocks)

	// Runtime settings
	s.mux.HandleFunc("PUT /settings/testing-mode", s.handleTestingMode)
	s.mux.HandleFunc("PUT /settings/auto-replace", s.handleAutoReplace)

	// Live event stream
	s.mux.HandleFunc("GET /events/stream", s.handleEventStream)
}
