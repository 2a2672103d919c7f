package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/interceptd/interceptd/pkg/httputil"
	"github.com/interceptd/interceptd/pkg/mock"
)

func (s *Server) handleListMocks(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	httputil.WriteOK(w, s.mgr.Mocks().List(port))
}

func (s *Server) handleCreateMock(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	var mk mock.Mock
	if err := json.NewDecoder(r.Body).Decode(&mk); err != nil {
		httputil.WriteBadRequest(w, "invalid_body", "request body must be a mock")
		return
	}
	mk.ProxyPort = port
	replace := r.URL.Query().Get("replace") == "true"

	if err := s.mgr.CreateMock(&mk, replace); err != nil {
		if errors.Is(err, mock.ErrDuplicateMock) {
			httputil.WriteConflict(w, "duplicate_mock", err.Error())
			return
		}
		s.writeProxyError(w, err)
		return
	}
	httputil.WriteCreated(w, &mk)
}

func (s *Server) handleDeleteMock(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	if err := s.mgr.Mocks().Remove(port, r.PathValue("id")); err != nil {
		httputil.WriteNotFound(w, "mock_not_found", err.Error())
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleToggleMock(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	enabled, err := s.mgr.Mocks().Toggle(port, r.PathValue("id"))
	if err != nil {
		httputil.WriteNotFound(w, "mock_not_found", err.Error())
		return
	}
	httputil.WriteOK(w, map[string]bool{"enabled": enabled})
}

func (s *Server) handleExportMocks(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	data, err := s.mgr.Mocks().Export(port, format)
	if err != nil {
		httputil.WriteInternalError(w, "export_failed", err.Error())
		return
	}
	if format == "yaml" {
		w.Header().Set("Content-Type", "application/yaml")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImportMocks(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_body", "failed to read import document")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	result, err := s.mgr.Mocks().Import(port, data, format, s.log)
	if err != nil {
		httputil.WriteBadRequest(w, "import_failed", err.Error())
		return
	}
	httputil.WriteOK(w, result)
}
