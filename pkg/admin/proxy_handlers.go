package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/dbproxy"
	"github.com/interceptd/interceptd/pkg/httpproxy"
	"github.com/interceptd/interceptd/pkg/httputil"
	"github.com/interceptd/interceptd/pkg/manager"
)

// portParam extracts and validates the {port} path value.
func portParam(r *http.Request) (int, error) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil || port <= 0 {
		return 0, errors.New("invalid port")
	}
	return port, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, map[string]any{
		"proxies":     len(s.mgr.Ports()),
		"testingMode": s.mgr.TestingMode(),
		"autoReplace": s.mgr.AutoReplace(),
		"subscribers": s.mgr.Bus().SubscriberCount(),
	})
}

func (s *Server) handleListProxies(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, s.mgr.ListProxies())
}

func (s *Server) handleCreateProxy(w http.ResponseWriter, r *http.Request) {
	var pc config.ProxyConfig
	if err := json.NewDecoder(r.Body).Decode(&pc); err != nil {
		httputil.WriteBadRequest(w, "invalid_body", "request body must be a proxy config")
		return
	}
	if err := s.mgr.CreateProxy(&pc); err != nil {
		s.writeProxyError(w, err)
		return
	}
	st, err := s.mgr.GetProxy(pc.ListenPort)
	if err != nil {
		httputil.WriteInternalError(w, "internal", err.Error())
		return
	}
	httputil.WriteCreated(w, st)
}

func (s *Server) handleGetProxy(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	st, err := s.mgr.GetProxy(port)
	if err != nil {
		s.writeProxyError(w, err)
		return
	}
	httputil.WriteOK(w, st)
}

func (s *Server) handleUpdateProxy(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	var pc config.ProxyConfig
	if err := json.NewDecoder(r.Body).Decode(&pc); err != nil {
		httputil.WriteBadRequest(w, "invalid_body", "request body must be a proxy config")
		return
	}
	if err := s.mgr.UpdateProxy(port, &pc); err != nil {
		s.writeProxyError(w, err)
		return
	}
	st, err := s.mgr.GetProxy(port)
	if err != nil {
		httputil.WriteInternalError(w, "internal", err.Error())
		return
	}
	httputil.WriteOK(w, st)
}

func (s *Server) handleDeleteProxy(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	if err := s.mgr.DeleteProxy(port); err != nil {
		s.writeProxyError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleStartProxy(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	if err := s.mgr.StartProxy(port); err != nil {
		s.writeProxyError(w, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"port": port, "running": true})
}

func (s *Server) handleStopProxy(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	if err := s.mgr.StopProxy(port); err != nil {
		s.writeProxyError(w, err)
		return
	}
	httputil.WriteOK(w, map[string]any{"port": port, "running": false})
}

func (s *Server) handleTestProxy(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	result, err := s.mgr.TestConnection(port)
	if err != nil {
		s.writeProxyError(w, err)
		return
	}
	httputil.WriteOK(w, result)
}

func (s *Server) handleProxyStats(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	if _, err := s.mgr.GetProxy(port); err != nil {
		s.writeProxyError(w, err)
		return
	}
	httputil.WriteOK(w, s.mgr.History().StatsFor(port))
}

type settingBody struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleTestingMode(w http.ResponseWriter, r *http.Request) {
	var body settingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteBadRequest(w, "invalid_body", `expected {"enabled": bool}`)
		return
	}
	s.mgr.SetTestingMode(body.Enabled)
	httputil.WriteOK(w, map[string]bool{"testingMode": body.Enabled})
}

func (s *Server) handleAutoReplace(w http.ResponseWriter, r *http.Request) {
	var body settingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteBadRequest(w, "invalid_body", `expected {"enabled": bool}`)
		return
	}
	s.mgr.SetAutoReplace(body.Enabled)
	httputil.WriteOK(w, map[string]bool{"autoReplace": body.Enabled})
}

// writeProxyError maps manager and engine errors onto API status codes.
func (s *Server) writeProxyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrProxyNotFound):
		httputil.WriteNotFound(w, "proxy_not_found", err.Error())
	case errors.Is(err, manager.ErrProxyExists):
		httputil.WriteConflict(w, "proxy_exists", err.Error())
	case errors.Is(err, httpproxy.ErrPortInUse), errors.Is(err, dbproxy.ErrPortInUse):
		httputil.WriteConflict(w, "port_in_use", err.Error())
	case errors.Is(err, httpproxy.ErrAlreadyRunning), errors.Is(err, dbproxy.ErrAlreadyRunning):
		httputil.WriteConflict(w, "already_running", err.Error())
	case errors.Is(err, httpproxy.ErrNotRunning), errors.Is(err, dbproxy.ErrNotRunning):
		httputil.WriteConflict(w, "not_running", err.Error())
	case errors.Is(err, config.ErrCircularTarget):
		httputil.WriteBadRequest(w, "circular_target", err.Error())
	default:
		httputil.WriteBadRequest(w, "invalid_request", err.Error())
	}
}
