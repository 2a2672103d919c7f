package admin

import (
	"net/http"
	"strconv"

	"github.com/interceptd/interceptd/pkg/httputil"
	"github.com/interceptd/interceptd/pkg/record"
)

// parseRequestFilter builds a history filter from query parameters.
func parseRequestFilter(r *http.Request) *record.Filter {
	q := r.URL.Query()
	f := &record.Filter{
		Method:     q.Get("method"),
		PathPrefix: q.Get("path"),
		MockedOnly: q.Get("mocked") == "true",
	}
	if st := q.Get("status"); st != "" {
		f.Status = record.Status(st)
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}
	return f
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	httputil.WriteOK(w, s.mgr.History().List(port, parseRequestFilter(r)))
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if _, err := portParam(r); err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	rec := s.mgr.History().Get(r.PathValue("id"))
	if rec == nil {
		httputil.WriteNotFound(w, "record_not_found", "no such request record")
		return
	}
	httputil.WriteOK(w, rec)
}

func (s *Server) handleMockFromRequest(w http.ResponseWriter, r *http.Request) {
	port, err := portParam(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_port", err.Error())
		return
	}
	replace := r.URL.Query().Get("replace") == "true"
	mk, err := s.mgr.CreateMockFromRecord(port, r.PathValue("id"), replace)
	if err != nil {
		s.writeProxyError(w, err)
		return
	}
	httputil.WriteCreated(w, mk)
}
