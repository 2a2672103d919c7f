package httpproxy

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Target-connectivity error classifications. These are structured results
// for the UI to render actionable guidance, never opaque errors.
const (
	ErrorTypeServiceNotRunning = "SERVICE_NOT_RUNNING"
	ErrorTypeHostNotFound      = "HOST_NOT_FOUND"
	ErrorTypeTimeout           = "TIMEOUT"
	ErrorTypeUnknown           = "UNKNOWN"
)

// ConnectionTest is the diagnostic result of probing a target.
type ConnectionTest struct {
	OK        bool   `json:"ok"`
	ErrorType string `json:"errorType,omitempty"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// TestTarget performs a diagnostic TCP connect to host:port and classifies
// the failure mode. It never hangs: probes that exceed timeout come back
// as TIMEOUT.
func TestTarget(host string, port int, timeout time.Duration) ConnectionTest {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, timeout)
	latency := time.Since(start).Milliseconds()
	if err == nil {
		_ = conn.Close()
		return ConnectionTest{OK: true, LatencyMs: latency}
	}
	return ConnectionTest{
		OK:        false,
		ErrorType: classifyDialError(err),
		Message:   err.Error(),
		LatencyMs: latency,
	}
}

// classifyDialError maps a dial failure onto the diagnostic taxonomy.
func classifyDialError(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorTypeHostNotFound
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorTypeServiceNotRunning
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}
