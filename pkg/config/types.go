// Package config defines proxy configuration types, loading, and validation.
package config

import "time"

// Protocol identifies the wire protocol a proxy intercepts.
type Protocol string

const (
	ProtocolHTTP     Protocol = "http"
	ProtocolPostgres Protocol = "postgresql"
	ProtocolMySQL    Protocol = "mysql"
	ProtocolMongo    Protocol = "mongodb"
)

// Default bounds applied when a proxy config leaves them unset.
const (
	DefaultMaxRequestHistory = 500
	DefaultMaxMockHistory    = 200
	DefaultDedupWindow       = 500 * time.Millisecond
	DefaultConnectTimeout    = 3 * time.Second
)

// DedupConfig controls collapsing of near-simultaneous identical queries.
type DedupConfig struct {
	// Enabled toggles deduplication. When false every query produces its
	// own request record regardless of timing.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// WindowMs is the dedup window in milliseconds. Zero means the default.
	WindowMs int `json:"windowMs,omitempty" yaml:"windowMs,omitempty"`
}

// Window returns the dedup window as a duration.
func (d DedupConfig) Window() time.Duration {
	if d.WindowMs <= 0 {
		return DefaultDedupWindow
	}
	return time.Duration(d.WindowMs) * time.Millisecond
}

// ProxyConfig is the identity of one proxy instance. The listen port is the
// unique key across the whole platform.
type ProxyConfig struct {
	// Name is a human-readable label.
	Name string `json:"name" yaml:"name"`

	// ListenPort is the local port the proxy binds.
	ListenPort int `json:"listenPort" yaml:"listenPort"`

	// TargetHost is the backend host to forward to.
	TargetHost string `json:"targetHost" yaml:"targetHost"`

	// TargetPort is the backend port to forward to.
	TargetPort int `json:"targetPort" yaml:"targetPort"`

	// Protocol is the intercepted wire protocol.
	Protocol Protocol `json:"protocol" yaml:"protocol"`

	// Enabled indicates whether the proxy should be running.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxRequestHistory bounds the per-proxy request history (FIFO evicted).
	MaxRequestHistory int `json:"maxRequestHistory,omitempty" yaml:"maxRequestHistory,omitempty"`

	// MaxMockHistory bounds the per-proxy mock store (FIFO evicted).
	MaxMockHistory int `json:"maxMockHistory,omitempty" yaml:"maxMockHistory,omitempty"`

	// MatchPathFamilies opts the HTTP matcher into parameterized-path
	// matching (/cars/1 and /cars/2 share one mock). Exact matching stays
	// the default.
	MatchPathFamilies bool `json:"matchPathFamilies,omitempty" yaml:"matchPathFamilies,omitempty"`

	// Dedup configures query deduplication for database proxies.
	Dedup DedupConfig `json:"dedup,omitempty" yaml:"dedup,omitempty"`
}

// ApplyDefaults fills unset bounds with platform defaults.
func (p *ProxyConfig) ApplyDefaults() {
	if p.MaxRequestHistory <= 0 {
		p.MaxRequestHistory = DefaultMaxRequestHistory
	}
	if p.MaxMockHistory <= 0 {
		p.MaxMockHistory = DefaultMaxMockHistory
	}
	if p.Protocol == "" {
		p.Protocol = ProtocolHTTP
	}
}

// IsDatabase reports whether the proxy intercepts a database protocol.
func (p *ProxyConfig) IsDatabase() bool {
	switch p.Protocol {
	case ProtocolPostgres, ProtocolMySQL, ProtocolMongo:
		return true
	}
	return false
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// AdminConfig configures the control API.
type AdminConfig struct {
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
}

// Config is the top-level platform configuration document.
type Config struct {
	Proxies []*ProxyConfig `json:"proxies" yaml:"proxies"`
	Admin   AdminConfig    `json:"admin,omitempty" yaml:"admin,omitempty"`
	Logging LoggingConfig  `json:"logging,omitempty" yaml:"logging,omitempty"`

	// DataDir is where per-proxy history and mock documents are persisted.
	// Empty disables persistence.
	DataDir string `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`

	// AutoReplace enables replacing stale mocks with live responses when
	// drift is detected.
	AutoReplace bool `json:"autoReplace,omitempty" yaml:"autoReplace,omitempty"`
}
