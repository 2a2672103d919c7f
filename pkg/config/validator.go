package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrCircularTarget is returned when a proxy's target resolves back to its
// own listen port on loopback, which would create a forwarding cycle.
var ErrCircularTarget = errors.New("target resolves to the proxy's own listen port")

// loopbackNames are hostnames treated as the local machine without resolving.
var loopbackNames = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
	"0.0.0.0":   true,
}

// IsLoopbackHost reports whether host names the local machine.
func IsLoopbackHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if loopbackNames[h] {
		return true
	}
	if ip := net.ParseIP(h); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}

// Validate checks a proxy configuration for structural and cycle errors.
// It must be called before any socket is opened.
func (p *ProxyConfig) Validate() error {
	if p.ListenPort < 1 || p.ListenPort > 65535 {
		return fmt.Errorf("proxy %q: listenPort %d out of range", p.Name, p.ListenPort)
	}
	if p.TargetHost == "" {
		return fmt.Errorf("proxy %q: targetHost is required", p.Name)
	}
	if p.TargetPort < 1 || p.TargetPort > 65535 {
		return fmt.Errorf("proxy %q: targetPort %d out of range", p.Name, p.TargetPort)
	}
	switch p.Protocol {
	case ProtocolHTTP, ProtocolPostgres, ProtocolMySQL, ProtocolMongo:
	default:
		return fmt.Errorf("proxy %q: unknown protocol %q", p.Name, p.Protocol)
	}
	if p.TargetPort == p.ListenPort && IsLoopbackHost(p.TargetHost) {
		return fmt.Errorf("proxy %q: %w", p.Name, ErrCircularTarget)
	}
	return nil
}

// Validate checks the whole configuration, including duplicate listen ports.
func (c *Config) Validate() error {
	seen := make(map[int]string, len(c.Proxies))
	for _, p := range c.Proxies {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			return err
		}
		if other, dup := seen[p.ListenPort]; dup {
			return fmt.Errorf("proxies %q and %q share listen port %d", other, p.Name, p.ListenPort)
		}
		seen[p.ListenPort] = p.Name
	}
	return nil
}
