// Package proxycfg models upstream proxy hops and chains. A hop can arrive
// as a structured object or a URL string; both normalize to the same
// canonical form so equality checks and hot-swap idempotence work.
package proxycfg

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/Charles-Hello/cloudflyer/internal/security"
)

// Schemes accepted for a hop. socks5h collapses to socks5: remote DNS is
// how the chain dialer resolves anyway.
var validSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks4": true,
	"socks5": true,
}

// Hop is one upstream proxy.
type Hop struct {
	Scheme   string `json:"scheme"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Parse builds a Hop from scheme://[user:pass@]host:port form.
func Parse(raw string) (*Hop, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	h := &Hop{
		Scheme: strings.ToLower(u.Scheme),
		Host:   u.Hostname(),
	}
	if u.User != nil {
		h.Username = u.User.Username()
		h.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		h.Port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy port %q", p)
		}
	}
	if err := h.normalize(); err != nil {
		return nil, err
	}
	return h, nil
}

// UnmarshalJSON accepts either a URL string or a structured object.
func (h *Hop) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := Parse(s)
		if err != nil {
			return err
		}
		*h = *parsed
		return nil
	}
	type plain Hop
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*h = Hop(p)
	return h.normalize()
}

func (h *Hop) normalize() error {
	h.Scheme = strings.ToLower(h.Scheme)
	if h.Scheme == "socks5h" {
		h.Scheme = "socks5"
	}
	if h.Scheme == "" {
		h.Scheme = "http"
	}
	if !validSchemes[h.Scheme] {
		return fmt.Errorf("unsupported proxy scheme %q", h.Scheme)
	}
	if h.Port == 0 {
		switch h.Scheme {
		case "http":
			h.Port = 80
		case "https":
			h.Port = 443
		default:
			return fmt.Errorf("proxy port is required for %s", h.Scheme)
		}
	}
	return nil
}

// Validate checks the hop fields.
func (h *Hop) Validate() error {
	if err := h.normalize(); err != nil {
		return err
	}
	if h.Host == "" {
		return fmt.Errorf("proxy host is required")
	}
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("proxy port %d out of range", h.Port)
	}
	return nil
}

// Addr returns host:port.
func (h *Hop) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// Canonical returns the normalized URL form including credentials. Two hops
// with the same canonical form are interchangeable.
func (h *Hop) Canonical() string {
	var b strings.Builder
	b.WriteString(h.Scheme)
	b.WriteString("://")
	if h.Username != "" || h.Password != "" {
		b.WriteString(url.QueryEscape(h.Username))
		b.WriteByte(':')
		b.WriteString(url.QueryEscape(h.Password))
		b.WriteByte('@')
	}
	b.WriteString(h.Addr())
	return b.String()
}

// Redacted returns the canonical form with credentials masked, safe for
// logs.
func (h *Hop) Redacted() string {
	if h.Username == "" && h.Password == "" {
		return h.Canonical()
	}
	return h.Scheme + "://***:***@" + h.Addr()
}

// IsLoopback reports whether the hop points at a loopback address.
func (h *Hop) IsLoopback() bool {
	return security.IsLoopbackHost(h.Host)
}

// Chain is an ordered list of hops, dialed first to last.
type Chain []*Hop

// Canonical returns a comma-joined canonical form of the chain. An empty
// chain yields the empty string, meaning direct.
func (c Chain) Canonical() string {
	if len(c) == 0 {
		return ""
	}
	parts := make([]string, len(c))
	for i, h := range c {
		parts[i] = h.Canonical()
	}
	return strings.Join(parts, ",")
}

// Redacted returns the chain form with credentials masked.
func (c Chain) Redacted() string {
	if len(c) == 0 {
		return "direct"
	}
	parts := make([]string, len(c))
	for i, h := range c {
		parts[i] = h.Redacted()
	}
	return strings.Join(parts, ",")
}
