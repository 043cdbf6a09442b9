package security

import (
	"net"
	"strings"
)

// localhostNames are hostnames that resolve to the local machine without
// touching DNS.
var localhostNames = map[string]bool{
	"localhost":             true,
	"localhost.localdomain": true,
	"ip6-localhost":         true,
	"ip6-loopback":          true,
}

// IsLoopbackHost reports whether host names the local machine. It covers
// localhost variants, the 127.0.0.0/8 range and ::1.
func IsLoopbackHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	if localhostNames[host] || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
