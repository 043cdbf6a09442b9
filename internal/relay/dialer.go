package relay

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/Charles-Hello/cloudflyer/internal/proxycfg"
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// buildChainDialer composes a dialer that traverses the chain first hop to
// last. An empty chain dials directly.
func buildChainDialer(chain proxycfg.Chain) (dialFunc, error) {
	var d proxy.ContextDialer = &net.Dialer{Timeout: 30 * time.Second}
	for _, hop := range chain {
		switch hop.Scheme {
		case "socks5":
			var auth *proxy.Auth
			if hop.Username != "" || hop.Password != "" {
				auth = &proxy.Auth{User: hop.Username, Password: hop.Password}
			}
			pd, err := proxy.SOCKS5("tcp", hop.Addr(), auth, plainDialer{d})
			if err != nil {
				return nil, fmt.Errorf("socks5 hop %s: %w", hop.Addr(), err)
			}
			cd, ok := pd.(proxy.ContextDialer)
			if !ok {
				cd = contextDialer{pd}
			}
			d = cd
		case "http", "https":
			d = &httpConnectDialer{
				addr:       hop.Addr(),
				serverName: hop.Host,
				useTLS:     hop.Scheme == "https",
				auth:       basicProxyAuth(hop),
				forward:    d,
			}
		case "socks4":
			d = &socks4Dialer{addr: hop.Addr(), userid: hop.Username, forward: d}
		default:
			return nil, fmt.Errorf("unsupported chain scheme %q", hop.Scheme)
		}
	}
	return d.DialContext, nil
}

// plainDialer adapts a ContextDialer to the proxy.Dialer shape x/net/proxy
// wants for its forward argument.
type plainDialer struct {
	d proxy.ContextDialer
}

func (p plainDialer) Dial(network, addr string) (net.Conn, error) {
	return p.d.DialContext(context.Background(), network, addr)
}

// contextDialer adapts the other direction.
type contextDialer struct {
	d proxy.Dialer
}

func (c contextDialer) DialContext(_ context.Context, network, addr string) (net.Conn, error) {
	return c.d.Dial(network, addr)
}

func basicProxyAuth(hop *proxycfg.Hop) string {
	if hop.Username == "" && hop.Password == "" {
		return ""
	}
	cred := hop.Username + ":" + hop.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(cred))
}

// httpConnectDialer tunnels through an HTTP(S) proxy with CONNECT.
type httpConnectDialer struct {
	addr       string
	serverName string
	useTLS     bool
	auth       string
	forward    proxy.ContextDialer
}

func (h *httpConnectDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("http proxy supports tcp only, got %q", network)
	}
	conn, err := h.forward.DialContext(ctx, "tcp", h.addr)
	if err != nil {
		return nil, err
	}
	if h.useTLS {
		tc := tls.Client(conn, &tls.Config{ServerName: h.serverName})
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls to proxy %s: %w", h.addr, err)
		}
		conn = tc
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if h.auth != "" {
		req.Header.Set("Proxy-Authorization", h.auth)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy %s refused CONNECT: %s", h.addr, resp.Status)
	}
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// socks4Dialer speaks SOCKS4a to an upstream. The hostname is sent in the
// 4a extension so the proxy resolves it.
type socks4Dialer struct {
	addr    string
	userid  string
	forward proxy.ContextDialer
}

func (s *socks4Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("socks4 proxy supports tcp only, got %q", network)
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	conn, err := s.forward.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port)}
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		req = append(req, ip.To4()...)
		req = append(req, []byte(s.userid)...)
		req = append(req, 0)
	} else {
		req = append(req, 0, 0, 0, 1)
		req = append(req, []byte(s.userid)...)
		req = append(req, 0)
		req = append(req, []byte(host)...)
		req = append(req, 0)
	}
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, err
	}

	var reply [8]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		conn.Close()
		return nil, err
	}
	if reply[1] != socks4Granted {
		conn.Close()
		return nil, fmt.Errorf("socks4 proxy %s rejected connect: %#x", s.addr, reply[1])
	}
	return conn, nil
}
