// Package relay implements the per-instance local proxy relay. One listener
// accepts HTTP, SOCKS4 and SOCKS5 clients, authenticates them with
// per-instance credentials, and forwards traffic through the currently bound
// upstream chain. The chain can be swapped at any time without dropping the
// listener.
package relay

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	socks5 "github.com/armon/go-socks5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Charles-Hello/cloudflyer/internal/proxycfg"
)

// binding pairs an upstream chain with the dialer and SOCKS5 server built
// for it. Swapped atomically as a unit.
type binding struct {
	canonical string
	chain     proxycfg.Chain
	dial      dialFunc
	socks     *socks5.Server
}

// Relay is the local multi-protocol proxy.
type Relay struct {
	username string
	password string
	log      zerolog.Logger

	ln       net.Listener
	binding  atomic.Pointer[binding]
	restarts atomic.Int64
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// New creates a relay with freshly generated credentials and a direct
// (chainless) upstream binding.
func New(logger zerolog.Logger) *Relay {
	r := &Relay{
		username: "relay-" + uuid.NewString()[:8],
		password: uuid.NewString(),
		log:      logger,
	}
	b, _ := r.buildBinding(nil)
	r.binding.Store(b)
	return r
}

// Credentials returns the username and password clients must present.
func (r *Relay) Credentials() (string, string) {
	return r.username, r.password
}

// Start binds the listener on a random loopback port and begins serving.
func (r *Relay) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("relay listen: %w", err)
	}
	r.ln = ln
	r.wg.Add(1)
	go r.serve()
	r.log.Info().Str("addr", r.Addr()).Msg("proxy relay started")
	return nil
}

// Addr returns host:port of the listener. Empty before Start.
func (r *Relay) Addr() string {
	if r.ln == nil {
		return ""
	}
	return r.ln.Addr().String()
}

// URL returns the relay endpoint as an authenticated http proxy URL.
func (r *Relay) URL() string {
	return fmt.Sprintf("http://%s:%s@%s", r.username, r.password, r.Addr())
}

// RestartCount reports how many times the upstream binding actually changed.
func (r *Relay) RestartCount() int64 {
	return r.restarts.Load()
}

// Chain returns the currently bound upstream chain.
func (r *Relay) Chain() proxycfg.Chain {
	return r.binding.Load().chain
}

// SetUpstreamChain rebinds the relay to a new upstream chain. Passing a
// chain whose canonical form equals the current one is a no-op.
func (r *Relay) SetUpstreamChain(chain proxycfg.Chain) error {
	canonical := chain.Canonical()
	if cur := r.binding.Load(); cur != nil && cur.canonical == canonical {
		return nil
	}
	b, err := r.buildBinding(chain)
	if err != nil {
		return err
	}
	r.binding.Store(b)
	r.restarts.Add(1)
	r.log.Info().Str("upstream", chain.Redacted()).Msg("relay upstream chain swapped")
	return nil
}

func (r *Relay) buildBinding(chain proxycfg.Chain) (*binding, error) {
	dial, err := buildChainDialer(chain)
	if err != nil {
		return nil, err
	}
	conf := &socks5.Config{
		Credentials: socks5.StaticCredentials{r.username: r.password},
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dial(ctx, network, addr)
		},
	}
	srv, err := socks5.New(conf)
	if err != nil {
		return nil, fmt.Errorf("socks5 server: %w", err)
	}
	return &binding{
		canonical: chain.Canonical(),
		chain:     chain,
		dial:      dial,
		socks:     srv,
	}, nil
}

// Close shuts the listener down and waits for the accept loop.
func (r *Relay) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if r.ln != nil {
		err = r.ln.Close()
	}
	r.wg.Wait()
	return err
}

func (r *Relay) serve() {
	defer r.wg.Done()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if r.closed.Load() {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Debug().Err(err).Msg("relay accept error")
			continue
		}
		go r.handleConn(conn)
	}
}

// handleConn sniffs the first byte to pick the protocol. 0x05 is SOCKS5,
// 0x04 is SOCKS4; anything else is treated as HTTP.
func (r *Relay) handleConn(conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	first, err := br.Peek(1)
	if err != nil {
		return
	}
	bc := &bufferedConn{Conn: conn, r: br}

	b := r.binding.Load()
	switch first[0] {
	case 0x05:
		if err := b.socks.ServeConn(bc); err != nil {
			r.log.Debug().Err(err).Msg("socks5 session ended with error")
		}
	case 0x04:
		if err := r.handleSOCKS4(bc, b); err != nil {
			r.log.Debug().Err(err).Msg("socks4 session ended with error")
		}
	default:
		if err := r.handleHTTP(bc, br, b); err != nil {
			r.log.Debug().Err(err).Msg("http session ended with error")
		}
	}
}

// bufferedConn replays bytes already pulled into the bufio reader.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

const (
	socks4Granted  = 0x5a
	socks4Rejected = 0x5b
)

// handleSOCKS4 serves a single SOCKS4/4a CONNECT. The userid field must
// match the relay username.
func (r *Relay) handleSOCKS4(conn net.Conn, b *binding) error {
	var head [8]byte
	if _, err := io.ReadFull(conn, head[:]); err != nil {
		return err
	}
	if head[0] != 0x04 || head[1] != 0x01 {
		return fmt.Errorf("unsupported socks4 request %x/%x", head[0], head[1])
	}
	port := int(head[2])<<8 | int(head[3])

	userid, err := readCString(conn)
	if err != nil {
		return err
	}

	var host string
	if head[4] == 0 && head[5] == 0 && head[6] == 0 && head[7] != 0 {
		// SOCKS4a: the hostname follows the userid.
		host, err = readCString(conn)
		if err != nil {
			return err
		}
	} else {
		host = net.IPv4(head[4], head[5], head[6], head[7]).String()
	}

	reply := [8]byte{0, socks4Granted, head[2], head[3], head[4], head[5], head[6], head[7]}
	if userid != r.username {
		reply[1] = socks4Rejected
		conn.Write(reply[:])
		return fmt.Errorf("socks4 auth rejected for userid %q", userid)
	}

	upstream, err := b.dial(context.Background(), "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		reply[1] = socks4Rejected
		conn.Write(reply[:])
		return err
	}
	defer upstream.Close()

	if _, err := conn.Write(reply[:]); err != nil {
		return err
	}
	pipe(conn, upstream)
	return nil
}

// handleHTTP serves proxy-style HTTP: CONNECT tunnels and absolute-form
// plain requests. Requests without valid proxy credentials get a 407.
func (r *Relay) handleHTTP(conn net.Conn, br *bufio.Reader, b *binding) error {
	req, err := http.ReadRequest(br)
	if err != nil {
		return err
	}
	defer req.Body.Close()

	if !r.checkProxyAuth(req) {
		resp := "HTTP/1.1 407 Proxy Authentication Required\r\n" +
			"Proxy-Authenticate: Basic realm=\"relay\"\r\n" +
			"Content-Length: 0\r\n\r\n"
		conn.Write([]byte(resp))
		return fmt.Errorf("proxy auth failed")
	}

	if req.Method == http.MethodConnect {
		upstream, err := b.dial(req.Context(), "tcp", req.Host)
		if err != nil {
			conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\nContent-Length: 0\r\n\r\n"))
			return err
		}
		defer upstream.Close()
		if _, err := conn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
			return err
		}
		pipe(conn, upstream)
		return nil
	}

	// Absolute-form request: forward it to the origin in origin form.
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	if !strings.Contains(host, ":") {
		host += ":80"
	}
	upstream, err := b.dial(req.Context(), "tcp", host)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\nContent-Length: 0\r\n\r\n"))
		return err
	}
	defer upstream.Close()

	req.RequestURI = ""
	req.URL.Scheme = ""
	req.URL.Host = ""
	req.Header.Del("Proxy-Authorization")
	req.Header.Del("Proxy-Connection")
	if err := req.Write(upstream); err != nil {
		return err
	}
	pipe(conn, upstream)
	return nil
}

func (r *Relay) checkProxyAuth(req *http.Request) bool {
	auth := req.Header.Get("Proxy-Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return false
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	return ok && user == r.username && pass == r.password
}

func readCString(conn net.Conn) (string, error) {
	var sb strings.Builder
	var b [1]byte
	for {
		if _, err := conn.Read(b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return sb.String(), nil
		}
		if sb.Len() > 255 {
			return "", fmt.Errorf("socks4 string field too long")
		}
		sb.WriteByte(b[0])
	}
}

// pipe copies both directions and returns once either side closes. The
// caller's deferred Close calls unblock the remaining copier.
func pipe(a, b net.Conn) {
	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		io.Copy(dst, src)
		if tc, ok := dst.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		done <- struct{}{}
	}
	go cp(a, b)
	go cp(b, a)
	<-done
}
