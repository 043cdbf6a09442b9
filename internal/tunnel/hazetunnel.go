package tunnel

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Charles-Hello/cloudflyer/internal/tools"
	"github.com/Charles-Hello/cloudflyer/internal/types"
)

// startGrace is how long a child gets to prove it can stay up.
const (
	hazetunnelGrace = 2 * time.Second
	linksocksGrace  = 3 * time.Second
)

// Hazetunnel runs the TLS-fingerprint tunnel process. It listens on a
// loopback port and forwards to the configured upstream proxy.
type Hazetunnel struct {
	// BinaryPath overrides binary resolution when set. Used by tests.
	BinaryPath string

	UserAgent string
	Payload   string
	Username  string
	Password  string

	port     int
	upstream string
	workDir  string
	proc     *process
	log      zerolog.Logger
}

// NewHazetunnel picks a free port for the tunnel listener.
func NewHazetunnel(logger zerolog.Logger) (*Hazetunnel, error) {
	port, err := freePort()
	if err != nil {
		return nil, err
	}
	return &Hazetunnel{port: port, log: logger}, nil
}

// Addr returns the tunnel's listen address.
func (h *Hazetunnel) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(h.port))
}

// SetUpstream points the tunnel at an upstream proxy URL. Must be called
// before Start.
func (h *Hazetunnel) SetUpstream(proxyURL string) {
	h.upstream = proxyURL
}

// Start launches the tunnel and verifies it survives the grace period.
func (h *Hazetunnel) Start() error {
	if h.proc != nil && h.proc.running() {
		return fmt.Errorf("fingerprint tunnel already running")
	}

	exe := h.BinaryPath
	if exe == "" {
		var err error
		exe, err = tools.Ensure("hazetunnel")
		if err != nil {
			return fmt.Errorf("resolve hazetunnel: %w", err)
		}
	}

	workDir, err := os.MkdirTemp("", "hazetunnel-*")
	if err != nil {
		return err
	}
	h.workDir = workDir

	args := []string{"--addr", "127.0.0.1", "--port", strconv.Itoa(h.port)}
	if h.upstream != "" {
		args = append(args, "--upstream-proxy", h.upstream)
	}
	if h.Username != "" {
		args = append(args, "--username", h.Username)
	}
	if h.Password != "" {
		args = append(args, "--password", h.Password)
	}
	if h.UserAgent != "" {
		args = append(args, "--user-agent", h.UserAgent)
	}
	if h.Payload != "" {
		args = append(args, "--payload", h.Payload)
	}
	args = append(args, "--verbose")

	proc, err := startProcess(h.log, "hazetunnel", exe, args, workDir)
	if err != nil {
		os.RemoveAll(workDir)
		return fmt.Errorf("start hazetunnel: %w", err)
	}
	if !proc.aliveAfter(hazetunnelGrace) {
		os.RemoveAll(workDir)
		return types.ErrTunnelUnhealthy
	}

	h.proc = proc
	h.log.Info().Str("addr", h.Addr()).Msg("fingerprint tunnel started")
	return nil
}

// Stop terminates the tunnel and removes its work dir.
func (h *Hazetunnel) Stop() {
	if h.proc != nil {
		h.proc.stop()
		h.proc = nil
	}
	if h.workDir != "" {
		os.RemoveAll(h.workDir)
		h.workDir = ""
	}
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
