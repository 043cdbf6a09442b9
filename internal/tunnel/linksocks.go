package tunnel

import (
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Charles-Hello/cloudflyer/internal/tools"
	"github.com/Charles-Hello/cloudflyer/internal/types"
)

// LinkSocks runs the tunnel-relay client process. It exposes a local SOCKS
// port whose traffic exits through the remote relay.
type LinkSocks struct {
	// BinaryPath overrides binary resolution when set. Used by tests.
	BinaryPath string

	port int
	proc *process
	log  zerolog.Logger
}

// NewLinkSocks returns an idle client.
func NewLinkSocks(logger zerolog.Logger) *LinkSocks {
	return &LinkSocks{log: logger}
}

// Addr returns the local SOCKS address. Empty before a successful Start.
func (l *LinkSocks) Addr() string {
	if l.port == 0 {
		return ""
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(l.port))
}

// Port returns the local SOCKS port.
func (l *LinkSocks) Port() int { return l.port }

// Start connects to the relay at url with the given token and verifies the
// client survives the grace period.
func (l *LinkSocks) Start(token, url string) error {
	if l.proc != nil && l.proc.running() {
		return fmt.Errorf("linksocks client already running")
	}

	exe := l.BinaryPath
	if exe == "" {
		var err error
		exe, err = tools.Ensure("linksocks")
		if err != nil {
			return fmt.Errorf("resolve linksocks: %w", err)
		}
	}

	port, err := freePort()
	if err != nil {
		return err
	}

	args := []string{
		"client",
		"-t", token,
		"-u", url,
		"-T", "1",
		"-p", strconv.Itoa(port),
		"-d",
	}
	proc, err := startProcess(l.log, "linksocks", exe, args, "")
	if err != nil {
		return fmt.Errorf("start linksocks: %w", err)
	}
	if !proc.aliveAfter(linksocksGrace) {
		return types.ErrTunnelUnhealthy
	}

	l.proc = proc
	l.port = port
	l.log.Info().Str("addr", l.Addr()).Msg("linksocks client started")
	return nil
}

// Stop terminates the client if it is running.
func (l *LinkSocks) Stop() {
	if l.proc != nil {
		l.proc.stop()
		l.proc = nil
	}
	l.port = 0
}
