// Package instance ties one browser, its interception engine and its proxy
// stack together, and runs challenge sessions on top of them.
package instance

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Charles-Hello/cloudflyer/internal/browser"
	"github.com/Charles-Hello/cloudflyer/internal/intercept"
	"github.com/Charles-Hello/cloudflyer/internal/proxycfg"
	"github.com/Charles-Hello/cloudflyer/internal/relay"
	"github.com/Charles-Hello/cloudflyer/internal/tunnel"
	"github.com/Charles-Hello/cloudflyer/internal/types"
)

// Options configures one instance.
type Options struct {
	Headless    bool
	BrowserPath string

	// UseFingerprintTunnel inserts the TLS-fingerprint tunnel between the
	// interception engine and the proxy relay.
	UseFingerprintTunnel bool

	// DefaultProxy is the enforced first hop for all task traffic, or empty
	// for direct egress.
	DefaultProxy string

	// AllowLocalProxy permits task proxies on loopback addresses.
	AllowLocalProxy bool

	// ProbeURL overrides the network probe endpoint. Used by tests.
	ProbeURL string
}

// Instance owns one browser and the proxy stack it runs behind. The stack
// is built once at Start; only the relay's upstream chain changes per task.
type Instance struct {
	opts Options
	log  zerolog.Logger

	defaultHop *proxycfg.Hop

	relay   *relay.Relay
	tunnel  *tunnel.Hazetunnel
	engine  *intercept.Engine
	browser *browser.Browser
}

// New builds an unstarted instance. The default proxy, if configured, is
// parsed here so a bad value fails startup rather than the first task.
func New(logger zerolog.Logger, opts Options) (*Instance, error) {
	in := &Instance{opts: opts, log: logger}
	if opts.DefaultProxy != "" {
		hop, err := proxycfg.Parse(opts.DefaultProxy)
		if err != nil {
			return nil, fmt.Errorf("default proxy: %w", err)
		}
		in.defaultHop = hop
	}
	return in, nil
}

// Start brings the stack up in dependency order: relay, fingerprint tunnel,
// interception engine, browser.
func (in *Instance) Start(ctx context.Context) error {
	in.relay = relay.New(in.log)
	if err := in.relay.Start(ctx); err != nil {
		return err
	}
	if in.defaultHop != nil {
		if err := in.relay.SetUpstreamChain(proxycfg.Chain{in.defaultHop}); err != nil {
			in.Close()
			return fmt.Errorf("bind default proxy: %w", err)
		}
	}

	engineUpstream := in.relay.URL()
	if in.opts.UseFingerprintTunnel {
		tun, err := tunnel.NewHazetunnel(in.log)
		if err != nil {
			in.Close()
			return err
		}
		user, pass := in.relay.Credentials()
		tun.Username = user
		tun.Password = pass
		tun.SetUpstream(in.relay.URL())
		if err := tun.Start(); err != nil {
			in.log.Warn().Err(err).Msg("fingerprint tunnel unavailable, connecting to relay directly")
		} else {
			in.tunnel = tun
			engineUpstream = fmt.Sprintf("http://%s:%s@%s", user, pass, tun.Addr())
		}
	}

	engine, err := intercept.NewEngine(in.log, engineUpstream)
	if err != nil {
		in.Close()
		return err
	}
	if err := engine.Start(ctx); err != nil {
		in.Close()
		return err
	}
	in.engine = engine

	in.browser = browser.New(in.log, browser.Options{
		BrowserPath: in.opts.BrowserPath,
		Headless:    in.opts.Headless,
		ProxyURL:    "http://" + engine.Addr(),
	})
	if err := in.browser.Launch(ctx); err != nil {
		in.Close()
		return fmt.Errorf("%w: %v", types.ErrBrowserLaunch, err)
	}

	in.log.Info().Msg("instance ready")
	return nil
}

// Close tears the stack down in reverse order. Safe to call on a partially
// started instance.
func (in *Instance) Close() {
	if in.browser != nil {
		in.browser.Close()
		in.browser = nil
	}
	if in.engine != nil {
		in.engine.Close()
		in.engine = nil
	}
	if in.tunnel != nil {
		in.tunnel.Stop()
		in.tunnel = nil
	}
	if in.relay != nil {
		in.relay.Close()
		in.relay = nil
	}
}
