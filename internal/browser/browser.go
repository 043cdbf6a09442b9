// Package browser wraps the Chromium instance each task runs in. The
// browser is pointed at the interception engine and parks on the internal
// shell page between tasks.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"

	"github.com/Charles-Hello/cloudflyer/internal/security"
)

// IdleURL is where the browser parks between tasks. Served by the
// interception engine.
const IdleURL = "https://internals.cloudflyer.com/index"

// Options configures a browser launch.
type Options struct {
	BrowserPath string
	Headless    bool
	// ProxyURL is the interception engine endpoint. Fixed for the life of
	// the browser.
	ProxyURL string
}

// Browser owns one Chromium process and its single working page.
type Browser struct {
	opts Options
	log  zerolog.Logger

	browser *rod.Browser
	page    *rod.Page

	screencast *screencast
}

// New returns an unlaunched browser.
func New(logger zerolog.Logger, opts Options) *Browser {
	return &Browser{opts: opts, log: logger}
}

// createLauncher translates the argument set tuned for challenge solving.
// Flags that headless detection keys on (disable-gpu, disable-dev-shm-usage,
// disable-setuid-sandbox) are deliberately absent.
func createLauncher(opts Options) *launcher.Launcher {
	l := launcher.New()

	if opts.BrowserPath != "" {
		l = l.Bin(opts.BrowserPath)
	}
	if opts.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	l = l.Set("proxy-server", opts.ProxyURL).
		Set("ignore-certificate-errors")

	l = l.Set("no-first-run").
		Set("force-color-profile", "srgb").
		Set("metrics-recording-only").
		Set("disable-background-mode").
		Set("disable-features", "FlashDeprecationWarning,EnablePasswordsAccountStorage").
		Set("accept-lang", "en-US").
		Set("window-size", "512,512").
		Set("disable-infobars").
		Set("window-name", "CloudFlyer").
		Set("disable-sync").
		Set("app", IdleURL).
		Set("lang", "en").
		Set("disable-search-engine-choice-screen").
		Set("no-zygote")

	if !opts.Headless {
		l = l.Set("password-store", "basic").
			Set("use-mock-keychain").
			Set("export-tagged-pdf").
			Set("no-default-browser-check")
	}

	return l
}

// Launch starts Chromium, connects over CDP and parks on the idle shell.
// On a connect failure it runs launch diagnostics before returning the
// error; the task is never retried automatically.
func (b *Browser) Launch(ctx context.Context) error {
	if b.opts.Headless {
		b.log.Warn().Msg("Headless mode is enabled, but it may not work as expected for challenge solving")
	}
	b.log.Debug().Str("proxy", security.RedactProxyURL(b.opts.ProxyURL)).Msg("launching browser")

	l := createLauncher(b.opts)
	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		diagnoseLaunch(b.log, b.opts)
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		diagnoseLaunch(b.log, b.opts)
		return fmt.Errorf("connect browser: %w", err)
	}
	if err := browser.IgnoreCertErrors(true); err != nil {
		b.log.Warn().Err(err).Msg("failed to set IgnoreCertErrors")
	}
	b.browser = browser

	page, err := stealth.Page(browser)
	if err != nil {
		browser.Close()
		return fmt.Errorf("open page: %w", err)
	}
	b.page = page

	if err := b.Navigate(IdleURL, 30*time.Second); err != nil {
		b.log.Warn().Err(err).Msg("failed to park on idle shell")
	}
	return nil
}

// Page returns the working page.
func (b *Browser) Page() *rod.Page { return b.page }

// Navigate loads url and waits for the load event, bounded by timeout.
func (b *Browser) Navigate(url string, timeout time.Duration) error {
	p := b.page.Timeout(timeout)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

// NavigateIdle parks the browser back on the internal shell, ignoring
// errors. Used during cleanup.
func (b *Browser) NavigateIdle() {
	if b.page == nil {
		return
	}
	if err := b.Navigate(IdleURL, 10*time.Second); err != nil {
		b.log.Debug().Err(err).Msg("idle navigation failed")
	}
}

// ClearCache drops the browser cache and cookies.
func (b *Browser) ClearCache() error {
	if err := (proto.NetworkClearBrowserCache{}).Call(b.page); err != nil {
		return err
	}
	return proto.NetworkClearBrowserCookies{}.Call(b.page)
}

// Cookies returns the current page cookies as name to value.
func (b *Browser) Cookies() (map[string]string, error) {
	cookies, err := b.page.Cookies(nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out, nil
}

// UserAgent reports the browser's user agent string.
func (b *Browser) UserAgent() (string, error) {
	version, err := proto.BrowserGetVersion{}.Call(b.browser)
	if err != nil {
		return "", err
	}
	return version.UserAgent, nil
}

// HTML returns the current page markup.
func (b *Browser) HTML() (string, error) {
	return b.page.HTML()
}

// Close stops any active screencast and terminates the browser.
func (b *Browser) Close() {
	if b.screencast != nil {
		b.StopScreencast("unknown", "_shutdown")
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			b.log.Debug().Err(err).Msg("browser close error")
		}
		b.browser = nil
		b.page = nil
	}
}
