// Package intercept implements the MITM interception engine the browser is
// pointed at. It rewrites traffic for the active challenge task: swapping
// challenge pages in, catching posted results, blocking oversized and
// telemetry responses, and replaying cached static assets.
package intercept

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/elazarl/goproxy"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"github.com/Charles-Hello/cloudflyer/internal/assets"
)

// InternalHost is the reserved hostname the engine answers itself. The
// browser parks on it between tasks and challenge pages post results to it.
const InternalHost = "internals.cloudflyer.com"

// responseSizeLimit is the declared Content-Length ceiling.
const responseSizeLimit = 5 * 1024 * 1024

// blockedTelemetryHosts get a synthetic 404 so the browser does not leak
// update and safebrowsing traffic through the task proxy.
var blockedTelemetryHosts = []string{
	"android.clients.google.com",
	"optimizationguide-pa.googleapis.com",
	"clients2.google.com",
	"safebrowsingohttpgateway.googleapis.com",
	"clientservices.googleapis.com",
}

var redirectStatuses = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// Engine is the per-instance interception proxy.
type Engine struct {
	log   zerolog.Logger
	proxy *goproxy.ProxyHttpServer
	ln    net.Listener

	mailbox Mailbox
	cache   *ttlcache.Cache[string, *cachedResponse]

	mu               sync.RWMutex
	userAgent        string
	cloudflareHost   string
	challengeMarkers []string
	turnstileHost    string
	turnstileSiteKey string
	recaptchaHost    string
	recaptchaSiteKey string
	recaptchaAction  string
}

// NewEngine builds an engine that forwards outbound traffic through the
// upstream proxy URL (the fingerprint tunnel or the relay).
func NewEngine(logger zerolog.Logger, upstreamURL string) (*Engine, error) {
	upstream, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("upstream url: %w", err)
	}

	e := &Engine{
		log:   logger,
		cache: newAssetCache(),
	}

	p := goproxy.NewProxyHttpServer()
	p.Verbose = false
	p.Tr = &http.Transport{
		Proxy:           http.ProxyURL(upstream),
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	p.OnRequest().HandleConnect(goproxy.AlwaysMitm)
	p.OnRequest().DoFunc(e.handleRequest)
	p.OnResponse().DoFunc(e.handleResponse)
	e.proxy = p

	return e, nil
}

// Start binds the engine on a random loopback port.
func (e *Engine) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("engine listen: %w", err)
	}
	e.ln = ln
	go e.cache.Start()
	go http.Serve(ln, e.proxy)
	e.log.Info().Str("addr", e.Addr()).Msg("interception engine started")
	return nil
}

// Addr returns host:port of the engine listener. Empty before Start.
func (e *Engine) Addr() string {
	if e.ln == nil {
		return ""
	}
	return e.ln.Addr().String()
}

// Close shuts the listener and cache down.
func (e *Engine) Close() error {
	e.cache.Stop()
	if e.ln != nil {
		return e.ln.Close()
	}
	return nil
}

// SetUserAgent forces the given User-Agent on all outbound requests.
func (e *Engine) SetUserAgent(ua string) {
	e.mu.Lock()
	e.userAgent = ua
	e.mu.Unlock()
}

// SetCloudflareTarget arms the challenge-page rewrite for host. A response
// containing any of the markers is treated as a challenge page.
func (e *Engine) SetCloudflareTarget(host string, markers []string) {
	e.mu.Lock()
	e.cloudflareHost = host
	e.challengeMarkers = markers
	e.mu.Unlock()
}

// SetTurnstileTarget arms the turnstile-page rewrite for host.
func (e *Engine) SetTurnstileTarget(host, siteKey string) {
	e.mu.Lock()
	e.turnstileHost = host
	e.turnstileSiteKey = siteKey
	e.mu.Unlock()
}

// SetRecaptchaTarget arms the invisible-recaptcha rewrite for host.
func (e *Engine) SetRecaptchaTarget(host, siteKey, action string) {
	e.mu.Lock()
	e.recaptchaHost = host
	e.recaptchaSiteKey = siteKey
	e.recaptchaAction = action
	e.mu.Unlock()
}

// Reset clears all per-task state. The asset cache survives across tasks.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.userAgent = ""
	e.cloudflareHost = ""
	e.challengeMarkers = nil
	e.turnstileHost = ""
	e.turnstileSiteKey = ""
	e.recaptchaHost = ""
	e.recaptchaSiteKey = ""
	e.recaptchaAction = ""
	e.mu.Unlock()
	e.mailbox.Clear()
}

// TakeResult drains the result mailbox.
func (e *Engine) TakeResult() (string, bool) {
	return e.mailbox.Take()
}

func (e *Engine) handleRequest(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	e.mu.RLock()
	userAgent := e.userAgent
	turnstileHost := e.turnstileHost
	turnstileSiteKey := e.turnstileSiteKey
	e.mu.RUnlock()

	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	fullURL := req.URL.String()
	for _, blocked := range blockedTelemetryHosts {
		if strings.Contains(fullURL, blocked) {
			return req, goproxy.NewResponse(req, goproxy.ContentTypeText,
				http.StatusNotFound, "Blocked chrome updates and other resources.")
		}
	}

	if ua := req.Header.Get("User-Agent"); strings.Contains(ua, "Headless") {
		cleaned := strings.ReplaceAll(ua, "Headless", "")
		req.Header.Set("User-Agent", cleaned)
		e.log.Debug().Str("from", ua).Str("to", cleaned).Msg("cleaned headless user agent")
	}

	host := req.URL.Hostname()

	if turnstileHost != "" && strings.Contains(host, turnstileHost) {
		e.log.Debug().Str("host", host).Msg("serving turnstile page")
		return req, goproxy.NewResponse(req, goproxy.ContentTypeHtml,
			http.StatusOK, assets.TurnstileHTML(turnstileSiteKey))
	}

	if host == InternalHost {
		return req, e.handleInternal(req)
	}

	if item := e.cache.Get(fullURL); item != nil {
		e.log.Debug().Str("url", fullURL).Msg("replayed cached response")
		return req, replay(req, item.Value())
	}

	return req, nil
}

// handleInternal answers the reserved host's paths without touching the
// network.
func (e *Engine) handleInternal(req *http.Request) *http.Response {
	switch {
	case strings.HasPrefix(req.URL.Path, "/ready"):
		return goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusOK, "OK")

	case strings.HasPrefix(req.URL.Path, "/index"):
		return goproxy.NewResponse(req, goproxy.ContentTypeHtml, http.StatusOK, assets.IndexHTML())

	case strings.HasPrefix(req.URL.Path, "/result"):
		if req.Method == http.MethodOptions {
			resp := goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusNoContent, "")
			resp.Header.Set("Access-Control-Allow-Origin", "*")
			resp.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			resp.Header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			return resp
		}
		body, err := io.ReadAll(io.LimitReader(req.Body, maxMailboxBytes+1))
		if err == nil && e.mailbox.Post(string(body)) {
			e.log.Debug().Msg("caught challenge result")
		}
		return goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusOK, "OK")
	}
	return goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusNotFound, "Not Found")
}

func (e *Engine) handleResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil || ctx.Req == nil {
		return resp
	}
	req := ctx.Req

	e.mu.RLock()
	cloudflareHost := e.cloudflareHost
	markers := e.challengeMarkers
	recaptchaHost := e.recaptchaHost
	recaptchaSiteKey := e.recaptchaSiteKey
	recaptchaAction := e.recaptchaAction
	e.mu.RUnlock()

	host := req.URL.Hostname()

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > responseSizeLimit {
			resp.Body.Close()
			return goproxy.NewResponse(req, goproxy.ContentTypeText,
				http.StatusNotFound, "Blocked large file")
		}
	}

	cloudflareTarget := cloudflareHost != "" && strings.Contains(host, cloudflareHost)

	if cloudflareTarget && redirectStatuses[resp.StatusCode] {
		if loc := resp.Header.Get("Location"); loc != "" {
			if u, err := url.Parse(loc); err == nil {
				if rh := u.Hostname(); rh != "" && rh != host {
					resp.Body.Close()
					return goproxy.NewResponse(req, goproxy.ContentTypeText,
						http.StatusForbidden, "Blocked cross-domain redirection")
				}
			}
		}
	}

	if cloudflareTarget {
		if out := e.rewriteCloudflare(req, resp, markers); out != nil {
			return out
		}
	}

	if recaptchaHost != "" && strings.Contains(host, recaptchaHost) {
		resp.Body.Close()
		return goproxy.NewResponse(req, goproxy.ContentTypeHtml, http.StatusOK,
			assets.RecaptchaInvisibleHTML(recaptchaSiteKey, recaptchaAction))
	}

	if fullURL := req.URL.String(); strings.HasPrefix(fullURL, cachedAssetPrefix) {
		e.cacheResponse(fullURL, resp)
	}

	return resp
}

// rewriteCloudflare replaces responses from the active Cloudflare target
// with the local challenge shell. Returns nil when the response should pass
// through untouched. Responses without a declared length are read whole, so
// the size ceiling is enforced here as well.
func (e *Engine) rewriteCloudflare(req *http.Request, resp *http.Response, markers []string) *http.Response {
	body, err := io.ReadAll(io.LimitReader(resp.Body, responseSizeLimit+1))
	resp.Body.Close()
	if err != nil || int64(len(body)) > responseSizeLimit {
		return goproxy.NewResponse(req, goproxy.ContentTypeText,
			http.StatusNotFound, "Blocked large file")
	}
	if !utf8.Valid(body) {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
		return nil
	}
	content := string(body)

	for _, marker := range markers {
		if strings.Contains(content, marker) {
			return goproxy.NewResponse(req, goproxy.ContentTypeHtml, http.StatusOK,
				assets.CloudflareChallengeHTML(bodyInner(content)))
		}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return goproxy.NewResponse(req, goproxy.ContentTypeHtml, http.StatusOK,
			assets.CloudflareChallengeHTML(`<div class="title2">Cloudflare Solved</div>`))
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return nil
}

func (e *Engine) cacheResponse(fullURL string, resp *http.Response) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, responseSizeLimit+1))
	if err != nil {
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return
	}
	if int64(len(body)) > responseSizeLimit {
		// Too big to cache. Splice the read prefix back in front of the
		// rest of the stream and pass it through.
		resp.Body = readCloser{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	e.cache.Set(fullURL, &cachedResponse{
		status: resp.StatusCode,
		header: resp.Header.Clone(),
		body:   body,
	}, ttlcache.DefaultTTL)
	e.log.Debug().Str("url", fullURL).Msg("cached static asset")
}

type readCloser struct {
	io.Reader
	io.Closer
}

func replay(req *http.Request, c *cachedResponse) *http.Response {
	return &http.Response{
		StatusCode:    c.status,
		Status:        http.StatusText(c.status),
		ProtoMajor:    1,
		ProtoMinor:    1,
		Request:       req,
		Header:        c.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(c.body)),
		ContentLength: int64(len(c.body)),
	}
}

// bodyInner returns the markup between the document's opening body tag and
// its closing </body>, or "" when no body element is present.
func bodyInner(content string) string {
	_, after, ok := strings.Cut(content, "<body")
	if !ok {
		return ""
	}
	_, after, ok = strings.Cut(after, ">")
	if !ok {
		return ""
	}
	inner, _, _ := strings.Cut(after, "</body>")
	return inner
}
