package instance

import (
	"context"
	"fmt"
	"time"

	"github.com/Charles-Hello/cloudflyer/internal/bypass"
	"github.com/Charles-Hello/cloudflyer/internal/diagnose"
	"github.com/Charles-Hello/cloudflyer/internal/proxycfg"
	"github.com/Charles-Hello/cloudflyer/internal/selectors"
	"github.com/Charles-Hello/cloudflyer/internal/tunnel"
	"github.com/Charles-Hello/cloudflyer/internal/types"
)

// maxContentBytes caps the page HTML a result may carry.
const maxContentBytes = 30 * 1024 * 1024

// Run executes one task to completion and returns its terminal result. The
// instance is reset before the task and parked on the idle shell after it,
// whatever the outcome.
func (in *Instance) Run(ctx context.Context, task *types.Task, timeout time.Duration, sel *selectors.Selectors) (result *types.Result) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			in.log.Error().Interface("panic", r).Str("task", task.ID).Msg("task crashed")
			in.browser.StopScreencast(string(task.Type), "_error")
			result = types.NewErrorResult(500, "Unknown error, please retry later.", task)
		}
	}()
	defer in.browser.NavigateIdle()

	in.engine.Reset()
	if err := in.browser.ClearCache(); err != nil {
		in.log.Warn().Err(err).Msg("failed to clear browser state")
	}

	if task.ScreencastPath != "" {
		in.browser.StartScreencast(task.ScreencastPath)
	}

	chain, links, failure := in.resolveChain(task)
	if failure != nil {
		return in.withScreencast(task, "_error", failure)
	}
	if links != nil {
		defer links.Stop()
	}
	if err := in.relay.SetUpstreamChain(chain); err != nil {
		in.log.Error().Err(err).Msg("failed to bind upstream chain")
		return in.withScreencast(task, "_error",
			types.NewErrorResult(500, "Proxy stack connection failed", task))
	}

	if err := in.probe(ctx); err != nil {
		in.log.Warn().Err(err).Msg("Proxy stack connection failed")
		return in.withScreencast(task, "_error",
			types.NewErrorResult(500, "Proxy stack connection failed", task))
	}

	if task.UserAgent != "" {
		in.engine.SetUserAgent(task.UserAgent)
	}

	host, err := task.TargetHost()
	if err != nil {
		return in.withScreencast(task, "_error",
			types.NewErrorResult(500, err.Error(), task))
	}
	switch task.Type {
	case types.TaskTurnstile:
		in.engine.SetTurnstileTarget(host, task.SiteKey)
	case types.TaskRecaptchaInvisible:
		in.engine.SetRecaptchaTarget(host, task.SiteKey, task.Action)
	case types.TaskCloudflareChallenge:
		in.engine.SetCloudflareTarget(host, sel.ChallengeMarkers)
	default:
		return in.withScreencast(task, "_error",
			types.NewErrorResult(500, fmt.Sprintf("Unknown task type '%s'.", task.Type), task))
	}

	if err := in.browser.Navigate(task.NormalizedURL(), timeout); err != nil {
		in.log.Warn().Err(err).Str("url", task.NormalizedURL()).Msg("navigation failed")
		return in.withScreencast(task, "_error",
			types.NewErrorResult(500, "Can not connect to the provided url.", task))
	}

	bp := bypass.New(in.browser.Page(), sel, in.log)

	var resp *types.Response
	var errMsg string
	switch task.Type {
	case types.TaskTurnstile:
		resp, errMsg = in.solveTurnstile(ctx, bp)
	case types.TaskRecaptchaInvisible:
		resp, errMsg = in.solveRecaptcha(ctx)
	case types.TaskCloudflareChallenge:
		resp, errMsg = in.solveCloudflare(ctx, bp, task, start)
	}

	file := in.browser.StopScreencast(string(task.Type), "")
	if resp != nil {
		result = types.NewSuccessResult(resp, task)
	} else {
		result = types.NewErrorResult(500, errMsg, task)
	}
	result.ScreencastFile = file
	return result
}

// resolveChain picks the upstream chain for the task: an explicit task proxy
// chains after the default upstream, a linksocks config gets a local client
// process, otherwise the default upstream or direct egress is used.
func (in *Instance) resolveChain(task *types.Task) (proxycfg.Chain, *tunnel.LinkSocks, *types.Result) {
	if task.Proxy != nil {
		if task.Proxy.IsLoopback() && !in.opts.AllowLocalProxy {
			return nil, nil, types.NewErrorResult(400,
				"Local proxies are disabled. Set ALLOW_LOCAL_PROXY=true to enable.", task)
		}
		in.log.Info().Str("proxy", task.Proxy.Redacted()).Msg("Task will be executed using proxy chained after default upstream")
		return in.chainWith(task.Proxy), nil, nil
	}

	if task.LinkSocks != nil {
		links := tunnel.NewLinkSocks(in.log)
		if err := links.Start(task.LinkSocks.Token, task.LinkSocks.URL); err != nil {
			in.log.Warn().Err(err).Msg("linksocks client failed to start")
			return nil, nil, types.NewErrorResult(500, "Fail to connect to the linksocks proxy.", task)
		}
		hop, err := proxycfg.Parse("socks5://" + links.Addr())
		if err != nil {
			links.Stop()
			return nil, nil, types.NewErrorResult(500, "Fail to connect to the linksocks proxy.", task)
		}
		in.log.Info().Str("addr", links.Addr()).Msg("Task will be executed using linksocks proxy")
		return in.chainWith(hop), links, nil
	}

	if in.defaultHop != nil {
		in.log.Info().Msg("Task will be executed with default upstream proxy as enforced first hop")
		return proxycfg.Chain{in.defaultHop}, nil, nil
	}
	in.log.Info().Msg("Task will be executed without proxy")
	return nil, nil, nil
}

func (in *Instance) chainWith(hop *proxycfg.Hop) proxycfg.Chain {
	if in.defaultHop != nil {
		return proxycfg.Chain{in.defaultHop, hop}
	}
	return proxycfg.Chain{hop}
}

// withScreencast stops any active recording and attaches the saved path to
// the result.
func (in *Instance) withScreencast(task *types.Task, suffix string, res *types.Result) *types.Result {
	if file := in.browser.StopScreencast(string(task.Type), suffix); file != "" {
		res.ScreencastFile = file
	}
	return res
}

// solveTurnstile polls for the token the challenge page posts back, clicking
// the widget on every fifth tick.
func (in *Instance) solveTurnstile(ctx context.Context, bp *bypass.Bypasser) (*types.Response, string) {
	tries := 0
	for {
		if token, ok := in.engine.TakeResult(); ok {
			in.log.Debug().Msg("Successfully obtained turnstile token")
			return &types.Response{Token: token}, ""
		}
		if tries%5 == 0 {
			in.log.Debug().Int("attempt", tries/5+1).Msg("Trying to click turnstile")
			bp.ClickVerification(ctx)
		}
		tries++
		if sleepWithContext(ctx, 100*time.Millisecond) != nil {
			in.log.Info().Msg("Exceeded maximum time. Bypass failed.")
			return nil, "Timeout to solve the turnstile, please retry later."
		}
	}
}

// solveRecaptcha waits for the invisible-recaptcha page to post its token.
// The page triggers execution itself, so there is nothing to click.
func (in *Instance) solveRecaptcha(ctx context.Context) (*types.Response, string) {
	const timeoutMsg = "Timeout to solve the captcha, please retry later."
	for {
		for i := 0; i < 100; i++ {
			if token, ok := in.engine.TakeResult(); ok {
				return &types.Response{Token: token}, ""
			}
			if sleepWithContext(ctx, 100*time.Millisecond) != nil {
				in.log.Info().Msg("Exceeded maximum time. Bypass failed.")
				return nil, timeoutMsg
			}
		}
		if sleepWithContext(ctx, 500*time.Millisecond) != nil {
			return nil, timeoutMsg
		}
	}
}

// solveCloudflare clicks through the challenge interstitial, then polls for
// the cf_clearance cookie.
func (in *Instance) solveCloudflare(ctx context.Context, bp *bypass.Bypasser, task *types.Task, start time.Time) (*types.Response, string) {
	tries := 0
	reason := ""
	for !bp.IsBypassed() {
		if tries > bypass.MaxRetries {
			in.log.Info().Msg("Exceeded maximum retries. Bypass failed.")
			reason = "max_retries"
			break
		}
		in.log.Debug().Int("attempt", tries+1).Msg("Verification page detected. Trying to bypass.")
		bp.ClickVerification(ctx)
		tries++
		if sleepWithContext(ctx, 500*time.Millisecond) != nil {
			in.log.Info().Msg("Exceeded maximum time. Bypass failed.")
			reason = "timeout"
			break
		}
	}

	clearance := ""
	if bp.IsBypassed() {
		// The cookie can land a moment after the interstitial clears.
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			clearance = in.cookieValue("cf_clearance")
			if clearance != "" {
				break
			}
			if sleepWithContext(ctx, 100*time.Millisecond) != nil {
				break
			}
		}
	} else {
		clearance = in.cookieValue("cf_clearance")
	}

	if clearance == "" {
		if html, err := in.browser.HTML(); err == nil {
			if d := diagnose.Inspect(0, html); d.Detected {
				in.log.Warn().Str("code", d.Code).Str("category", string(d.Category)).Msg(d.Description)
			}
		}
		switch reason {
		case "timeout":
			return nil, fmt.Sprintf(
				"Cloudflare bypass failed due to timeout after %d seconds. Consider increasing the timeout value.",
				int(time.Since(start).Seconds()))
		case "max_retries":
			return nil, fmt.Sprintf(
				"Cloudflare bypass failed after %d retries. The challenge may be too complex or network conditions poor.",
				bypass.MaxRetries)
		}
		return nil, "No response, may be the url is not protected by cloudflare challenge, please retry later."
	}

	userAgent := task.UserAgent
	if userAgent == "" {
		if ua, err := in.browser.UserAgent(); err == nil {
			userAgent = ua
		}
	}
	resp := &types.Response{
		Cookies: map[string]string{"cf_clearance": clearance},
		Headers: map[string]string{"User-Agent": userAgent},
	}
	if task.Content {
		if html, err := in.browser.HTML(); err == nil && len(html) < maxContentBytes {
			resp.Content = html
		}
	}
	return resp, ""
}

func (in *Instance) cookieValue(name string) string {
	cookies, err := in.browser.Cookies()
	if err != nil {
		return ""
	}
	return cookies[name]
}

// sleepWithContext sleeps for d or until the context expires, whichever
// comes first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
