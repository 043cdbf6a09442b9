// Package bypass drives the in-page side of a Cloudflare challenge: it
// detects whether the challenge page is still up and clicks the
// verification widget.
package bypass

import (
	"context"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/rs/zerolog"

	"github.com/Charles-Hello/cloudflyer/internal/humanize"
	"github.com/Charles-Hello/cloudflyer/internal/selectors"
)

// MaxRetries bounds verification click attempts before the session gives
// up.
const MaxRetries = 5

// Bypasser operates on the task's working page.
type Bypasser struct {
	page *rod.Page
	sel  *selectors.Selectors
	log  zerolog.Logger
}

// New builds a bypasser for page using the given selector set.
func New(page *rod.Page, sel *selectors.Selectors, logger zerolog.Logger) *Bypasser {
	return &Bypasser{page: page, sel: sel, log: logger}
}

// IsBypassed reports whether the page has left the challenge interstitial.
func (b *Bypasser) IsBypassed() bool {
	info, err := b.page.Info()
	if err != nil {
		return false
	}
	return !titleIndicatesChallenge(info.Title, b.sel)
}

// titleIndicatesChallenge matches the page title against the known
// challenge titles, case-insensitively.
func titleIndicatesChallenge(title string, sel *selectors.Selectors) bool {
	lower := strings.ToLower(title)
	for _, marker := range sel.ChallengeTitles {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// ClickVerification tries to click the verification widget inside the
// turnstile iframe, falling back to keyboard navigation when no clickable
// element is found.
func (b *Bypasser) ClickVerification(ctx context.Context) {
	if b.clickTurnstileFrame(ctx) {
		return
	}
	b.keyboardFallback(ctx)
}

func (b *Bypasser) clickTurnstileFrame(ctx context.Context) bool {
	iframes, err := b.page.Timeout(2 * time.Second).Elements("iframe")
	if err != nil {
		return false
	}
	for _, iframe := range iframes {
		src, err := iframe.Attribute("src")
		if err != nil || src == nil || !strings.Contains(*src, b.sel.TurnstileFramePattern) {
			continue
		}
		frame, err := iframe.Frame()
		if err != nil {
			continue
		}
		mouse := humanize.NewMouse(frame)
		for _, selector := range b.sel.ClickSelectors {
			target, err := frame.Timeout(time.Second).Element(selector)
			if err != nil {
				continue
			}
			if err := mouse.ClickElement(ctx, target); err != nil {
				b.log.Debug().Err(err).Str("selector", selector).Msg("verification click failed")
				continue
			}
			b.log.Debug().Str("selector", selector).Msg("clicked verification element")
			return true
		}
	}
	return false
}

// keyboardFallback tabs onto the widget and presses space. Works when the
// widget lives in a closed shadow root the selectors cannot reach.
func (b *Bypasser) keyboardFallback(ctx context.Context) {
	kb := b.page.Keyboard
	if err := kb.Press(input.Tab); err != nil {
		return
	}
	humanize.SleepWithContext(ctx, humanize.RandomDuration(80, 150))
	if err := kb.Press(input.Space); err != nil {
		b.log.Debug().Err(err).Msg("keyboard fallback failed")
	}
}
