package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rs/zerolog"
)

// diagnoseLaunch retries the launch with incrementally reduced flag sets
// and logs which one works. Purely diagnostic: the caller still fails the
// task with the original error.
func diagnoseLaunch(log zerolog.Logger, opts Options) {
	log.Info().Msg("Running browser launch diagnosis")

	attempts := []struct {
		name  string
		build func() *launcher.Launcher
	}{
		{"full flag set", func() *launcher.Launcher {
			return createLauncher(opts)
		}},
		{"without app window", func() *launcher.Launcher {
			return createLauncher(opts).Delete("app").Delete("window-name")
		}},
		{"minimal flags", func() *launcher.Launcher {
			l := launcher.New()
			if opts.BrowserPath != "" {
				l = l.Bin(opts.BrowserPath)
			}
			if opts.Headless {
				l = l.Set("headless", "new")
			} else {
				l = l.Headless(false)
			}
			return l.Set("proxy-server", opts.ProxyURL).
				Set("ignore-certificate-errors").
				Set("no-first-run")
		}},
	}

	for _, attempt := range attempts {
		if tryLaunch(attempt.build()) {
			log.Info().Str("attempt", attempt.name).
				Msg("Diagnosis: this flag set launches successfully")
			return
		}
		log.Warn().Str("attempt", attempt.name).Msg("Diagnosis: launch failed")
	}
	log.Error().Msg("Diagnosis: no flag set launched; check the browser binary and display environment")
}

func tryLaunch(l *launcher.Launcher) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return false
	}
	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return false
	}
	browser.Close()
	return true
}
