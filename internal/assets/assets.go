// Package assets provides the embedded challenge pages the interception
// engine serves. Using Go's embed package allows for single-binary
// deployment without external file dependencies.
package assets

import (
	"embed"
	"strings"
	"sync"
)

//go:embed templates/*.html
var templates embed.FS

var (
	once sync.Once

	indexHTML               string
	turnstileHTML           string
	cloudflareChallengeHTML string
	recaptchaInvisibleHTML  string
)

func load() {
	once.Do(func() {
		indexHTML = mustRead("index.html")
		turnstileHTML = mustRead("turnstile.html")
		cloudflareChallengeHTML = mustRead("cloudflare_challenge.html")
		recaptchaInvisibleHTML = mustRead("recaptcha_invisible.html")
	})
}

func mustRead(name string) string {
	data, err := templates.ReadFile("templates/" + name)
	if err != nil {
		panic("assets: missing embedded template " + name)
	}
	return string(data)
}

// IndexHTML is the idle shell the browser parks on between tasks.
func IndexHTML() string {
	load()
	return indexHTML
}

// TurnstileHTML renders the standalone turnstile page for a site key.
// Tokens are spliced with plain replacement: the payloads are raw markup
// that html/template would escape.
func TurnstileHTML(siteKey string) string {
	load()
	return strings.ReplaceAll(turnstileHTML, "![sitekey]!", siteKey)
}

// CloudflareChallengeHTML wraps the extracted challenge script in the local
// challenge shell.
func CloudflareChallengeHTML(script string) string {
	load()
	return strings.ReplaceAll(cloudflareChallengeHTML, "![script]!", script)
}

// RecaptchaInvisibleHTML renders the invisible recaptcha page for a site
// key and action.
func RecaptchaInvisibleHTML(siteKey, action string) string {
	load()
	page := strings.ReplaceAll(recaptchaInvisibleHTML, "![sitekey]!", siteKey)
	return strings.ReplaceAll(page, "![action]!", action)
}
