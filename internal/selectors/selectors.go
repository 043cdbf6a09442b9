// Package selectors provides challenge detection patterns and click targets
// with optional file-based overrides.
package selectors

import (
	"embed"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectorsFS embed.FS

// Selectors contains the markers that identify a challenge page and the
// elements worth clicking to pass it.
type Selectors struct {
	ChallengeTitles       []string `yaml:"challenge_titles"`
	ChallengeMarkers      []string `yaml:"challenge_markers"`
	ClickSelectors        []string `yaml:"click_selectors"`
	TurnstileFramePattern string   `yaml:"turnstile_frame_pattern"`
}

var (
	instance *Selectors
	once     sync.Once
)

// Get returns the compiled-in selectors.
func Get() *Selectors {
	once.Do(func() {
		loaded, err := load()
		if err != nil {
			log.Error().Err(err).Msg("Failed to load selectors, using defaults")
			loaded = defaultSelectors()
		}
		instance = loaded
	})
	return instance
}

func load() (*Selectors, error) {
	data, err := defaultSelectorsFS.ReadFile("selectors.yaml")
	if err != nil {
		return nil, err
	}

	var s Selectors
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}

	log.Debug().
		Int("challenge_markers", len(s.ChallengeMarkers)).
		Int("click_selectors", len(s.ClickSelectors)).
		Msg("Selectors loaded")

	return &s, nil
}

func defaultSelectors() *Selectors {
	return &Selectors{
		ChallengeTitles: []string{
			"Just a moment...",
		},
		ChallengeMarkers: []string{
			`<body class="no-js">`,
			"<title>Just a moment...</title>",
			"__cf_chl_opt",
			"cf-challenge",
		},
		ClickSelectors: []string{
			"input[type='checkbox']",
			".cf-turnstile-response",
			"#cf-turnstile-response",
		},
		TurnstileFramePattern: "challenges.cloudflare.com",
	}
}
