// Package types provides the task/result schema and shared errors for the
// application. The schema matches what the task-queue front end accepts and
// what session logic returns.
package types

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Charles-Hello/cloudflyer/internal/proxycfg"
)

// TaskType identifies which challenge state machine a task runs.
type TaskType string

// Supported task types.
const (
	TaskCloudflareChallenge TaskType = "CloudflareChallenge"
	TaskTurnstile           TaskType = "Turnstile"
	TaskRecaptchaInvisible  TaskType = "RecaptchaInvisible"
)

// Validation limits.
const (
	MaxURLLength     = 8192
	MaxSiteKeyLength = 256
	MaxActionLength  = 256
)

// LinkSocksConfig describes an authenticated tunnel-relay endpoint. The
// session spins up a local client process for it and uses the resulting
// SOCKS port exactly like a task proxy.
type LinkSocksConfig struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Task is one unit of work accepted by the pool. It is immutable once
// accepted; Type determines which fields are required.
type Task struct {
	ID             string           `json:"id,omitempty"`
	Type           TaskType         `json:"type"`
	URL            string           `json:"url"`
	UserAgent      string           `json:"userAgent,omitempty"`
	Proxy          *proxycfg.Hop    `json:"proxy,omitempty"`
	LinkSocks      *LinkSocksConfig `json:"linksocks,omitempty"`
	SiteKey        string           `json:"siteKey,omitempty"`
	Action         string           `json:"action,omitempty"`
	Content        bool             `json:"content,omitempty"`
	ScreencastPath string           `json:"screencast_path,omitempty"`
}

// Validate checks the task fields for the declared type.
func (t *Task) Validate() error {
	switch t.Type {
	case TaskCloudflareChallenge, TaskTurnstile, TaskRecaptchaInvisible:
	default:
		return fmt.Errorf("unknown task type %q", t.Type)
	}

	if t.URL == "" {
		return fmt.Errorf("url is required")
	}
	if len(t.URL) > MaxURLLength {
		return fmt.Errorf("url exceeds maximum length of %d", MaxURLLength)
	}

	if t.Type == TaskTurnstile || t.Type == TaskRecaptchaInvisible {
		if t.SiteKey == "" {
			return fmt.Errorf("field siteKey is not provided")
		}
		if len(t.SiteKey) > MaxSiteKeyLength {
			return fmt.Errorf("siteKey exceeds maximum length of %d", MaxSiteKeyLength)
		}
	}
	if t.Type == TaskRecaptchaInvisible {
		if t.Action == "" {
			return fmt.Errorf("field action is not provided")
		}
		if len(t.Action) > MaxActionLength {
			return fmt.Errorf("action exceeds maximum length of %d", MaxActionLength)
		}
	}

	if t.LinkSocks != nil && (t.LinkSocks.URL == "" || t.LinkSocks.Token == "") {
		return fmt.Errorf("either linksocks.url or linksocks.token is not provided")
	}

	if t.Proxy != nil {
		if err := t.Proxy.Validate(); err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
	}

	return nil
}

// NormalizedURL returns the task URL with an http:// prefix added when the
// caller omitted the scheme.
func (t *Task) NormalizedURL() string {
	if strings.HasPrefix(t.URL, "http://") || strings.HasPrefix(t.URL, "https://") {
		return t.URL
	}
	return "http://" + t.URL
}

// TargetHost returns the hostname of the task URL. The interception engine
// keys its per-task state on this host.
func (t *Task) TargetHost() (string, error) {
	u, err := url.Parse(t.NormalizedURL())
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url has no host")
	}
	return host, nil
}
