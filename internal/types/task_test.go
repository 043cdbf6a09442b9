package types

import (
	"strings"
	"testing"

	"github.com/Charles-Hello/cloudflyer/internal/proxycfg"
)

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{
			name: "valid cloudflare",
			task: Task{Type: TaskCloudflareChallenge, URL: "https://example.com"},
		},
		{
			name: "valid turnstile",
			task: Task{Type: TaskTurnstile, URL: "https://example.com", SiteKey: "0x4AAA"},
		},
		{
			name: "valid recaptcha",
			task: Task{Type: TaskRecaptchaInvisible, URL: "https://example.com", SiteKey: "6Lc", Action: "login"},
		},
		{
			name:    "unknown type",
			task:    Task{Type: "HCaptcha", URL: "https://example.com"},
			wantErr: true,
		},
		{
			name:    "missing url",
			task:    Task{Type: TaskCloudflareChallenge},
			wantErr: true,
		},
		{
			name:    "url too long",
			task:    Task{Type: TaskCloudflareChallenge, URL: "https://example.com/" + strings.Repeat("a", MaxURLLength)},
			wantErr: true,
		},
		{
			name:    "turnstile missing sitekey",
			task:    Task{Type: TaskTurnstile, URL: "https://example.com"},
			wantErr: true,
		},
		{
			name:    "recaptcha missing action",
			task:    Task{Type: TaskRecaptchaInvisible, URL: "https://example.com", SiteKey: "6Lc"},
			wantErr: true,
		},
		{
			name:    "linksocks missing token",
			task:    Task{Type: TaskCloudflareChallenge, URL: "https://example.com", LinkSocks: &LinkSocksConfig{URL: "wss://relay"}},
			wantErr: true,
		},
		{
			name: "linksocks complete",
			task: Task{Type: TaskCloudflareChallenge, URL: "https://example.com", LinkSocks: &LinkSocksConfig{URL: "wss://relay", Token: "tok"}},
		},
		{
			name:    "invalid proxy",
			task:    Task{Type: TaskCloudflareChallenge, URL: "https://example.com", Proxy: &proxycfg.Hop{Scheme: "socks5", Port: 1080}},
			wantErr: true,
		},
		{
			name: "valid proxy",
			task: Task{Type: TaskCloudflareChallenge, URL: "https://example.com", Proxy: &proxycfg.Hop{Scheme: "socks5", Host: "10.0.0.1", Port: 1080}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNormalizedURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"example.com", "http://example.com"},
		{"http://example.com", "http://example.com"},
		{"https://example.com/path", "https://example.com/path"},
	}
	for _, tt := range tests {
		task := Task{URL: tt.in}
		if got := task.NormalizedURL(); got != tt.want {
			t.Errorf("NormalizedURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTargetHost(t *testing.T) {
	task := Task{URL: "https://sub.example.com:8443/login"}
	host, err := task.TargetHost()
	if err != nil {
		t.Fatal(err)
	}
	if host != "sub.example.com" {
		t.Errorf("TargetHost() = %q", host)
	}

	task = Task{URL: "example.com/x"}
	host, err = task.TargetHost()
	if err != nil {
		t.Fatal(err)
	}
	if host != "example.com" {
		t.Errorf("TargetHost() without scheme = %q", host)
	}
}
