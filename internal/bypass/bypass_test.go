package bypass

import (
	"testing"

	"github.com/Charles-Hello/cloudflyer/internal/selectors"
)

func TestTitleIndicatesChallenge(t *testing.T) {
	sel := selectors.Get()

	tests := []struct {
		title string
		want  bool
	}{
		{"Just a moment...", true},
		{"just a moment...", true},
		{"Example Site | Just a moment... | Security", true},
		{"Welcome to Example", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := titleIndicatesChallenge(tt.title, sel); got != tt.want {
			t.Errorf("titleIndicatesChallenge(%q) = %v, want %v", tt.title, got, tt.want)
		}
	}
}
