package selectors

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewManagerEmbeddedOnly(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if m.Current() != Get() {
		t.Error("manager without external path should serve embedded selectors")
	}
	if err := m.Reload(); err == nil {
		t.Error("Reload without external path should fail")
	}
}

func TestManagerExternalOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "selectors.yaml")
	content := "challenge_markers:\n  - custom-marker\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	sel := m.Current()
	if len(sel.ChallengeMarkers) != 1 || sel.ChallengeMarkers[0] != "custom-marker" {
		t.Errorf("override not applied: %v", sel.ChallengeMarkers)
	}
	// Missing sections keep the embedded values.
	if len(sel.ClickSelectors) == 0 {
		t.Error("click selectors not inherited from embedded defaults")
	}
}

func TestManagerHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "selectors.yaml")
	if err := os.WriteFile(path, []byte("challenge_markers:\n  - first\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path, true)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := os.WriteFile(path, []byte("challenge_markers:\n  - second\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sel := m.Current()
		if len(sel.ChallengeMarkers) == 1 && sel.ChallengeMarkers[0] == "second" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("hot reload did not pick up changes: %v", m.Current().ChallengeMarkers)
}

func TestManagerBadFileKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "selectors.yaml")
	if err := os.WriteFile(path, []byte("challenge_markers:\n  - good\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := os.WriteFile(path, []byte("{not yaml:::"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err == nil {
		t.Error("reload of invalid yaml should fail")
	}
	if sel := m.Current(); len(sel.ChallengeMarkers) != 1 || sel.ChallengeMarkers[0] != "good" {
		t.Errorf("previous selectors lost after bad reload: %v", sel.ChallengeMarkers)
	}
}

func TestManagerCloseIdempotent(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
}
