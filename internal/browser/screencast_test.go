package browser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestStopScreencastCancelsRecorder(t *testing.T) {
	b := New(zerolog.Nop(), Options{})

	savePath := t.TempDir()
	workDir, err := os.MkdirTemp(savePath, ".recording-*")
	if err != nil {
		t.Fatal(err)
	}

	cancelled := false
	b.screencast = &screencast{
		savePath: savePath,
		workDir:  workDir,
		cancel:   func() { cancelled = true },
	}

	if got := b.StopScreencast("cloudflare", ""); got != "" {
		t.Errorf("empty recording should yield no path, got %q", got)
	}
	if !cancelled {
		t.Error("frame listener not torn down on stop")
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Error("empty work dir not removed")
	}
	if b.screencast != nil {
		t.Error("screencast state not cleared")
	}
}

func TestStopScreencastMovesFrames(t *testing.T) {
	b := New(zerolog.Nop(), Options{})

	savePath := t.TempDir()
	workDir, err := os.MkdirTemp(savePath, ".recording-*")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "frame_000001.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	sc := &screencast{savePath: savePath, workDir: workDir, cancel: func() {}}
	sc.frames.Add(1)
	b.screencast = sc

	dest := b.StopScreencast("turnstile", "_error")
	if dest == "" {
		t.Fatal("recording with frames should yield a path")
	}
	base := filepath.Base(dest)
	if !strings.HasPrefix(base, "turnstile_") || !strings.HasSuffix(base, "_error") {
		t.Errorf("destination name %q missing task type or suffix", base)
	}
	if _, err := os.Stat(filepath.Join(dest, "frame_000001.jpg")); err != nil {
		t.Errorf("frames not moved to destination: %v", err)
	}
}
