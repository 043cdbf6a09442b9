package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureEnvOverride(t *testing.T) {
	dir := t.TempDir()
	fake := filepath.Join(dir, "hazetunnel")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HAZETUNNEL_PATH", fake)

	got, err := Ensure("hazetunnel")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got != fake {
		t.Errorf("Ensure = %q, want %q", got, fake)
	}
}

func TestEnsureEnvOverrideMissingFile(t *testing.T) {
	t.Setenv("HAZETUNNEL_PATH", filepath.Join(t.TempDir(), "nope"))
	if _, err := Ensure("hazetunnel"); err == nil {
		t.Error("expected error for missing override path")
	}
}

func TestAssetName(t *testing.T) {
	name := assetName("linksocks")
	if name == "" || name[:9] != "linksocks" {
		t.Errorf("assetName = %q", name)
	}
}
