// Package tools resolves the helper binaries the tunnel layer shells out
// to. Resolution order: explicit env override, PATH, the user cache dir,
// then a release download.
package tools

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// releaseBases maps a tool to its release download locations, primary
// first.
var releaseBases = map[string][]string{
	"hazetunnel": {
		"https://github.com/zetxtech/hazetunnel/releases/latest/download",
		"https://gh-proxy.com/https://github.com/zetxtech/hazetunnel/releases/latest/download",
	},
	"linksocks": {
		"https://github.com/linksocks/linksocks/releases/latest/download",
		"https://gh-proxy.com/https://github.com/linksocks/linksocks/releases/latest/download",
	},
}

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Ensure returns a runnable path for the named tool, downloading it into
// the user cache dir when nothing local matches.
func Ensure(name string) (string, error) {
	if override := os.Getenv(strings.ToUpper(name) + "_PATH"); override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("%s override %q: %w", name, override, err)
		}
		return override, nil
	}

	binName := name
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	if path, err := exec.LookPath(binName); err == nil {
		return path, nil
	}

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	installDir := filepath.Join(cacheDir, "cloudflyer", "bin")
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return "", fmt.Errorf("create tool dir: %w", err)
	}
	dest := filepath.Join(installDir, binName)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	return download(name, dest)
}

// assetName builds the release asset filename for the current platform.
func assetName(tool string) string {
	arch := "amd64"
	if runtime.GOARCH == "arm64" {
		arch = "arm64"
	}
	suffix := ""
	if runtime.GOOS == "windows" {
		suffix = ".exe"
	}
	return fmt.Sprintf("%s-%s-%s%s", tool, runtime.GOOS, arch, suffix)
}

func download(tool, dest string) (string, error) {
	bases, ok := releaseBases[tool]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", tool)
	}
	asset := assetName(tool)

	var lastErr error
	for _, base := range bases {
		url := base + "/" + asset
		log.Info().Str("tool", tool).Str("url", url).Msg("downloading helper binary")
		if err := fetch(url, dest); err != nil {
			lastErr = err
			continue
		}
		return dest, nil
	}
	return "", fmt.Errorf("download %s: %w", tool, lastErr)
}

func fetch(url, dest string) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
