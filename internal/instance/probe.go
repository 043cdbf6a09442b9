package instance

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ysmood/gson"

	"github.com/Charles-Hello/cloudflyer/internal/types"
)

// defaultProbeURL reports the egress fingerprint as seen by origins.
const defaultProbeURL = "https://tls.peet.ws/api/all"

const probeBodyLimit = 1 << 20

// probe sends one request through the full proxy stack and logs the
// fingerprint the far end observed. A failure means the stack cannot reach
// the network and the task must not start.
func (in *Instance) probe(ctx context.Context) error {
	proxyURL, err := url.Parse("http://" + in.engine.Addr())
	if err != nil {
		return err
	}

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		Timeout: 30 * time.Second,
	}
	defer client.CloseIdleConnections()

	probeURL := in.opts.ProbeURL
	if probeURL == "" {
		probeURL = defaultProbeURL
	}

	in.log.Info().Msg("Getting network info through proxy stack")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrProbeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, probeBodyLimit))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	info := parseNetInfo(string(body))
	in.log.Info().
		Str("ua", info.UserAgent).
		Str("ip", info.IP).
		Str("ja3", info.JA3).
		Str("ja4", info.JA4).
		Msg("network probe succeeded")
	return nil
}

// netInfo is the subset of the fingerprint report worth logging.
type netInfo struct {
	UserAgent string
	IP        string
	JA3       string
	JA4       string
}

func parseNetInfo(body string) netInfo {
	info := gson.NewFrom(body)
	return netInfo{
		UserAgent: info.Get("user_agent").Str(),
		IP:        info.Get("ip").Str(),
		JA3:       info.Get("tls.ja3_hash").Str(),
		JA4:       info.Get("tls.ja4").Str(),
	}
}
