package intercept

import (
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// cachedAssetPrefix marks the static challenge assets worth replaying.
const cachedAssetPrefix = "https://challenges.cloudflare.com/turnstile/v0/"

const (
	assetCacheTTL      = time.Hour
	assetCacheCapacity = 10000
)

// cachedResponse is a replayable snapshot of an upstream response.
type cachedResponse struct {
	status int
	header http.Header
	body   []byte
}

func newAssetCache() *ttlcache.Cache[string, *cachedResponse] {
	return ttlcache.New[string, *cachedResponse](
		ttlcache.WithTTL[string, *cachedResponse](assetCacheTTL),
		ttlcache.WithCapacity[string, *cachedResponse](assetCacheCapacity),
		ttlcache.WithDisableTouchOnHit[string, *cachedResponse](),
	)
}
