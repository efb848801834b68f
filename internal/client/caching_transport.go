package client

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// newCachingTransport wraps base with an RFC 7234 cache. Whop experience and
// company lookups send Cache-Control headers, so repeated resolutions of the
// same experience are served locally.
//
// An empty cacheDir keeps the cache in memory.
func newCachingTransport(base http.RoundTripper, cacheDir string) *httpcache.Transport {
	var cache httpcache.Cache
	if cacheDir == "" {
		cache = httpcache.NewMemoryCache()
	} else {
		cache = diskcache.New(cacheDir)
	}

	t := httpcache.NewTransport(cache)
	t.Transport = base
	t.MarkCachedResponses = true

	return t
}

// IsCached reports whether resp was served from the cache.
func IsCached(resp *http.Response) bool {
	return resp.Header.Get(httpcache.XFromCache) == "1"
}
