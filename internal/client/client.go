// Package client builds the outbound HTTP clients used for vendor APIs.
package client

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Config holds common outbound client configuration.
type Config struct {
	// Token is sent as "Authorization: Bearer <token>" on every request.
	Token string

	// Timeout bounds a whole request including reading the body.
	Timeout time.Duration

	// Cache enables HTTP response caching. CacheDir selects disk storage.
	Cache    bool
	CacheDir string

	UserAgent string

	// Base overrides the innermost transport, mostly for tests.
	Base http.RoundTripper
}

// DefaultConfig returns a default client configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "whopvoice/1.0",
	}
}

// New creates an HTTP client from cfg. Transports are layered as
// user agent -> bearer auth -> cache -> base.
func New(cfg Config) *http.Client {
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}

	rt := base
	if cfg.Cache {
		rt = newCachingTransport(rt, cfg.CacheDir)
	}

	if cfg.Token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
			Base:   rt,
		}
	}

	if cfg.UserAgent != "" {
		rt = &userAgentTransport{agent: cfg.UserAgent, base: rt}
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: rt,
	}
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(r)
}
