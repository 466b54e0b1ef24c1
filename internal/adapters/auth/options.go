package auth

import (
	"net/http"
	"time"

	"github.com/okian/forcedeck/pkg/logger"
)

// Option applies a configuration option to the CachedProvider.
type Option func(*CachedProvider)

// WithCacheFile mirrors the token to path. An empty path keeps the token in
// memory only, which is required when several runs share a working directory.
func WithCacheFile(path string) Option {
	return func(p *CachedProvider) {
		p.cacheFile = path
	}
}

// WithClock sets the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(p *CachedProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets a custom logger for the provider.
func WithLogger(l logger.Logger) Option {
	return func(p *CachedProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// SourceOption applies a configuration option to ClientCredentials.
type SourceOption func(*ClientCredentials)

// WithHTTPClient replaces the HTTP client used for token requests.
func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *ClientCredentials) {
		if c != nil {
			s.client = c
		}
	}
}

// WithSourceClock sets the clock used to compute token expiry.
func WithSourceClock(now func() time.Time) SourceOption {
	return func(s *ClientCredentials) {
		if now != nil {
			s.now = now
		}
	}
}
