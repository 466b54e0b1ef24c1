package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/forcedeck/pkg/logger"
	"github.com/okian/forcedeck/pkg/metrics"
)

// Refresh reasons reported to metrics.
const (
	ReasonExpired      = "expired"
	ReasonUnauthorized = "unauthorized"
)

const refreshKey = "token"

// legacyTimeLayout is the naive ISO-8601 form older cache files use.
const legacyTimeLayout = "2006-01-02T15:04:05.999999"

// CachedProvider keeps one token in memory, optionally mirrored to a cache
// file, and coalesces concurrent refreshes into a single request.
type CachedProvider struct {
	src       Source
	cacheFile string
	now       func() time.Time
	logger    logger.Logger

	mu     sync.Mutex
	tok    Token
	loaded bool

	sf singleflight.Group
}

// NewCachedProvider returns a Provider backed by src.
func NewCachedProvider(src Source, opts ...Option) *CachedProvider {
	p := &CachedProvider{
		src:    src,
		now:    time.Now,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token implements Provider.
func (p *CachedProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	if !p.loaded {
		p.loaded = true
		p.loadCache(ctx)
	}
	if p.tok.Valid(p.now()) {
		t := p.tok.AccessToken
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()
	return p.refresh(ctx, ReasonExpired)
}

// ForceRefresh implements Provider.
func (p *CachedProvider) ForceRefresh(ctx context.Context, stale string) (string, error) {
	p.mu.Lock()
	if p.tok.AccessToken != stale && p.tok.Valid(p.now()) {
		t := p.tok.AccessToken
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()
	return p.refresh(ctx, ReasonUnauthorized)
}

// refresh runs one shared fetch. Waiters share it, so it must not inherit
// the first caller's deadline; the source's own client timeout bounds it.
func (p *CachedProvider) refresh(ctx context.Context, reason string) (string, error) {
	v, err, shared := p.sf.Do(refreshKey, func() (any, error) {
		tok, err := p.src.Fetch(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		p.tok = tok
		p.mu.Unlock()
		metrics.RecordAuthRefresh(reason)
		p.logger.Info(ctx, "access token refreshed",
			logger.String("reason", reason),
			logger.String("expires_at", tok.ExpiresAt.Format(time.RFC3339)))
		p.storeCache(ctx, tok)
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		p.logger.Debug(ctx, "joined in-flight token refresh")
	}
	return v.(string), nil
}

// loadCache reads the cache file. A missing or unreadable file is ignored.
// Must be called with p.mu held.
func (p *CachedProvider) loadCache(ctx context.Context) {
	if p.cacheFile == "" {
		return
	}
	data, err := os.ReadFile(p.cacheFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn(ctx, "token cache unreadable", logger.Error(err))
		}
		return
	}
	tok, err := decodeCache(data)
	if err != nil {
		p.logger.Warn(ctx, "token cache corrupt", logger.String("file", p.cacheFile), logger.Error(err))
		return
	}
	p.tok = tok
}

func (p *CachedProvider) storeCache(ctx context.Context, tok Token) {
	if p.cacheFile == "" {
		return
	}
	data, err := json.Marshal(cacheEntry{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt.Format(time.RFC3339Nano)})
	if err != nil {
		p.logger.Warn(ctx, "encode token cache", logger.Error(err))
		return
	}
	if err := os.WriteFile(p.cacheFile, data, 0o600); err != nil {
		p.logger.Warn(ctx, "write token cache", logger.String("file", p.cacheFile), logger.Error(err))
	}
}

type cacheEntry struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

func decodeCache(data []byte) (Token, error) {
	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return Token{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, e.ExpiresAt)
	if err != nil {
		at, err = time.ParseInLocation(legacyTimeLayout, e.ExpiresAt, time.Local)
		if err != nil {
			return Token{}, fmt.Errorf("expires_at %q: %w", e.ExpiresAt, err)
		}
	}
	return Token{AccessToken: e.AccessToken, ExpiresAt: at}, nil
}
