// Package featureflag provides process-wide boolean switches with a
// short-TTL cache and an environment-variable override that always wins.
package featureflag

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"
)

// Flag keys consulted by the pipeline.
const (
	KeyOutboundContact = "outbound_contact"
	KeyCRMSync         = "crm_sync"
)

// Provider answers flag reads. A missing flag reads as disabled.
type Provider interface {
	IsEnabled(ctx context.Context, key string) bool
}

// Store is the persistence slice the cached provider needs.
type Store interface {
	GetFlag(ctx context.Context, key string) (Flag, error)
	SetFlag(ctx context.Context, key string, enabled bool) error
}

type cacheEntry struct {
	enabled   bool
	expiresAt time.Time
}

// CachedProvider layers a TTL cache and env overrides over the store.
type CachedProvider struct {
	store Store
	ttl   time.Duration
	log   *logger.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func NewCachedProvider(store Store, cfg config.FlagConfig, log *logger.Logger) *CachedProvider {
	ttl := cfg.GetFlagCacheTTL()
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedProvider{
		store: store,
		ttl:   ttl,
		log:   log,
		cache: make(map[string]cacheEntry),
	}
}

// IsEnabled resolves a flag. Precedence: FF_<KEY> environment variable,
// then cache, then store. Store errors read as disabled rather than
// failing the caller.
func (p *CachedProvider) IsEnabled(ctx context.Context, key string) bool {
	if override, ok := envOverride(key); ok {
		return override
	}

	p.mu.RLock()
	entry, cached := p.cache[key]
	p.mu.RUnlock()
	if cached && time.Now().Before(entry.expiresAt) {
		return entry.enabled
	}

	flag, err := p.store.GetFlag(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			p.log.Error("flag read failed", "key", key, "error", err.Error())
		}
		flag.Enabled = false
	}

	p.mu.Lock()
	p.cache[key] = cacheEntry{enabled: flag.Enabled, expiresAt: time.Now().Add(p.ttl)}
	p.mu.Unlock()

	return flag.Enabled
}

// Set writes the flag through to the store and drops the cached value
// so the next read observes the change immediately.
func (p *CachedProvider) Set(ctx context.Context, key string, enabled bool) error {
	if err := p.store.SetFlag(ctx, key, enabled); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.cache, key)
	p.mu.Unlock()
	return nil
}

// envOverride checks FF_<KEY> (key upper-cased). Unparseable values are
// ignored.
func envOverride(key string) (bool, bool) {
	raw, ok := os.LookupEnv("FF_" + strings.ToUpper(key))
	if !ok {
		return false, false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return value, true
}
