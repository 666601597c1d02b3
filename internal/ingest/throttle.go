package ingest

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Throttle admits a key at most once per period.
type Throttle interface {
	Allow(key string) bool
}

// TTLThrottle is a Throttle backed by an expiring in-memory cache.
type TTLThrottle struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewTTLThrottle admits each key once per ttl.
func NewTTLThrottle(ttl time.Duration) *TTLThrottle {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &TTLThrottle{cache: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Allow reports whether key was not seen during the last ttl.
func (t *TTLThrottle) Allow(key string) bool {
	return t.cache.Add(key, struct{}{}, t.ttl) == nil
}
