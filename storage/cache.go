package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// ErrCacheMiss is returned by CacheService.Get when the key is absent.
var ErrCacheMiss = errors.New("cache: miss")

// CacheService represents a generic key/value cache with expiry.
type CacheService interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error
}

// MemcacheService implements CacheService using memcache.
type MemcacheService struct {
	client *memcache.Client
}

// NewMemcacheService creates a new memcache service
func NewMemcacheService(serverAddr string) *MemcacheService {
	client := memcache.New(serverAddr)
	client.Timeout = 2 * time.Second
	return &MemcacheService{client: client}
}

func (m *MemcacheService) Get(key string) ([]byte, error) {
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

func (m *MemcacheService) Set(key string, value []byte, expiration time.Duration) error {
	return m.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: memcacheExpiration(expiration, time.Now()),
	})
}

// maxRelativeExpiration is the longest expiry memcached reads as relative
// seconds; larger values are taken as absolute Unix times.
const maxRelativeExpiration = 30 * 24 * time.Hour

// memcacheExpiration converts d to memcached's Expiration field.
func memcacheExpiration(d time.Duration, now time.Time) int32 {
	if d <= 0 {
		return 0
	}
	if d > maxRelativeExpiration {
		return int32(now.Add(d).Unix())
	}
	return int32(d.Seconds())
}

func (m *MemcacheService) Delete(key string) error {
	err := m.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// BlockMarker remembers, per host, that a run ended on a challenge it could
// not pass, so the next run can back off instead of hitting the same wall.
type BlockMarker struct {
	cache CacheService
	ttl   time.Duration
	now   func() time.Time
}

// NewBlockMarker creates a BlockMarker whose marks expire after ttl.
func NewBlockMarker(cache CacheService, ttl time.Duration) *BlockMarker {
	return &BlockMarker{cache: cache, ttl: ttl, now: time.Now}
}

func blockKey(host string) string {
	return "block:" + host
}

// BlockedUntil returns when the cooldown for host ends, or the zero time when
// host is not cooling down.
func (b *BlockMarker) BlockedUntil(host string) (time.Time, error) {
	raw, err := b.cache.Get(blockKey(host))
	if errors.Is(err, ErrCacheMiss) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cache: get %s: %w", blockKey(host), err)
	}

	until, err := time.Parse(time.RFC3339, string(raw))
	if err != nil || !until.After(b.now()) {
		return time.Time{}, nil
	}
	return until, nil
}

// Mark starts a cooldown for host.
func (b *BlockMarker) Mark(host string) error {
	until := b.now().Add(b.ttl).UTC().Format(time.RFC3339)
	if err := b.cache.Set(blockKey(host), []byte(until), b.ttl); err != nil {
		return fmt.Errorf("cache: set %s: %w", blockKey(host), err)
	}
	return nil
}

// Clear ends any cooldown for host.
func (b *BlockMarker) Clear(host string) error {
	return b.cache.Delete(blockKey(host))
}
