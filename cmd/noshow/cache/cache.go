package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ResultCache keeps rendered batch predictions for a limited time so the
// result page can link to a download.
type ResultCache struct {
	entries  sync.Map // map[string]*Entry
	config   Config
	log      zerolog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	evictMu  sync.Mutex
	now      func() time.Time
}

// Entry is one cached batch result.
type Entry struct {
	CSV       []byte
	Rows      int
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Config struct {
	// Enabled false bypasses the cache; Store returns an empty key.
	Enabled bool

	// TTL after which an entry is no longer served.
	TTL time.Duration

	// MaxSize bounds the number of entries, oldest removed first. 0 is
	// unlimited.
	MaxSize int

	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		TTL:             15 * time.Minute,
		MaxSize:         100,
		CleanupInterval: 5 * time.Minute,
	}
}

func NewResultCache(config Config, log zerolog.Logger) *ResultCache {
	c := &ResultCache{
		config:   config,
		log:      log.With().Str("component", "result_cache").Logger(),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	if config.Enabled && config.CleanupInterval > 0 {
		go c.startCleanupRoutine()
		c.log.Info().
			Dur("interval", config.CleanupInterval).
			Int("max_size", config.MaxSize).
			Dur("ttl", config.TTL).
			Msg("Started cache cleanup routine")
	}

	return c
}

func (c *ResultCache) startCleanupRoutine() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopChan:
			c.log.Info().Msg("Stopping cache cleanup routine")
			return
		}
	}
}

func (c *ResultCache) cleanup() {
	c.evict("")
}

// evict drops expired entries and then the oldest ones beyond MaxSize. The
// entry under keep is never dropped for size.
func (c *ResultCache) evict(keep string) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	type keyed struct {
		key   interface{}
		entry *Entry
	}
	var (
		total   int
		expired int
		removed int
		now     = c.now()
		live    []keyed
	)

	c.entries.Range(func(key, value interface{}) bool {
		total++
		entry := value.(*Entry)
		if now.After(entry.ExpiresAt) {
			c.entries.Delete(key)
			expired++
		} else {
			live = append(live, keyed{key, entry})
		}
		return true
	})

	if c.config.MaxSize > 0 && len(live) > c.config.MaxSize {
		sort.SliceStable(live, func(i, j int) bool {
			switch {
			case live[i].key == keep:
				return false
			case live[j].key == keep:
				return true
			}
			return live[i].entry.CreatedAt.Before(live[j].entry.CreatedAt)
		})
		for _, k := range live[:len(live)-c.config.MaxSize] {
			c.entries.Delete(k.key)
			removed++
		}
	}

	c.log.Debug().
		Int("total_entries", total).
		Int("expired_removed", expired).
		Int("size_limit_removed", removed).
		Int("remaining_entries", len(live)-removed).
		Msg("Completed cache cleanup")
}

func generateKey(data []byte) string {
	hasher := sha256.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))[:32]
}

// Store caches a CSV result and returns its key. Identical results share a
// key.
func (c *ResultCache) Store(csv []byte, rows int) string {
	if !c.config.Enabled {
		return ""
	}

	key := generateKey(csv)
	now := c.now()
	entry := &Entry{
		CSV:       csv,
		Rows:      rows,
		CreatedAt: now,
		ExpiresAt: now.Add(c.config.TTL),
	}
	c.entries.Store(key, entry)

	c.log.Debug().
		Str("key", key).
		Int("rows", rows).
		Time("expires", entry.ExpiresAt).
		Msg("Stored batch result in cache")

	if c.config.MaxSize > 0 {
		c.evict(key)
	}

	return key
}

// Get returns a live entry.
func (c *ResultCache) Get(key string) (*Entry, bool) {
	if !c.config.Enabled {
		return nil, false
	}
	value, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry := value.(*Entry)
	if c.now().After(entry.ExpiresAt) {
		c.entries.Delete(key)
		return nil, false
	}
	return entry, true
}

// Stop ends the cleanup routine and clears the cache.
func (c *ResultCache) Stop() {
	c.stopOnce.Do(func() {
		if c.config.Enabled && c.config.CleanupInterval > 0 {
			close(c.stopChan)
		}
		c.entries.Range(func(key, _ interface{}) bool {
			c.entries.Delete(key)
			return true
		})
		c.log.Info().Msg("Cache cleared and stopped")
	})
}
