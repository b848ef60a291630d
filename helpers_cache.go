// javacomplete/helpers_cache.go
// Contains the completion cache validator, the per-buffer completion cache and the
// ristretto-backed lookup cache for definition/documentation results.
package javacomplete

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// ============================================================================
// Completion Cache Validation
// ============================================================================

var wordRunPattern = regexp.MustCompile(`^\w*$`)

// IsCompletionCacheValid reports whether the completion list computed for entry can
// still be shown for cursor, given the current text of the cursor line.
// The cursor must be on the cached row, at or past the cached token end, the cached
// token text must be unchanged, and only word characters may have been typed since.
func IsCompletionCacheValid(entry *CompletionCacheEntry, cursor CursorPosition, line string) bool {
	if entry == nil {
		return false
	}
	if cursor.Row != entry.Row || cursor.Column < entry.TokenEnd {
		return false
	}
	if entry.TokenStart < 0 || entry.TokenStart > entry.TokenEnd || entry.TokenEnd > len(line) {
		return false
	}
	if line[entry.TokenStart:entry.TokenEnd] != entry.TokenText {
		return false
	}
	col := min(cursor.Column, len(line))
	return wordRunPattern.MatchString(line[entry.TokenEnd:col])
}

// NewCompletionCacheEntry records the token range [start, end) of line at row.
// ok is false when the range does not fit the line.
func NewCompletionCacheEntry(row, start, end int, line string) (CompletionCacheEntry, bool) {
	if start < 0 || end < start || end > len(line) {
		return CompletionCacheEntry{}, false
	}
	return CompletionCacheEntry{
		Row:        row,
		TokenStart: start,
		TokenEnd:   end,
		TokenText:  line[start:end],
	}, true
}

// ============================================================================
// Per-Buffer Completion Cache
// ============================================================================

type cachedCompletion struct {
	entry  CompletionCacheEntry
	result CompletionResult
}

// CompletionCache keeps at most one live completion per buffer. Storing replaces the
// previous entry and a miss discards it.
type CompletionCache struct {
	mu      sync.Mutex
	entries map[string]cachedCompletion
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewCompletionCache creates an empty cache.
func NewCompletionCache() *CompletionCache {
	return &CompletionCache{entries: make(map[string]cachedCompletion)}
}

// Lookup returns the cached completion for path when it is still valid at cursor.
func (c *CompletionCache) Lookup(path string, cursor CursorPosition, line string) (CompletionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.entries[path]
	var entry *CompletionCacheEntry
	if ok {
		entry = &cached.entry
	}
	if !IsCompletionCacheValid(entry, cursor, line) {
		delete(c.entries, path)
		c.misses.Add(1)
		return CompletionResult{}, false
	}
	c.hits.Add(1)
	result := cached.result
	result.Cached = true
	return result, true
}

// Store replaces the live entry for path.
func (c *CompletionCache) Store(path string, entry CompletionCacheEntry, result CompletionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = cachedCompletion{entry: entry, result: result}
}

// Clear drops the live entry for path.
func (c *CompletionCache) Clear(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Entry returns a copy of the live entry for path.
func (c *CompletionCache) Entry(path string) (CompletionCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.entries[path]
	return cached.entry, ok
}

// Hits returns the number of lookups served from the cache.
func (c *CompletionCache) Hits() int64 { return c.hits.Load() }

// Misses returns the number of lookups that required a request.
func (c *CompletionCache) Misses() int64 { return c.misses.Load() }

// ============================================================================
// Lookup Cache (ristretto)
// ============================================================================

// LookupCache memoizes synchronous lookups (define, document) for a short TTL and
// collapses identical concurrent lookups into one request.
type LookupCache struct {
	mu     sync.RWMutex
	cache  *ristretto.Cache
	group  singleflight.Group
	logger *slog.Logger
}

// NewLookupCache creates the ristretto cache. A construction failure disables caching.
func NewLookupCache(logger *slog.Logger) *LookupCache {
	if logger == nil {
		logger = slog.Default()
	}
	cacheLogger := logger.With("component", "LookupCache")
	memCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     64 << 20, // 64MB
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		cacheLogger.Warn("Failed to create ristretto lookup cache, lookup caching disabled.", "error", err)
		memCache = nil
	} else {
		cacheLogger.Info("Initialized ristretto lookup cache", "max_cost", "64MB")
	}
	return &LookupCache{cache: memCache, logger: cacheLogger}
}

// Enabled returns true if the ristretto cache is initialized.
func (c *LookupCache) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache != nil
}

// Get retrieves an item from the cache.
func (c *LookupCache) Get(key string) (any, bool) {
	c.mu.RLock()
	cache := c.cache
	c.mu.RUnlock()
	if cache == nil {
		return nil, false
	}
	return cache.Get(key)
}

// Set stores value and waits for the write buffer to drain so the value is visible
// to the next Get.
func (c *LookupCache) Set(key string, value any, cost int64, ttl time.Duration) bool {
	c.mu.RLock()
	cache := c.cache
	c.mu.RUnlock()
	if cache == nil {
		return false
	}
	ok := cache.SetWithTTL(key, value, cost, ttl)
	cache.Wait()
	return ok
}

// Clear empties the cache.
func (c *LookupCache) Clear() {
	c.mu.RLock()
	cache := c.cache
	c.mu.RUnlock()
	if cache != nil {
		cache.Clear()
	}
}

// Metrics returns ristretto's counters, or nil when caching is disabled.
func (c *LookupCache) Metrics() *ristretto.Metrics {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cache == nil {
		return nil
	}
	return c.cache.Metrics
}

// Close releases the cache.
func (c *LookupCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil {
		c.logger.Info("Closing ristretto lookup cache.")
		c.cache.Close()
		c.cache = nil
	}
}

// generateCacheKey creates a lookup cache key from the endpoint, file path, cursor
// and a hash of the transmitted window.
func generateCacheKey(prefix string, req Request) string {
	path := req.Path
	if path == "" {
		path = "[unknown-path]"
	}
	windowHash := xxhash.Sum64String(req.Buffer.Text)
	// Format: prefix:path:row:col:kind:start:hash
	return fmt.Sprintf("%s:%s:%d:%d:%s:%d:%016x", prefix, path, req.Pos[0], req.Pos[1], req.Buffer.Kind, req.Buffer.StartLine, windowHash)
}

// withMemoryCache wraps a lookup with the lookup cache. Concurrent callers with the
// same key share one computeFn call. Errors are never cached.
// Returns the result, whether it came from the cache, and any error from computeFn.
func withMemoryCache[T any](
	cache *LookupCache,
	cacheKey string,
	ttl time.Duration,
	computeFn func() (T, error),
	logger *slog.Logger,
) (T, bool, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}
	cacheLogger := logger.With("cache_key", cacheKey)

	if !cache.Enabled() {
		cacheLogger.Debug("Lookup cache skipped (disabled)")
		result, err := computeFn()
		return result, false, err
	}

	if cached, found := cache.Get(cacheKey); found {
		if typed, ok := cached.(T); ok {
			cacheLogger.Debug("Lookup cache hit")
			return typed, true, nil
		}
		cacheLogger.Error("Lookup cache type assertion failed", "expected_type", fmt.Sprintf("%T", zero), "actual_type", fmt.Sprintf("%T", cached))
	} else {
		cacheLogger.Debug("Lookup cache miss")
	}

	v, err, shared := cache.group.Do(cacheKey, func() (any, error) {
		computed, err := computeFn()
		if err != nil {
			return nil, err
		}
		cost := estimateCost(computed)
		if !cache.Set(cacheKey, computed, cost, ttl) {
			cacheLogger.Warn("Lookup cache Set failed, item not cached", "cost", cost, "ttl", ttl)
		}
		return computed, nil
	})
	if err != nil {
		return zero, false, err
	}
	if shared {
		cacheLogger.Debug("Lookup shared with a concurrent caller")
	}
	return v.(T), false, nil
}

// estimateCost approximates the memory held by a cached lookup result.
func estimateCost(v any) int64 {
	switch val := v.(type) {
	case string:
		return int64(len(val)) + 1
	case Definition:
		return int64(len(val.Path)) + 8
	case Documentation:
		return int64(len(val.Kind)+len(val.Name)+len(val.Type)+len(val.Javadoc)) + 1
	default:
		return 1
	}
}
