package backend

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CacheEntry is the sidecar metadata stored next to a cached result.
type CacheEntry struct {
	Key          string    `json:"key"`
	ModelType    string    `json:"model_type"`
	FilePath     string    `json:"file_path"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	Hits         int       `json:"hits"`
	FileSize     int64     `json:"file_size"`
}

// CacheStats holds statistics about cache performance.
type CacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	TotalEntries int     `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
}

// ResultCache keeps processed images on disk, keyed by the uploaded bytes and
// the model type, so re-processing the same upload skips the server.
type ResultCache struct {
	mu         sync.RWMutex
	entries    map[string]*CacheEntry
	directory  string
	maxEntries int
	ttl        time.Duration
	stats      CacheStats
}

// NewResultCache creates a cache in directory. ttl 0 never expires.
func NewResultCache(directory string, maxEntries int, ttl time.Duration) *ResultCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &ResultCache{
		entries:    make(map[string]*CacheEntry),
		directory:  directory,
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// CacheKey hashes an upload and the model type it is processed with.
func CacheKey(data []byte, modelType string) string {
	h := md5.New()
	h.Write(data)
	h.Write([]byte("|" + modelType))
	return hex.EncodeToString(h.Sum(nil))
}

// Initialize loads existing entries from disk and drops expired ones.
func (c *ResultCache) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.directory, 0o755); err != nil {
		return errors.Wrap(err, "create cache directory")
	}
	files, err := os.ReadDir(c.directory)
	if err != nil {
		return errors.Wrap(err, "read cache directory")
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".meta") {
			continue
		}
		metaPath := filepath.Join(c.directory, f.Name())
		raw, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var entry CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if c.expired(&entry) {
			_ = os.Remove(entry.FilePath)
			_ = os.Remove(metaPath)
			continue
		}
		c.entries[entry.Key] = &entry
		c.stats.TotalEntries++
		c.stats.TotalSize += entry.FileSize
	}

	klog.Infof("[ResultCache] loaded %d entries (%s) from %s", c.stats.TotalEntries, humanize.Bytes(uint64(c.stats.TotalSize)), c.directory)
	return nil
}

// Get returns the cached processed image for key.
func (c *ResultCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.miss()
		return "", false
	}
	if c.expired(entry) {
		c.invalidateLocked(key)
		c.miss()
		return "", false
	}
	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		klog.Warningf("[ResultCache] read %s: %v", entry.FilePath, err)
		c.invalidateLocked(key)
		c.miss()
		return "", false
	}

	entry.LastAccessed = time.Now()
	entry.Hits++
	c.stats.Hits++
	c.updateHitRate()
	return string(data), true
}

// Put stores a processed image.
func (c *ResultCache) Put(key, modelType, processed string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.stats.TotalEntries--
		c.stats.TotalSize -= old.FileSize
	}

	filePath := filepath.Join(c.directory, key+".uri")
	if err := os.WriteFile(filePath, []byte(processed), 0o644); err != nil {
		return errors.Wrap(err, "write cached result")
	}

	now := time.Now()
	entry := &CacheEntry{
		Key:          key,
		ModelType:    modelType,
		FilePath:     filePath,
		CreatedAt:    now,
		LastAccessed: now,
		FileSize:     int64(len(processed)),
	}
	meta, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal cache metadata")
	}
	if err := os.WriteFile(filePath+".meta", meta, 0o644); err != nil {
		return errors.Wrap(err, "write cache metadata")
	}

	c.entries[key] = entry
	c.stats.TotalEntries++
	c.stats.TotalSize += entry.FileSize

	for len(c.entries) > c.maxEntries {
		c.evictOldest()
	}
	return nil
}

// CleanExpired removes expired entries and returns how many were dropped.
func (c *ResultCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl == 0 {
		return 0
	}
	n := 0
	for key, entry := range c.entries {
		if c.expired(entry) {
			c.invalidateLocked(key)
			n++
		}
	}
	return n
}

// Stats returns a copy of the cache statistics.
func (c *ResultCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *ResultCache) expired(e *CacheEntry) bool {
	return c.ttl > 0 && time.Since(e.CreatedAt) > c.ttl
}

func (c *ResultCache) invalidateLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	_ = os.Remove(entry.FilePath)
	_ = os.Remove(entry.FilePath + ".meta")
	delete(c.entries, key)
	c.stats.TotalEntries--
	c.stats.TotalSize -= entry.FileSize
}

func (c *ResultCache) evictOldest() {
	var (
		oldestKey  string
		oldestTime time.Time
	)
	for key, entry := range c.entries {
		if oldestKey == "" || entry.LastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastAccessed
		}
	}
	if oldestKey != "" {
		c.invalidateLocked(oldestKey)
	}
}

func (c *ResultCache) miss() {
	c.stats.Misses++
	c.updateHitRate()
}

func (c *ResultCache) updateHitRate() {
	if total := c.stats.Hits + c.stats.Misses; total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}
