package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Cache stores response bodies by URL with a TTL check on read. The backing
// store is pluggable: in-memory for short-lived runs, file-backed when
// captures should survive a restart.
type Cache interface {
	Get(url string) ([]byte, bool)
	Put(url string, body []byte)
}

type memoryEntry struct {
	body     []byte
	storedAt time.Time
}

// MemoryCache is the default in-memory TTL cache.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(url string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[url]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, url)
		return nil, false
	}
	return e.body, true
}

func (c *MemoryCache) Put(url string, body []byte) {
	c.mu.Lock()
	c.entries[url] = memoryEntry{body: body, storedAt: c.now()}
	c.mu.Unlock()
}

// FileCache keeps bodies as files under dir, named by URL hash, with mtime as
// the TTL clock. Corrupt or unreadable entries count as misses.
type FileCache struct {
	dir string
	ttl time.Duration
}

func NewFileCache(dir string, ttl time.Duration) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir, ttl: ttl}, nil
}

func (c *FileCache) path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:16])+".body")
}

func (c *FileCache) Get(url string) ([]byte, bool) {
	path := c.path(url)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) > c.ttl {
		os.Remove(path)
		return nil, false
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return body, true
}

func (c *FileCache) Put(url string, body []byte) {
	tmp := c.path(url) + ".tmp"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		return
	}
	os.Rename(tmp, c.path(url))
}
