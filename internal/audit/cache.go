package audit

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"gramforge/internal/safeio"
)

// Status is a file's audit verdict.
type Status string

const (
	StatusValid   Status = "VALID"
	StatusBroken  Status = "BROKEN"
	StatusSkipped Status = "SKIPPED" // fast mode, unchanged since last VALID; never persisted
)

// Entry is one file's cached verdict.
type Entry struct {
	Status    Status  `json:"status"`
	Hash      string  `json:"hash"`
	LastCheck float64 `json:"last_check"` // unix seconds
}

// Cache is the persisted audit state, keyed by file path. It is safe for
// concurrent use; each check only touches its own file's entry.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
}

// LoadCache reads the cache at path. A missing or malformed file yields an
// empty cache.
func LoadCache(path string, log *zap.Logger) *Cache {
	c := &Cache{path: path, entries: map[string]Entry{}}
	if path == "" {
		return c
	}
	if _, err := safeio.ReadJSON(path, &c.entries); err != nil {
		if log != nil {
			log.Warn("audit cache unreadable, starting empty", zap.String("path", path), zap.Error(err))
		}
		c.entries = map[string]Entry{}
	}
	if c.entries == nil {
		c.entries = map[string]Entry{}
	}
	return c
}

// Get returns the entry for file.
func (c *Cache) Get(file string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[file]
	return e, ok
}

// Put replaces the entry for file.
func (c *Cache) Put(file string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[file] = e
}

// Files returns the cached file names, sorted.
func (c *Cache) Files() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for f := range c.entries {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Save writes the cache atomically. A cache without a path is not saved.
func (c *Cache) Save() error {
	if c.path == "" {
		return nil
	}
	c.mu.Lock()
	snapshot := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()
	return safeio.WriteJSON(c.path, snapshot)
}
