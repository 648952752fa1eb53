package proxy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// Entry is one cached response.
type Entry struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// Cache is a disk-backed response cache with named generations. One
// generation is current at a time; activating it deletes every other
// generation directory. Whole-generation replacement is the only
// eviction policy — no LRU, no size bound.
type Cache struct {
	root       string
	generation string
	mu         sync.Mutex
}

// NewCache opens the cache rooted at root with the given generation
// name, creating the generation directory if needed. Stale sibling
// generations are left in place until Activate is called.
func NewCache(root, generation string) (*Cache, error) {
	if generation == "" {
		return nil, fmt.Errorf("empty cache generation name")
	}
	dir := filepath.Join(root, generation)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{root: root, generation: generation}, nil
}

// Generation returns the current generation name.
func (c *Cache) Generation() string {
	return c.generation
}

// Get looks up a cached response by key.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// Corrupt entry: treat as a miss, drop it.
		os.Remove(c.entryPath(key))
		return nil, false
	}
	return &e, true
}

// Put stores a response under key in the current generation.
func (c *Cache) Put(key string, e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := os.WriteFile(c.entryPath(key), data, 0644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Activate deletes every generation directory other than the current
// one and returns how many were removed.
func (c *Cache) Activate() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return 0, fmt.Errorf("read cache root: %w", err)
	}
	removed := 0
	for _, ent := range entries {
		if !ent.IsDir() || ent.Name() == c.generation {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.root, ent.Name())); err != nil {
			return removed, fmt.Errorf("remove generation %s: %w", ent.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Generations lists the generation directories currently on disk.
func (c *Cache) Generations() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("read cache root: %w", err)
	}
	var names []string
	for _, ent := range entries {
		if ent.IsDir() {
			names = append(names, ent.Name())
		}
	}
	return names, nil
}

func (c *Cache) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.root, c.generation, hex.EncodeToString(sum[:])+".json")
}
