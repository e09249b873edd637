package cache

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Entry is a live session token issued to a consumer.
type Entry struct {
	Token      string    `json:"token"`
	Expiration time.Time `json:"expiration"`
	CreatedAt  time.Time `json:"created_at"`
}

// Expired returns true if the token is no longer valid at time t.
func (e *Entry) Expired(t time.Time) bool {
	return e.Token == "" || t.After(e.Expiration)
}

type SessionCache struct {
	MaxEntries int
	Tokens     map[string]Entry `json:"tokens"`
	lock       sync.Mutex
}

// New returns a SessionCache that holds live session tokens for up to maxEntries consumer keys.
// When full, the entry created longest ago is evicted.
//
// Set maxEntries to zero for an unbounded cache.
func New(maxEntries int) *SessionCache {
	return &SessionCache{
		MaxEntries: maxEntries,
		Tokens:     make(map[string]Entry),
	}
}

// Import a SessionCache using data in r.
// The data should previously have been generated using [SessionCache.Export].
func Import(r io.Reader) (*SessionCache, error) {
	var cache SessionCache
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cache); err != nil {
		return nil, err
	}
	if cache.Tokens == nil {
		cache.Tokens = make(map[string]Entry)
	}
	return &cache, nil
}

// ImportFromFile reads a SessionCache from disk.
func ImportFromFile(filename string) (*SessionCache, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Import(file)
}

// Export writes a serialized SessionCache to w.
func (c *SessionCache) Export(w io.Writer) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return json.NewEncoder(w).Encode(c)
}

// ExportToFile writes a SessionCache to disk. The file is only readable by its owner.
func (c *SessionCache) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return c.Export(file)
}

// Update the SessionCache's entry for consumerKey. Expired entries are dropped first, then the
// oldest entry if the cache is still over capacity.
func (c *SessionCache) Update(consumerKey string, entry Entry) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	c.Tokens[consumerKey] = entry

	now := time.Now()
	for k, e := range c.Tokens {
		if k != consumerKey && e.Expired(now) {
			delete(c.Tokens, k)
		}
	}
	if c.MaxEntries > 0 && len(c.Tokens) > c.MaxEntries {
		oldestKey := consumerKey
		oldestCreationTime := entry.CreatedAt
		for k, e := range c.Tokens {
			if e.CreatedAt.Before(oldestCreationTime) {
				oldestKey = k
				oldestCreationTime = e.CreatedAt
			}
		}
		delete(c.Tokens, oldestKey)
	}
	return nil
}

// Delete removes the entry for consumerKey, if any.
func (c *SessionCache) Delete(consumerKey string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.Tokens, consumerKey)
}

// GetEntry returns the token cached for consumerKey. Expired tokens are not returned.
func (c *SessionCache) GetEntry(consumerKey string) (Entry, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	entry, ok := c.Tokens[consumerKey]
	if !ok || entry.Expired(time.Now()) {
		return Entry{}, false
	}
	return entry, true
}
