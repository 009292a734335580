// Package predict serves inference from trained artifacts through a
// memoising cache.
package predict

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/pulse/internal/artifact"
)

// Loader reads a full artifact from durable storage.
type Loader interface {
	Read(name string) (*artifact.Artifact, error)
}

// Cache memoises loaded artifacts by model name. One mutex guards both the
// memo table and every inference run through Do, so an artifact can never
// be swapped while it is being used.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*artifact.Artifact
	loader  Loader
}

// NewCache returns an empty cache reading from loader.
func NewCache(loader Loader) *Cache {
	return &Cache{entries: make(map[string]*artifact.Artifact), loader: loader}
}

// SetLoader installs the loader after construction, for stores that need
// the cache as their invalidator.
func (c *Cache) SetLoader(loader Loader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loader = loader
}

func (c *Cache) getOrLoadLocked(name string) (*artifact.Artifact, error) {
	if a, ok := c.entries[name]; ok {
		return a, nil
	}
	a, err := c.loader.Read(name)
	if err != nil {
		return nil, err
	}
	c.entries[name] = a
	zap.L().Debug("model loaded into cache", zap.String("model", name))
	return a, nil
}

// GetOrLoad returns the memoised artifact of name, loading it on a miss.
func (c *Cache) GetOrLoad(name string) (*artifact.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getOrLoadLocked(name)
}

// Do runs fn with the artifact of name while holding the cache lock.
func (c *Cache) Do(name string, fn func(*artifact.Artifact) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, err := c.getOrLoadLocked(name)
	if err != nil {
		return err
	}
	return fn(a)
}

// Invalidate drops name from the cache.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

// Len returns the number of memoised artifacts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
