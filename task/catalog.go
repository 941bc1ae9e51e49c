package task

import (
	"path"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Catalog maps task locators to factories. It stands where a task file
// would be loaded from disk: workers name a locator, the catalog builds it.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: map[string]Factory{}}
}

// Register adds factory under locator, replacing any previous one.
func (c *Catalog) Register(locator string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[path.Clean(locator)] = factory
}

// Resolve returns the factory registered under locator.
func (c *Catalog) Resolve(locator string) (Factory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.factories[path.Clean(locator)]
	if !ok || f == nil {
		return nil, errors.Wrapf(ErrNotConstructor, "task %q", locator)
	}
	return f, nil
}

// Has reports whether locator is registered.
func (c *Catalog) Has(locator string) bool {
	_, err := c.Resolve(locator)
	return err == nil
}

// List returns registered locators, sorted.
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.factories))
	for name := range c.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolvePath joins taskFile onto the directory of bootstrap.
func ResolvePath(bootstrap, taskFile string) string {
	return path.Join(path.Dir(bootstrap), taskFile)
}
