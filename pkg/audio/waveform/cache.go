package waveform

import "sync"

// Cache hands out shared tables keyed by [Key]. Identical keys return the
// identical *Table. Safe for concurrent use; intended for the control side,
// never for the realtime callback.
type Cache struct {
	mu     sync.Mutex
	tables map[Key]*Table
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{tables: make(map[Key]*Table)}
}

// Get returns the table for key, generating it on first use.
func (c *Cache) Get(key Key) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[key]; ok {
		return t, nil
	}
	t, err := Generate(key)
	if err != nil {
		return nil, err
	}
	c.tables[key] = t
	return t, nil
}

// Len returns the number of cached tables.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tables)
}
