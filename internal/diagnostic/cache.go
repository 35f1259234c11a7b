package diagnostic

import (
	"bytes"
	"encoding/gob"
	"sync"
)

// Cache is the explicit-sharing interner described in spec §9: an arena of
// strings indexed by integer id, so that per-module diffs can ship ids
// instead of repeating strings on the wire.
type Cache struct {
	mu      sync.Mutex
	strings []string
	ids     map[string]int
}

// NewCache returns an empty interner.
func NewCache() *Cache {
	return &Cache{ids: make(map[string]int)}
}

// Intern returns the id for s, assigning a new one the first time s is seen.
func (c *Cache) Intern(s string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.ids[s]; ok {
		return id
	}
	id := len(c.strings)
	c.strings = append(c.strings, s)
	c.ids[s] = id
	return id
}

// Lookup returns the string for id, and whether it was found.
func (c *Cache) Lookup(id int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id >= len(c.strings) {
		return "", false
	}
	return c.strings[id], true
}

// Len returns the number of interned strings.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.strings)
}

// GobEncode lets *Cache cross the worker wire as ComputedResult.Cache: the
// id map is just the strings slice's index and is rebuilt on decode, so
// only the strings need to travel. Without this, gob refuses to encode
// Cache at all (it has no exported fields), which silently drops every
// CompileResult frame the worker tries to send back.
func (c *Cache) GobEncode() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c.strings); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode restores a Cache from the strings GobEncode wrote, rebuilding
// the id map.
func (c *Cache) GobDecode(data []byte) error {
	var strings []string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&strings); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strings = strings
	c.ids = make(map[string]int, len(strings))
	for i, s := range strings {
		c.ids[s] = i
	}
	return nil
}
