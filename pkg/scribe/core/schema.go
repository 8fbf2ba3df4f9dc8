package core

import (
	"sync"

	"github.com/jabolina/go-scribe/pkg/scribe/types"
)

// SchemaCache is a per-engine schema registry keyed by the ItemID of the
// declaring SchemaUpdate, replacing the global schema registry pattern
// flagged for redesign in the specification's design notes. A schema is
// fixed once declared on a channel (no migration), so registration is
// write-once: re-registering the same ID with different bytes is rejected.
type SchemaCache struct {
	mutex   sync.RWMutex
	schemas map[types.ItemID][]byte
}

// NewSchemaCache creates an empty cache.
func NewSchemaCache() *SchemaCache {
	return &SchemaCache{schemas: map[types.ItemID][]byte{}}
}

// RegisterSchema records schema under id. Returns false if id was already
// registered with different bytes (a schema is fixed once declared);
// re-registering identical bytes is a harmless no-op that returns true.
func (c *SchemaCache) RegisterSchema(id types.ItemID, schema []byte) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	existing, ok := c.schemas[id]
	if ok {
		return string(existing) == string(schema)
	}
	c.schemas[id] = schema
	return true
}

// SchemaByID returns the registered schema bytes for id, if any.
func (c *SchemaCache) SchemaByID(id types.ItemID) ([]byte, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	schema, ok := c.schemas[id]
	return schema, ok
}
