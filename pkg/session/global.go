package session

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Global is process-wide data shared by every plugin, such as feature flags
// or ban lists. Values are held in encoded form so the whole structure can
// be snapshotted without knowing the plugin types.
//
// Global is not synchronized on its own. It is only reachable through a
// Tx, which means the table guard is held.
type Global struct {
	values map[string]json.RawMessage
}

func newGlobal() *Global {
	return &Global{values: make(map[string]json.RawMessage)}
}

// Get decodes the value stored under key into v. It reports false when the
// key is absent.
func (g *Global) Get(key string, v any) (bool, error) {
	raw, ok := g.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decoding global %q: %w", key, err)
	}
	return true, nil
}

// Set encodes v and stores it under key.
func (g *Global) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding global %q: %w", key, err)
	}
	g.values[key] = raw
	return nil
}

// Delete removes key.
func (g *Global) Delete(key string) {
	delete(g.values, key)
}

// Keys returns the stored keys in sorted order.
func (g *Global) Keys() []string {
	return slices.Sorted(maps.Keys(g.values))
}

// Len returns the number of stored keys.
func (g *Global) Len() int {
	return len(g.values)
}
