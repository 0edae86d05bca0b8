// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

// Package records holds the environment, cache, recordset and transaction
// layers: identity-bearing lazy collections over the store adapter.
package records

import "sync"

// Cache is the per-environment field cache: model → field → id → value,
// plus the loaded-field bookkeeping that distinguishes "loaded as nil" from
// "never fetched". Sub-environments created from the same root share one
// cache; distinct environments never do.
type Cache struct {
	mu     sync.RWMutex
	values map[string]map[string]map[string]any
	loaded map[string]map[string]map[string]struct{}
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		values: map[string]map[string]map[string]any{},
		loaded: map[string]map[string]map[string]struct{}{},
	}
}

// Get returns the cached value and whether the field was ever loaded for id.
func (c *Cache) Get(model, field, id string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byID, ok := c.loaded[model][id]
	if !ok {
		return nil, false
	}

	if _, ok := byID[field]; !ok {
		return nil, false
	}

	return c.values[model][field][id], true
}

// Set stores value and marks (model, id, field) loaded.
func (c *Cache) Set(model, field, id string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setLocked(model, field, id, value)
}

func (c *Cache) setLocked(model, field, id string, value any) {
	byField, ok := c.values[model]
	if !ok {
		byField = map[string]map[string]any{}
		c.values[model] = byField
	}

	byID, ok := byField[field]
	if !ok {
		byID = map[string]any{}
		byField[field] = byID
	}

	byID[id] = value

	loadedByID, ok := c.loaded[model]
	if !ok {
		loadedByID = map[string]map[string]struct{}{}
		c.loaded[model] = loadedByID
	}

	fields, ok := loadedByID[id]
	if !ok {
		fields = map[string]struct{}{}
		loadedByID[id] = fields
	}

	fields[field] = struct{}{}
}

// SetMany stores a batch of field values for one record.
func (c *Cache) SetMany(model, id string, values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for field, value := range values {
		c.setLocked(model, field, id, value)
	}
}

// MissingIDs filters ids down to those with no cached value for field.
func (c *Cache) MissingIDs(model, field string, ids []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []string

	for _, id := range ids {
		if _, ok := c.loaded[model][id][field]; !ok {
			missing = append(missing, id)
		}
	}

	return missing
}

// Invalidate drops the cached entries for the given ids. A nil fields slice
// drops every field; nil ids drops the whole model.
func (c *Cache) Invalidate(model string, ids []string, fields []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ids == nil {
		delete(c.values, model)
		delete(c.loaded, model)

		return
	}

	for _, id := range ids {
		if fields == nil {
			for field := range c.values[model] {
				delete(c.values[model][field], id)
			}

			delete(c.loaded[model], id)

			continue
		}

		for _, field := range fields {
			if byID, ok := c.values[model][field]; ok {
				delete(byID, id)
			}

			if fieldSet, ok := c.loaded[model][id]; ok {
				delete(fieldSet, field)
			}
		}
	}
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values = map[string]map[string]map[string]any{}
	c.loaded = map[string]map[string]map[string]struct{}{}
}
