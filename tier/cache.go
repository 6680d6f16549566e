// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tier

import (
	"gate.computer/xlate/guest"
	"gate.computer/xlate/ir"
	"gate.computer/xlate/telemetry"
	"gate.computer/xlate/wasmrt"
	"golang.org/x/exp/slices"
)

// Approximate host code bytes per IR instruction of a region.
const regionInsnSize = 16

type key struct {
	tier telemetry.Tier
	rip  uint64
}

// entry of the code cache.  Regions have fn and plan set; traces have trace
// and module set.
type entry struct {
	key   key
	size  int
	pages []ir.PageVersion

	fn   *ir.Function
	plan *ir.AllocPlan

	trace  *ir.Trace
	module *wasmrt.Module
}

func regionSize(fn *ir.Function) int {
	n := 0
	for _, b := range fn.Blocks {
		n += len(b.Instrs) + 1
	}
	return n * regionInsnSize
}

// stale reports whether a code page has been modified since translation.
func (ent *entry) stale(env *guest.Env) bool {
	for _, p := range ent.pages {
		if env.Version(p.Page) != p.Version {
			return true
		}
	}
	return false
}

// cache of translated code with first-in, first-out eviction.
type cache struct {
	capacity int
	used     int
	entries  map[key]*entry
	order    []key
}

func newCache(capacity int) *cache {
	return &cache{
		capacity: capacity,
		entries:  make(map[key]*entry),
	}
}

func (c *cache) get(k key) *entry {
	return c.entries[k]
}

// fits reports whether an entry of the size can be inserted at all.
func (c *cache) fits(size int) bool {
	return size <= c.capacity
}

// insert the entry, first removing and returning the oldest entries needed
// to make room for it.
func (c *cache) insert(ent *entry) (evicted []*entry) {
	if old := c.remove(ent.key); old != nil {
		evicted = append(evicted, old)
	}

	for c.used+ent.size > c.capacity && len(c.order) > 0 {
		evicted = append(evicted, c.remove(c.order[0]))
	}

	c.entries[ent.key] = ent
	c.order = append(c.order, ent.key)
	c.used += ent.size
	return
}

func (c *cache) remove(k key) *entry {
	ent := c.entries[k]
	if ent == nil {
		return nil
	}

	delete(c.entries, k)
	if i := slices.Index(c.order, k); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	c.used -= ent.size
	return ent
}

// all entries in insertion order.
func (c *cache) all() []*entry {
	list := make([]*entry, 0, len(c.order))
	for _, k := range c.order {
		list = append(list, c.entries[k])
	}
	return list
}
