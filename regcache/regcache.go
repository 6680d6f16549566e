// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regcache implements an execution-time register overlay.  Cached
// registers are loaded from canonical state on first access, and written
// back only when spilled.
package regcache

import (
	"fmt"

	"gate.computer/xlate/guest"
	"gate.computer/xlate/ir"
)

// Stats counts canonical state accesses.  Accesses of registers outside the
// cacheable set are misses.
type Stats struct {
	RegLoads  uint64 `json:"reg_loads"`
	RegStores uint64 `json:"reg_stores"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
}

func (s *Stats) Add(other Stats) {
	s.RegLoads += other.RegLoads
	s.RegStores += other.RegStores
	s.Hits += other.Hits
	s.Misses += other.Misses
}

func (s Stats) String() string {
	return fmt.Sprintf("loads %d stores %d hits %d misses %d", s.RegLoads, s.RegStores, s.Hits, s.Misses)
}

type Cache struct {
	Stats

	cacheable ir.RegSet
	valid     ir.RegSet
	dirty     ir.RegSet
	vals      [guest.NumRegs]uint64
}

func New(cacheable ir.RegSet) *Cache {
	return &Cache{cacheable: cacheable}
}

func (c *Cache) ReadReg(cpu *guest.State, r guest.Reg) uint64 {
	if !c.cacheable.Has(r) {
		c.Misses++
		c.RegLoads++
		return cpu.Regs[r]
	}

	if c.valid.Has(r) {
		c.Hits++
		return c.vals[r]
	}

	c.Misses++
	c.RegLoads++
	c.vals[r] = cpu.Regs[r]
	c.valid = c.valid.With(r)
	return c.vals[r]
}

func (c *Cache) WriteReg(cpu *guest.State, r guest.Reg, value uint64) {
	if !c.cacheable.Has(r) {
		c.Misses++
		c.RegStores++
		cpu.Regs[r] = value
		return
	}

	c.Hits++
	c.vals[r] = value
	c.valid = c.valid.With(r)
	c.dirty = c.dirty.With(r)
}

// Spill writes dirty registers back to canonical state.  Cached values stay
// valid.
func (c *Cache) Spill(cpu *guest.State) {
	for _, r := range c.dirty.Regs() {
		cpu.Regs[r] = c.vals[r]
		c.RegStores++
	}
	c.dirty = 0
}

// Dirty registers which have not been spilled.
func (c *Cache) Dirty() ir.RegSet {
	return c.dirty
}
