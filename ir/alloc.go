// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import (
	"math/bits"

	"gate.computer/xlate/guest"
)

// RegSet is a bit set of general-purpose registers.
type RegSet uint16

func (s RegSet) Has(r guest.Reg) bool    { return s&(1<<r) != 0 }
func (s RegSet) With(r guest.Reg) RegSet { return s | 1<<r }
func (s RegSet) Len() int                { return bits.OnesCount16(uint16(s)) }

// Regs in ascending order.
func (s RegSet) Regs() []guest.Reg {
	var regs []guest.Reg
	for r := guest.Reg(0); r < guest.NumRegs; r++ {
		if s.Has(r) {
			regs = append(regs, r)
		}
	}
	return regs
}

// AllocPlan decides which registers are kept in scratch slots during trace
// execution.
type AllocPlan struct {
	Cacheable RegSet
	Slot      [guest.NumRegs]int // Local slot index, or -1.
	NumSlots  int
}

// NewAllocPlan assigns slots in register order.
func NewAllocPlan(set RegSet) *AllocPlan {
	p := &AllocPlan{Cacheable: set}
	for r := range p.Slot {
		if set.Has(guest.Reg(r)) {
			p.Slot[r] = p.NumSlots
			p.NumSlots++
		} else {
			p.Slot[r] = -1
		}
	}
	return p
}
