// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import (
	"gate.computer/xlate/guest"
	"gate.computer/xlate/ir"
	"golang.org/x/exp/slices"
)

// RegAlloc selects the registers worth caching: those accessed at least
// twice, and all registers accessed by a loop body.  The most frequently
// accessed registers are preferred.
func (opts Options) RegAlloc(t *ir.Trace) *ir.AllocPlan {
	var counts [guest.NumRegs]int
	var inLoop ir.RegSet

	count := func(instrs []ir.Instr, loop bool) {
		for _, i := range instrs {
			var r guest.Reg
			switch x := i.(type) {
			case ir.LoadReg:
				r = x.Reg
			case ir.StoreReg:
				r = x.Reg
			default:
				continue
			}
			counts[r]++
			if loop {
				inLoop = inLoop.With(r)
			}
		}
	}

	count(t.Prologue, false)
	count(t.Body, t.Kind == ir.Loop)

	var candidates []guest.Reg
	for r := guest.Reg(0); r < guest.NumRegs; r++ {
		if counts[r] >= 2 || inLoop.Has(r) {
			candidates = append(candidates, r)
		}
	}

	slices.SortStableFunc(candidates, func(a, b guest.Reg) int {
		return counts[b] - counts[a]
	})

	if len(candidates) > opts.MaxCachedRegs {
		candidates = candidates[:opts.MaxCachedRegs]
	}

	var set ir.RegSet
	for _, r := range candidates {
		set = set.With(r)
	}
	return ir.NewAllocPlan(set)
}
