// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import (
	"gate.computer/xlate/ir"
	"golang.org/x/exp/slices"
)

// LICM moves loop body computations which produce the same value on every
// pass to the end of the prologue: constants, flagless operations and
// address calculations over invariant operands, and loads of registers
// which the body never writes.
func LICM(t *ir.Trace) {
	if t.Kind != ir.Loop {
		return
	}
	if n := len(t.Prologue); n > 0 {
		switch t.Prologue[n-1].(type) {
		case ir.SideExit, ir.Bailout:
			return
		}
	}

	stored := storedRegs(t.Body)
	variant := make(map[ir.Value]bool)

	invariant := func(operands ...ir.Operand) bool {
		for _, o := range operands {
			if o.IsVal() && variant[o.Value()] {
				return false
			}
		}
		return true
	}

	var hoisted []ir.Instr
	body := t.Body[:0]

	for _, i := range t.Body {
		var hoist bool

		switch x := i.(type) {
		case ir.Const:
			hoist = true

		case ir.LoadReg:
			hoist = !stored.Has(x.Reg)

		case ir.BinOp:
			hoist = x.Flags == 0 && invariant(x.LHS, x.RHS)

		case ir.Addr:
			hoist = invariant(x.Base, x.Index)
		}

		if hoist {
			hoisted = append(hoisted, i)
			continue
		}

		if v, ok := ir.Def(i); ok {
			variant[v] = true
		}
		body = append(body, i)
	}

	t.Prologue = append(slices.Clip(t.Prologue), hoisted...)
	t.Body = body
}
