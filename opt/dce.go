// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import (
	"fmt"

	"gate.computer/xlate/guest"
	"gate.computer/xlate/ir"
)

type liveness struct {
	values map[ir.Value]bool
	flags  guest.FlagMask
}

func (l *liveness) use(i ir.Instr) {
	ir.Uses(i, func(v ir.Value) { l.values[v] = true })
}

// sweep an instruction list backwards.
func (l *liveness) sweep(instrs []ir.Instr) []ir.Instr {
	keep := make([]bool, len(instrs))

	for n := len(instrs) - 1; n >= 0; n-- {
		i := instrs[n]

		switch x := i.(type) {
		case ir.Const, ir.LoadReg, ir.Addr, ir.LoadMem:
			v, _ := ir.Def(x)
			if !l.values[v] {
				continue
			}

		case ir.LoadFlag:
			if !l.values[x.Dst] {
				continue
			}
			l.flags |= x.Flag.Mask()

		case ir.BinOp:
			written := x.Flags
			x.Flags &= l.flags
			if !l.values[x.Dst] && x.Flags == 0 {
				continue
			}
			l.flags &^= written
			i = x

		case ir.SetFlags:
			written := x.Mask
			x.Mask &= l.flags
			if x.Mask == 0 {
				continue
			}
			l.flags &^= written
			i = x

		case ir.StoreReg, ir.StoreMem:

		case ir.Guard, ir.GuardCodeVersion, ir.SideExit, ir.Bailout:
			l.flags = guest.MaskAll

		default:
			panic(fmt.Sprintf("dce: unknown instruction type %T", x))
		}

		keep[n] = true
		instrs[n] = i
		l.use(i)
	}

	out := instrs[:0]
	for n, i := range instrs {
		if keep[n] {
			out = append(out, i)
		}
	}
	return out
}

// DCE removes instructions whose values and flag results are never used.
// Flags are live at every exit and at the end of the trace.  Memory loads
// are removable.
func DCE(t *ir.Trace) {
	l := liveness{
		values: make(map[ir.Value]bool),
		flags:  guest.MaskAll,
	}

	t.Body = l.sweep(t.Body)
	l.flags = guest.MaskAll
	t.Prologue = l.sweep(t.Prologue)
}
