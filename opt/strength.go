// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import (
	"math/bits"

	"gate.computer/xlate/ir"
)

// StrengthReduce replaces multiplications by powers of two with shifts.  The
// flag results are identical.
func StrengthReduce(t *ir.Trace) {
	reduce(t.Prologue)
	reduce(t.Body)
}

func reduce(instrs []ir.Instr) {
	for n, i := range instrs {
		x, ok := i.(ir.BinOp)
		if !ok || x.Op != ir.Mul {
			continue
		}

		if !x.LHS.IsVal() {
			x.LHS, x.RHS = x.RHS, x.LHS
		}
		if !x.LHS.IsVal() || x.RHS.IsVal() {
			continue
		}

		c := x.RHS.Imm()
		if c == 0 || c&(c-1) != 0 {
			continue
		}

		x.Op = ir.Shl
		x.RHS = ir.Imm(uint64(bits.TrailingZeros64(c)))
		instrs[n] = x
	}
}
