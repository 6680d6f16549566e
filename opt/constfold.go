// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import (
	"fmt"

	"gate.computer/xlate/ir"
)

type folder struct {
	subst map[ir.Value]ir.Operand
}

func (f *folder) operand(o ir.Operand) ir.Operand {
	if o.IsVal() {
		if x, ok := f.subst[o.Value()]; ok {
			return x
		}
	}
	return o
}

// identity returns the operand which a flagless operation forwards
// unchanged.
func identity(i ir.BinOp) (ir.Operand, bool) {
	if i.Flags != 0 {
		return ir.Operand{}, false
	}

	imm := func(o ir.Operand, x uint64) bool {
		return !o.IsVal() && o.Imm() == x
	}

	switch i.Op {
	case ir.Add, ir.Or, ir.Xor:
		if imm(i.RHS, 0) {
			return i.LHS, true
		}
		if imm(i.LHS, 0) {
			return i.RHS, true
		}

	case ir.Sub, ir.Shl, ir.Shr:
		if imm(i.RHS, 0) {
			return i.LHS, true
		}

	case ir.Mul:
		if imm(i.RHS, 1) {
			return i.LHS, true
		}
		if imm(i.LHS, 1) {
			return i.RHS, true
		}

	case ir.And:
		if imm(i.RHS, ^uint64(0)) {
			return i.LHS, true
		}
		if imm(i.LHS, ^uint64(0)) {
			return i.RHS, true
		}
	}

	return ir.Operand{}, false
}

// fold an instruction list.  exited is set if it ends in an unconditional
// exit.
func (f *folder) fold(instrs []ir.Instr) (out []ir.Instr, exited bool) {
	out = instrs[:0]

	for _, i := range instrs {
		i = ir.MapOperands(i, f.operand)

		switch x := i.(type) {
		case ir.Const:
			f.subst[x.Dst] = ir.Imm(x.Value)
			continue

		case ir.BinOp:
			if !x.LHS.IsVal() && !x.RHS.IsVal() {
				res, fl := ir.Eval(x.Op, x.LHS.Imm(), x.RHS.Imm())
				f.subst[x.Dst] = ir.Imm(res)
				if x.Flags != 0 {
					out = append(out, ir.SetFlags{Mask: x.Flags, Values: fl})
				}
				continue
			}
			if o, ok := identity(x); ok {
				f.subst[x.Dst] = o
				continue
			}

		case ir.Addr:
			if !x.Base.IsVal() && !x.Index.IsVal() {
				f.subst[x.Dst] = ir.Imm(ir.EvalAddr(x.Base.Imm(), x.Index.Imm(), x.Scale, x.Disp))
				continue
			}

		case ir.Guard:
			if !x.Cond.IsVal() {
				if (x.Cond.Imm() != 0) == x.Expected {
					continue
				}
				return append(out, ir.SideExit{ExitRIP: x.ExitRIP}), true
			}

		case ir.SideExit, ir.Bailout:
			return append(out, i), true

		case ir.LoadReg, ir.StoreReg, ir.LoadFlag, ir.SetFlags, ir.LoadMem, ir.StoreMem, ir.GuardCodeVersion:

		default:
			panic(fmt.Sprintf("constfold: unknown instruction type %T", x))
		}

		out = append(out, i)
	}

	return out, false
}

// ConstFold propagates constants and forwarded operands, evaluates
// operations over constants, and resolves constant guards.  Folded
// flag-setting operations leave their flag effect as SetFlags.
func ConstFold(t *ir.Trace) {
	f := folder{subst: make(map[ir.Value]ir.Operand)}

	var exited bool
	t.Prologue, exited = f.fold(t.Prologue)
	if exited {
		t.Body = nil
		return
	}
	t.Body, _ = f.fold(t.Body)
}
