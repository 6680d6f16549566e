// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import (
	"gate.computer/xlate/guest"
	"gate.computer/xlate/ir"
)

const (
	exprBinOp = iota
	exprAddr
)

type expr struct {
	kind  uint8
	op    ir.Op
	a, b  ir.Operand
	scale uint8
	disp  int64
}

func commutative(op ir.Op) bool {
	switch op {
	case ir.Add, ir.Mul, ir.And, ir.Or, ir.Xor, ir.Eq:
		return true
	}
	return false
}

// ordered puts immediates first, then values by number.
func ordered(a, b ir.Operand) bool {
	switch {
	case a.IsVal() != b.IsVal():
		return !a.IsVal()

	case a.IsVal():
		return a.Value() <= b.Value()

	default:
		return a.Imm() <= b.Imm()
	}
}

type numbering struct {
	subst map[ir.Value]ir.Operand
	exprs map[expr]ir.Value
	regs  map[guest.Reg]ir.Operand // Known register contents.
}

func (n *numbering) operand(o ir.Operand) ir.Operand {
	if o.IsVal() {
		if x, ok := n.subst[o.Value()]; ok {
			return x
		}
	}
	return o
}

// reuse an earlier value of the expression, or remember dst as its value.
func (n *numbering) reuse(dst ir.Value, e expr, removable bool) bool {
	v, ok := n.exprs[e]
	if !ok {
		n.exprs[e] = dst
		return false
	}
	if removable {
		n.subst[dst] = ir.Val(v)
	}
	return removable
}

func (n *numbering) number(instrs []ir.Instr) []ir.Instr {
	out := instrs[:0]

	for _, i := range instrs {
		i = ir.MapOperands(i, n.operand)

		switch x := i.(type) {
		case ir.BinOp:
			e := expr{kind: exprBinOp, op: x.Op, a: x.LHS, b: x.RHS}
			if commutative(x.Op) && !ordered(e.a, e.b) {
				e.a, e.b = e.b, e.a
			}
			if n.reuse(x.Dst, e, x.Flags == 0) {
				continue
			}

		case ir.Addr:
			e := expr{kind: exprAddr, a: x.Base, b: x.Index, scale: x.Scale, disp: x.Disp}
			if n.reuse(x.Dst, e, true) {
				continue
			}

		case ir.LoadReg:
			if o, ok := n.regs[x.Reg]; ok {
				n.subst[x.Dst] = o
				continue
			}
			n.regs[x.Reg] = ir.Val(x.Dst)

		case ir.StoreReg:
			n.regs[x.Reg] = x.Src
		}

		out = append(out, i)
	}

	return out
}

// CSE removes recomputations of flagless operations and address
// calculations, and forwards register contents to later register loads.
// Expressions of the prologue are available in a loop body, but register
// contents are only carried over for registers which the body does not
// write.
func CSE(t *ir.Trace) {
	n := numbering{
		subst: make(map[ir.Value]ir.Operand),
		exprs: make(map[expr]ir.Value),
		regs:  make(map[guest.Reg]ir.Operand),
	}

	t.Prologue = n.number(t.Prologue)

	if t.Kind == ir.Loop {
		for _, r := range storedRegs(t.Body).Regs() {
			delete(n.regs, r)
		}
	}

	t.Body = n.number(t.Body)
}

func storedRegs(instrs []ir.Instr) (set ir.RegSet) {
	for _, i := range instrs {
		if x, ok := i.(ir.StoreReg); ok {
			set = set.With(x.Reg)
		}
	}
	return
}
