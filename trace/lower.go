// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trace

import (
	"gate.computer/xlate/decode"
	"gate.computer/xlate/guest"
	"gate.computer/xlate/ir"
	"golang.org/x/xerrors"
)

// ErrControlTransfer is returned by Lower for instructions which must be
// handled by the region or trace builder.
var ErrControlTransfer = xerrors.New("control transfer instruction")

const mask32 = 0xffffffff

// location is a register or a computed memory address.
type location struct {
	reg   guest.Reg
	isReg bool
	addr  ir.Operand
}

type lowerer struct {
	b    *ir.Builder
	insn decode.Insn
}

func (l *lowerer) value(i func(ir.Value) ir.Instr) ir.Operand {
	v := l.b.NewValue()
	l.b.Emit(i(v))
	return ir.Val(v)
}

func (l *lowerer) binop(op ir.Op, lhs, rhs ir.Operand, flags guest.FlagMask) ir.Operand {
	return l.value(func(v ir.Value) ir.Instr {
		return ir.BinOp{Dst: v, Op: op, LHS: lhs, RHS: rhs, Flags: flags}
	})
}

func (l *lowerer) loadReg(r guest.Reg) ir.Operand {
	return l.value(func(v ir.Value) ir.Instr {
		return ir.LoadReg{Dst: v, Reg: r}
	})
}

func (l *lowerer) address(m decode.Mem) ir.Operand {
	if ea, ok := l.insn.EffectiveAddr(m); ok {
		return l.value(func(v ir.Value) ir.Instr {
			return ir.Addr{Dst: v, Base: ir.Imm(0), Index: ir.Imm(0), Scale: 1, Disp: int64(ea)}
		})
	}

	base := ir.Imm(0)
	if m.HasBase {
		base = l.loadReg(m.Base)
	}

	index := ir.Imm(0)
	scale := uint8(1)
	if m.HasIndex {
		index = l.loadReg(m.Index)
		scale = m.Scale
	}

	return l.value(func(v ir.Value) ir.Instr {
		return ir.Addr{Dst: v, Base: base, Index: index, Scale: scale, Disp: int64(m.Disp)}
	})
}

func (l *lowerer) locate(a decode.Arg) location {
	if a.IsReg() {
		return location{reg: a.Reg, isReg: true}
	}
	return location{addr: l.address(a.Mem)}
}

// load a zero-extended operand.
func (l *lowerer) load(loc location, size int) ir.Operand {
	if loc.isReg {
		x := l.loadReg(loc.reg)
		if size < 8 {
			x = l.binop(ir.And, x, ir.Imm(ir.WidthOf(size).Mask()), 0)
		}
		return x
	}

	return l.value(func(v ir.Value) ir.Instr {
		return ir.LoadMem{Dst: v, Addr: loc.addr, Width: ir.WidthOf(size)}
	})
}

func (l *lowerer) read(a decode.Arg, size int) ir.Operand {
	if a.IsImm() {
		return ir.Imm(uint64(a.Imm) & ir.WidthOf(size).Mask())
	}
	return l.load(l.locate(a), size)
}

// store with register write semantics: 32-bit results are zero-extended, and
// 8 and 16-bit results are merged into the old value.
func (l *lowerer) store(loc location, size int, x ir.Operand) {
	if !loc.isReg {
		l.b.Emit(ir.StoreMem{Addr: loc.addr, Src: x, Width: ir.WidthOf(size)})
		return
	}

	switch size {
	case 8:

	case 4:
		x = l.binop(ir.And, x, ir.Imm(mask32), 0)

	default:
		mask := ir.WidthOf(size).Mask()
		old := l.binop(ir.And, l.loadReg(loc.reg), ir.Imm(^mask), 0)
		x = l.binop(ir.Or, old, l.binop(ir.And, x, ir.Imm(mask), 0), 0)
	}

	l.b.Emit(ir.StoreReg{Reg: loc.reg, Src: x})
}

// Lower appends the IR of a data processing instruction.  Control transfers
// yield ErrControlTransfer.
func Lower(b *ir.Builder, insn decode.Insn) error {
	l := lowerer{b: b, insn: insn}

	switch insn.Op {
	case decode.Nop:

	case decode.Mov:
		l.store(l.locate(insn.Dst), insn.Size, l.read(insn.Src, insn.Size))

	case decode.Lea:
		l.store(l.locate(insn.Dst), 8, l.address(insn.Src.Mem))

	case decode.Add, decode.Sub, decode.Cmp:
		op := ir.Add
		if insn.Op != decode.Add {
			op = ir.Sub
		}

		dst := l.locate(insn.Dst)
		lhs := l.load(dst, insn.Size)
		rhs := l.read(insn.Src, insn.Size)
		res := l.binop(op, lhs, rhs, guest.MaskAll)
		if insn.Op != decode.Cmp {
			l.store(dst, insn.Size, res)
		}

	case decode.And, decode.Or, decode.Xor:
		op := map[decode.Op]ir.Op{decode.And: ir.And, decode.Or: ir.Or, decode.Xor: ir.Xor}[insn.Op]

		dst := l.locate(insn.Dst)
		lhs := l.load(dst, insn.Size)
		rhs := l.read(insn.Src, insn.Size)

		var res ir.Operand
		if insn.Size == 8 {
			res = l.binop(op, lhs, rhs, guest.MaskAll)
		} else {
			// Sign and zero of the narrow result, with carry and overflow
			// cleared.
			res = l.binop(op, lhs, rhs, 0)
			l.binop(ir.Shl, res, ir.Imm(64-8*uint64(insn.Size)), guest.MaskAll)
		}
		l.store(dst, insn.Size, res)

	case decode.Hlt, decode.Ret, decode.Jmp, decode.Jcc:
		return ErrControlTransfer

	default:
		return xerrors.Errorf("cannot lower %s", insn)
	}

	return nil
}

// Condition appends the computation of a conditional branch's taken
// predicate.
func Condition(b *ir.Builder, cond decode.Cond) ir.Operand {
	l := lowerer{b: b}

	zf := l.value(func(v ir.Value) ir.Instr {
		return ir.LoadFlag{Dst: v, Flag: guest.ZF}
	})

	switch cond {
	case decode.CondE:
		return zf

	case decode.CondNE:
		return l.binop(ir.Eq, zf, ir.Imm(0), 0)

	default:
		panic(cond)
	}
}
