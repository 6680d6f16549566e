// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codegen

import (
	"fmt"

	"gate.computer/xlate/abi"
	"gate.computer/xlate/guest"
	"gate.computer/xlate/ir"
	"gate.computer/xlate/wa/opcode"
)

var binaryOpcodes = [ir.NumOps]opcode.Opcode{
	ir.Add: opcode.I64Add,
	ir.Sub: opcode.I64Sub,
	ir.Mul: opcode.I64Mul,
	ir.And: opcode.I64And,
	ir.Or:  opcode.I64Or,
	ir.Xor: opcode.I64Xor,
	ir.Shl: opcode.I64Shl,
	ir.Shr: opcode.I64ShrU,
	ir.Eq:  opcode.I64Eq,
	ir.LtU: opcode.I64LtU,
}

func genInstrs(f *function, list []ir.Instr) {
	for _, i := range list {
		genInstr(f, i)
	}
}

func genOperand(f *function, o ir.Operand) {
	if o.IsVal() {
		f.code.LocalGet(f.valueLocal(o.Value()))
	} else {
		f.code.I64Const(int64(o.Imm()))
	}
}

func genInstr(f *function, i ir.Instr) {
	c := f.code

	switch i := i.(type) {
	case ir.Const:
		c.I64Const(int64(i.Value))
		c.LocalSet(f.valueLocal(i.Dst))

	case ir.LoadReg:
		if f.plan.Cacheable.Has(i.Reg) {
			c.LocalGet(f.slotLocal(int(i.Reg)))
		} else {
			c.LocalGet(localCPU)
			c.Mem(opcode.I64Load, abi.RegOffset(i.Reg))
		}
		c.LocalSet(f.valueLocal(i.Dst))

	case ir.StoreReg:
		if f.plan.Cacheable.Has(i.Reg) {
			genOperand(f, i.Src)
			c.LocalSet(f.slotLocal(int(i.Reg)))
			f.written = f.written.With(i.Reg)
		} else {
			c.LocalGet(localCPU)
			genOperand(f, i.Src)
			c.Mem(opcode.I64Store, abi.RegOffset(i.Reg))
		}

	case ir.LoadFlag:
		c.LocalGet(localRFLAGS)
		c.I64Const(int64(i.Flag.Bit()))
		c.Op(opcode.I64ShrU)
		c.I64Const(1)
		c.Op(opcode.I64And)
		c.LocalSet(f.valueLocal(i.Dst))

	case ir.SetFlags:
		if i.Mask == guest.MaskNone {
			break
		}
		var values uint64
		for fl := guest.Flag(0); fl < guest.NumFlags; fl++ {
			if i.Mask.Has(fl) && i.Values.Get(fl) {
				values |= 1 << fl.Bit()
			}
		}
		genClearFlags(f, i.Mask)
		c.I64Const(int64(values))
		c.Op(opcode.I64Or)
		c.LocalSet(localRFLAGS)

	case ir.BinOp:
		genOperand(f, i.LHS)
		genOperand(f, i.RHS)
		c.Op(binaryOpcodes[i.Op])
		if i.Op == ir.Eq || i.Op == ir.LtU {
			c.Op(opcode.I64ExtendUI32)
		}
		c.LocalSet(f.valueLocal(i.Dst))

		if i.Flags != guest.MaskNone {
			genFlags(f, i)
		}

	case ir.Addr:
		genOperand(f, i.Base)
		if i.Index.IsVal() || i.Index.Imm() != 0 {
			genOperand(f, i.Index)
			if i.Scale != 1 {
				c.I64Const(int64(i.Scale))
				c.Op(opcode.I64Mul)
			}
			c.Op(opcode.I64Add)
		}
		if i.Disp != 0 {
			c.I64Const(i.Disp)
			c.Op(opcode.I64Add)
		}
		c.LocalSet(f.valueLocal(i.Dst))

	case ir.LoadMem:
		c.LocalGet(localCPU)
		genOperand(f, i.Addr)
		f.call(abi.MemRead(i.Width.Bytes()))
		if i.Width != ir.W64 {
			c.Op(opcode.I64ExtendUI32)
		}
		c.LocalSet(f.valueLocal(i.Dst))

	case ir.StoreMem:
		c.LocalGet(localCPU)
		genOperand(f, i.Addr)
		genOperand(f, i.Src)
		if i.Width != ir.W64 {
			c.Op(opcode.I32WrapI64)
		}
		f.call(abi.MemWrite(i.Width.Bytes()))

	case ir.Guard:
		genOperand(f, i.Cond)
		c.Op(opcode.I64Eqz)
		if !i.Expected {
			c.Op(opcode.I32Eqz)
		}
		genExitIf(f, i.ExitRIP, abi.CauseGuard)

	case ir.GuardCodeVersion:
		c.LocalGet(localCPU)
		c.I64Const(int64(i.Page))
		f.call(abi.HelperCodePageVersion)
		c.I64Const(int64(i.Expected))
		c.Op(opcode.I64Ne)
		genExitIf(f, i.ExitRIP, abi.CauseCodeVersion)

	case ir.SideExit:
		genExit(f, i.ExitRIP, abi.CauseExit)

	case ir.Bailout:
		c.LocalGet(localCPU)
		c.I32Const(int32(i.Kind))
		c.I64Const(int64(i.ExitRIP))
		f.call(abi.HelperJITExit)
		c.LocalSet(localHandoff)
		genExit(f, i.ExitRIP, abi.CauseHandoff)

	default:
		panic(fmt.Sprintf("codegen: unknown instruction type %T", i))
	}
}

// genClearFlags leaves RFLAGS with the masked bits cleared on the stack.
func genClearFlags(f *function, mask guest.FlagMask) {
	var bits uint64
	for fl := guest.Flag(0); fl < guest.NumFlags; fl++ {
		if mask.Has(fl) {
			bits |= 1 << fl.Bit()
		}
	}

	f.code.LocalGet(localRFLAGS)
	f.code.I64Const(int64(^bits))
	f.code.Op(opcode.I64And)
}

// genFlags merges the masked flag results of a binary operation into RFLAGS.
// Carry and overflow are computed for Add and Sub, and are clear for other
// operations.
func genFlags(f *function, i ir.BinOp) {
	c := f.code
	dst := ir.Val(i.Dst)

	genClearFlags(f, i.Flags)

	if i.Flags.Has(guest.ZF) {
		genOperand(f, dst)
		c.Op(opcode.I64Eqz)
		c.Op(opcode.I64ExtendUI32)
		genShiftOr(f, guest.BitZF)
	}

	if i.Flags.Has(guest.SF) {
		genOperand(f, dst)
		c.I64Const(63)
		c.Op(opcode.I64ShrU)
		genShiftOr(f, guest.BitSF)
	}

	if i.Op != ir.Add && i.Op != ir.Sub {
		c.LocalSet(localRFLAGS)
		return
	}

	if i.Flags.Has(guest.CF) {
		if i.Op == ir.Add {
			genOperand(f, dst) // res < lhs
			genOperand(f, i.LHS)
		} else {
			genOperand(f, i.LHS) // lhs < rhs
			genOperand(f, i.RHS)
		}
		c.Op(opcode.I64LtU)
		c.Op(opcode.I64ExtendUI32)
		genShiftOr(f, guest.BitCF)
	}

	if i.Flags.Has(guest.OF) {
		if i.Op == ir.Add {
			genXor(f, i.LHS, dst)
			genXor(f, i.RHS, dst)
		} else {
			genXor(f, i.LHS, i.RHS)
			genXor(f, i.LHS, dst)
		}
		c.Op(opcode.I64And)
		c.I64Const(63)
		c.Op(opcode.I64ShrU)
		genShiftOr(f, guest.BitOF)
	}

	c.LocalSet(localRFLAGS)
}

func genXor(f *function, a, b ir.Operand) {
	genOperand(f, a)
	genOperand(f, b)
	f.code.Op(opcode.I64Xor)
}

// genShiftOr positions a 0/1 value at an RFLAGS bit and merges it.
func genShiftOr(f *function, bit uint) {
	if bit != 0 {
		f.code.I64Const(int64(bit))
		f.code.Op(opcode.I64Shl)
	}
	f.code.Op(opcode.I64Or)
}
