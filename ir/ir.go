// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ir defines the intermediate representation of translated guest
// code.
//
// Values are single-assignment scratch slots identified by dense numbers.
// They are unique within one Function or Trace, and cannot be referenced
// across them.
package ir

import (
	"fmt"

	"gate.computer/xlate/abi"
	"gate.computer/xlate/guest"
)

// Value is a scratch slot number.
type Value uint32

func (v Value) String() string {
	return fmt.Sprintf("v%d", uint32(v))
}

// Operand is either an immediate or a value reference.
type Operand struct {
	value Value
	imm   uint64
	isVal bool
}

func Imm(x uint64) Operand    { return Operand{imm: x} }
func Val(v Value) Operand     { return Operand{value: v, isVal: true} }
func (o Operand) IsVal() bool { return o.isVal }

// Value panics if the operand is an immediate.
func (o Operand) Value() Value {
	if !o.isVal {
		panic("immediate operand has no value")
	}
	return o.value
}

// Imm panics if the operand is a value reference.
func (o Operand) Imm() uint64 {
	if o.isVal {
		panic("value operand has no immediate")
	}
	return o.imm
}

func (o Operand) String() string {
	if o.isVal {
		return o.value.String()
	}
	return fmt.Sprintf("0x%x", o.imm)
}

// Op is a binary operation.
type Op uint8

const (
	Add = Op(iota)
	Sub
	Mul
	And
	Or
	Xor
	Shl // Count is masked to 6 bits.
	Shr // Logical; count is masked to 6 bits.
	Eq  // 1 if equal, else 0.
	LtU // 1 if unsigned less than, else 0.

	NumOps
)

var opNames = [NumOps]string{
	Add: "add",
	Sub: "sub",
	Mul: "mul",
	And: "and",
	Or:  "or",
	Xor: "xor",
	Shl: "shl",
	Shr: "shr",
	Eq:  "eq",
	LtU: "ltu",
}

func (op Op) String() string {
	if op < NumOps {
		return opNames[op]
	}
	return fmt.Sprintf("<op %d>", uint8(op))
}

// Width of a memory access in bits.
type Width uint8

const (
	W8  = Width(8)
	W16 = Width(16)
	W32 = Width(32)
	W64 = Width(64)
)

// WidthOf operand size in bytes.
func WidthOf(size int) Width {
	switch size {
	case 1, 2, 4, 8:
		return Width(size * 8)
	}
	panic(fmt.Sprintf("invalid operand size %d", size))
}

func (w Width) Bytes() int { return int(w) / 8 }

// Mask of the low bits.
func (w Width) Mask() uint64 {
	if w >= W64 {
		return ^uint64(0)
	}
	return uint64(1)<<w - 1
}

// Instr is implemented by the concrete instruction types of this package
// only.  Consumers use a type switch and panic on an unknown type.
type Instr interface {
	fmt.Stringer
	instr()
}

// Const materializes an immediate.
type Const struct {
	Dst   Value
	Value uint64
}

// LoadReg reads a general-purpose register.
type LoadReg struct {
	Dst Value
	Reg guest.Reg
}

// StoreReg writes a general-purpose register.
type StoreReg struct {
	Reg guest.Reg
	Src Operand
}

// LoadFlag reads a flag as 0 or 1.
type LoadFlag struct {
	Dst  Value
	Flag guest.Flag
}

// SetFlags assigns the masked flags.
type SetFlags struct {
	Mask   guest.FlagMask
	Values guest.Flags
}

// BinOp computes Dst and applies the masked part of the flag result.
type BinOp struct {
	Dst   Value
	Op    Op
	LHS   Operand
	RHS   Operand
	Flags guest.FlagMask
}

// Addr computes Base + Index*Scale + Disp.
type Addr struct {
	Dst   Value
	Base  Operand
	Index Operand
	Scale uint8
	Disp  int64
}

// LoadMem reads guest memory.  The result is zero-extended.
type LoadMem struct {
	Dst   Value
	Addr  Operand
	Width Width
}

// StoreMem writes the low bits of Src to guest memory.
type StoreMem struct {
	Addr  Operand
	Src   Operand
	Width Width
}

// Guard side-exits to ExitRIP unless Cond (non-zero means true) equals
// Expected.
type Guard struct {
	Cond     Operand
	Expected bool
	ExitRIP  uint64
}

// GuardCodeVersion side-exits to ExitRIP unless the page version is still
// Expected.
type GuardCodeVersion struct {
	Page     uint64
	Expected uint64
	ExitRIP  uint64
}

// SideExit leaves the trace at ExitRIP.
type SideExit struct {
	ExitRIP uint64
}

// Bailout hands control to the host at ExitRIP.
type Bailout struct {
	Kind    abi.ExitKind
	ExitRIP uint64
}

func (Const) instr()            {}
func (LoadReg) instr()          {}
func (StoreReg) instr()         {}
func (LoadFlag) instr()         {}
func (SetFlags) instr()         {}
func (BinOp) instr()            {}
func (Addr) instr()             {}
func (LoadMem) instr()          {}
func (StoreMem) instr()         {}
func (Guard) instr()            {}
func (GuardCodeVersion) instr() {}
func (SideExit) instr()         {}
func (Bailout) instr()          {}

// Def returns the value defined by an instruction.
func Def(i Instr) (Value, bool) {
	switch i := i.(type) {
	case Const:
		return i.Dst, true
	case LoadReg:
		return i.Dst, true
	case LoadFlag:
		return i.Dst, true
	case BinOp:
		return i.Dst, true
	case Addr:
		return i.Dst, true
	case LoadMem:
		return i.Dst, true
	case StoreReg, SetFlags, StoreMem, Guard, GuardCodeVersion, SideExit, Bailout:
		return 0, false
	default:
		panic(fmt.Sprintf("unknown instruction type %T", i))
	}
}

// MapOperands returns a copy of the instruction with every operand replaced
// by f's result.
func MapOperands(i Instr, f func(Operand) Operand) Instr {
	switch i := i.(type) {
	case Const, LoadReg, LoadFlag, SetFlags, GuardCodeVersion, SideExit, Bailout:
		return i
	case StoreReg:
		i.Src = f(i.Src)
		return i
	case BinOp:
		i.LHS = f(i.LHS)
		i.RHS = f(i.RHS)
		return i
	case Addr:
		i.Base = f(i.Base)
		i.Index = f(i.Index)
		return i
	case LoadMem:
		i.Addr = f(i.Addr)
		return i
	case StoreMem:
		i.Addr = f(i.Addr)
		i.Src = f(i.Src)
		return i
	case Guard:
		i.Cond = f(i.Cond)
		return i
	default:
		panic(fmt.Sprintf("unknown instruction type %T", i))
	}
}

// Uses calls f for each value operand of the instruction.
func Uses(i Instr, f func(Value)) {
	MapOperands(i, func(o Operand) Operand {
		if o.IsVal() {
			f(o.Value())
		}
		return o
	})
}

// IsExit reports whether the instruction may leave the trace or block.
func IsExit(i Instr) bool {
	switch i.(type) {
	case Guard, GuardCodeVersion, SideExit, Bailout:
		return true
	}
	return false
}
