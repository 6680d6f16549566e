// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"fmt"
	"strings"

	"gate.computer/xlate/guest"
)

// Op is the instruction kind.
type Op uint8

const (
	Nop = Op(iota)
	Hlt
	Ret
	Jmp
	Jcc
	Mov
	Lea
	Add
	Sub
	Cmp
	And
	Or
	Xor

	NumOps
)

var opNames = [NumOps]string{
	Nop: "nop",
	Hlt: "hlt",
	Ret: "ret",
	Jmp: "jmp",
	Jcc: "j",
	Mov: "mov",
	Lea: "lea",
	Add: "add",
	Sub: "sub",
	Cmp: "cmp",
	And: "and",
	Or:  "or",
	Xor: "xor",
}

func (op Op) String() string {
	if op < NumOps {
		return opNames[op]
	}
	return fmt.Sprintf("<invalid op %d>", uint8(op))
}

// Cond of a conditional branch.
type Cond uint8

const (
	CondE  = Cond(0x4)
	CondNE = Cond(0x5)
)

func (c Cond) String() string {
	switch c {
	case CondE:
		return "e"

	case CondNE:
		return "ne"

	default:
		return fmt.Sprintf("<cond %d>", uint8(c))
	}
}

type ArgKind uint8

const (
	ArgNone = ArgKind(iota)
	ArgReg
	ArgMem
	ArgImm
)

// Mem is a memory operand.  Scale is zero when there is no index register.
// Disp of a RIP-relative operand is relative to the end of the instruction.
type Mem struct {
	Base     guest.Reg
	Index    guest.Reg
	HasBase  bool
	HasIndex bool
	Scale    uint8
	Disp     int32
	RIPRel   bool
}

// Arg is an instruction operand.  Immediates are sign-extended from their
// encoded width.
type Arg struct {
	Kind ArgKind
	Reg  guest.Reg
	Mem  Mem
	Imm  int64
}

func RegArg(r guest.Reg) Arg {
	return Arg{Kind: ArgReg, Reg: r}
}

func MemArg(m Mem) Arg {
	return Arg{Kind: ArgMem, Mem: m}
}

func ImmArg(value int64) Arg {
	return Arg{Kind: ArgImm, Imm: value}
}

func (a Arg) IsReg() bool   { return a.Kind == ArgReg }
func (a Arg) IsMem() bool   { return a.Kind == ArgMem }
func (a Arg) IsImm() bool   { return a.Kind == ArgImm }
func (a Arg) Present() bool { return a.Kind != ArgNone }

func (a Arg) String() string {
	return a.format(8)
}

// Absolute reports whether the operand is a plain 32-bit address.
func (m Mem) Absolute() bool {
	return !m.HasBase && !m.HasIndex && !m.RIPRel
}

// Insn is one decoded instruction.
type Insn struct {
	Op     Op
	Size   int // Operand size in bytes, or 0.
	Dst    Arg
	Src    Arg
	Cond   Cond
	Target uint64 // Branch destination.
	RIP    uint64
	Len    int
}

// Next is the address of the following instruction.
func (insn Insn) Next() uint64 {
	return insn.RIP + uint64(insn.Len)
}

// EffectiveAddr of a RIP-relative or absolute memory operand.  ok is false
// for operands which depend on registers.
func (insn Insn) EffectiveAddr(m Mem) (addr uint64, ok bool) {
	switch {
	case m.RIPRel:
		return insn.Next() + uint64(int64(m.Disp)), true

	case m.Absolute():
		return uint64(int64(m.Disp)), true

	default:
		return 0, false
	}
}

// Terminates reports whether the instruction ends a basic block.
func (insn Insn) Terminates() bool {
	switch insn.Op {
	case Hlt, Ret, Jmp, Jcc:
		return true
	}
	return false
}

func (insn Insn) String() string {
	var b strings.Builder

	switch insn.Op {
	case Jcc:
		fmt.Fprintf(&b, "j%s 0x%x", insn.Cond, insn.Target)

	case Jmp:
		fmt.Fprintf(&b, "jmp 0x%x", insn.Target)

	default:
		b.WriteString(insn.Op.String())
		if insn.Dst.Present() {
			b.WriteString(" ")
			b.WriteString(insn.Dst.format(insn.Size))
		}
		if insn.Src.Present() {
			b.WriteString(", ")
			b.WriteString(insn.Src.format(insn.Size))
		}
	}

	return b.String()
}

func (a Arg) format(size int) string {
	switch a.Kind {
	case ArgReg:
		return regName(a.Reg, size)

	case ArgImm:
		return fmt.Sprintf("0x%x", uint64(a.Imm)&sizeMask(size))

	case ArgMem:
		var parts []string
		if a.Mem.RIPRel {
			parts = append(parts, "rip")
		}
		if a.Mem.HasBase {
			parts = append(parts, a.Mem.Base.String())
		}
		if a.Mem.HasIndex {
			parts = append(parts, fmt.Sprintf("%s*%d", a.Mem.Index, a.Mem.Scale))
		}
		if a.Mem.Disp != 0 || len(parts) == 0 {
			if a.Mem.Disp < 0 && len(parts) > 0 {
				parts = append(parts, fmt.Sprintf("-0x%x", -int64(a.Mem.Disp)))
			} else {
				parts = append(parts, fmt.Sprintf("0x%x", a.Mem.Disp))
			}
		}
		return fmt.Sprintf("%s [%s]", sizeName(size), strings.Replace(strings.Join(parts, "+"), "+-", "-", -1))

	default:
		return ""
	}
}

func sizeMask(size int) uint64 {
	if size >= 8 || size == 0 {
		return ^uint64(0)
	}
	return uint64(1)<<(8*uint(size)) - 1
}

func sizeName(size int) string {
	switch size {
	case 1:
		return "byte"
	case 2:
		return "word"
	case 4:
		return "dword"
	default:
		return "qword"
	}
}

var (
	regNames32 = [guest.NumRegs]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
	regNames16 = [guest.NumRegs]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di"}
	regNames8  = [guest.NumRegs]string{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil"}
)

func regName(r guest.Reg, size int) string {
	if r >= guest.NumRegs {
		return r.String()
	}
	if r >= guest.R8 {
		switch size {
		case 1:
			return r.String() + "b"
		case 2:
			return r.String() + "w"
		case 4:
			return r.String() + "d"
		}
		return r.String()
	}
	switch size {
	case 1:
		return regNames8[r]
	case 2:
		return regNames16[r]
	case 4:
		return regNames32[r]
	}
	return r.String()
}
