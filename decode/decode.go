// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decode implements a decoder for a subset of x86-64 machine code.
//
// Supported instructions:
//
//	nop, hlt, ret
//	jmp rel8/rel32, je/jne rel8/rel32
//	mov (register, memory and immediate forms, 8/16/32/64-bit)
//	lea (64-bit)
//	add, sub, cmp (64-bit only)
//	and, or, xor (32/64-bit)
//
// Memory operands support base, scaled index and displacement, RIP-relative
// and absolute 32-bit addressing.  One operand-size prefix followed by one REX
// prefix is accepted.  Other prefixes are unsupported encodings.
package decode

import (
	"encoding/binary"

	"gate.computer/xlate/guest"
)

// MaxInsnLen is the architectural maximum instruction length.  A window of
// this size is always enough.
const MaxInsnLen = 15

const (
	rexW = 8
	rexR = 4
	rexX = 2
	rexB = 1
)

// Decode one instruction from the start of window.  rip is the address of
// the first byte.  Bytes beyond the window are never accessed.
func Decode(window []byte, rip uint64) (insn Insn, err error) {
	d := decoder{b: window, rip: rip}

	defer func() {
		if x := recover(); x != nil {
			e, ok := x.(*Error)
			if !ok {
				panic(x)
			}
			insn = Insn{}
			err = e
		}
	}()

	d.decode(&insn)
	insn.RIP = rip
	insn.Len = d.off
	return
}

type decoder struct {
	b      []byte
	off    int
	rip    uint64
	opcode byte
	rex    byte
	op16   bool
}

func (d *decoder) fail(kind ErrorKind) {
	panic(&Error{Kind: kind, RIP: d.rip, Opcode: d.opcode})
}

func (d *decoder) need(n int) {
	if len(d.b)-d.off < n {
		d.fail(Truncated)
	}
}

func (d *decoder) byte() byte {
	d.need(1)
	x := d.b[d.off]
	d.off++
	return x
}

func (d *decoder) int8() int64 {
	return int64(int8(d.byte()))
}

func (d *decoder) int16() int64 {
	d.need(2)
	x := binary.LittleEndian.Uint16(d.b[d.off:])
	d.off += 2
	return int64(int16(x))
}

func (d *decoder) int32() int64 {
	d.need(4)
	x := binary.LittleEndian.Uint32(d.b[d.off:])
	d.off += 4
	return int64(int32(x))
}

func (d *decoder) int64() int64 {
	d.need(8)
	x := binary.LittleEndian.Uint64(d.b[d.off:])
	d.off += 8
	return int64(x)
}

func (d *decoder) hasPrefix() bool {
	return d.op16 || d.rex != 0
}

// size of a non-byte operation.
func (d *decoder) size() int {
	switch {
	case d.rex&rexW != 0:
		return 8
	case d.op16:
		return 2
	default:
		return 4
	}
}

// branchTarget must be called after the displacement has been consumed.
func (d *decoder) branchTarget(rel int64) uint64 {
	return d.rip + uint64(d.off) + uint64(rel)
}

func (d *decoder) decode(insn *Insn) {
	b := d.byte()
	d.opcode = b

	if b == 0x66 {
		d.op16 = true
		b = d.byte()
		d.opcode = b
	}
	if b&0xf0 == 0x40 {
		d.rex = b
		b = d.byte()
		d.opcode = b
	}

	switch {
	case legacyPrefix(b):
		d.fail(UnsupportedEncoding)

	case b == 0x90:
		if d.rex&rexB != 0 {
			d.fail(UnsupportedEncoding) // xchg r8, rax
		}
		insn.Op = Nop

	case b == 0xf4 || b == 0xc3:
		if d.hasPrefix() {
			d.fail(UnsupportedEncoding)
		}
		if b == 0xf4 {
			insn.Op = Hlt
		} else {
			insn.Op = Ret
		}

	case b == 0xeb || b == 0xe9:
		if d.hasPrefix() {
			d.fail(UnsupportedEncoding)
		}
		var rel int64
		if b == 0xeb {
			rel = d.int8()
		} else {
			rel = d.int32()
		}
		insn.Op = Jmp
		insn.Target = d.branchTarget(rel)

	case b == 0x74 || b == 0x75:
		if d.hasPrefix() {
			d.fail(UnsupportedEncoding)
		}
		rel := d.int8()
		insn.Op = Jcc
		insn.Cond = Cond(b & 0xf)
		insn.Target = d.branchTarget(rel)

	case b >= 0x70 && b <= 0x7f:
		d.fail(UnsupportedOpcode)

	case b == 0x0f:
		d.decode0F(insn)

	case b >= 0xb8 && b <= 0xbf:
		insn.Op = Mov
		insn.Size = d.size()
		insn.Dst = RegArg(guest.Reg(b&7 | (d.rex&rexB)<<3))
		switch insn.Size {
		case 8:
			insn.Src = ImmArg(d.int64())
		case 2:
			insn.Src = ImmArg(d.int16())
		default:
			insn.Src = ImmArg(d.int32())
		}

	case b >= 0xb0 && b <= 0xb7:
		if d.op16 || d.rex&rexW != 0 {
			d.fail(UnsupportedEncoding)
		}
		r := guest.Reg(b&7 | (d.rex&rexB)<<3)
		d.checkByteReg(r)
		insn.Op = Mov
		insn.Size = 1
		insn.Dst = RegArg(r)
		insn.Src = ImmArg(d.int8())

	case b == 0xc7:
		insn.Op = Mov
		insn.Size = d.size()
		digit, rm := d.modrmDigit()
		if digit != 0 {
			d.fail(UnsupportedEncoding)
		}
		insn.Dst = rm
		if insn.Size == 2 {
			insn.Src = ImmArg(d.int16())
		} else {
			insn.Src = ImmArg(d.int32())
		}

	case b == 0xc6:
		if d.op16 || d.rex&rexW != 0 {
			d.fail(UnsupportedEncoding)
		}
		digit, rm := d.modrmDigit()
		if digit != 0 {
			d.fail(UnsupportedEncoding)
		}
		d.checkByteArg(rm)
		insn.Op = Mov
		insn.Size = 1
		insn.Dst = rm
		insn.Src = ImmArg(d.int8())

	case b == 0x88 || b == 0x8a:
		if d.op16 || d.rex&rexW != 0 {
			d.fail(UnsupportedEncoding)
		}
		r, rm := d.modrm()
		d.checkByteReg(r)
		d.checkByteArg(rm)
		insn.Op = Mov
		insn.Size = 1
		if b == 0x88 {
			insn.Dst, insn.Src = rm, RegArg(r)
		} else {
			insn.Dst, insn.Src = RegArg(r), rm
		}

	case b == 0x89 || b == 0x8b:
		r, rm := d.modrm()
		insn.Op = Mov
		insn.Size = d.size()
		if b == 0x89 {
			insn.Dst, insn.Src = rm, RegArg(r)
		} else {
			insn.Dst, insn.Src = RegArg(r), rm
		}

	case b == 0x8d:
		if d.rex&rexW == 0 || d.op16 {
			d.fail(UnsupportedEncoding)
		}
		r, rm := d.modrm()
		if !rm.IsMem() {
			d.fail(UnsupportedEncoding)
		}
		insn.Op = Lea
		insn.Size = 8
		insn.Dst, insn.Src = RegArg(r), rm

	case b == 0x81 || b == 0x83:
		digit, rm := d.modrmDigit()
		insn.Op = groupOps[digit]
		d.checkALUSize(insn.Op)
		insn.Size = d.size()
		insn.Dst = rm
		if b == 0x83 {
			insn.Src = ImmArg(d.int8())
		} else {
			insn.Src = ImmArg(d.int32())
		}

	default:
		op, ok := aluOps[b&^2]
		if !ok || b&4 != 0 {
			d.fail(UnsupportedOpcode)
		}
		d.checkALUSize(op)
		r, rm := d.modrm()
		insn.Op = op
		insn.Size = d.size()
		if b&2 == 0 {
			insn.Dst, insn.Src = rm, RegArg(r)
		} else {
			insn.Dst, insn.Src = RegArg(r), rm
		}
	}
}

func (d *decoder) decode0F(insn *Insn) {
	b := d.byte()

	switch {
	case b == 0x84 || b == 0x85:
		if d.hasPrefix() {
			d.fail(UnsupportedEncoding)
		}
		rel := d.int32()
		insn.Op = Jcc
		insn.Cond = Cond(b & 0xf)
		insn.Target = d.branchTarget(rel)

	default:
		d.fail(UnsupportedOpcode)
	}
}

// legacyPrefix reports lock, repeat, segment override, address-size and
// misplaced operand-size prefixes.
func legacyPrefix(b byte) bool {
	switch b {
	case 0xf0, 0xf2, 0xf3, 0x26, 0x2e, 0x36, 0x3e, 0x64, 0x65, 0x66, 0x67:
		return true
	}
	return false
}

// Register/memory forms of the ALU instructions, keyed by the opcode of the
// r/m destination variant.  Byte variants are not supported.
var aluOps = map[byte]Op{
	0x01: Add,
	0x09: Or,
	0x21: And,
	0x29: Sub,
	0x31: Xor,
	0x39: Cmp,
}

// Opcode extensions of 0x81 and 0x83.  Adc and sbb are not supported.
var groupOps = [8]Op{
	0: Add,
	1: Or,
	2: NumOps,
	3: NumOps,
	4: And,
	5: Sub,
	6: Xor,
	7: Cmp,
}

func (d *decoder) checkALUSize(op Op) {
	switch op {
	case Add, Sub, Cmp:
		if d.rex&rexW == 0 {
			d.fail(UnsupportedEncoding)
		}

	case And, Or, Xor:
		if d.op16 {
			d.fail(UnsupportedEncoding)
		}

	default:
		d.fail(UnsupportedEncoding)
	}
}

// checkByteReg rejects the legacy high-byte registers (ah, ch, dh, bh),
// which are selected by numbers 4-7 in the absence of a REX prefix.
func (d *decoder) checkByteReg(r guest.Reg) {
	if d.rex == 0 && r >= 4 && r < 8 {
		d.fail(UnsupportedEncoding)
	}
}

func (d *decoder) checkByteArg(a Arg) {
	if a.IsReg() {
		d.checkByteReg(a.Reg)
	}
}

func (d *decoder) modrm() (guest.Reg, Arg) {
	digit, rm := d.modrmDigit()
	return guest.Reg(digit | (d.rex&rexR)<<1), rm
}

// modrmDigit returns the unextended reg field and the r/m operand.
func (d *decoder) modrmDigit() (digit byte, rm Arg) {
	m := d.byte()
	mod := m >> 6
	digit = (m >> 3) & 7
	rmField := m & 7

	if mod == 3 {
		rm = RegArg(guest.Reg(rmField | (d.rex&rexB)<<3))
		return
	}

	var mem Mem

	switch {
	case rmField == 4:
		sib := d.byte()
		scale := sib >> 6
		index := (sib>>3)&7 | (d.rex&rexX)<<2
		base := sib & 7

		if index != 4 {
			mem.HasIndex = true
			mem.Index = guest.Reg(index)
			mem.Scale = 1 << scale
		}

		if base == 5 && mod == 0 {
			mem.Disp = int32(d.int32())
		} else {
			mem.HasBase = true
			mem.Base = guest.Reg(base | (d.rex&rexB)<<3)
		}

	case rmField == 5 && mod == 0:
		mem.RIPRel = true
		mem.Disp = int32(d.int32())

	default:
		mem.HasBase = true
		mem.Base = guest.Reg(rmField | (d.rex&rexB)<<3)
	}

	switch mod {
	case 1:
		mem.Disp = int32(d.int8())

	case 2:
		mem.Disp = int32(d.int32())
	}

	rm = MemArg(mem)
	return
}
