// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package in encodes the x86-64 instruction subset understood by the decoder.
// It produces the shortest canonical form of each instruction, and is used to
// assemble guest programs for tests and tools.
package in

import (
	"encoding/binary"

	"gate.computer/xlate/decode"
	"gate.computer/xlate/guest"
	"golang.org/x/xerrors"
)

const maxInsnLen = 16

type output struct {
	buf    [maxInsnLen]byte
	offset uint8
}

func (o *output) copy(target []byte) []byte {
	return append(target, o.buf[:o.offset]...)
}

func (o *output) byte(b byte) {
	o.buf[o.offset] = b
	o.offset++
}

func (o *output) rex(wrxb rexWRXB) {
	o.rexIf(wrxb, false)
}

// rexIf emits a REX prefix if any bit is set, or if force is true.
func (o *output) rexIf(wrxb rexWRXB, force bool) {
	if wrxb != 0 || force {
		o.byte(Rex | byte(wrxb))
	}
}

func (o *output) mod(mod Mod, ro ModRO, rm ModRM) {
	o.byte(byte(mod) | byte(ro) | byte(rm))
}

func (o *output) sib(s Scale, i Index, b Base) {
	o.byte(byte(s) | byte(i) | byte(b))
}

func (o *output) int8(val int8) {
	o.byte(uint8(val))
}

func (o *output) int16(val int16) {
	binary.LittleEndian.PutUint16(o.buf[o.offset:], uint16(val))
	o.offset += 2
}

func (o *output) int32(val int32) {
	binary.LittleEndian.PutUint32(o.buf[o.offset:], uint32(val))
	o.offset += 4
}

func (o *output) int64(val int64) {
	binary.LittleEndian.PutUint64(o.buf[o.offset:], uint64(val))
	o.offset += 8
}

func (o *output) disp(size uint8, disp int32) {
	switch size {
	case 1:
		o.int8(int8(disp))

	case 4:
		o.int32(disp)
	}
}

func (o *output) imm(size int, val int64) {
	switch size {
	case 1:
		o.int8(int8(val))

	case 2:
		o.int16(int16(val))

	default:
		o.int32(int32(val))
	}
}

// Encode the instruction.  Branch displacements are computed from RIP and
// Target.
func Encode(insn decode.Insn) ([]byte, error) {
	var o output

	if err := encode(&o, insn); err != nil {
		return nil, err
	}
	return o.copy(nil), nil
}

// Append an encoded instruction to target.
func Append(target []byte, insn decode.Insn) ([]byte, error) {
	var o output

	if err := encode(&o, insn); err != nil {
		return target, err
	}
	return o.copy(target), nil
}

func unencodable(insn decode.Insn) error {
	return xerrors.Errorf("x86 encoder: cannot encode %s", insn)
}

func encode(o *output, insn decode.Insn) error {
	switch insn.Op {
	case decode.Nop:
		o.byte(0x90)

	case decode.Hlt:
		o.byte(0xf4)

	case decode.Ret:
		o.byte(0xc3)

	case decode.Jmp:
		if rel := branchRel(insn, 2); fitsInt8(rel) {
			o.byte(0xeb)
			o.int8(int8(rel))
		} else if rel := branchRel(insn, 5); fitsInt32(rel) {
			o.byte(0xe9)
			o.int32(int32(rel))
		} else {
			return unencodable(insn)
		}

	case decode.Jcc:
		if insn.Cond != decode.CondE && insn.Cond != decode.CondNE {
			return unencodable(insn)
		}
		if rel := branchRel(insn, 2); fitsInt8(rel) {
			o.byte(0x70 | byte(insn.Cond))
			o.int8(int8(rel))
		} else if rel := branchRel(insn, 6); fitsInt32(rel) {
			o.byte(0x0f)
			o.byte(0x80 | byte(insn.Cond))
			o.int32(int32(rel))
		} else {
			return unencodable(insn)
		}

	case decode.Mov:
		return encodeMov(o, insn)

	case decode.Lea:
		if insn.Size != 8 || !insn.Dst.IsReg() || !insn.Src.IsMem() {
			return unencodable(insn)
		}
		return encodeRM(o, insn, []byte{0x8d}, insn.Dst.Reg, insn.Src)

	case decode.Add, decode.Sub, decode.Cmp, decode.And, decode.Or, decode.Xor:
		return encodeALU(o, insn)

	default:
		return unencodable(insn)
	}

	return nil
}

func branchRel(insn decode.Insn, length int) int64 {
	return int64(insn.Target - (insn.RIP + uint64(length)))
}

var aluBase = map[decode.Op]byte{
	decode.Add: 0x01,
	decode.Or:  0x09,
	decode.And: 0x21,
	decode.Sub: 0x29,
	decode.Xor: 0x31,
	decode.Cmp: 0x39,
}

var aluDigit = map[decode.Op]byte{
	decode.Add: 0,
	decode.Or:  1,
	decode.And: 4,
	decode.Sub: 5,
	decode.Xor: 6,
	decode.Cmp: 7,
}

func encodeALU(o *output, insn decode.Insn) error {
	switch insn.Op {
	case decode.Add, decode.Sub, decode.Cmp:
		if insn.Size != 8 {
			return unencodable(insn)
		}

	default:
		if insn.Size != 4 && insn.Size != 8 {
			return unencodable(insn)
		}
	}

	switch {
	case insn.Src.IsImm():
		if insn.Dst.IsImm() {
			return unencodable(insn)
		}
		digit := guest.Reg(aluDigit[insn.Op])
		if fitsInt8(insn.Src.Imm) {
			if err := encodeRM(o, insn, []byte{0x83}, digit, insn.Dst); err != nil {
				return err
			}
			o.imm(1, insn.Src.Imm)
		} else if fitsInt32(insn.Src.Imm) {
			if err := encodeRM(o, insn, []byte{0x81}, digit, insn.Dst); err != nil {
				return err
			}
			o.imm(4, insn.Src.Imm)
		} else {
			return unencodable(insn)
		}
		return nil

	case insn.Src.IsReg():
		return encodeRM(o, insn, []byte{aluBase[insn.Op]}, insn.Src.Reg, insn.Dst)

	case insn.Src.IsMem() && insn.Dst.IsReg():
		return encodeRM(o, insn, []byte{aluBase[insn.Op] | 2}, insn.Dst.Reg, insn.Src)

	default:
		return unencodable(insn)
	}
}

func encodeMov(o *output, insn decode.Insn) error {
	switch insn.Size {
	case 1, 2, 4, 8:
	default:
		return unencodable(insn)
	}

	store, load := byte(0x89), byte(0x8b)
	if insn.Size == 1 {
		store, load = 0x88, 0x8a
	}

	switch {
	case insn.Src.IsImm() && insn.Dst.IsReg():
		r := insn.Dst.Reg
		val := insn.Src.Imm

		switch insn.Size {
		case 8:
			if fitsInt32(val) {
				if err := encodeRM(o, insn, []byte{0xc7}, 0, insn.Dst); err != nil {
					return err
				}
				o.imm(4, val)
			} else {
				o.rex(RexW | regRexB(r))
				o.byte(0xb8 | byte(r&7))
				o.int64(val)
			}

		case 1:
			o.rexIf(regRexB(r), byteRegNeedsRex(r))
			o.byte(0xb0 | byte(r&7))
			o.imm(1, val)

		default:
			if insn.Size == 2 {
				o.byte(0x66)
			}
			o.rex(regRexB(r))
			o.byte(0xb8 | byte(r&7))
			o.imm(insn.Size, val)
		}
		return nil

	case insn.Src.IsImm() && insn.Dst.IsMem():
		if insn.Size == 8 && !fitsInt32(insn.Src.Imm) {
			return unencodable(insn)
		}
		op := byte(0xc7)
		if insn.Size == 1 {
			op = 0xc6
		}
		if err := encodeRM(o, insn, []byte{op}, 0, insn.Dst); err != nil {
			return err
		}
		o.imm(min(insn.Size, 4), insn.Src.Imm)
		return nil

	case insn.Src.IsReg() && !insn.Dst.IsImm():
		return encodeRM(o, insn, []byte{store}, insn.Src.Reg, insn.Dst)

	case insn.Src.IsMem() && insn.Dst.IsReg():
		return encodeRM(o, insn, []byte{load}, insn.Dst.Reg, insn.Src)

	default:
		return unencodable(insn)
	}
}

// encodeRM emits prefixes, opcode and the ModR/M operand.  ro is either a
// register or an opcode extension digit.
func encodeRM(o *output, insn decode.Insn, opcode []byte, ro guest.Reg, rm decode.Arg) error {
	if insn.Size == 2 {
		o.byte(0x66)
	}

	wrxb := regRexR(ro) | sizeRexW(insn.Size)

	// ro is a digit below 4 when it is not a register.
	force := insn.Size == 1 && (byteRegNeedsRex(ro) || rm.IsReg() && byteRegNeedsRex(rm.Reg))

	switch {
	case rm.IsReg():
		wrxb |= regRexB(rm.Reg)
		o.rexIf(wrxb, force)
		for _, b := range opcode {
			o.byte(b)
		}
		o.mod(ModReg, regRO(ro), regRM(rm.Reg))
		return nil

	case rm.IsMem():
		m := rm.Mem
		if m.HasIndex {
			if m.Index == guest.RSP {
				return unencodable(insn)
			}
			switch m.Scale {
			case 1, 2, 4, 8:
			default:
				return unencodable(insn)
			}
			wrxb |= regRexX(m.Index)
		}
		if m.HasBase {
			wrxb |= regRexB(m.Base)
		}
		o.rexIf(wrxb, force)
		for _, b := range opcode {
			o.byte(b)
		}
		encodeMem(o, regRO(ro), m)
		return nil

	default:
		return unencodable(insn)
	}
}

func encodeMem(o *output, ro ModRO, m decode.Mem) {
	switch {
	case m.RIPRel:
		o.mod(ModMem, ro, ModRMDisp32)
		o.int32(m.Disp)

	case !m.HasBase:
		o.mod(ModMem, ro, ModRMSIB)
		if m.HasIndex {
			o.sib(scaleOf(m.Scale), regIndex(m.Index), noBase)
		} else {
			o.sib(Scale0, noIndex, noBase)
		}
		o.int32(m.Disp)

	default:
		mod, size := dispModSize(m.Disp)
		if mod == ModMem && regBase(m.Base) == noBase {
			mod, size = ModMemDisp8, 1 // rbp and r13 need a displacement
		}

		if m.HasIndex || regRM(m.Base) == ModRMSIB {
			o.mod(mod, ro, ModRMSIB)
			if m.HasIndex {
				o.sib(scaleOf(m.Scale), regIndex(m.Index), regBase(m.Base))
			} else {
				o.sib(Scale0, noIndex, regBase(m.Base))
			}
		} else {
			o.mod(mod, ro, regRM(m.Base))
		}
		o.disp(size, m.Disp)
	}
}
