// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package in

import (
	"bytes"
	"testing"

	"gate.computer/xlate/decode"
	"gate.computer/xlate/guest"
)

func reg(r guest.Reg) decode.Arg  { return decode.RegArg(r) }
func imm(x int64) decode.Arg      { return decode.ImmArg(x) }
func mem(m decode.Mem) decode.Arg { return decode.MemArg(m) }

var encodeTests = []struct {
	insn  decode.Insn
	bytes []byte
}{
	{decode.Insn{Op: decode.Nop}, []byte{0x90}},
	{decode.Insn{Op: decode.Hlt}, []byte{0xf4}},
	{decode.Insn{Op: decode.Ret}, []byte{0xc3}},
	{decode.Insn{Op: decode.Jmp, RIP: 0x1000, Target: 0x1002}, []byte{0xeb, 0x00}},
	{decode.Insn{Op: decode.Jmp, RIP: 0x1000, Target: 0x0ff0}, []byte{0xeb, 0xee}},
	{decode.Insn{Op: decode.Jcc, Cond: decode.CondNE, RIP: 0, Target: 0x1000}, []byte{0x0f, 0x85, 0xfa, 0x0f, 0x00, 0x00}},
	{decode.Insn{Op: decode.Jcc, Cond: decode.CondE, RIP: 0x10, Target: 0x20}, []byte{0x74, 0x0e}},
	{decode.Insn{Op: decode.Mov, Size: 8, Dst: reg(guest.RAX), Src: imm(1)}, []byte{0x48, 0xc7, 0xc0, 0x01, 0x00, 0x00, 0x00}},
	{decode.Insn{Op: decode.Mov, Size: 4, Dst: reg(guest.RAX), Src: imm(1)}, []byte{0xb8, 0x01, 0x00, 0x00, 0x00}},
	{decode.Insn{Op: decode.Mov, Size: 8, Dst: reg(guest.RAX), Src: imm(0x123456789)}, []byte{0x48, 0xb8, 0x89, 0x67, 0x45, 0x23, 0x01, 0x00, 0x00, 0x00}},
	{decode.Insn{Op: decode.Mov, Size: 1, Dst: reg(guest.RSI), Src: imm(-1)}, []byte{0x40, 0xb6, 0xff}},
	{decode.Insn{Op: decode.Mov, Size: 2, Dst: reg(guest.R9), Src: imm(0x1234)}, []byte{0x66, 0x41, 0xb9, 0x34, 0x12}},
	{decode.Insn{Op: decode.Add, Size: 8, Dst: reg(guest.RAX), Src: reg(guest.RBX)}, []byte{0x48, 0x01, 0xd8}},
	{decode.Insn{Op: decode.Xor, Size: 4, Dst: reg(guest.RAX), Src: reg(guest.RAX)}, []byte{0x31, 0xc0}},
	{decode.Insn{Op: decode.Cmp, Size: 8, Dst: reg(guest.RAX), Src: imm(5)}, []byte{0x48, 0x83, 0xf8, 0x05}},
	{decode.Insn{Op: decode.Sub, Size: 8, Dst: reg(guest.R15), Src: imm(0x1000)}, []byte{0x49, 0x81, 0xef, 0x00, 0x10, 0x00, 0x00}},
	{decode.Insn{Op: decode.Mov, Size: 8, Dst: mem(decode.Mem{Base: guest.RSP, HasBase: true, Disp: 8}), Src: reg(guest.RAX)}, []byte{0x48, 0x89, 0x44, 0x24, 0x08}},
	{decode.Insn{Op: decode.Mov, Size: 8, Dst: reg(guest.RAX), Src: mem(decode.Mem{Base: guest.RBP, HasBase: true})}, []byte{0x48, 0x8b, 0x45, 0x00}},
	{decode.Insn{Op: decode.Mov, Size: 1, Dst: mem(decode.Mem{Base: guest.RDI, HasBase: true}), Src: reg(guest.RSI)}, []byte{0x40, 0x88, 0x37}},
	{decode.Insn{Op: decode.Mov, Size: 2, Dst: mem(decode.Mem{Base: guest.RAX, HasBase: true}), Src: reg(guest.RAX)}, []byte{0x66, 0x89, 0x00}},
	{
		decode.Insn{Op: decode.Mov, Size: 8, Dst: reg(guest.R8), Src: mem(decode.Mem{Base: guest.R12, HasBase: true, Index: guest.R13, HasIndex: true, Scale: 4, Disp: 0x100})},
		[]byte{0x4f, 0x8b, 0x84, 0xac, 0x00, 0x01, 0x00, 0x00},
	},
	{decode.Insn{Op: decode.Lea, Size: 8, Dst: reg(guest.RAX), Src: mem(decode.Mem{RIPRel: true, Disp: 0x10})}, []byte{0x48, 0x8d, 0x05, 0x10, 0x00, 0x00, 0x00}},
	{decode.Insn{Op: decode.Mov, Size: 4, Dst: mem(decode.Mem{Disp: 0x1000}), Src: imm(7)}, []byte{0xc7, 0x04, 0x25, 0x00, 0x10, 0x00, 0x00, 0x07, 0x00, 0x00, 0x00}},
}

func TestEncode(t *testing.T) {
	for _, x := range encodeTests {
		b, err := Encode(x.insn)
		if err != nil {
			t.Errorf("%s: %v", x.insn, err)
			continue
		}
		if !bytes.Equal(b, x.bytes) {
			t.Errorf("%s: % x", x.insn, b)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, x := range encodeTests {
		insn, err := decode.Decode(x.bytes, x.insn.RIP)
		if err != nil {
			t.Errorf("% x: %v", x.bytes, err)
			continue
		}
		if insn.Len != len(x.bytes) {
			t.Errorf("% x: length %d", x.bytes, insn.Len)
		}
		insn.Len = 0
		if insn != x.insn {
			t.Errorf("% x: decoded as %s", x.bytes, insn)
		}
	}
}

func TestEncodeInvalid(t *testing.T) {
	for _, insn := range []decode.Insn{
		{Op: decode.Add, Size: 4, Dst: reg(guest.RAX), Src: reg(guest.RBX)},
		{Op: decode.Xor, Size: 2, Dst: reg(guest.RAX), Src: reg(guest.RBX)},
		{Op: decode.Mov, Size: 8, Dst: mem(decode.Mem{Disp: 8}), Src: imm(1 << 40)},
		{Op: decode.Mov, Size: 8, Dst: reg(guest.RAX), Src: mem(decode.Mem{Index: guest.RSP, HasIndex: true, Scale: 1})},
		{Op: decode.Lea, Size: 8, Dst: reg(guest.RAX), Src: reg(guest.RBX)},
		{Op: decode.Jcc, Cond: decode.Cond(2)},
		{Op: decode.NumOps},
	} {
		if b, err := Encode(insn); err == nil {
			t.Errorf("%s: encoded as % x", insn, b)
		}
	}
}

func TestAppend(t *testing.T) {
	var prog []byte
	var err error

	for i := 0; i < 4; i++ {
		prog, err = Append(prog, decode.Insn{Op: decode.Nop})
		if err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(prog, []byte{0x90, 0x90, 0x90, 0x90}) {
		t.Errorf("% x", prog)
	}
}
