// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opcode

// Instructions which trace modules may contain.
const (
	Unreachable   = Opcode(0x00)
	Nop           = Opcode(0x01)
	Block         = Opcode(0x02)
	Loop          = Opcode(0x03)
	If            = Opcode(0x04)
	Else          = Opcode(0x05)
	End           = Opcode(0x0b)
	Br            = Opcode(0x0c)
	BrIf          = Opcode(0x0d)
	Return        = Opcode(0x0f)
	Call          = Opcode(0x10)
	Drop          = Opcode(0x1a)
	Select        = Opcode(0x1b)
	GetLocal      = Opcode(0x20)
	SetLocal      = Opcode(0x21)
	TeeLocal      = Opcode(0x22)
	I32Load       = Opcode(0x28)
	I64Load       = Opcode(0x29)
	I32Store      = Opcode(0x36)
	I64Store      = Opcode(0x37)
	I32Const      = Opcode(0x41)
	I64Const      = Opcode(0x42)
	I32Eqz        = Opcode(0x45)
	I32Eq         = Opcode(0x46)
	I32Ne         = Opcode(0x47)
	I64Eqz        = Opcode(0x50)
	I64Eq         = Opcode(0x51)
	I64Ne         = Opcode(0x52)
	I64LtS        = Opcode(0x53)
	I64LtU        = Opcode(0x54)
	I32And        = Opcode(0x71)
	I32Or         = Opcode(0x72)
	I32Xor        = Opcode(0x73)
	I64Add        = Opcode(0x7c)
	I64Sub        = Opcode(0x7d)
	I64Mul        = Opcode(0x7e)
	I64And        = Opcode(0x83)
	I64Or         = Opcode(0x84)
	I64Xor        = Opcode(0x85)
	I64Shl        = Opcode(0x86)
	I64ShrS       = Opcode(0x87)
	I64ShrU       = Opcode(0x88)
	I32WrapI64    = Opcode(0xa7)
	I64ExtendUI32 = Opcode(0xad)
)

var strings = [256]string{
	Unreachable:   "unreachable",
	Nop:           "nop",
	Block:         "block",
	Loop:          "loop",
	If:            "if",
	Else:          "else",
	End:           "end",
	Br:            "br",
	BrIf:          "br_if",
	Return:        "return",
	Call:          "call",
	Drop:          "drop",
	Select:        "select",
	GetLocal:      "local.get",
	SetLocal:      "local.set",
	TeeLocal:      "local.tee",
	I32Load:       "i32.load",
	I64Load:       "i64.load",
	I32Store:      "i32.store",
	I64Store:      "i64.store",
	I32Const:      "i32.const",
	I64Const:      "i64.const",
	I32Eqz:        "i32.eqz",
	I32Eq:         "i32.eq",
	I32Ne:         "i32.ne",
	I64Eqz:        "i64.eqz",
	I64Eq:         "i64.eq",
	I64Ne:         "i64.ne",
	I64LtS:        "i64.lt_s",
	I64LtU:        "i64.lt_u",
	I32And:        "i32.and",
	I32Or:         "i32.or",
	I32Xor:        "i32.xor",
	I64Add:        "i64.add",
	I64Sub:        "i64.sub",
	I64Mul:        "i64.mul",
	I64And:        "i64.and",
	I64Or:         "i64.or",
	I64Xor:        "i64.xor",
	I64Shl:        "i64.shl",
	I64ShrS:       "i64.shr_s",
	I64ShrU:       "i64.shr_u",
	I32WrapI64:    "i32.wrap_i64",
	I64ExtendUI32: "i64.extend_i32_u",
}
