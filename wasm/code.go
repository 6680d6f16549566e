// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"gate.computer/xlate/binary"
	"gate.computer/xlate/buffer"
	"gate.computer/xlate/internal/module"
	"gate.computer/xlate/wa"
	"gate.computer/xlate/wa/opcode"
)

// Code assembles a function body.  Methods panic with buffer.ErrSizeLimit
// when the limit is exceeded; callers recover with errorpanic.Handle.
type Code struct {
	buf buffer.Limited
}

// NewCode with a size limit.
func NewCode(maxSize int) *Code {
	return &Code{buf: buffer.MakeLimited(nil, maxSize)}
}

// Bytes of the body assembled so far.
func (c *Code) Bytes() []byte { return c.buf.Bytes() }
func (c *Code) Len() int      { return c.buf.Len() }

func (c *Code) Op(op opcode.Opcode) {
	c.buf.PutByte(byte(op))
}

func (c *Code) varuint32(x uint32) {
	var tmp [5]byte
	c.buf.PutBytes(binary.AppendVaruint32(tmp[:0], x))
}

func (c *Code) blockType(result wa.Type) {
	if result == wa.Void {
		c.buf.PutByte(module.BlockTypeVoid)
	} else {
		c.buf.PutByte(result.Encode())
	}
}

func (c *Code) Block(result wa.Type) {
	c.Op(opcode.Block)
	c.blockType(result)
}

func (c *Code) Loop(result wa.Type) {
	c.Op(opcode.Loop)
	c.blockType(result)
}

func (c *Code) If(result wa.Type) {
	c.Op(opcode.If)
	c.blockType(result)
}

func (c *Code) Br(depth uint32) {
	c.Op(opcode.Br)
	c.varuint32(depth)
}

func (c *Code) BrIf(depth uint32) {
	c.Op(opcode.BrIf)
	c.varuint32(depth)
}

func (c *Code) Call(index uint32) {
	c.Op(opcode.Call)
	c.varuint32(index)
}

func (c *Code) LocalGet(i uint32) {
	c.Op(opcode.GetLocal)
	c.varuint32(i)
}

func (c *Code) LocalSet(i uint32) {
	c.Op(opcode.SetLocal)
	c.varuint32(i)
}

func (c *Code) LocalTee(i uint32) {
	c.Op(opcode.TeeLocal)
	c.varuint32(i)
}

func (c *Code) I32Const(x int32) {
	c.Op(opcode.I32Const)
	c.buf.PutBytes(binary.AppendVarint32(nil, x))
}

func (c *Code) I64Const(x int64) {
	c.Op(opcode.I64Const)
	c.buf.PutBytes(binary.AppendVarint64(nil, x))
}

// Load or store with natural alignment.
func (c *Code) Mem(op opcode.Opcode, offset uint32) {
	c.Op(op)
	switch op {
	case opcode.I32Load, opcode.I32Store:
		c.varuint32(2)

	case opcode.I64Load, opcode.I64Store:
		c.varuint32(3)

	default:
		panic(op)
	}
	c.varuint32(offset)
}

func (c *Code) End() {
	c.Op(opcode.End)
}
