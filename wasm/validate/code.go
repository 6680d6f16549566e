// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package validate

import (
	"gate.computer/xlate/internal/loader"
	"gate.computer/xlate/internal/module"
	"gate.computer/xlate/wa"
	"gate.computer/xlate/wa/opcode"
)

// Unknown operand type of an unreachable stack.
const unknown = wa.Void

type frame struct {
	op          opcode.Opcode // Block, Loop, If or Else; Nop for the function.
	result      wa.Type
	height      int
	unreachable bool
}

// label type is what a branch to the frame transfers.
func (f *frame) label() wa.Type {
	if f.op == opcode.Loop {
		return wa.Void
	}
	return f.result
}

type checker struct {
	load       loader.L
	info       *Info
	importUsed []bool
	locals     []wa.Type
	stack      []wa.Type
	frames     []frame
}

func (c *checker) function(sig wa.FuncType) {
	c.locals = append(c.locals, sig.Params...)

	for range c.load.Count(maxLocals, "local declaration") {
		n := c.load.Varuint32()
		if n > maxLocals || len(c.locals)+int(n) > maxLocals {
			panic(module.Errorf("too many locals: %d", len(c.locals)+int(n)))
		}
		t := valueType(c.load)
		for i := uint32(0); i < n; i++ {
			c.locals = append(c.locals, t)
		}
	}

	var result wa.Type
	if len(sig.Results) > 0 {
		result = sig.Results[0]
	}
	c.frames = append(c.frames, frame{op: opcode.Nop, result: result})

	for len(c.frames) > 0 {
		c.instruction()
	}
}

func (c *checker) top() *frame {
	return &c.frames[len(c.frames)-1]
}

func (c *checker) push(t wa.Type) {
	if t != wa.Void {
		c.stack = append(c.stack, t)
	}
}

// pop an operand.  If expect is not unknown, the operand must have that type.
func (c *checker) pop(expect wa.Type) wa.Type {
	f := c.top()
	if len(c.stack) == f.height {
		if f.unreachable {
			return expect
		}
		panic(module.Error("operand stack underflow"))
	}

	t := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]

	switch {
	case t == unknown:
		return expect

	case expect != unknown && t != expect:
		panic(module.Errorf("operand type mismatch: %s expected, %s found", expect, t))
	}
	return t
}

func (c *checker) setUnreachable() {
	f := c.top()
	c.stack = c.stack[:f.height]
	f.unreachable = true
}

// leave checks the block result at the end of a frame's instruction
// sequence.
func (c *checker) leave() {
	f := c.top()
	if f.result != wa.Void {
		c.pop(f.result)
	}
	if len(c.stack) != f.height {
		panic(module.Errorf("%d values remain on operand stack at end of block", len(c.stack)-f.height))
	}
}

func (c *checker) enter(op opcode.Opcode) {
	b := c.load.Byte()

	var result wa.Type
	if b != module.BlockTypeVoid {
		t, ok := wa.DecodeType(b)
		if !ok {
			panic(module.Errorf("unsupported block type: 0x%x", b))
		}
		result = t
	}

	if op == opcode.If {
		c.pop(wa.I32)
	}
	c.frames = append(c.frames, frame{op: op, result: result, height: len(c.stack)})
}

func (c *checker) label(depth uint32) wa.Type {
	if depth >= uint32(len(c.frames)) {
		panic(module.Errorf("branch depth out of bounds: %d", depth))
	}
	return c.frames[len(c.frames)-1-int(depth)].label()
}

func (c *checker) local() wa.Type {
	i := c.load.Varuint32()
	if i >= uint32(len(c.locals)) {
		panic(module.Errorf("local index out of bounds: %d", i))
	}
	return c.locals[i]
}

func (c *checker) memarg(naturalAlign uint32) {
	if !c.info.Memory {
		panic(module.Error("memory access without memory"))
	}
	if align := c.load.Varuint32(); align > naturalAlign {
		panic(module.Errorf("alignment exceeds natural alignment: %d", align))
	}
	c.load.Varuint32() // offset
}

func (c *checker) binary(t, result wa.Type) {
	c.pop(t)
	c.pop(t)
	c.push(result)
}

func (c *checker) unary(t, result wa.Type) {
	c.pop(t)
	c.push(result)
}

func (c *checker) instruction() {
	op := opcode.Opcode(c.load.Byte())

	switch op {
	case opcode.Unreachable:
		c.setUnreachable()

	case opcode.Nop:

	case opcode.Block, opcode.Loop, opcode.If:
		c.enter(op)

	case opcode.Else:
		if c.top().op != opcode.If {
			panic(module.Error("else without if"))
		}
		c.leave()
		f := c.top()
		f.op = opcode.Else
		f.unreachable = false

	case opcode.End:
		c.leave()
		f := c.frames[len(c.frames)-1]
		if f.op == opcode.If && f.result != wa.Void {
			panic(module.Errorf("if without else has result type %s", f.result))
		}
		c.frames = c.frames[:len(c.frames)-1]
		if len(c.frames) > 0 {
			c.push(f.result)
		}

	case opcode.Br:
		if t := c.label(c.load.Varuint32()); t != wa.Void {
			c.pop(t)
		}
		c.setUnreachable()

	case opcode.BrIf:
		depth := c.load.Varuint32()
		c.pop(wa.I32)
		if t := c.label(depth); t != wa.Void {
			c.pop(t)
			c.push(t)
		}

	case opcode.Return:
		if t := c.frames[0].result; t != wa.Void {
			c.pop(t)
		}
		c.setUnreachable()

	case opcode.Call:
		index := c.load.Varuint32()
		if index >= uint32(len(c.info.Funcs)) {
			panic(module.Errorf("call function index out of bounds: %d", index))
		}
		if int(index) < len(c.importUsed) {
			c.importUsed[index] = true
		}
		sig := c.info.Types[c.info.Funcs[index]]
		for i := len(sig.Params) - 1; i >= 0; i-- {
			c.pop(sig.Params[i])
		}
		for _, t := range sig.Results {
			c.push(t)
		}

	case opcode.Drop:
		c.pop(unknown)

	case opcode.Select:
		c.pop(wa.I32)
		t := c.pop(unknown)
		t = c.pop(t)
		c.stack = append(c.stack, t)

	case opcode.GetLocal:
		c.push(c.local())

	case opcode.SetLocal:
		c.pop(c.local())

	case opcode.TeeLocal:
		t := c.local()
		c.pop(t)
		c.push(t)

	case opcode.I32Load:
		c.memarg(2)
		c.unary(wa.I32, wa.I32)

	case opcode.I64Load:
		c.memarg(3)
		c.unary(wa.I32, wa.I64)

	case opcode.I32Store:
		c.memarg(2)
		c.pop(wa.I32)
		c.pop(wa.I32)

	case opcode.I64Store:
		c.memarg(3)
		c.pop(wa.I64)
		c.pop(wa.I32)

	case opcode.I32Const:
		c.load.Varint32()
		c.push(wa.I32)

	case opcode.I64Const:
		c.load.Varint64()
		c.push(wa.I64)

	case opcode.I32Eqz:
		c.unary(wa.I32, wa.I32)

	case opcode.I32Eq, opcode.I32Ne, opcode.I32And, opcode.I32Or, opcode.I32Xor:
		c.binary(wa.I32, wa.I32)

	case opcode.I64Eqz:
		c.unary(wa.I64, wa.I32)

	case opcode.I64Eq, opcode.I64Ne, opcode.I64LtS, opcode.I64LtU:
		c.binary(wa.I64, wa.I32)

	case opcode.I64Add, opcode.I64Sub, opcode.I64Mul, opcode.I64And, opcode.I64Or, opcode.I64Xor,
		opcode.I64Shl, opcode.I64ShrS, opcode.I64ShrU:
		c.binary(wa.I64, wa.I64)

	case opcode.I32WrapI64:
		c.unary(wa.I64, wa.I32)

	case opcode.I64ExtendUI32:
		c.unary(wa.I32, wa.I64)

	default:
		panic(module.Errorf("unsupported opcode: %s", op))
	}
}
