// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package codegen compiles traces to WebAssembly modules.
//
// A module exports one function, trace(cpu_ptr i32) i64, and imports linear
// memory and the host helpers it actually calls.  The CPU state is read from
// and written back to linear memory at cpu_ptr; see package abi for the
// layout.  The return value is the next instruction pointer, or abi.Sentinel
// if the host must handle the instruction at the stored instruction pointer.
package codegen

import (
	"bytes"

	"gate.computer/xlate/abi"
	"gate.computer/xlate/internal/errorpanic"
	"gate.computer/xlate/ir"
	"gate.computer/xlate/wa"
	"gate.computer/xlate/wa/opcode"
	"gate.computer/xlate/wasm"
	"gate.computer/xlate/wasm/validate"
	"golang.org/x/xerrors"
)

// ErrInvalidModule is matched by errors about generated modules which fail
// validation.
var ErrInvalidModule = xerrors.New("generated module is invalid")

type invalidModuleError struct {
	cause error
}

func (e *invalidModuleError) Error() string        { return "codegen: invalid module: " + e.cause.Error() }
func (e *invalidModuleError) Is(target error) bool { return target == ErrInvalidModule }
func (e *invalidModuleError) Unwrap() error        { return e.cause }

type Options struct {
	MaxModuleSize int // Encoded size limit.
	MaxIters      int // Loop trace body passes per call.
}

var DefaultOptions = Options{
	MaxModuleSize: wasm.DefaultMaxSize,
	MaxIters:      4096,
}

func (opts Options) withDefaults() Options {
	if opts.MaxModuleSize <= 0 {
		opts.MaxModuleSize = DefaultOptions.MaxModuleSize
	}
	if opts.MaxIters <= 0 {
		opts.MaxIters = DefaultOptions.MaxIters
	}
	return opts
}

// Fixed locals.
const (
	localCPU     = 0
	localNextRIP = 1
	localRFLAGS  = 2
	localHandoff = 3
	localIters   = 4
	localCause   = 5

	numFixedLocals = 6
)

type function struct {
	opts    Options
	trace   *ir.Trace
	plan    *ir.AllocPlan
	code    *wasm.Code
	helpers [abi.NumHelpers]uint32 // Function index + 1, or 0 if not imported.
	written ir.RegSet              // Cached registers which must be spilled.
	depth   uint32                 // Structured blocks inside the exit block.
}

// Compile a trace with the default options.
func Compile(t *ir.Trace, plan *ir.AllocPlan) ([]byte, error) {
	return DefaultOptions.Compile(t, plan)
}

// Compile a trace.  A nil plan caches no registers.  The module is validated
// before it is returned.
func (opts Options) Compile(t *ir.Trace, plan *ir.AllocPlan) (bin []byte, err error) {
	if plan == nil {
		plan = ir.NewAllocPlan(0)
	}

	defer func() {
		if x := recover(); x != nil {
			err = xerrors.Errorf("codegen: %w", errorpanic.Handle(x))
		}
	}()

	opts = opts.withDefaults()
	f := &function{
		opts:  opts,
		trace: t,
		plan:  plan,
		code:  wasm.NewCode(opts.MaxModuleSize),
	}

	var m wasm.Module
	m.ImportMemory(abi.Namespace, abi.Memory, 1)
	for _, h := range usedHelpers(t) {
		f.helpers[h] = m.ImportFunc(abi.Namespace, h.Name(), h.Type()) + 1
	}

	genFunction(f)

	locals := make([]wa.Type, numFixedLocals-1+plan.NumSlots+t.NumValues)
	for i := range locals {
		locals[i] = wa.I64
	}
	index := m.Func(abi.TraceType, locals, f.code.Bytes())
	m.ExportFunc(abi.TraceExport, index)

	bin, err = m.Bytes(opts.MaxModuleSize)
	if err != nil {
		return nil, xerrors.Errorf("codegen: %w", err)
	}

	if _, err := validate.Module(bytes.NewReader(bin), validate.Options{Strict: true}); err != nil {
		return nil, &invalidModuleError{err}
	}
	return bin, nil
}

// usedHelpers in import order.
func usedHelpers(t *ir.Trace) []abi.Helper {
	var used [abi.NumHelpers]bool

	for _, list := range [][]ir.Instr{t.Prologue, t.Body} {
		for _, i := range list {
			switch i := i.(type) {
			case ir.LoadMem:
				used[abi.MemRead(i.Width.Bytes())] = true

			case ir.StoreMem:
				used[abi.MemWrite(i.Width.Bytes())] = true

			case ir.GuardCodeVersion:
				used[abi.HelperCodePageVersion] = true

			case ir.Bailout:
				used[abi.HelperJITExit] = true
			}
		}
	}

	var helpers []abi.Helper
	for h := abi.Helper(0); h < abi.NumHelpers; h++ {
		if used[h] {
			helpers = append(helpers, h)
		}
	}
	return helpers
}

func (f *function) call(h abi.Helper) {
	index := f.helpers[h]
	if index == 0 {
		panic(xerrors.Errorf("helper %s was not imported", h))
	}
	f.code.Call(index - 1)
}

func (f *function) slotLocal(r int) uint32       { return uint32(numFixedLocals + f.plan.Slot[r]) }
func (f *function) valueLocal(v ir.Value) uint32 { return uint32(numFixedLocals+f.plan.NumSlots) + uint32(v) }

func genFunction(f *function) {
	c := f.code

	c.LocalGet(localCPU)
	c.Mem(opcode.I64Load, abi.RIPOffset)
	c.LocalSet(localNextRIP)

	c.LocalGet(localCPU)
	c.Mem(opcode.I64Load, abi.RFLAGSOffset)
	c.LocalSet(localRFLAGS)

	for _, r := range f.plan.Cacheable.Regs() {
		c.LocalGet(localCPU)
		c.Mem(opcode.I64Load, abi.RegOffset(r))
		c.LocalSet(f.slotLocal(int(r)))
	}

	c.Block(wa.Void) // exit
	genInstrs(f, f.trace.Prologue)

	switch f.trace.Kind {
	case ir.Linear:
		genInstrs(f, f.trace.Body)

	case ir.Loop:
		c.I64Const(int64(f.opts.MaxIters))
		c.LocalSet(localIters)

		c.Loop(wa.Void)
		f.depth++

		c.LocalGet(localIters)
		c.Op(opcode.I64Eqz)
		genExitIf(f, f.trace.EntryRIP, abi.CauseBudget)

		c.LocalGet(localIters)
		c.I64Const(1)
		c.Op(opcode.I64Sub)
		c.LocalSet(localIters)

		genInstrs(f, f.trace.Body)
		c.Br(0)

		f.depth--
		c.End()

	default:
		panic(xerrors.Errorf("unknown trace kind %d", f.trace.Kind))
	}
	c.End()

	for _, r := range f.written.Regs() {
		c.LocalGet(localCPU)
		c.LocalGet(f.slotLocal(int(r)))
		c.Mem(opcode.I64Store, abi.RegOffset(r))
	}

	c.LocalGet(localCPU)
	c.LocalGet(localRFLAGS)
	c.I64Const(2) // reserved bit
	c.Op(opcode.I64Or)
	c.Mem(opcode.I64Store, abi.RFLAGSOffset)

	c.LocalGet(localCPU)
	c.LocalGet(localNextRIP)
	c.Mem(opcode.I64Store, abi.RIPOffset)

	c.LocalGet(localCPU)
	c.LocalGet(localCause)
	c.Mem(opcode.I64Store, abi.CauseOffset)

	c.LocalGet(localHandoff)
	c.LocalGet(localNextRIP)
	c.LocalGet(localHandoff)
	c.I64Const(0)
	c.Op(opcode.I64Ne)
	c.Op(opcode.Select)
	c.End()
}

// genExit leaves the exit block with the next instruction pointer.
func genExit(f *function, rip uint64, cause abi.ExitCause) {
	f.code.I64Const(int64(rip))
	f.code.LocalSet(localNextRIP)
	f.code.I64Const(int64(cause))
	f.code.LocalSet(localCause)
	f.code.Br(f.depth)
}

// genExitIf pops an i32 condition and exits if it is true.
func genExitIf(f *function, rip uint64, cause abi.ExitCause) {
	f.code.If(wa.Void)
	f.depth++
	genExit(f, rip, cause)
	f.depth--
	f.code.End()
}
