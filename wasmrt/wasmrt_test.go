// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasmrt_test

import (
	"context"
	"testing"

	"gate.computer/xlate/abi"
	"gate.computer/xlate/codegen"
	"gate.computer/xlate/decode"
	"gate.computer/xlate/guest"
	"gate.computer/xlate/internal/isa/x86/in"
	"gate.computer/xlate/interp"
	"gate.computer/xlate/ir"
	"gate.computer/xlate/opt"
	"gate.computer/xlate/trace"
	"gate.computer/xlate/wasmrt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	codeBase = 0x1000
	dataBase = 0x4000
	memSize  = 0x8000
)

type asm struct {
	t    *testing.T
	code []byte
}

func (a *asm) pc() uint64 { return codeBase + uint64(len(a.code)) }

func (a *asm) insn(o decode.Op, size int, dst, src decode.Arg) uint64 {
	a.t.Helper()

	rip := a.pc()
	b, err := in.Encode(decode.Insn{Op: o, Size: size, Dst: dst, Src: src, RIP: rip})
	require.NoError(a.t, err)
	a.code = append(a.code, b...)
	return rip
}

func (a *asm) raw(b ...byte) uint64 {
	rip := a.pc()
	a.code = append(a.code, b...)
	return rip
}

func reg(r guest.Reg) decode.Arg { return decode.RegArg(r) }
func imm(x int64) decode.Arg     { return decode.ImmArg(x) }

func mem(base guest.Reg, disp int32) decode.Arg {
	return decode.MemArg(decode.Mem{Base: base, HasBase: true, Disp: disp})
}

type world struct {
	cpu *guest.State
	mem *guest.Flat
	env *guest.Env
}

func newWorld(code []byte, regs map[guest.Reg]uint64) world {
	env := guest.NewEnv()
	w := world{
		cpu: &guest.State{RIP: codeBase},
		mem: guest.NewFlat(0, memSize, env),
		env: env,
	}
	w.mem.Write(codeBase, code)
	for r, x := range regs {
		w.cpu.Regs[r] = x
	}
	for i := 0; i < 64; i++ {
		w.mem.Data[dataBase+i] = byte(0x80 + i)
	}
	return w
}

func newRuntime(t *testing.T) *wasmrt.Runtime {
	t.Helper()

	ctx := context.Background()
	rt, err := wasmrt.New(ctx, wasmrt.Config{Engine: wasmrt.EngineInterpreter})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close(ctx) })
	return rt
}

// runBoth builds a trace in one world, runs it in the interpreter there, and
// runs the compiled module in an identical second world.
func runBoth(t *testing.T, rt *wasmrt.Runtime, code []byte, regs map[guest.Reg]uint64) (ref, jit world, out interp.Outcome, res wasmrt.Result) {
	t.Helper()
	ctx := context.Background()

	ref = newWorld(code, regs)
	jit = newWorld(code, regs)

	tr, err := trace.Build(ref.mem, ref.env, codeBase, trace.DefaultOptions)
	require.NoError(t, err)
	plan := opt.Optimize(tr, nil)

	bin, err := codegen.Compile(tr, plan)
	require.NoError(t, err)

	m, err := rt.Load(ctx, "", bin)
	require.NoError(t, err)
	defer m.Close(ctx)

	machine := &interp.Machine{CPU: ref.cpu, Mem: ref.mem, Env: ref.env}
	out = machine.RunTrace(tr, plan, codegen.DefaultOptions.MaxIters)

	res, err = m.Run(ctx, jit.cpu, jit.mem, jit.env)
	require.NoError(t, err)
	return
}

func assertSame(t *testing.T, ref, jit world, out interp.Outcome, res wasmrt.Result) {
	t.Helper()

	assert.Equal(t, *ref.cpu, *jit.cpu)
	assert.Equal(t, ref.mem.Data, jit.mem.Data)
	assert.Equal(t, out.NextRIP, res.NextRIP)
	assert.Equal(t, out.Status == interp.Handoff, res.Handoff)
	assert.Equal(t, out.Kind, res.Kind)
	assert.Equal(t, exitCause(out), res.Cause)
}

func exitCause(out interp.Outcome) abi.ExitCause {
	switch out.Status {
	case interp.SideExit:
		switch out.Cause {
		case interp.CauseGuard:
			return abi.CauseGuard

		case interp.CauseCodeVersion:
			return abi.CauseCodeVersion

		default:
			return abi.CauseExit
		}

	case interp.StepLimit:
		return abi.CauseBudget

	case interp.Handoff:
		return abi.CauseHandoff

	default:
		return abi.CauseReturn
	}
}

func TestStraightLineEquivalence(t *testing.T) {
	a := &asm{t: t}
	a.insn(decode.Add, 8, reg(guest.RAX), reg(guest.RBX))
	a.insn(decode.Xor, 4, reg(guest.RDX), reg(guest.RAX))
	a.insn(decode.Sub, 8, reg(guest.RCX), imm(1))
	a.insn(decode.Mov, 2, reg(guest.RSI), imm(0x7fff))
	a.insn(decode.Or, 8, reg(guest.R9), imm(-16))
	halt := a.raw(0xf4)

	rt := newRuntime(t)
	ref, jit, out, res := runBoth(t, rt, a.code, map[guest.Reg]uint64{
		guest.RAX: 0x7fffffffffffffff,
		guest.RBX: 1,
		guest.RDX: 0xffffffff00000000,
		guest.RSI: 0x1234567812345678,
	})
	assertSame(t, ref, jit, out, res)
	assert.True(t, res.Handoff)
	assert.Equal(t, abi.ExitHalt, res.Kind)
	assert.Equal(t, halt+1, jit.cpu.RIP)
	assert.Equal(t, guest.Flags{SF: true}, jit.cpu.Flags)
}

func TestMemoryEquivalence(t *testing.T) {
	a := &asm{t: t}
	a.insn(decode.Mov, 8, reg(guest.RAX), mem(guest.RSI, 0))
	a.insn(decode.Mov, 4, mem(guest.RDI, 8), reg(guest.RAX))
	a.insn(decode.Mov, 1, mem(guest.RDI, 0), reg(guest.RAX))
	a.insn(decode.Mov, 2, mem(guest.RDI, 2), imm(-2))
	a.insn(decode.Add, 8, reg(guest.RAX), mem(guest.RSI, 8))
	a.insn(decode.Mov, 4, reg(guest.RBX), mem(guest.RSI, 3))
	a.insn(decode.Lea, 8, reg(guest.RCX), mem(guest.RDI, -8))
	a.raw(0xc3)

	rt := newRuntime(t)
	ref, jit, out, res := runBoth(t, rt, a.code, map[guest.Reg]uint64{
		guest.RSI: dataBase,
		guest.RDI: dataBase + 32,
	})
	assertSame(t, ref, jit, out, res)
	assert.Equal(t, abi.ExitIndirect, res.Kind)
}

func TestLoopEquivalence(t *testing.T) {
	a := &asm{t: t}
	a.insn(decode.Add, 8, reg(guest.RAX), reg(guest.RCX))
	a.insn(decode.Sub, 8, reg(guest.RCX), imm(1))
	a.raw(0x75, byte(-(len(a.code) + 2)))
	exit := a.raw(0xf4)

	rt := newRuntime(t)
	ref, jit, out, res := runBoth(t, rt, a.code, map[guest.Reg]uint64{guest.RCX: 100})
	assertSame(t, ref, jit, out, res)
	assert.Equal(t, interp.SideExit, out.Status)
	assert.Equal(t, abi.CauseGuard, res.Cause)
	assert.Equal(t, exit, res.NextRIP)
	assert.Equal(t, uint64(5050), jit.cpu.Regs[guest.RAX])
}

func TestLoopIterationBudget(t *testing.T) {
	a := &asm{t: t}
	a.insn(decode.Add, 8, reg(guest.RAX), imm(1))
	a.raw(0xeb, byte(-(len(a.code) + 2)))

	rt := newRuntime(t)
	ref, jit, out, res := runBoth(t, rt, a.code, nil)
	assertSame(t, ref, jit, out, res)
	assert.Equal(t, interp.StepLimit, out.Status)
	assert.Equal(t, abi.CauseBudget, res.Cause)
	assert.Equal(t, uint64(codeBase), res.NextRIP)
	assert.Equal(t, uint64(codegen.DefaultOptions.MaxIters), jit.cpu.Regs[guest.RAX])
}

func TestGuardEquivalence(t *testing.T) {
	a := &asm{t: t}
	a.insn(decode.Cmp, 8, reg(guest.RAX), reg(guest.RBX))
	a.raw(0x74, 0x06) // je over the next mov and hlt
	a.insn(decode.Mov, 4, reg(guest.RDX), imm(1))
	a.raw(0xf4)
	a.insn(decode.Mov, 4, reg(guest.RDX), imm(2))
	a.raw(0xf4)

	rt := newRuntime(t)
	for _, rbx := range []uint64{0, 1} {
		ref, jit, out, res := runBoth(t, rt, a.code, map[guest.Reg]uint64{guest.RBX: rbx})
		assertSame(t, ref, jit, out, res)
	}
}

func TestCodeVersionGuard(t *testing.T) {
	ctx := context.Background()

	a := &asm{t: t}
	a.insn(decode.Mov, 8, reg(guest.RAX), imm(7))
	a.raw(0xf4)

	w := newWorld(a.code, nil)
	tr, err := trace.Build(w.mem, w.env, codeBase, trace.DefaultOptions)
	require.NoError(t, err)

	bin, err := codegen.Compile(tr, opt.Optimize(tr, nil))
	require.NoError(t, err)

	rt := newRuntime(t)
	m, err := rt.Load(ctx, "versioned", bin)
	require.NoError(t, err)
	defer m.Close(ctx)

	assert.Contains(t, m.Imports(), "env.code_page_version")

	w.env.Bump(guest.PageOf(codeBase))

	res, err := m.Run(ctx, w.cpu, w.mem, w.env)
	require.NoError(t, err)
	assert.Equal(t, wasmrt.Result{NextRIP: codeBase, Cause: abi.CauseCodeVersion}, res)
	assert.Equal(t, uint64(0), w.cpu.Regs[guest.RAX])
}

func TestHandoffKinds(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	for _, kind := range []abi.ExitKind{abi.ExitHalt, abi.ExitIndirect, abi.ExitDecode} {
		tr := &ir.Trace{
			EntryRIP: codeBase,
			Body:     []ir.Instr{ir.Bailout{Kind: kind, ExitRIP: 0x1234}},
		}
		bin, err := codegen.Compile(tr, nil)
		require.NoError(t, err)

		m, err := rt.Load(ctx, kind.String(), bin)
		require.NoError(t, err)

		w := newWorld(nil, nil)
		res, err := m.Run(ctx, w.cpu, w.mem, w.env)
		require.NoError(t, err)
		assert.Equal(t, wasmrt.Result{NextRIP: 0x1234, Cause: abi.CauseHandoff, Handoff: true, Kind: kind}, res)
		assert.Equal(t, []string{"env.jit_exit"}, m.Imports())

		require.NoError(t, m.Close(ctx))
	}
}

func TestEngineSelection(t *testing.T) {
	ctx := context.Background()

	rt, err := wasmrt.New(ctx, wasmrt.Config{})
	require.NoError(t, err)
	defer rt.Close(ctx)

	if wasmrt.CompilerSupported() {
		assert.Equal(t, wasmrt.EngineCompiler, rt.Engine())
	} else {
		assert.Equal(t, wasmrt.EngineInterpreter, rt.Engine())
	}
}
