// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opt

import (
	"testing"

	"gate.computer/xlate/guest"
	"gate.computer/xlate/interp"
	"gate.computer/xlate/ir"
	"gate.computer/xlate/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestConstFold(t *testing.T) {
	tr := &ir.Trace{
		Body: []ir.Instr{
			ir.Const{Dst: 0, Value: 5},
			ir.BinOp{Dst: 1, Op: ir.Add, LHS: ir.Val(0), RHS: ir.Imm(3)},
			ir.LoadReg{Dst: 2, Reg: guest.RAX},
			ir.BinOp{Dst: 3, Op: ir.Add, LHS: ir.Val(2), RHS: ir.Imm(0)},
			ir.BinOp{Dst: 4, Op: ir.Sub, LHS: ir.Val(1), RHS: ir.Imm(8), Flags: guest.MaskAll},
			ir.Addr{Dst: 5, Base: ir.Val(1), Index: ir.Imm(2), Scale: 4, Disp: -1},
			ir.StoreMem{Addr: ir.Val(5), Src: ir.Val(3), Width: ir.W64},
			ir.StoreReg{Reg: guest.RBX, Src: ir.Val(4)},
			ir.SideExit{ExitRIP: 0x10},
			ir.StoreReg{Reg: guest.RCX, Src: ir.Imm(1)},
		},
	}

	ConstFold(tr)

	assert.Equal(t, []ir.Instr{
		ir.LoadReg{Dst: 2, Reg: guest.RAX},
		ir.SetFlags{Mask: guest.MaskAll, Values: guest.Flags{ZF: true}},
		ir.StoreMem{Addr: ir.Imm(15), Src: ir.Val(2), Width: ir.W64},
		ir.StoreReg{Reg: guest.RBX, Src: ir.Imm(0)},
		ir.SideExit{ExitRIP: 0x10},
	}, tr.Body)
}

func TestConstGuards(t *testing.T) {
	tr := &ir.Trace{
		Prologue: []ir.Instr{
			ir.Const{Dst: 0, Value: 1},
			ir.Guard{Cond: ir.Val(0), Expected: true, ExitRIP: 0x20},
		},
		Body: []ir.Instr{
			ir.Guard{Cond: ir.Imm(0), Expected: true, ExitRIP: 0x30},
			ir.StoreReg{Reg: guest.RAX, Src: ir.Imm(1)},
		},
	}

	ConstFold(tr)
	assert.Empty(t, tr.Prologue)
	assert.Equal(t, []ir.Instr{ir.SideExit{ExitRIP: 0x30}}, tr.Body)

	tr = &ir.Trace{
		Prologue: []ir.Instr{ir.Guard{Cond: ir.Imm(1), Expected: false, ExitRIP: 0x40}},
		Body:     []ir.Instr{ir.StoreReg{Reg: guest.RAX, Src: ir.Imm(1)}},
	}

	ConstFold(tr)
	assert.Equal(t, []ir.Instr{ir.SideExit{ExitRIP: 0x40}}, tr.Prologue)
	assert.Empty(t, tr.Body)
}

func TestDCE(t *testing.T) {
	tr := &ir.Trace{
		Body: []ir.Instr{
			ir.LoadReg{Dst: 0, Reg: guest.RAX},
			ir.LoadReg{Dst: 1, Reg: guest.RBX},
			ir.BinOp{Dst: 2, Op: ir.Add, LHS: ir.Val(0), RHS: ir.Imm(1), Flags: guest.MaskAll},
			ir.BinOp{Dst: 3, Op: ir.Sub, LHS: ir.Val(0), RHS: ir.Imm(1), Flags: guest.MaskAll},
			ir.LoadFlag{Dst: 4, Flag: guest.ZF},
			ir.BinOp{Dst: 5, Op: ir.Xor, LHS: ir.Val(2), RHS: ir.Val(4), Flags: guest.MaskZF},
			ir.LoadMem{Dst: 6, Addr: ir.Val(0), Width: ir.W8},
			ir.SetFlags{Mask: guest.MaskCF, Values: guest.Flags{CF: true}},
			ir.SetFlags{Mask: guest.MaskCF | guest.MaskOF, Values: guest.Flags{}},
			ir.StoreReg{Reg: guest.RCX, Src: ir.Val(2)},
		},
	}

	DCE(tr)

	assert.Equal(t, []ir.Instr{
		ir.LoadReg{Dst: 0, Reg: guest.RAX},
		ir.BinOp{Dst: 2, Op: ir.Add, LHS: ir.Val(0), RHS: ir.Imm(1)},
		ir.BinOp{Dst: 3, Op: ir.Sub, LHS: ir.Val(0), RHS: ir.Imm(1), Flags: guest.MaskZF | guest.MaskSF},
		ir.LoadFlag{Dst: 4, Flag: guest.ZF},
		ir.BinOp{Dst: 5, Op: ir.Xor, LHS: ir.Val(2), RHS: ir.Val(4), Flags: guest.MaskZF},
		ir.SetFlags{Mask: guest.MaskCF | guest.MaskOF, Values: guest.Flags{}},
		ir.StoreReg{Reg: guest.RCX, Src: ir.Val(2)},
	}, tr.Body)
}

func TestDCEFlagsLiveAtExit(t *testing.T) {
	tr := &ir.Trace{
		Body: []ir.Instr{
			ir.LoadReg{Dst: 0, Reg: guest.RAX},
			ir.BinOp{Dst: 1, Op: ir.Add, LHS: ir.Val(0), RHS: ir.Imm(1), Flags: guest.MaskAll},
			ir.SideExit{ExitRIP: 0x10},
		},
	}

	DCE(tr)
	assert.Len(t, tr.Body, 3)
}

func TestRegAlloc(t *testing.T) {
	tr := &ir.Trace{
		Body: []ir.Instr{
			ir.LoadReg{Dst: 0, Reg: guest.RAX},
			ir.StoreReg{Reg: guest.RAX, Src: ir.Val(0)},
			ir.LoadReg{Dst: 1, Reg: guest.RBX},
			ir.LoadReg{Dst: 2, Reg: guest.RCX},
			ir.LoadReg{Dst: 3, Reg: guest.RCX},
			ir.StoreReg{Reg: guest.RCX, Src: ir.Val(3)},
		},
	}

	plan := DefaultOptions.RegAlloc(tr)
	assert.Equal(t, ir.RegSet(0).With(guest.RAX).With(guest.RCX), plan.Cacheable)

	plan = Options{MaxCachedRegs: 1}.RegAlloc(tr)
	assert.Equal(t, ir.RegSet(0).With(guest.RCX), plan.Cacheable)

	tr.Kind = ir.Loop
	plan = DefaultOptions.RegAlloc(tr)
	assert.True(t, plan.Cacheable.Has(guest.RBX))
}

// Optimization must not change behavior.
func TestOptimizePreservesSemantics(t *testing.T) {
	build := func() *ir.Trace {
		return &ir.Trace{
			EntryRIP: 0x1000,
			Kind:     ir.Loop,
			Body: []ir.Instr{
				ir.Const{Dst: 0, Value: 2},
				ir.LoadReg{Dst: 1, Reg: guest.RAX},
				ir.BinOp{Dst: 2, Op: ir.Mul, LHS: ir.Val(1), RHS: ir.Val(0)},
				ir.BinOp{Dst: 3, Op: ir.Add, LHS: ir.Val(2), RHS: ir.Imm(0)},
				ir.StoreReg{Reg: guest.RAX, Src: ir.Val(3)},
				ir.LoadReg{Dst: 4, Reg: guest.RCX},
				ir.BinOp{Dst: 5, Op: ir.Sub, LHS: ir.Val(4), RHS: ir.Imm(1), Flags: guest.MaskAll},
				ir.StoreReg{Reg: guest.RCX, Src: ir.Val(5)},
				ir.LoadFlag{Dst: 6, Flag: guest.ZF},
				ir.Guard{Cond: ir.Val(6), Expected: false, ExitRIP: 0x1010},
			},
			NumValues: 7,
		}
	}

	run := func(tr *ir.Trace, plan *ir.AllocPlan) (*guest.State, interp.Outcome) {
		m := &interp.Machine{CPU: &guest.State{}, Mem: guest.NewFlat(0, 16, nil), Env: guest.NewEnv()}
		m.CPU.Regs[guest.RAX] = 1
		m.CPU.Regs[guest.RCX] = 10
		out := m.RunTrace(tr, plan, 100)
		return m.CPU, out
	}

	refCPU, refOut := run(build(), nil)

	tel := telemetry.New()
	tr := build()
	plan := Optimize(tr, tel)
	assert.Less(t, len(tr.Body), 10)

	cpu, out := run(tr, plan)
	assert.Equal(t, refOut, out)
	assert.Equal(t, refCPU, cpu)
	assert.Equal(t, uint64(1024), cpu.Regs[guest.RAX])
}

func TestStrengthReduce(t *testing.T) {
	tr := &ir.Trace{
		Body: []ir.Instr{
			ir.BinOp{Dst: 1, Op: ir.Mul, LHS: ir.Val(0), RHS: ir.Imm(8)},
			ir.BinOp{Dst: 2, Op: ir.Mul, LHS: ir.Imm(4), RHS: ir.Val(0), Flags: guest.MaskZF},
			ir.BinOp{Dst: 3, Op: ir.Mul, LHS: ir.Val(0), RHS: ir.Imm(6)},
			ir.BinOp{Dst: 4, Op: ir.Mul, LHS: ir.Val(0), RHS: ir.Imm(0)},
			ir.BinOp{Dst: 5, Op: ir.Mul, LHS: ir.Val(0), RHS: ir.Val(1)},
		},
	}

	StrengthReduce(tr)

	assert.Equal(t, []ir.Instr{
		ir.BinOp{Dst: 1, Op: ir.Shl, LHS: ir.Val(0), RHS: ir.Imm(3)},
		ir.BinOp{Dst: 2, Op: ir.Shl, LHS: ir.Val(0), RHS: ir.Imm(2), Flags: guest.MaskZF},
		ir.BinOp{Dst: 3, Op: ir.Mul, LHS: ir.Val(0), RHS: ir.Imm(6)},
		ir.BinOp{Dst: 4, Op: ir.Mul, LHS: ir.Val(0), RHS: ir.Imm(0)},
		ir.BinOp{Dst: 5, Op: ir.Mul, LHS: ir.Val(0), RHS: ir.Val(1)},
	}, tr.Body)
}

func TestCSE(t *testing.T) {
	tr := &ir.Trace{
		Body: []ir.Instr{
			ir.LoadReg{Dst: 0, Reg: guest.RAX},
			ir.BinOp{Dst: 1, Op: ir.Add, LHS: ir.Val(0), RHS: ir.Imm(4)},
			ir.BinOp{Dst: 2, Op: ir.Add, LHS: ir.Imm(4), RHS: ir.Val(0)},
			ir.BinOp{Dst: 3, Op: ir.Sub, LHS: ir.Imm(4), RHS: ir.Val(0)},
			ir.Addr{Dst: 4, Base: ir.Val(2), Index: ir.Imm(0), Scale: 1, Disp: 8},
			ir.Addr{Dst: 5, Base: ir.Val(1), Index: ir.Imm(0), Scale: 1, Disp: 8},
			ir.StoreReg{Reg: guest.RBX, Src: ir.Val(5)},
			ir.LoadReg{Dst: 6, Reg: guest.RBX},
			ir.LoadReg{Dst: 7, Reg: guest.RAX},
			ir.BinOp{Dst: 8, Op: ir.Add, LHS: ir.Val(7), RHS: ir.Imm(4), Flags: guest.MaskAll},
			ir.StoreMem{Addr: ir.Val(6), Src: ir.Val(3), Width: ir.W64},
		},
	}

	CSE(tr)

	assert.Equal(t, []ir.Instr{
		ir.LoadReg{Dst: 0, Reg: guest.RAX},
		ir.BinOp{Dst: 1, Op: ir.Add, LHS: ir.Val(0), RHS: ir.Imm(4)},
		ir.BinOp{Dst: 3, Op: ir.Sub, LHS: ir.Imm(4), RHS: ir.Val(0)},
		ir.Addr{Dst: 4, Base: ir.Val(1), Index: ir.Imm(0), Scale: 1, Disp: 8},
		ir.StoreReg{Reg: guest.RBX, Src: ir.Val(4)},
		ir.BinOp{Dst: 8, Op: ir.Add, LHS: ir.Val(0), RHS: ir.Imm(4), Flags: guest.MaskAll},
		ir.StoreMem{Addr: ir.Val(4), Src: ir.Val(3), Width: ir.W64},
	}, tr.Body)
}

func TestCSELoopRegisters(t *testing.T) {
	tr := &ir.Trace{
		Kind: ir.Loop,
		Prologue: []ir.Instr{
			ir.LoadReg{Dst: 0, Reg: guest.RAX},
			ir.LoadReg{Dst: 1, Reg: guest.RBX},
		},
		Body: []ir.Instr{
			ir.LoadReg{Dst: 2, Reg: guest.RAX},
			ir.LoadReg{Dst: 3, Reg: guest.RBX},
			ir.BinOp{Dst: 4, Op: ir.Add, LHS: ir.Val(2), RHS: ir.Val(3)},
			ir.StoreReg{Reg: guest.RAX, Src: ir.Val(4)},
		},
	}

	CSE(tr)

	assert.Equal(t, []ir.Instr{
		ir.LoadReg{Dst: 2, Reg: guest.RAX},
		ir.BinOp{Dst: 4, Op: ir.Add, LHS: ir.Val(2), RHS: ir.Val(1)},
		ir.StoreReg{Reg: guest.RAX, Src: ir.Val(4)},
	}, tr.Body)
}

func TestLICM(t *testing.T) {
	body := func() []ir.Instr {
		return []ir.Instr{
			ir.GuardCodeVersion{Page: 1, ExitRIP: 0x1000},
			ir.LoadReg{Dst: 0, Reg: guest.RBX},
			ir.BinOp{Dst: 1, Op: ir.Shl, LHS: ir.Val(0), RHS: ir.Imm(3)},
			ir.LoadReg{Dst: 2, Reg: guest.RAX},
			ir.BinOp{Dst: 3, Op: ir.Add, LHS: ir.Val(2), RHS: ir.Val(1), Flags: guest.MaskAll},
			ir.StoreReg{Reg: guest.RAX, Src: ir.Val(3)},
			ir.BinOp{Dst: 4, Op: ir.Add, LHS: ir.Val(2), RHS: ir.Imm(1)},
			ir.Addr{Dst: 5, Base: ir.Val(1), Index: ir.Imm(0), Scale: 1, Disp: 8},
			ir.BinOp{Dst: 6, Op: ir.Or, LHS: ir.Val(0), RHS: ir.Imm(1), Flags: guest.MaskZF},
			ir.LoadMem{Dst: 7, Addr: ir.Val(5), Width: ir.W64},
			ir.StoreMem{Addr: ir.Val(7), Src: ir.Val(4), Width: ir.W64},
		}
	}

	tr := &ir.Trace{Kind: ir.Loop, Body: body()}
	LICM(tr)

	assert.Equal(t, []ir.Instr{
		ir.LoadReg{Dst: 0, Reg: guest.RBX},
		ir.BinOp{Dst: 1, Op: ir.Shl, LHS: ir.Val(0), RHS: ir.Imm(3)},
		ir.Addr{Dst: 5, Base: ir.Val(1), Index: ir.Imm(0), Scale: 1, Disp: 8},
	}, tr.Prologue)
	assert.Equal(t, []ir.Instr{
		ir.GuardCodeVersion{Page: 1, ExitRIP: 0x1000},
		ir.LoadReg{Dst: 2, Reg: guest.RAX},
		ir.BinOp{Dst: 3, Op: ir.Add, LHS: ir.Val(2), RHS: ir.Val(1), Flags: guest.MaskAll},
		ir.StoreReg{Reg: guest.RAX, Src: ir.Val(3)},
		ir.BinOp{Dst: 4, Op: ir.Add, LHS: ir.Val(2), RHS: ir.Imm(1)},
		ir.BinOp{Dst: 6, Op: ir.Or, LHS: ir.Val(0), RHS: ir.Imm(1), Flags: guest.MaskZF},
		ir.LoadMem{Dst: 7, Addr: ir.Val(5), Width: ir.W64},
		ir.StoreMem{Addr: ir.Val(7), Src: ir.Val(4), Width: ir.W64},
	}, tr.Body)

	tr = &ir.Trace{Kind: ir.Linear, Body: body()}
	LICM(tr)
	assert.Empty(t, tr.Prologue)
	assert.Equal(t, body(), tr.Body)

	tr = &ir.Trace{
		Kind:     ir.Loop,
		Prologue: []ir.Instr{ir.SideExit{ExitRIP: 0x2000}},
		Body:     body(),
	}
	LICM(tr)
	assert.Len(t, tr.Prologue, 1)
	assert.Equal(t, body(), tr.Body)
}

// A loop which scales an invariant register, optimized by every pass.
func TestOptimizeLoopInvariants(t *testing.T) {
	build := func() *ir.Trace {
		return &ir.Trace{
			EntryRIP: 0x1000,
			Kind:     ir.Loop,
			Body: []ir.Instr{
				ir.LoadReg{Dst: 0, Reg: guest.RBX},
				ir.BinOp{Dst: 1, Op: ir.Mul, LHS: ir.Val(0), RHS: ir.Imm(8)},
				ir.LoadReg{Dst: 2, Reg: guest.RBX},
				ir.BinOp{Dst: 3, Op: ir.Mul, LHS: ir.Imm(8), RHS: ir.Val(2)},
				ir.LoadReg{Dst: 4, Reg: guest.RAX},
				ir.BinOp{Dst: 5, Op: ir.Add, LHS: ir.Val(4), RHS: ir.Val(1)},
				ir.BinOp{Dst: 6, Op: ir.Add, LHS: ir.Val(5), RHS: ir.Val(3)},
				ir.StoreReg{Reg: guest.RAX, Src: ir.Val(6)},
				ir.LoadReg{Dst: 7, Reg: guest.RCX},
				ir.BinOp{Dst: 8, Op: ir.Sub, LHS: ir.Val(7), RHS: ir.Imm(1), Flags: guest.MaskAll},
				ir.StoreReg{Reg: guest.RCX, Src: ir.Val(8)},
				ir.LoadFlag{Dst: 9, Flag: guest.ZF},
				ir.Guard{Cond: ir.Val(9), Expected: false, ExitRIP: 0x1010},
			},
			NumValues: 10,
		}
	}

	run := func(tr *ir.Trace, plan *ir.AllocPlan) (*guest.State, interp.Outcome) {
		m := &interp.Machine{CPU: &guest.State{}, Mem: guest.NewFlat(0, 16, nil), Env: guest.NewEnv()}
		m.CPU.Regs[guest.RBX] = 3
		m.CPU.Regs[guest.RCX] = 10
		out := m.RunTrace(tr, plan, 100)
		return m.CPU, out
	}

	refCPU, refOut := run(build(), nil)

	tel := telemetry.New()
	tr := build()
	plan := Optimize(tr, tel)

	assert.Equal(t, []ir.Instr{
		ir.LoadReg{Dst: 0, Reg: guest.RBX},
		ir.BinOp{Dst: 1, Op: ir.Shl, LHS: ir.Val(0), RHS: ir.Imm(3)},
	}, tr.Prologue)
	assert.Len(t, tr.Body, 9)

	cpu, out := run(tr, plan)
	assert.Equal(t, refOut, out)
	assert.Equal(t, refCPU, cpu)
	assert.Equal(t, uint64(10*48), cpu.Regs[guest.RAX])
}
