// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package interp is the reference executor of the intermediate
// representation.  It runs basic-block functions for the baseline tier, and
// defines the semantics which compiled traces must reproduce.
package interp

import (
	"fmt"

	"gate.computer/xlate/abi"
	"gate.computer/xlate/guest"
	"gate.computer/xlate/ir"
	"gate.computer/xlate/regcache"
)

// Status of an execution.
type Status uint8

const (
	Returned  = Status(iota) // Completed normally.
	SideExit                 // Left at a guard or exit.
	StepLimit                // Budget exhausted; resumable at NextRIP.
	Handoff                  // Host must handle the instruction at NextRIP.
)

func (s Status) String() string {
	switch s {
	case Returned:
		return "returned"

	case SideExit:
		return "side-exit"

	case StepLimit:
		return "step-limit"

	case Handoff:
		return "handoff"

	default:
		return fmt.Sprintf("<status %d>", uint8(s))
	}
}

// Cause of a side-exit.
type Cause uint8

const (
	CauseNone        = Cause(iota)
	CauseGuard       // Speculated condition did not hold.
	CauseCodeVersion // Code page was modified.
	CauseExit        // Explicit exit.
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"

	case CauseGuard:
		return "guard"

	case CauseCodeVersion:
		return "code-version"

	case CauseExit:
		return "exit"

	default:
		return fmt.Sprintf("<cause %d>", uint8(c))
	}
}

// Outcome of an execution.  CPU state is consistent and its instruction
// pointer equals NextRIP.
type Outcome struct {
	Status  Status
	NextRIP uint64
	Kind    abi.ExitKind // Set for Handoff.
	Cause   Cause        // Set for SideExit.
}

func (o Outcome) String() string {
	switch o.Status {
	case SideExit:
		return fmt.Sprintf("%s (%s) to 0x%x", o.Status, o.Cause, o.NextRIP)

	case Handoff:
		return fmt.Sprintf("%s (%s) at 0x%x", o.Status, o.Kind, o.NextRIP)

	default:
		return fmt.Sprintf("%s at 0x%x", o.Status, o.NextRIP)
	}
}

// Machine binds the state which instructions operate on.
type Machine struct {
	CPU   *guest.State
	Mem   guest.Memory
	Env   *guest.Env
	Stats regcache.Stats // Accumulated over runs.
}

type frame struct {
	vals  []uint64
	cache *regcache.Cache
}

func (m *Machine) newFrame(numValues int, plan *ir.AllocPlan) *frame {
	var set ir.RegSet
	if plan != nil {
		set = plan.Cacheable
	}
	return &frame{
		vals:  make([]uint64, numValues),
		cache: regcache.New(set),
	}
}

func (m *Machine) finish(f *frame) {
	m.Stats.Add(f.cache.Stats)
}

func (f *frame) operand(o ir.Operand) uint64 {
	if o.IsVal() {
		return f.vals[o.Value()]
	}
	return o.Imm()
}

// leave spills the cache and positions the instruction pointer.
func (m *Machine) leave(f *frame, out Outcome) Outcome {
	f.cache.Spill(m.CPU)
	m.CPU.RIP = out.NextRIP
	return out
}

// exec runs an instruction list.  If it is left early, the outcome is
// returned with exited set.
func (m *Machine) exec(f *frame, instrs []ir.Instr) (out Outcome, exited bool) {
	for _, i := range instrs {
		switch i := i.(type) {
		case ir.Const:
			f.vals[i.Dst] = i.Value

		case ir.LoadReg:
			f.vals[i.Dst] = f.cache.ReadReg(m.CPU, i.Reg)

		case ir.StoreReg:
			f.cache.WriteReg(m.CPU, i.Reg, f.operand(i.Src))

		case ir.LoadFlag:
			if m.CPU.Flags.Get(i.Flag) {
				f.vals[i.Dst] = 1
			} else {
				f.vals[i.Dst] = 0
			}

		case ir.SetFlags:
			m.CPU.Flags.Apply(i.Mask, i.Values)

		case ir.BinOp:
			res, fl := ir.Eval(i.Op, f.operand(i.LHS), f.operand(i.RHS))
			f.vals[i.Dst] = res
			if i.Flags != 0 {
				m.CPU.Flags.Apply(i.Flags, fl)
			}

		case ir.Addr:
			f.vals[i.Dst] = ir.EvalAddr(f.operand(i.Base), f.operand(i.Index), i.Scale, i.Disp)

		case ir.LoadMem:
			f.vals[i.Dst] = m.Mem.Load(f.operand(i.Addr), i.Width.Bytes()) & i.Width.Mask()

		case ir.StoreMem:
			m.Mem.Store(f.operand(i.Addr), i.Width.Bytes(), f.operand(i.Src)&i.Width.Mask())

		case ir.Guard:
			if (f.operand(i.Cond) != 0) != i.Expected {
				return m.leave(f, Outcome{Status: SideExit, NextRIP: i.ExitRIP, Cause: CauseGuard}), true
			}

		case ir.GuardCodeVersion:
			if m.Env.Version(i.Page) != i.Expected {
				return m.leave(f, Outcome{Status: SideExit, NextRIP: i.ExitRIP, Cause: CauseCodeVersion}), true
			}

		case ir.SideExit:
			return m.leave(f, Outcome{Status: SideExit, NextRIP: i.ExitRIP, Cause: CauseExit}), true

		case ir.Bailout:
			return m.leave(f, Outcome{Status: Handoff, NextRIP: i.ExitRIP, Kind: i.Kind}), true

		default:
			panic(fmt.Sprintf("interp: unknown instruction type %T", i))
		}
	}

	return
}

// RunBlocks executes a function starting at the entry block.  maxSteps
// bounds the number of blocks entered.  Side-exits which land on the start
// of a block of the same function continue there, except when the function
// has become stale.
func (m *Machine) RunBlocks(fn *ir.Function, entry ir.BlockID, plan *ir.AllocPlan, maxSteps int) Outcome {
	f := m.newFrame(fn.NumValues, plan)
	defer m.finish(f)

	id := entry

	for steps := 0; ; steps++ {
		b := fn.Block(id)

		if steps >= maxSteps {
			return m.leave(f, Outcome{Status: StepLimit, NextRIP: b.RIP})
		}

		if out, exited := m.exec(f, b.Instrs); exited {
			if out.Status == SideExit && out.Cause != CauseCodeVersion {
				if next, ok := fn.Lookup(out.NextRIP); ok {
					id = next
					continue
				}
			}
			return out
		}

		switch t := b.Term.(type) {
		case ir.Jump:
			id = t.Target

		case ir.Branch:
			if f.operand(t.Cond) != 0 {
				id = t.Then
			} else {
				id = t.Else
			}

		case ir.Return:
			return m.leave(f, Outcome{Status: Returned, NextRIP: b.End})

		case ir.Exit:
			if next, ok := fn.Lookup(t.RIP); ok {
				id = next
				continue
			}
			return m.leave(f, Outcome{Status: SideExit, NextRIP: t.RIP, Cause: CauseExit})

		case ir.Handoff:
			return m.leave(f, Outcome{Status: Handoff, NextRIP: t.RIP, Kind: t.Kind})

		default:
			panic(fmt.Sprintf("interp: unknown terminator type %T", t))
		}
	}
}

// RunTrace executes the prologue once and the body according to the trace
// kind.  A Linear trace returns with the instruction pointer unchanged if its
// body completes.  A Loop trace returns StepLimit at its entry after maxIters
// complete body passes.
func (m *Machine) RunTrace(t *ir.Trace, plan *ir.AllocPlan, maxIters int) Outcome {
	f := m.newFrame(t.NumValues, plan)
	defer m.finish(f)

	if out, exited := m.exec(f, t.Prologue); exited {
		return out
	}

	switch t.Kind {
	case ir.Linear:
		if out, exited := m.exec(f, t.Body); exited {
			return out
		}
		return m.leave(f, Outcome{Status: Returned, NextRIP: m.CPU.RIP})

	case ir.Loop:
		for iter := 0; iter < maxIters; iter++ {
			if out, exited := m.exec(f, t.Body); exited {
				return out
			}
		}
		return m.leave(f, Outcome{Status: StepLimit, NextRIP: t.EntryRIP})

	default:
		panic(fmt.Sprintf("interp: unknown trace kind %d", t.Kind))
	}
}
