// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trace translates guest code into basic-block regions and
// speculative traces.
package trace

import (
	"gate.computer/xlate/abi"
	"gate.computer/xlate/decode"
	"gate.computer/xlate/guest"
	"gate.computer/xlate/ir"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"
)

// Options of the builders.
type Options struct {
	MaxInsns  int // Guest instructions per trace or block.
	MaxBlocks int // Blocks per region.

	// Predict whether a conditional branch is taken.  The default is
	// backward taken, forward not taken.
	Predict func(insn decode.Insn) bool
}

var DefaultOptions = Options{
	MaxInsns:  256,
	MaxBlocks: 32,
}

func (opts Options) predict(insn decode.Insn) bool {
	if opts.Predict != nil {
		return opts.Predict(insn)
	}
	return insn.Target <= insn.RIP
}

// Fetch and decode the instruction at rip.
func Fetch(mem guest.Fetcher, rip uint64) (decode.Insn, error) {
	var window [decode.MaxInsnLen]byte
	n := mem.Fetch(rip, window[:])
	return decode.Decode(window[:n], rip)
}

// pageSet records the code pages spanned by translated instructions.
type pageSet struct {
	pages []uint64
}

func (s *pageSet) add(insn decode.Insn) {
	for page := guest.PageOf(insn.RIP); page <= guest.PageOf(insn.Next()-1); page++ {
		if !slices.Contains(s.pages, page) {
			s.pages = append(s.pages, page)
		}
	}
}

// snapshot watches the pages and reads their versions.
func (s *pageSet) snapshot(env *guest.Env) []ir.PageVersion {
	slices.Sort(s.pages)

	list := make([]ir.PageVersion, 0, len(s.pages))
	for _, page := range s.pages {
		env.Watch(page)
		list = append(list, ir.PageVersion{Page: page, Version: env.Version(page)})
	}
	return list
}

func versionGuards(pages []ir.PageVersion, exitRIP uint64) []ir.Instr {
	guards := make([]ir.Instr, 0, len(pages))
	for _, p := range pages {
		guards = append(guards, ir.GuardCodeVersion{Page: p.Page, Expected: p.Version, ExitRIP: exitRIP})
	}
	return guards
}

// Build a trace starting at rip.  Unconditional jumps are followed, and
// conditional branches are speculated with guards.  A jump back to the entry
// makes a loop trace.  The trace is guarded against modification of the code
// pages it was translated from.
func Build(mem guest.Fetcher, env *guest.Env, rip uint64, opts Options) (*ir.Trace, error) {
	var (
		b     ir.Builder
		pages pageSet
		kind  = ir.Linear
		cur   = rip
		n     int
	)

loop:
	for {
		if n >= opts.MaxInsns {
			b.Emit(ir.SideExit{ExitRIP: cur})
			break
		}

		insn, err := Fetch(mem, cur)
		if err != nil {
			if n == 0 {
				return nil, xerrors.Errorf("trace at 0x%x: %w", rip, err)
			}
			b.Emit(ir.Bailout{Kind: abi.ExitDecode, ExitRIP: cur})
			break
		}

		pages.add(insn)
		n++

		switch insn.Op {
		case decode.Jmp:
			cur = insn.Target

		case decode.Jcc:
			cond := Condition(&b, insn.Cond)
			if opts.predict(insn) {
				b.Emit(ir.Guard{Cond: cond, Expected: true, ExitRIP: insn.Next()})
				cur = insn.Target
			} else {
				b.Emit(ir.Guard{Cond: cond, Expected: false, ExitRIP: insn.Target})
				cur = insn.Next()
			}

		case decode.Ret:
			b.Emit(ir.Bailout{Kind: abi.ExitIndirect, ExitRIP: insn.RIP})
			break loop

		case decode.Hlt:
			b.Emit(ir.Bailout{Kind: abi.ExitHalt, ExitRIP: insn.Next()})
			break loop

		default:
			if err := Lower(&b, insn); err != nil {
				return nil, xerrors.Errorf("trace at 0x%x: %w", rip, err)
			}
			cur = insn.Next()
		}

		if cur == rip && (insn.Op == decode.Jmp || insn.Op == decode.Jcc) {
			kind = ir.Loop
			break
		}
	}

	t := &ir.Trace{
		EntryRIP: rip,
		Kind:     kind,
		Pages:    pages.snapshot(env),
		Insns:    n,
	}

	guards := versionGuards(t.Pages, rip)
	body := b.Take()

	if kind == ir.Loop {
		t.Body = append(guards, body...)
	} else {
		t.Prologue = guards
		t.Body = body
	}

	t.NumValues = b.NumValues()
	return t, nil
}
