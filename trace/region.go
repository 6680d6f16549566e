// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trace

import (
	"gate.computer/xlate/abi"
	"gate.computer/xlate/decode"
	"gate.computer/xlate/guest"
	"gate.computer/xlate/ir"
	"golang.org/x/xerrors"
)

type regionBuilder struct {
	mem   guest.Fetcher
	env   *guest.Env
	opts  Options
	fn    *ir.Function
	b     ir.Builder
	queue []ir.BlockID
	pages pageSet
}

// target returns the block starting at rip, allocating one if the region
// still has room.
func (r *regionBuilder) target(rip uint64) (ir.BlockID, bool) {
	if id, ok := r.fn.Lookup(rip); ok {
		return id, true
	}
	if len(r.fn.Blocks) >= r.opts.MaxBlocks {
		return 0, false
	}
	blk := r.fn.AddBlock(rip)
	r.queue = append(r.queue, blk.ID)
	return blk.ID, true
}

// BuildFunction discovers the basic blocks reachable from rip.  Each block
// is guarded against modification of the code pages it spans.  Control
// transfers beyond the block limit leave the region.
func BuildFunction(mem guest.Fetcher, env *guest.Env, rip uint64, opts Options) (*ir.Function, error) {
	r := &regionBuilder{
		mem:  mem,
		env:  env,
		opts: opts,
		fn:   ir.NewFunction(),
	}

	entry, _ := r.target(rip)
	r.fn.Entry = entry

	for len(r.queue) > 0 {
		id := r.queue[0]
		r.queue = r.queue[1:]

		if err := r.block(r.fn.Block(id)); err != nil {
			return nil, err
		}
	}

	r.fn.Pages = r.pages.snapshot(env)
	r.fn.NumValues = r.b.NumValues()
	return r.fn, nil
}

func (r *regionBuilder) block(blk *ir.Block) error {
	var local pageSet

	cur := blk.RIP

	for n := 0; blk.Term == nil; n++ {
		if n > 0 {
			if id, ok := r.fn.Lookup(cur); ok {
				blk.Term = ir.Jump{Target: id}
				break
			}
		}
		if n >= r.opts.MaxInsns {
			r.continueAt(blk, cur)
			break
		}

		insn, err := Fetch(r.mem, cur)
		if err != nil {
			if n == 0 && blk.ID == r.fn.Entry {
				return xerrors.Errorf("region at 0x%x: %w", blk.RIP, err)
			}
			blk.Term = ir.Handoff{Kind: abi.ExitDecode, RIP: cur}
			break
		}

		local.add(insn)
		r.pages.add(insn)
		cur = insn.Next()
		blk.End = cur

		switch insn.Op {
		case decode.Jmp:
			r.continueAt(blk, insn.Target)

		case decode.Jcc:
			cond := Condition(&r.b, insn.Cond)
			then, thenOK := r.target(insn.Target)
			els, elseOK := r.target(insn.Next())

			switch {
			case thenOK && elseOK:
				blk.Term = ir.Branch{Cond: cond, Then: then, Else: els}

			case elseOK:
				r.b.Emit(ir.Guard{Cond: cond, Expected: false, ExitRIP: insn.Target})
				blk.Term = ir.Jump{Target: els}

			case thenOK:
				r.b.Emit(ir.Guard{Cond: cond, Expected: true, ExitRIP: insn.Next()})
				blk.Term = ir.Jump{Target: then}

			default:
				r.b.Emit(ir.Guard{Cond: cond, Expected: false, ExitRIP: insn.Target})
				blk.Term = ir.Exit{RIP: insn.Next()}
			}

		case decode.Ret:
			blk.Term = ir.Handoff{Kind: abi.ExitIndirect, RIP: insn.RIP}

		case decode.Hlt:
			blk.Term = ir.Handoff{Kind: abi.ExitHalt, RIP: insn.Next()}

		default:
			if err := Lower(&r.b, insn); err != nil {
				return xerrors.Errorf("region at 0x%x: %w", blk.RIP, err)
			}
		}
	}

	var guards []ir.Instr
	for _, page := range local.pages {
		r.env.Watch(page)
		guards = append(guards, ir.GuardCodeVersion{Page: page, Expected: r.env.Version(page), ExitRIP: blk.RIP})
	}
	blk.Instrs = append(guards, r.b.Take()...)
	return nil
}

// continueAt terminates the block with a jump to rip.
func (r *regionBuilder) continueAt(blk *ir.Block, rip uint64) {
	if id, ok := r.target(rip); ok {
		blk.Term = ir.Jump{Target: id}
	} else {
		blk.Term = ir.Exit{RIP: rip}
	}
}
