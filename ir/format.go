// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import (
	"fmt"
	"strings"
)

func (i Const) String() string    { return fmt.Sprintf("%s = const 0x%x", i.Dst, i.Value) }
func (i LoadReg) String() string  { return fmt.Sprintf("%s = load %s", i.Dst, i.Reg) }
func (i StoreReg) String() string { return fmt.Sprintf("store %s, %s", i.Reg, i.Src) }
func (i LoadFlag) String() string { return fmt.Sprintf("%s = flag %s", i.Dst, i.Flag) }

func (i SetFlags) String() string {
	return fmt.Sprintf("setflags %s = %s", i.Mask, i.Values)
}

func (i BinOp) String() string {
	s := fmt.Sprintf("%s = %s %s, %s", i.Dst, i.Op, i.LHS, i.RHS)
	if i.Flags != 0 {
		s += " [" + i.Flags.String() + "]"
	}
	return s
}

func (i Addr) String() string {
	return fmt.Sprintf("%s = addr %s + %s*%d + %d", i.Dst, i.Base, i.Index, i.Scale, i.Disp)
}

func (i LoadMem) String() string {
	return fmt.Sprintf("%s = load.%d [%s]", i.Dst, i.Width, i.Addr)
}

func (i StoreMem) String() string {
	return fmt.Sprintf("store.%d [%s], %s", i.Width, i.Addr, i.Src)
}

func (i Guard) String() string {
	return fmt.Sprintf("guard %s == %t else 0x%x", i.Cond, i.Expected, i.ExitRIP)
}

func (i GuardCodeVersion) String() string {
	return fmt.Sprintf("guard page 0x%x version %d else 0x%x", i.Page, i.Expected, i.ExitRIP)
}

func (i SideExit) String() string { return fmt.Sprintf("exit 0x%x", i.ExitRIP) }

func (i Bailout) String() string {
	return fmt.Sprintf("bailout %s at 0x%x", i.Kind, i.ExitRIP)
}

func (t Jump) String() string { return fmt.Sprintf("jump b%d", t.Target) }

func (t Branch) String() string {
	return fmt.Sprintf("branch %s ? b%d : b%d", t.Cond, t.Then, t.Else)
}

func (Return) String() string    { return "return" }
func (t Exit) String() string    { return fmt.Sprintf("exit 0x%x", t.RIP) }
func (t Handoff) String() string { return fmt.Sprintf("handoff %s at 0x%x", t.Kind, t.RIP) }

func writeInstrs(b *strings.Builder, indent string, instrs []Instr) {
	for _, i := range instrs {
		b.WriteString(indent)
		b.WriteString(i.String())
		b.WriteByte('\n')
	}
}

func (t *Trace) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "trace 0x%x %s (%d instructions, %d values)\n", t.EntryRIP, t.Kind, t.Insns, t.NumValues)
	for _, p := range t.Pages {
		fmt.Fprintf(&b, "  page 0x%x version %d\n", p.Page, p.Version)
	}
	b.WriteString("prologue:\n")
	writeInstrs(&b, "  ", t.Prologue)
	b.WriteString("body:\n")
	writeInstrs(&b, "  ", t.Body)
	return b.String()
}

func (blk *Block) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "b%d 0x%x-0x%x:\n", blk.ID, blk.RIP, blk.End)
	writeInstrs(&b, "  ", blk.Instrs)
	if blk.Term != nil {
		b.WriteString("  ")
		b.WriteString(blk.Term.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func (fn *Function) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "function entry b%d (%d values)\n", fn.Entry, fn.NumValues)
	for _, blk := range fn.Blocks {
		b.WriteString(blk.String())
	}
	return b.String()
}

func (p *AllocPlan) String() string {
	var parts []string
	for _, r := range p.Cacheable.Regs() {
		parts = append(parts, fmt.Sprintf("%s:%d", r, p.Slot[r]))
	}
	return fmt.Sprintf("cached [%s]", strings.Join(parts, " "))
}
