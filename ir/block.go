// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import (
	"fmt"

	"gate.computer/xlate/abi"
)

// BlockID is an index into Function.Blocks.
type BlockID uint32

// Terminator is implemented by the terminator types of this package only.
type Terminator interface {
	fmt.Stringer
	terminator()
}

// Jump continues at another block.
type Jump struct {
	Target BlockID
}

// Branch continues at Then if Cond is non-zero, else at Else.
type Branch struct {
	Cond Operand
	Then BlockID
	Else BlockID
}

// Return completes execution.  The instruction pointer is set to the end of
// the block.
type Return struct{}

// Exit leaves the block at RIP.  The dispatcher continues within the function
// if a block starts there.
type Exit struct {
	RIP uint64
}

// Handoff defers an instruction at RIP to the host.
type Handoff struct {
	Kind abi.ExitKind
	RIP  uint64
}

func (Jump) terminator()    {}
func (Branch) terminator()  {}
func (Return) terminator()  {}
func (Exit) terminator()    {}
func (Handoff) terminator() {}

// Block of straight-line code.  End is the address after its last guest
// instruction.
type Block struct {
	ID     BlockID
	RIP    uint64
	End    uint64
	Instrs []Instr
	Term   Terminator
}

// PageVersion records a code page version observed during translation.
type PageVersion struct {
	Page    uint64
	Version uint64
}

// Function is an arena of blocks, addressable by id and by guest address.
type Function struct {
	Entry     BlockID
	Blocks    []*Block
	NumValues int
	Pages     []PageVersion

	byRIP map[uint64]BlockID
}

func NewFunction() *Function {
	return &Function{
		byRIP: make(map[uint64]BlockID),
	}
}

// AddBlock allocates a block starting at rip.  A block which already starts
// at rip is replaced in the address lookup table.
func (fn *Function) AddBlock(rip uint64) *Block {
	b := &Block{
		ID:  BlockID(len(fn.Blocks)),
		RIP: rip,
		End: rip,
	}
	fn.Blocks = append(fn.Blocks, b)
	fn.byRIP[rip] = b.ID
	return b
}

func (fn *Function) Block(id BlockID) *Block {
	return fn.Blocks[id]
}

// Lookup a block by its start address.
func (fn *Function) Lookup(rip uint64) (BlockID, bool) {
	id, ok := fn.byRIP[rip]
	return id, ok
}

// Kind of trace.
type Kind uint8

const (
	Linear = Kind(iota)
	Loop
)

func (k Kind) String() string {
	switch k {
	case Linear:
		return "linear"

	case Loop:
		return "loop"

	default:
		return fmt.Sprintf("<kind %d>", uint8(k))
	}
}

// Trace is the shape compiled by the optimizing tier.  Prologue runs once.
// Body runs once for Linear traces, and repeatedly for Loop traces.
type Trace struct {
	EntryRIP  uint64
	Kind      Kind
	Prologue  []Instr
	Body      []Instr
	NumValues int
	Pages     []PageVersion
	Insns     int // Guest instructions translated.
}

// GuardSites returns the resume addresses of speculative guards.
func (t *Trace) GuardSites() []uint64 {
	var sites []uint64
	for _, list := range [][]Instr{t.Prologue, t.Body} {
		for _, i := range list {
			if g, ok := i.(Guard); ok {
				sites = append(sites, g.ExitRIP)
			}
		}
	}
	return sites
}

// Builder appends instructions and allocates values.
type Builder struct {
	instrs []Instr
	next   Value
}

func (b *Builder) NewValue() Value {
	v := b.next
	b.next++
	return v
}

func (b *Builder) Emit(i Instr) {
	b.instrs = append(b.instrs, i)
}

// Take the instructions emitted so far.  Value numbering continues.
func (b *Builder) Take() []Instr {
	list := b.instrs
	b.instrs = nil
	return list
}

func (b *Builder) Len() int       { return len(b.instrs) }
func (b *Builder) NumValues() int { return int(b.next) }
