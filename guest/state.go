// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guest models the architectural state the translator operates on:
// general-purpose registers, condition flags, code page versions and guest
// memory.
package guest

import (
	"fmt"
)

// Reg is a general-purpose register number in x86-64 encoding order.
type Reg uint8

const (
	RAX = Reg(iota)
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	NumRegs
)

var regNames = [NumRegs]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if r < NumRegs {
		return regNames[r]
	}
	return fmt.Sprintf("<invalid register %d>", uint8(r))
}

// ParseReg by its 64-bit name.
func ParseReg(name string) (Reg, bool) {
	for r, s := range regNames {
		if s == name {
			return Reg(r), true
		}
	}
	return 0, false
}

// State of one virtual CPU.  It is owned by whoever is currently stepping it.
type State struct {
	Regs  [NumRegs]uint64
	RIP   uint64
	Flags Flags
}

// RFLAGS bit positions.
const (
	BitCF       = 0
	BitReserved = 1
	BitZF       = 6
	BitSF       = 7
	BitOF       = 11
)

// RFLAGS word with the reserved bit set.
func (s *State) RFLAGS() uint64 {
	x := uint64(1) << BitReserved
	if s.Flags.CF {
		x |= 1 << BitCF
	}
	if s.Flags.ZF {
		x |= 1 << BitZF
	}
	if s.Flags.SF {
		x |= 1 << BitSF
	}
	if s.Flags.OF {
		x |= 1 << BitOF
	}
	return x
}

// SetRFLAGS extracts the modeled flags.  Other bits are ignored.
func (s *State) SetRFLAGS(x uint64) {
	s.Flags = Flags{
		ZF: x&(1<<BitZF) != 0,
		SF: x&(1<<BitSF) != 0,
		CF: x&(1<<BitCF) != 0,
		OF: x&(1<<BitOF) != 0,
	}
}

func (s *State) String() string {
	b := make([]byte, 0, 512)
	for r, x := range s.Regs {
		b = fmt.Appendf(b, "%-3s 0x%016x", Reg(r), x)
		if r%4 == 3 {
			b = append(b, '\n')
		} else {
			b = append(b, "  "...)
		}
	}
	b = fmt.Appendf(b, "rip 0x%016x  flags %s", s.RIP, s.Flags)
	return string(b)
}
