// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package abi

import (
	"encoding/binary"

	"gate.computer/xlate/guest"
)

// CPU state layout in linear memory, relative to the cpu_ptr argument.  The
// exit cause word is written by the trace and ignored on entry.
const (
	GPROffset    = 0
	RIPOffset    = GPROffset + 8*16
	RFLAGSOffset = RIPOffset + 8
	CauseOffset  = RFLAGSOffset + 8

	StateSize = CauseOffset + 8
)

// RegOffset of a general-purpose register.
func RegOffset(r guest.Reg) uint32 {
	return GPROffset + 8*uint32(r)
}

// PutState serializes CPU state.  The buffer must be at least StateSize bytes.
func PutState(b []byte, cpu *guest.State) {
	for r := range cpu.Regs {
		binary.LittleEndian.PutUint64(b[GPROffset+8*r:], cpu.Regs[r])
	}
	binary.LittleEndian.PutUint64(b[RIPOffset:], cpu.RIP)
	binary.LittleEndian.PutUint64(b[RFLAGSOffset:], cpu.RFLAGS())
}

// GetState deserializes CPU state.  The buffer must be at least StateSize
// bytes.
func GetState(cpu *guest.State, b []byte) {
	for r := range cpu.Regs {
		cpu.Regs[r] = binary.LittleEndian.Uint64(b[GPROffset+8*r:])
	}
	cpu.RIP = binary.LittleEndian.Uint64(b[RIPOffset:])
	cpu.SetRFLAGS(binary.LittleEndian.Uint64(b[RFLAGSOffset:]))
}

// GetCause reads the exit cause stored by a trace.
func GetCause(b []byte) ExitCause {
	return ExitCause(binary.LittleEndian.Uint64(b[CauseOffset:]))
}
