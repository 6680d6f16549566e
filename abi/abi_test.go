// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package abi

import (
	"testing"

	"gate.computer/xlate/guest"
)

func TestStateLayout(t *testing.T) {
	var cpu guest.State
	for r := range cpu.Regs {
		cpu.Regs[r] = uint64(r+1) * 0x0101010101010101
	}
	cpu.RIP = 0x401000
	cpu.Flags = guest.Flags{ZF: true, OF: true}

	b := make([]byte, StateSize)
	PutState(b, &cpu)

	if b[RegOffset(guest.RDX)] != 3 {
		t.Errorf("rdx at offset %d: %x", RegOffset(guest.RDX), b[RegOffset(guest.RDX)])
	}
	if b[RFLAGSOffset] != 0x42 || b[RFLAGSOffset+1] != 0x08 {
		t.Errorf("rflags bytes: %x", b[RFLAGSOffset:])
	}

	var out guest.State
	GetState(&out, b)
	if out != cpu {
		t.Errorf("state mismatch:\n%+v\n%+v", out, cpu)
	}
}

func TestHelperSharedTypes(t *testing.T) {
	if !HelperMemRead8.Type().Equal(HelperMemRead32.Type()) {
		t.Error("narrow reads should share a type")
	}
	if !HelperMemRead64.Type().Equal(HelperCodePageVersion.Type()) {
		t.Error("64-bit read and version query should share a type")
	}
	if HelperMemWrite32.Type().Equal(HelperMemWrite64.Type()) {
		t.Error("64-bit write takes an i64 value")
	}
	if MemRead(2) != HelperMemRead16 || MemWrite(8) != HelperMemWrite64 {
		t.Error("helper lookup by size")
	}
}

func TestStateOffsets(t *testing.T) {
	if RIPOffset != GPROffset+8*int(guest.NumRegs) {
		t.Errorf("rip offset %d with %d registers", RIPOffset, guest.NumRegs)
	}

	var (
		rip    uint32 = RIPOffset
		rflags uint32 = RFLAGSOffset
		cause  uint32 = CauseOffset
	)
	if rflags != rip+8 || cause != rflags+8 || StateSize != cause+8 {
		t.Errorf("layout: rip %d rflags %d cause %d size %d", rip, rflags, cause, StateSize)
	}

	b := make([]byte, StateSize)
	b[CauseOffset] = byte(CauseBudget)
	if c := GetCause(b); c != CauseBudget {
		t.Errorf("cause %s", c)
	}
}
