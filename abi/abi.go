// Copyright (c) 2016 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package abi defines the interface between compiled trace modules and the
// host: import names and signatures, the CPU state layout in linear memory,
// and hand-off exit kinds.
package abi

import (
	"gate.computer/xlate/wa"
)

// Namespace of all host imports.
const Namespace = "env"

// Import names.
const (
	Memory          = "memory"
	MemReadU8       = "mem_read_u8"
	MemReadU16      = "mem_read_u16"
	MemReadU32      = "mem_read_u32"
	MemReadU64      = "mem_read_u64"
	MemWriteU8      = "mem_write_u8"
	MemWriteU16     = "mem_write_u16"
	MemWriteU32     = "mem_write_u32"
	MemWriteU64     = "mem_write_u64"
	CodePageVersion = "code_page_version"
	JITExit         = "jit_exit"
)

// TraceExport is the name of the trace entry point.
const TraceExport = "trace"

// Sentinel is returned by a trace which hands control back to the host.  The
// host resumes at the CPU state's instruction pointer.
const Sentinel = ^uint64(0)

// Helper identifies a host function.
type Helper uint8

const (
	HelperMemRead8 = Helper(iota)
	HelperMemRead16
	HelperMemRead32
	HelperMemRead64
	HelperMemWrite8
	HelperMemWrite16
	HelperMemWrite32
	HelperMemWrite64
	HelperCodePageVersion
	HelperJITExit

	NumHelpers
)

var helperNames = [NumHelpers]string{
	HelperMemRead8:        MemReadU8,
	HelperMemRead16:       MemReadU16,
	HelperMemRead32:       MemReadU32,
	HelperMemRead64:       MemReadU64,
	HelperMemWrite8:       MemWriteU8,
	HelperMemWrite16:      MemWriteU16,
	HelperMemWrite32:      MemWriteU32,
	HelperMemWrite64:      MemWriteU64,
	HelperCodePageVersion: CodePageVersion,
	HelperJITExit:         JITExit,
}

var helperTypes = [NumHelpers]wa.FuncType{
	HelperMemRead8:        wa.Sig(wa.I32, wa.I32, wa.I64),
	HelperMemRead16:       wa.Sig(wa.I32, wa.I32, wa.I64),
	HelperMemRead32:       wa.Sig(wa.I32, wa.I32, wa.I64),
	HelperMemRead64:       wa.Sig(wa.I64, wa.I32, wa.I64),
	HelperMemWrite8:       wa.Sig(wa.Void, wa.I32, wa.I64, wa.I32),
	HelperMemWrite16:      wa.Sig(wa.Void, wa.I32, wa.I64, wa.I32),
	HelperMemWrite32:      wa.Sig(wa.Void, wa.I32, wa.I64, wa.I32),
	HelperMemWrite64:      wa.Sig(wa.Void, wa.I32, wa.I64, wa.I64),
	HelperCodePageVersion: wa.Sig(wa.I64, wa.I32, wa.I64),
	HelperJITExit:         wa.Sig(wa.I64, wa.I32, wa.I32, wa.I64),
}

// Name of the import.
func (h Helper) Name() string { return helperNames[h] }

// Type of the import.
func (h Helper) Type() wa.FuncType { return helperTypes[h] }

func (h Helper) String() string { return helperNames[h] }

// MemRead helper for an access size in bytes (1, 2, 4 or 8).
func MemRead(size int) Helper {
	return HelperMemRead8 + sizeIndex(size)
}

// MemWrite helper for an access size in bytes (1, 2, 4 or 8).
func MemWrite(size int) Helper {
	return HelperMemWrite8 + sizeIndex(size)
}

func sizeIndex(size int) Helper {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	}
	panic(size)
}

// TraceType is the signature of the trace entry point.
var TraceType = wa.Sig(wa.I64, wa.I32)
