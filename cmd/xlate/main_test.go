// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gate.computer/xlate/decode"
	"gate.computer/xlate/guest"
	"gate.computer/xlate/internal/isa/x86/in"
	"gate.computer/xlate/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countdown decrements rcx to zero and halts.
func countdown(t *testing.T) []byte {
	var code []byte

	emit := func(insn decode.Insn) uint64 {
		insn.RIP = loadBase + uint64(len(code))
		var err error
		code, err = in.Append(code, insn)
		require.NoError(t, err)
		return insn.RIP
	}

	loop := emit(decode.Insn{Op: decode.Sub, Size: 8, Dst: decode.RegArg(guest.RCX), Src: decode.ImmArg(1)})
	emit(decode.Insn{Op: decode.Jcc, Cond: decode.CondNE, Target: loop})
	code = append(code, 0xf4)
	return code
}

func writeProgram(t *testing.T, code []byte) string {
	filename := filepath.Join(t.TempDir(), "prog.bin")
	require.NoError(t, os.WriteFile(filename, code, 0o644))
	return filename
}

func TestDisassemble(t *testing.T) {
	img, err := load(writeProgram(t, countdown(t)))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, disassemble(&buf, img, 0))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "sub")
	assert.Contains(t, lines[1], "jne")
	assert.Contains(t, lines[2], "hlt")
}

func TestDisassembleStopsAtBadInsn(t *testing.T) {
	img, err := load(writeProgram(t, []byte{0x90, 0x0f, 0x0b}))
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.Error(t, disassemble(&buf, img, 0))
	assert.Contains(t, buf.String(), "ud2")
}

func TestBlockTree(t *testing.T) {
	img, err := load(writeProgram(t, countdown(t)))
	require.NoError(t, err)

	fn, err := trace.BuildFunction(img.mem, img.env, img.cpu.RIP, trace.DefaultOptions)
	require.NoError(t, err)

	s := blockTree(fn).String()
	assert.Contains(t, s, "region with 2 blocks")
	assert.Contains(t, s, "-> b0")
	assert.Contains(t, s, "handoff halt")

	var buf bytes.Buffer
	require.NoError(t, renderGraph(&buf, fn))
	assert.Contains(t, buf.String(), "Basic-block region")
}

func TestSetRegs(t *testing.T) {
	var cpu guest.State
	require.NoError(t, setRegs(&cpu, []string{"rax=0x10", "r15=7"}))
	assert.Equal(t, uint64(16), cpu.Regs[guest.RAX])
	assert.Equal(t, uint64(7), cpu.Regs[guest.R15])

	assert.Error(t, setRegs(&cpu, []string{"rax"}))
	assert.Error(t, setRegs(&cpu, []string{"xyz=1"}))
	assert.Error(t, setRegs(&cpu, []string{"rax=q"}))
}
