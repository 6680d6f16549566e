// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode_test

import (
	"testing"

	"gate.computer/xlate/decode"
	"gate.computer/xlate/guest"
	"gate.computer/xlate/internal/isa/x86/in"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/xerrors"
)

const base = 0x400000

var decodeTests = []struct {
	code []byte
	text string
}{
	{[]byte{0x90}, "nop"},
	{[]byte{0xf4}, "hlt"},
	{[]byte{0xc3}, "ret"},
	{[]byte{0xeb, 0xfe}, "jmp 0x400000"},
	{[]byte{0xe9, 0x00, 0x01, 0x00, 0x00}, "jmp 0x400105"},
	{[]byte{0x74, 0x10}, "je 0x400012"},
	{[]byte{0x0f, 0x85, 0xf0, 0xff, 0xff, 0xff}, "jne 0x3ffff6"},
	{[]byte{0x48, 0xc7, 0xc0, 0xff, 0xff, 0xff, 0xff}, "mov rax, 0xffffffffffffffff"},
	{[]byte{0xb8, 0x2a, 0x00, 0x00, 0x00}, "mov eax, 0x2a"},
	{[]byte{0x49, 0xbf, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}, "mov r15, 0x1122334455667788"},
	{[]byte{0x66, 0xb9, 0x34, 0x12}, "mov cx, 0x1234"},
	{[]byte{0xb3, 0x80}, "mov bl, 0x80"},
	{[]byte{0x40, 0xb7, 0x01}, "mov dil, 0x1"},
	{[]byte{0x48, 0x89, 0xd8}, "mov rax, rbx"},
	{[]byte{0x48, 0x8b, 0x04, 0x24}, "mov rax, qword [rsp]"},
	{[]byte{0x48, 0x8b, 0x05, 0x10, 0x00, 0x00, 0x00}, "mov rax, qword [rip+0x10]"},
	{[]byte{0x8b, 0x04, 0x25, 0x00, 0x10, 0x00, 0x00}, "mov eax, dword [0x1000]"},
	{[]byte{0x4a, 0x8b, 0x44, 0xe5, 0xf8}, "mov rax, qword [rbp+r12*8-0x8]"},
	{[]byte{0x66, 0x89, 0x07}, "mov word [rdi], ax"},
	{[]byte{0x88, 0x0e}, "mov byte [rsi], cl"},
	{[]byte{0xc6, 0x00, 0x7f}, "mov byte [rax], 0x7f"},
	{[]byte{0x48, 0x8d, 0x44, 0x58, 0x03}, "lea rax, qword [rax+rbx*2+0x3]"},
	{[]byte{0x48, 0x01, 0xc8}, "add rax, rcx"},
	{[]byte{0x48, 0x2b, 0x03}, "sub rax, qword [rbx]"},
	{[]byte{0x48, 0x83, 0xf9, 0x0a}, "cmp rcx, 0xa"},
	{[]byte{0x31, 0xc0}, "xor eax, eax"},
	{[]byte{0x48, 0x81, 0xe0, 0x00, 0xff, 0x00, 0x00}, "and rax, 0xff00"},
	{[]byte{0x83, 0xc8, 0xff}, "or eax, 0xffffffff"},
}

func TestDecode(t *testing.T) {
	for _, x := range decodeTests {
		insn, err := decode.Decode(x.code, base)
		require.NoError(t, err, "% x", x.code)
		assert.Equal(t, x.text, insn.String(), "% x", x.code)
		assert.Equal(t, len(x.code), insn.Len, "% x", x.code)
		assert.Equal(t, uint64(base), insn.RIP)
	}
}

func TestDecodeLengthOracle(t *testing.T) {
	for _, x := range decodeTests {
		insn, err := decode.Decode(x.code, base)
		require.NoError(t, err)

		ref, err := x86asm.Decode(x.code, 64)
		require.NoError(t, err, "% x", x.code)
		assert.Equal(t, ref.Len, insn.Len, "%s", ref)
	}
}

func TestDecodeWindowLimit(t *testing.T) {
	for _, x := range decodeTests {
		for n := 0; n < len(x.code); n++ {
			_, err := decode.Decode(x.code[:n], base)
			assert.True(t, xerrors.Is(err, decode.Truncated), "% x: %v", x.code[:n], err)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, x := range []struct {
		code []byte
		kind decode.ErrorKind
	}{
		{[]byte{0x0f, 0x05}, decode.UnsupportedOpcode},       // syscall
		{[]byte{0x7c, 0x00}, decode.UnsupportedOpcode},       // jl
		{[]byte{0xe8, 0, 0, 0, 0}, decode.UnsupportedOpcode}, // call
		{[]byte{0x00, 0xc0}, decode.UnsupportedOpcode},       // add byte
		{[]byte{0xf0, 0x90}, decode.UnsupportedEncoding},     // lock
		{[]byte{0xf2, 0x90}, decode.UnsupportedEncoding},     // repne
		{[]byte{0xf3, 0x90}, decode.UnsupportedEncoding},     // pause
		{[]byte{0x2e, 0x90}, decode.UnsupportedEncoding},     // cs
		{[]byte{0x64, 0x48, 0x8b, 0x00}, decode.UnsupportedEncoding},
		{[]byte{0x67, 0x8b, 0x00}, decode.UnsupportedEncoding},
		{[]byte{0x48, 0x66, 0x90}, decode.UnsupportedEncoding}, // rex before 66
		{[]byte{0x66, 0x66, 0x90}, decode.UnsupportedEncoding},
		{[]byte{0x66, 0x48, 0xf0, 0x90}, decode.UnsupportedEncoding},
		{[]byte{0x01, 0xc0}, decode.UnsupportedEncoding}, // add eax, eax
		{[]byte{0x66, 0x31, 0xc0}, decode.UnsupportedEncoding},
		{[]byte{0x48, 0x83, 0xd0, 0x01}, decode.UnsupportedEncoding}, // adc
		{[]byte{0x8d, 0x00}, decode.UnsupportedEncoding},             // lea eax
		{[]byte{0x48, 0x8d, 0xc0}, decode.UnsupportedEncoding},       // lea rax, rax
		{[]byte{0xb4, 0x01}, decode.UnsupportedEncoding},             // mov ah, 1
		{[]byte{0x48, 0xc3}, decode.UnsupportedEncoding},
		{[]byte{0x41, 0x90}, decode.UnsupportedEncoding}, // xchg r8, rax
		{[]byte{0xc7, 0xc8, 0, 0, 0, 0}, decode.UnsupportedEncoding},
		{[]byte{0x48}, decode.Truncated},
		{[]byte{}, decode.Truncated},
	} {
		_, err := decode.Decode(x.code, 0x1000)
		require.Error(t, err, "% x", x.code)
		assert.True(t, xerrors.Is(err, x.kind), "% x: %v", x.code, err)

		var e *decode.Error
		require.True(t, xerrors.As(err, &e))
		assert.Equal(t, uint64(0x1000), e.RIP)
	}
}

func TestErrorMessage(t *testing.T) {
	_, err := decode.Decode([]byte{0x0f, 0x05}, 0x1000)
	require.Error(t, err)
	assert.Equal(t, "decode: unsupported opcode at 0x1000 (opcode 0x0f)", err.Error())
	assert.Equal(t, "decode: truncated", decode.Truncated.Error())
}

func TestEffectiveAddr(t *testing.T) {
	insn, err := decode.Decode([]byte{0x48, 0x8b, 0x05, 0xf9, 0xff, 0xff, 0xff}, base)
	require.NoError(t, err)

	addr, ok := insn.EffectiveAddr(insn.Src.Mem)
	assert.True(t, ok)
	assert.Equal(t, uint64(base), addr)

	insn, err = decode.Decode([]byte{0x48, 0x8b, 0x00}, base)
	require.NoError(t, err)

	_, ok = insn.EffectiveAddr(insn.Src.Mem)
	assert.False(t, ok)
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, x := range decodeTests {
		insn, err := decode.Decode(x.code, base)
		require.NoError(t, err)

		code, err := in.Encode(insn)
		require.NoError(t, err, "%s", insn)

		again, err := decode.Decode(code, base)
		require.NoError(t, err, "% x", code)

		insn.Len = 0
		again.Len = 0
		assert.Equal(t, insn, again)
	}
}

func TestRegisterNames(t *testing.T) {
	insn := decode.Insn{Op: decode.Mov, Size: 4, Dst: decode.RegArg(guest.R10), Src: decode.RegArg(guest.RSP)}
	assert.Equal(t, "mov r10d, esp", insn.String())
}

func FuzzDecode(f *testing.F) {
	for _, x := range decodeTests {
		f.Add(x.code)
	}

	f.Fuzz(func(t *testing.T, code []byte) {
		insn, err := decode.Decode(code, base)
		if err != nil {
			var e *decode.Error
			if !xerrors.As(err, &e) {
				t.Fatalf("unexpected error type: %v", err)
			}
			return
		}

		if insn.Len < 1 || insn.Len > len(code) || insn.Len > decode.MaxInsnLen {
			t.Fatalf("% x: length %d", code, insn.Len)
		}

		enc, err := in.Encode(insn)
		if err != nil {
			t.Fatalf("%s: %v", insn, err)
		}

		again, err := decode.Decode(enc, base)
		if err != nil {
			t.Fatalf("% x: %v", enc, err)
		}

		insn.Len = 0
		again.Len = 0
		if insn != again {
			t.Fatalf("%s re-encoded as %s", insn, again)
		}
	})
}
