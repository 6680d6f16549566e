// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm_test

import (
	"bytes"
	"testing"

	"gate.computer/xlate/buffer"
	"gate.computer/xlate/wa"
	"gate.computer/xlate/wa/opcode"
	"gate.computer/xlate/wasm"
	"gate.computer/xlate/wasm/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestEmptyModule(t *testing.T) {
	var m wasm.Module
	b, err := m.Bytes(wasm.DefaultMaxSize)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, b)
}

func TestTypeDedup(t *testing.T) {
	var m wasm.Module
	a := m.Type(wa.Sig(wa.I64, wa.I32, wa.I64))
	b := m.Type(wa.Sig(wa.I32, wa.I32))
	c := m.Type(wa.Sig(wa.I64, wa.I32, wa.I64))
	assert.Equal(t, uint32(0), a)
	assert.Equal(t, uint32(1), b)
	assert.Equal(t, a, c)
	assert.Equal(t, 2, m.NumTypes())
}

func addModule(t *testing.T) []byte {
	t.Helper()

	var m wasm.Module
	m.ImportMemory("env", "memory", 1)
	imported := m.ImportFunc("env", "get", wa.Sig(wa.I64, wa.I32))

	c := wasm.NewCode(1000)
	c.LocalGet(0)
	c.Call(imported)
	c.I64Const(-1)
	c.Op(opcode.I64Add)
	c.LocalTee(1)
	c.LocalGet(0)
	c.Mem(opcode.I64Load, 8)
	c.Op(opcode.I64Add)
	c.End()

	index := m.Func(wa.Sig(wa.I64, wa.I32), []wa.Type{wa.I64}, c.Bytes())
	m.ExportFunc("run", index)

	b, err := m.Bytes(wasm.DefaultMaxSize)
	require.NoError(t, err)
	return b
}

func TestModuleValidates(t *testing.T) {
	info, err := validate.Module(bytes.NewReader(addModule(t)), validate.Options{Strict: true})
	require.NoError(t, err)

	assert.Len(t, info.Types, 1)
	assert.Equal(t, []validate.Import{
		{Module: "env", Name: "memory", Memory: true},
		{Module: "env", Name: "get", Type: wa.Sig(wa.I64, wa.I32)},
	}, info.Imports)
	assert.Equal(t, []string{"run"}, info.Exports)
	assert.Equal(t, 1, info.NumDefined())
}

func TestModuleSizeLimit(t *testing.T) {
	var m wasm.Module
	m.Func(wa.Sig(wa.Void), nil, []byte{byte(opcode.End)})
	m.ExportFunc("a-rather-long-export-name", 0)

	_, err := m.Bytes(20)
	assert.True(t, xerrors.Is(err, buffer.ErrSizeLimit), err)
}

func TestCodeSizeLimit(t *testing.T) {
	c := wasm.NewCode(4)
	c.I32Const(1)
	c.Op(opcode.Drop)
	assert.PanicsWithValue(t, buffer.ErrSizeLimit, func() { c.I64Const(1 << 40) })
}

func TestImportAfterDefinition(t *testing.T) {
	var m wasm.Module
	m.Func(wa.Sig(wa.Void), nil, []byte{byte(opcode.End)})
	assert.Panics(t, func() { m.ImportFunc("env", "late", wa.Sig(wa.Void)) })
}
