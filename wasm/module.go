// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wasm writes WebAssembly binary modules.
//
// Function types are deduplicated: each distinct signature gets one type
// index no matter how many imports and functions use it.  Imported functions
// precede defined functions in the function index space.
package wasm

import (
	"gate.computer/xlate/binary"
	"gate.computer/xlate/buffer"
	"gate.computer/xlate/internal/errorpanic"
	"gate.computer/xlate/internal/module"
	"gate.computer/xlate/wa"
)

// DefaultMaxSize of an encoded module.
const DefaultMaxSize = 1024 * 1024

type importFunc struct {
	module string
	name   string
	typ    uint32
}

type memory struct {
	module string // Empty if defined.
	name   string
	min    uint32
}

type function struct {
	typ    uint32
	locals []wa.Type
	body   []byte
}

type export struct {
	name  string
	kind  module.ExternalKind
	index uint32
}

// Module under construction.  The zero value is an empty module.
type Module struct {
	types     []wa.FuncType
	typeIndex map[string]uint32
	imports   []importFunc
	memory    *memory
	funcs     []function
	exports   []export
}

// Type index of a signature.  Equal signatures share an index.
func (m *Module) Type(f wa.FuncType) uint32 {
	key := f.Key()
	if i, found := m.typeIndex[key]; found {
		return i
	}

	if m.typeIndex == nil {
		m.typeIndex = make(map[string]uint32)
	}
	i := uint32(len(m.types))
	m.types = append(m.types, f)
	m.typeIndex[key] = i
	return i
}

// NumTypes in the type section.
func (m *Module) NumTypes() int { return len(m.types) }

// ImportFunc returns the function index.  All imports must be declared before
// the first function definition.
func (m *Module) ImportFunc(moduleName, name string, f wa.FuncType) uint32 {
	if len(m.funcs) != 0 {
		panic("function imported after definitions")
	}
	i := uint32(len(m.imports))
	m.imports = append(m.imports, importFunc{moduleName, name, m.Type(f)})
	return i
}

// NumImports of functions.
func (m *Module) NumImports() int { return len(m.imports) }

// ImportMemory declares an imported linear memory with a minimum page count.
func (m *Module) ImportMemory(moduleName, name string, minPages uint32) {
	if m.memory != nil {
		panic("memory already declared")
	}
	m.memory = &memory{moduleName, name, minPages}
}

// DefineMemory declares a linear memory owned by the module.
func (m *Module) DefineMemory(minPages uint32) {
	if m.memory != nil {
		panic("memory already declared")
	}
	m.memory = &memory{min: minPages}
}

// Func defines a function and returns its function index.
func (m *Module) Func(f wa.FuncType, locals []wa.Type, body []byte) uint32 {
	i := uint32(len(m.imports) + len(m.funcs))
	m.funcs = append(m.funcs, function{m.Type(f), locals, body})
	return i
}

// ExportFunc by function index.
func (m *Module) ExportFunc(name string, index uint32) {
	m.exports = append(m.exports, export{name, module.ExternalKindFunction, index})
}

// ExportMemory exports the declared memory.
func (m *Module) ExportMemory(name string) {
	if m.memory == nil {
		panic("no memory to export")
	}
	m.exports = append(m.exports, export{name, module.ExternalKindMemory, 0})
}

// Bytes encodes the module.  The result is limited to maxSize bytes.
func (m *Module) Bytes(maxSize int) (b []byte, err error) {
	defer func() {
		err = errorpanic.Handle(recover())
	}()

	out := buffer.NewLimited(nil, maxSize)
	out.PutUint32(module.MagicNumber)
	out.PutUint32(module.Version)

	var s section

	if len(m.types) > 0 {
		s.count(len(m.types))
		for _, f := range m.types {
			s.byte(module.FuncTypeForm)
			s.valueTypes(f.Params)
			s.valueTypes(f.Results)
		}
		s.flush(out, module.SectionType)
	}

	numImports := len(m.imports)
	if m.memory != nil && m.memory.module != "" {
		numImports++
	}
	if numImports > 0 {
		s.count(numImports)
		if m.memory != nil && m.memory.module != "" {
			s.name(m.memory.module)
			s.name(m.memory.name)
			s.byte(byte(module.ExternalKindMemory))
			s.limits(m.memory.min)
		}
		for _, imp := range m.imports {
			s.name(imp.module)
			s.name(imp.name)
			s.byte(byte(module.ExternalKindFunction))
			s.varuint32(imp.typ)
		}
		s.flush(out, module.SectionImport)
	}

	if len(m.funcs) > 0 {
		s.count(len(m.funcs))
		for _, f := range m.funcs {
			s.varuint32(f.typ)
		}
		s.flush(out, module.SectionFunction)
	}

	if m.memory != nil && m.memory.module == "" {
		s.count(1)
		s.limits(m.memory.min)
		s.flush(out, module.SectionMemory)
	}

	if len(m.exports) > 0 {
		s.count(len(m.exports))
		for _, e := range m.exports {
			s.name(e.name)
			s.byte(byte(e.kind))
			s.varuint32(e.index)
		}
		s.flush(out, module.SectionExport)
	}

	if len(m.funcs) > 0 {
		s.count(len(m.funcs))
		for _, f := range m.funcs {
			var body section
			body.localDecls(f.locals)
			body.b = append(body.b, f.body...)
			s.varuint32(uint32(len(body.b)))
			s.b = append(s.b, body.b...)
		}
		s.flush(out, module.SectionCode)
	}

	b = out.Bytes()
	return
}

// section payload accumulator.
type section struct {
	b []byte
}

func (s *section) byte(x byte)        { s.b = append(s.b, x) }
func (s *section) varuint32(x uint32) { s.b = binary.AppendVaruint32(s.b, x) }
func (s *section) count(n int)        { s.varuint32(uint32(n)) }

func (s *section) limits(minPages uint32) {
	s.byte(module.LimitsMinOnly)
	s.varuint32(minPages)
}

func (s *section) name(x string) {
	s.varuint32(uint32(len(x)))
	s.b = append(s.b, x...)
}

func (s *section) valueTypes(types []wa.Type) {
	s.count(len(types))
	for _, t := range types {
		s.byte(t.Encode())
	}
}

// localDecls run-length encodes local types.
func (s *section) localDecls(locals []wa.Type) {
	var groups [][2]int // count, type
	for _, t := range locals {
		if n := len(groups); n > 0 && groups[n-1][1] == int(t) {
			groups[n-1][0]++
		} else {
			groups = append(groups, [2]int{1, int(t)})
		}
	}

	s.count(len(groups))
	for _, g := range groups {
		s.varuint32(uint32(g[0]))
		s.byte(wa.Type(g[1]).Encode())
	}
}

func (s *section) flush(out *buffer.Limited, id module.SectionID) {
	out.PutByte(byte(id))
	out.PutBytes(binary.AppendVaruint32(nil, uint32(len(s.b))))
	out.PutBytes(s.b)
	s.b = s.b[:0]
}
