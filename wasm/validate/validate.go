// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package validate checks the structure of WebAssembly modules which use the
// subset emitted for traces: integer types, function imports, one memory,
// exports and code.
//
// Errors describing an invalid module implement interface{ ModuleError()
// string }.
package validate

import (
	"bytes"
	"io"

	"gate.computer/xlate/binary"
	"gate.computer/xlate/internal/errorpanic"
	"gate.computer/xlate/internal/loader"
	"gate.computer/xlate/internal/module"
	"gate.computer/xlate/wa"
)

const (
	maxTypes     = 1000
	maxParams    = 32
	maxImports   = 1000
	maxFunctions = 10000
	maxExports   = 1000
	maxLocals    = 50000
	maxNameLen   = 1000

	maxSectionSize = 16 * 1024 * 1024
)

// Reader is a subset of bufio.Reader, bytes.Buffer and bytes.Reader.
type Reader = binary.Reader

type Options struct {
	// Strict rejects duplicate or unreferenced function types, and imported
	// functions which are neither called nor exported.
	Strict bool
}

// Import description.
type Import struct {
	Module string
	Name   string
	Memory bool
	Type   wa.FuncType // Function signature.
}

// Info about a valid module.
type Info struct {
	Types   []wa.FuncType
	Imports []Import
	Funcs   []uint32 // Type indexes of imported and defined functions.
	Exports []string
	Memory  bool
}

// NumDefined functions.
func (info *Info) NumDefined() int {
	n := len(info.Funcs)
	for _, imp := range info.Imports {
		if !imp.Memory {
			n--
		}
	}
	return n
}

type validator struct {
	opts       Options
	info       Info
	codeSeen   bool
	typeUsed   []bool
	importUsed []bool
}

// Module reads and checks a complete module.
func Module(r Reader, opts Options) (info Info, err error) {
	defer func() {
		err = errorpanic.Handle(recover())
	}()

	v := validator{opts: opts}
	v.module(loader.L{R: r})
	info = v.info
	return
}

func (v *validator) module(load loader.L) {
	if magic := load.Uint32(); magic != module.MagicNumber {
		panic(module.Error("not a WebAssembly module"))
	}
	if version := load.Uint32(); version != module.Version {
		panic(module.Errorf("unsupported module version: %d", version))
	}

	var seenID module.SectionID

	for {
		b, err := load.R.ReadByte()
		if err != nil {
			if err == io.EOF {
				break
			}
			panic(err)
		}

		id := module.SectionID(b)
		if id >= module.NumSections {
			panic(module.Errorf("unknown section id: 0x%x", b))
		}
		if id != module.SectionCustom {
			if id <= seenID {
				panic(module.Errorf("%s section follows %s section", id, seenID))
			}
			seenID = id
		}

		payloadLen := load.Varuint32()
		if payloadLen > maxSectionSize {
			panic(module.Errorf("%s section is too large: %d bytes", id, payloadLen))
		}
		r := bytes.NewReader(load.Bytes(payloadLen))

		f := sectionValidators[id]
		if f == nil {
			panic(module.Errorf("unsupported section: %s", id))
		}
		f(v, loader.L{R: r})

		if r.Len() != 0 {
			panic(module.Errorf("%s section has %d trailing bytes", id, r.Len()))
		}
	}

	if !v.codeSeen && v.info.NumDefined() > 0 {
		panic(module.Error("function bodies are missing"))
	}

	if v.opts.Strict {
		v.checkStrict()
	}
}

var sectionValidators = [module.NumSections]func(*validator, loader.L){
	module.SectionCustom:   (*validator).customSection,
	module.SectionType:     (*validator).typeSection,
	module.SectionImport:   (*validator).importSection,
	module.SectionFunction: (*validator).functionSection,
	module.SectionMemory:   (*validator).memorySection,
	module.SectionExport:   (*validator).exportSection,
	module.SectionCode:     (*validator).codeSection,
}

func (v *validator) customSection(load loader.L) {
	load.Name(maxNameLen, "custom section name")
	if _, err := io.Copy(io.Discard, load.R); err != nil {
		panic(err)
	}
}

func (v *validator) typeSection(load loader.L) {
	for i := range load.Count(maxTypes, "type") {
		if form := load.Varint7(); form != module.FuncTypeCode {
			panic(module.Errorf("unsupported function type form: %d", form))
		}

		var sig wa.FuncType

		paramCount := load.Varuint32()
		if paramCount > maxParams {
			panic(module.Errorf("function type #%d has too many parameters: %d", i, paramCount))
		}
		sig.Params = make([]wa.Type, paramCount)
		for j := range sig.Params {
			sig.Params[j] = valueType(load)
		}

		switch load.Varuint32() {
		case 0:
		case 1:
			sig.Results = []wa.Type{valueType(load)}
		default:
			panic(module.Error("multiple return values not supported"))
		}

		v.info.Types = append(v.info.Types, sig)
	}

	v.typeUsed = make([]bool, len(v.info.Types))
}

func valueType(load loader.L) wa.Type {
	b := load.Byte()
	t, ok := wa.DecodeType(b)
	if !ok {
		panic(module.Errorf("unsupported value type: 0x%x", b))
	}
	return t
}

func (v *validator) typeIndex(load loader.L, context string) uint32 {
	i := load.Varuint32()
	if i >= uint32(len(v.info.Types)) {
		panic(module.Errorf("%s type index out of bounds: %d", context, i))
	}
	v.typeUsed[i] = true
	return i
}

func (v *validator) importSection(load loader.L) {
	for i := range load.Count(maxImports, "import") {
		imp := Import{
			Module: load.Name(maxNameLen, "imported module name"),
			Name:   load.Name(maxNameLen, "imported field name"),
		}

		switch kind := module.ExternalKind(load.Byte()); kind {
		case module.ExternalKindFunction:
			typ := v.typeIndex(load, "import")
			imp.Type = v.info.Types[typ]
			v.info.Funcs = append(v.info.Funcs, typ)

		case module.ExternalKindMemory:
			if v.info.Memory {
				panic(module.Errorf("import #%d declares a second memory", i))
			}
			limits(load)
			imp.Memory = true
			v.info.Memory = true

		default:
			panic(module.Errorf("import kind not supported: %s", kind))
		}

		v.info.Imports = append(v.info.Imports, imp)
	}

	v.importUsed = make([]bool, len(v.info.Funcs))
}

func limits(load loader.L) {
	hasMax := load.Varuint1()

	initial := load.Varuint32()
	if initial > module.MaxMemoryPages {
		panic(module.Errorf("initial memory size is too large: %d pages", initial))
	}

	if hasMax {
		maximum := load.Varuint32()
		if maximum > module.MaxMemoryPages {
			panic(module.Errorf("maximum memory size is too large: %d pages", maximum))
		}
		if maximum < initial {
			panic(module.Errorf("maximum memory size %d is less than initial size %d", maximum, initial))
		}
	}
}

func (v *validator) functionSection(load loader.L) {
	for range load.Count(uint32(maxFunctions-len(v.info.Funcs)), "function") {
		v.info.Funcs = append(v.info.Funcs, v.typeIndex(load, "function"))
	}
}

func (v *validator) memorySection(load loader.L) {
	switch load.Varuint32() {
	case 0:
	case 1:
		if v.info.Memory {
			panic(module.Error("memory section declares a second memory"))
		}
		limits(load)
		v.info.Memory = true
	default:
		panic(module.Error("multiple memories not supported"))
	}
}

func (v *validator) exportSection(load loader.L) {
	names := make(map[string]struct{})

	for range load.Count(maxExports, "export") {
		name := load.Name(maxNameLen, "exported field name")
		kind := module.ExternalKind(load.Byte())
		index := load.Varuint32()

		if _, exist := names[name]; exist {
			panic(module.Errorf("duplicate export name: %q", name))
		}
		names[name] = struct{}{}

		switch kind {
		case module.ExternalKindFunction:
			if index >= uint32(len(v.info.Funcs)) {
				panic(module.Errorf("export function index out of bounds: %d", index))
			}
			if int(index) < len(v.importUsed) {
				v.importUsed[index] = true
			}

		case module.ExternalKindMemory:
			if !v.info.Memory || index != 0 {
				panic(module.Errorf("export memory index out of bounds: %d", index))
			}

		default:
			panic(module.Errorf("export kind not supported: %s", kind))
		}

		v.info.Exports = append(v.info.Exports, name)
	}
}

func (v *validator) codeSection(load loader.L) {
	numImports := len(v.importUsed)
	numDefined := len(v.info.Funcs) - numImports

	count := len(load.Count(maxFunctions, "function body"))
	if count != numDefined {
		panic(module.Errorf("%d function bodies for %d functions", count, numDefined))
	}

	for i := 0; i < count; i++ {
		size := load.Varuint32()
		if size > maxSectionSize {
			panic(module.Errorf("function body #%d is too large: %d bytes", i, size))
		}

		sig := v.info.Types[v.info.Funcs[numImports+i]]
		body := bytes.NewReader(load.Bytes(size))

		c := checker{
			load:       loader.L{R: body},
			info:       &v.info,
			importUsed: v.importUsed,
		}
		c.function(sig)

		if body.Len() != 0 {
			panic(module.Errorf("function body #%d has %d bytes after end", i, body.Len()))
		}
	}

	v.codeSeen = true
}

func (v *validator) checkStrict() {
	seen := make(map[string]int)
	for i, sig := range v.info.Types {
		if j, dup := seen[sig.Key()]; dup {
			panic(module.Errorf("function type #%d duplicates type #%d: %s", i, j, sig))
		}
		seen[sig.Key()] = i
	}

	for i, used := range v.typeUsed {
		if !used {
			panic(module.Errorf("function type #%d is not referenced", i))
		}
	}

	i := 0
	for _, imp := range v.info.Imports {
		if imp.Memory {
			continue
		}
		if !v.importUsed[i] {
			panic(module.Errorf("imported function %s.%s is not used", imp.Module, imp.Name))
		}
		i++
	}
}
