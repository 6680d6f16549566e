// Copyright (c) 2015 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package module contains WebAssembly binary format constants shared by the
// module writer and the validator.
package module

import (
	"fmt"
)

const (
	MagicNumber = uint32(0x6d736100)
	Version     = uint32(1)
)

// FuncTypeForm introduces a function signature in the type section.
// FuncTypeCode is the same byte read as a signed varint7.
const (
	FuncTypeForm = 0x60
	FuncTypeCode = -0x20
)

// BlockTypeVoid is the empty block type.
const BlockTypeVoid = 0x40

// Memory limits.
const (
	MaxMemoryPages = 65536
	LimitsMinOnly  = 0x00
)

type SectionID byte

const (
	SectionCustom = SectionID(iota)
	SectionType
	SectionImport
	SectionFunction
	SectionTable
	SectionMemory
	SectionGlobal
	SectionExport
	SectionStart
	SectionElement
	SectionCode
	SectionData

	NumSections
)

var sectionNames = [NumSections]string{
	SectionCustom:   "custom",
	SectionType:     "type",
	SectionImport:   "import",
	SectionFunction: "function",
	SectionTable:    "table",
	SectionMemory:   "memory",
	SectionGlobal:   "global",
	SectionExport:   "export",
	SectionStart:    "start",
	SectionElement:  "element",
	SectionCode:     "code",
	SectionData:     "data",
}

func (id SectionID) String() string {
	if id < NumSections {
		return sectionNames[id]
	}
	return fmt.Sprintf("<unknown section 0x%x>", byte(id))
}

type ExternalKind byte

const (
	ExternalKindFunction = ExternalKind(iota)
	ExternalKindTable
	ExternalKindMemory
	ExternalKindGlobal
)

var externalKindStrings = []string{
	ExternalKindFunction: "function",
	ExternalKindTable:    "table",
	ExternalKindMemory:   "memory",
	ExternalKindGlobal:   "global",
}

func (kind ExternalKind) String() (s string) {
	if int(kind) < len(externalKindStrings) {
		s = externalKindStrings[kind]
	} else {
		s = fmt.Sprintf("<unknown external kind 0x%x>", byte(kind))
	}
	return
}
