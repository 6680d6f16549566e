// Copyright (c) 2016 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wa describes the WebAssembly value types and function signatures
// used by generated trace modules.
package wa

// PageSize of linear memory.
const PageSize = 65536

type Size uint8

const (
	Size32 = Size(4)
	Size64 = Size(8)
)

// Type of a value.  Generated code only deals with integers.
type Type uint8

const (
	Void = Type(0)
	I32  = Type(4)
	I64  = Type(8)
)

// Size in bytes.
func (t Type) Size() Size {
	return Size(t) & (4 | 8)
}

func (t Type) String() string {
	switch t {
	case Void:
		return "void"

	case I32:
		return "i32"

	case I64:
		return "i64"

	default:
		return "<invalid type>"
	}
}

var typeEncoding = [16]byte{
	Void: 0x00,
	I32:  0x7f,
	I64:  0x7e,
}

// Encode as WebAssembly.  Result is undefined if Type representation is not
// valid.
func (t Type) Encode() byte {
	return typeEncoding[t&15]
}

// DecodeType from WebAssembly value type encoding.  Floating-point and
// reference types are reported as not ok.
func DecodeType(b byte) (t Type, ok bool) {
	switch b {
	case 0x7f:
		return I32, true

	case 0x7e:
		return I64, true
	}

	return Void, false
}
