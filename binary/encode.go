// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package binary

import (
	"encoding/binary"
)

// AppendUint32 appends a little-endian value.
func AppendUint32(b []byte, x uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, x)
}

// AppendVaruint32 appends the unsigned LEB128 encoding of x.
func AppendVaruint32(b []byte, x uint32) []byte {
	for x >= 0x80 {
		b = append(b, byte(x)|0x80)
		x >>= 7
	}
	return append(b, byte(x))
}

// AppendVarint32 appends the signed LEB128 encoding of x.
func AppendVarint32(b []byte, x int32) []byte {
	return AppendVarint64(b, int64(x))
}

// AppendVarint64 appends the signed LEB128 encoding of x.
func AppendVarint64(b []byte, x int64) []byte {
	for {
		c := byte(x & 0x7f)
		x >>= 7

		if (x == 0 && c&0x40 == 0) || (x == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

// Varuint32Size is the length of the unsigned LEB128 encoding of x.
func Varuint32Size(x uint32) int {
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}
