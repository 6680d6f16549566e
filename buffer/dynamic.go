// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buffer

import (
	"encoding/binary"
)

// Dynamic is a growable buffer.  The zero value is an empty buffer.
type Dynamic struct {
	buf     []byte
	maxSize int // Capacity hint; Limited enforces it.
}

// MakeDynamicHint with the expected final size.  The slice must be empty;
// its capacity is reused.
func MakeDynamicHint(b []byte, sizeHint int) Dynamic {
	if len(b) != 0 {
		panic("buffer: initial slice is not empty")
	}
	return Dynamic{b, sizeHint}
}

func (d *Dynamic) Len() int      { return len(d.buf) }
func (d *Dynamic) Bytes() []byte { return d.buf }

func (d *Dynamic) PutByte(value byte) {
	d.buf = append(d.reserve(1), value)
}

func (d *Dynamic) PutBytes(b []byte) {
	d.buf = append(d.reserve(len(b)), b...)
}

func (d *Dynamic) PutUint32(x uint32) {
	d.buf = binary.LittleEndian.AppendUint32(d.reserve(4), x)
}

// reserve capacity for n more bytes.  The hint caps the first doubling which
// would exceed it.
func (d *Dynamic) reserve(n int) []byte {
	need := len(d.buf) + n
	if need < len(d.buf) {
		panic("buffer: size out of range")
	}
	if need <= cap(d.buf) {
		return d.buf
	}

	size := 2*cap(d.buf) + n
	if size > d.maxSize && need <= d.maxSize {
		size = d.maxSize
	}

	b := make([]byte, len(d.buf), size)
	copy(b, d.buf)
	return b
}
