// Copyright (c) 2021 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package binary implements the integer encodings of the WebAssembly binary
// format.
//
// Decoders return the number of bytes consumed along with the value, so that
// section sizes can be checked without a counting reader.
package binary

import (
	"encoding/binary"
	"io"
)

// Reader of module bytes.  The validator reads mostly one byte at a time.
type Reader interface {
	io.Reader
	io.ByteScanner
}

// Uint32 reads a little-endian value.
func Uint32(r Reader) (uint32, int, error) {
	var b [4]byte

	n, err := io.ReadFull(r, b[:])
	if err != nil {
		return 0, n, err
	}
	return binary.LittleEndian.Uint32(b[:]), n, nil
}

// Varuint1 reads a single byte which must be 0 or 1.
func Varuint1(r Reader) (bool, int, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, 0, err
	}
	if b > 1 {
		return false, 1, formatError("varuint1 value is too large")
	}
	return b == 1, 1, nil
}

// Varint7 reads a single-byte signed value, such as a type constructor.
func Varint7(r Reader) (int8, int, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	if b&0x80 != 0 {
		return 0, 1, formatError("varint7 encoding is too long")
	}
	return int8(b<<1) >> 1, 1, nil
}

func Varuint32(r Reader) (uint32, int, error) {
	x, n, err := leb(r, 32, false, "varuint32")
	return uint32(x), n, err
}

func Varint32(r Reader) (int32, int, error) {
	x, n, err := leb(r, 32, true, "varint32")
	return int32(x), n, err
}

func Varint64(r Reader) (int64, int, error) {
	x, n, err := leb(r, 64, true, "varint64")
	return int64(x), n, err
}

// leb decodes a value of the given bit width.  The unused high bits of the
// last possible byte must be zero, or copies of the sign bit if signed.
func leb(r Reader, width uint, signed bool, name string) (x uint64, n int, err error) {
	var (
		maxLen   = int(width+6) / 7
		lastBits = width - 7*uint(maxLen-1)
		shift    uint
	)

	for n < maxLen {
		var b byte

		if b, err = r.ReadByte(); err != nil {
			return
		}
		n++

		x |= uint64(b&0x7f) << shift
		shift += 7

		if b&0x80 != 0 {
			continue
		}

		if n == maxLen {
			if signed {
				switch int8(b<<1) >> lastBits {
				case 0:
				case -1:
				default:
					if b&0x40 == 0 {
						return 0, n, formatError(name + " value is too large")
					}
					return 0, n, formatError(name + " value is too small")
				}
			} else if b>>lastBits != 0 {
				return 0, n, formatError(name + " value is too large")
			}
		}

		if signed && b&0x40 != 0 && shift < 64 {
			x |= ^uint64(0) << shift
		}
		return x, n, nil
	}

	return 0, n, formatError(name + " encoding is too long")
}

type formatError string

func (e formatError) Error() string       { return string(e) }
func (e formatError) ModuleError() string { return string(e) }
