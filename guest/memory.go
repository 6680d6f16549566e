// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guest

import (
	"encoding/binary"
)

// Memory is the guest address space as seen by the translator.  Access
// sizes are 1, 2, 4 or 8 bytes; loads zero-extend.
type Memory interface {
	Load(addr uint64, size int) uint64
	Store(addr uint64, size int, value uint64)
	Fetcher
}

// Fetcher is the instruction fetch source.
type Fetcher interface {
	// Fetch copies bytes starting at addr into buf and returns how many were
	// available.  A short count means that the rest is not mapped.
	Fetch(addr uint64, buf []byte) int
}

// Flat is a little-endian RAM image mapped at Base.  Bytes outside the image
// read as zero and writes to them are discarded.  If Env is set, stores are
// reported to it.
type Flat struct {
	Base uint64
	Data []byte
	Env  *Env
}

func NewFlat(base uint64, size int, env *Env) *Flat {
	return &Flat{
		Base: base,
		Data: make([]byte, size),
		Env:  env,
	}
}

func (m *Flat) Load(addr uint64, size int) uint64 {
	var b [8]byte
	m.Fetch(addr, b[:size])
	return binary.LittleEndian.Uint64(b[:])
}

func (m *Flat) Store(addr uint64, size int, value uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], value)

	for i := 0; i < size; i++ {
		if off := addr + uint64(i) - m.Base; addr+uint64(i) >= m.Base && off < uint64(len(m.Data)) {
			m.Data[off] = b[i]
		}
	}

	if m.Env != nil {
		m.Env.NoteWrite(addr, size)
	}
}

func (m *Flat) Fetch(addr uint64, buf []byte) int {
	if addr < m.Base || addr-m.Base >= uint64(len(m.Data)) {
		for i := range buf {
			buf[i] = 0
		}
		return 0
	}
	n := copy(buf, m.Data[addr-m.Base:])
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return n
}

// Write copies bytes into the image without notifying the write observer.
// It is meant for loading programs.
func (m *Flat) Write(addr uint64, b []byte) {
	copy(m.Data[addr-m.Base:], b)
}
