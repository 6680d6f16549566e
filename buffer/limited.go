// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buffer

// Limited buffer panics with ErrSizeLimit instead of growing beyond its
// maximum size.  The zero value has no room.
type Limited struct {
	d Dynamic
}

// MakeLimited buffer.  The slice must be empty.  The value must not be
// copied after use.
func MakeLimited(b []byte, maxSize int) Limited {
	return Limited{MakeDynamicHint(b, maxSize)}
}

func NewLimited(b []byte, maxSize int) *Limited {
	l := MakeLimited(b, maxSize)
	return &l
}

func (l *Limited) Len() int      { return l.d.Len() }
func (l *Limited) Bytes() []byte { return l.d.Bytes() }

// Remaining room before the limit.
func (l *Limited) Remaining() int {
	return l.d.maxSize - l.d.Len()
}

func (l *Limited) check(n int) {
	if n > l.Remaining() {
		panic(ErrSizeLimit)
	}
}

func (l *Limited) PutByte(value byte) {
	l.check(1)
	l.d.PutByte(value)
}

func (l *Limited) PutBytes(b []byte) {
	l.check(len(b))
	l.d.PutBytes(b)
}

func (l *Limited) PutUint32(x uint32) {
	l.check(4)
	l.d.PutUint32(x)
}
