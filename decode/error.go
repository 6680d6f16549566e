// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"fmt"
)

// ErrorKind classifies decode failures.  The kinds themselves are errors,
// so that xerrors.Is(err, decode.Truncated) works.
type ErrorKind int

const (
	// Truncated means that the window ended before the instruction did.
	Truncated = ErrorKind(iota + 1)

	// UnsupportedOpcode means that the leading opcode is valid x86 but not
	// implemented.
	UnsupportedOpcode

	// UnsupportedEncoding means that the opcode is implemented but not in
	// this combination of prefixes or operands.
	UnsupportedEncoding
)

func (kind ErrorKind) String() string {
	switch kind {
	case Truncated:
		return "truncated"

	case UnsupportedOpcode:
		return "unsupported opcode"

	case UnsupportedEncoding:
		return "unsupported encoding"

	default:
		return fmt.Sprintf("unknown decode error %d", int(kind))
	}
}

func (kind ErrorKind) Error() string {
	return "decode: " + kind.String()
}

// Error describes a failure to decode the instruction at RIP.
type Error struct {
	Kind   ErrorKind
	RIP    uint64
	Opcode byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("decode: %s at 0x%x (opcode 0x%02x)", e.Kind.String(), e.RIP, e.Opcode)
}

func (e *Error) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	return ok && kind == e.Kind
}
