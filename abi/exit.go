// Copyright (c) 2016 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package abi

import (
	"fmt"
)

// ExitKind tells the host why a trace handed control back.
type ExitKind uint32

const (
	ExitNone     = ExitKind(iota)
	ExitHalt     // Guest executed hlt.  Instruction pointer is past it.
	ExitIndirect // Control transfer with a run-time target (ret).
	ExitDecode   // Instruction could not be translated.

	NumExitKinds
)

func (kind ExitKind) String() string {
	switch kind {
	case ExitNone:
		return "none"

	case ExitHalt:
		return "halt"

	case ExitIndirect:
		return "indirect"

	case ExitDecode:
		return "decode"

	default:
		return fmt.Sprintf("unknown exit kind %d", uint32(kind))
	}
}

// ExitCause tells how a trace call ended.
type ExitCause uint64

const (
	CauseReturn      = ExitCause(iota) // Linear body completed.
	CauseGuard                         // Speculated condition did not hold.
	CauseCodeVersion                   // Code page was modified.
	CauseExit                          // Explicit exit.
	CauseBudget                        // Loop iteration budget exhausted.
	CauseHandoff                       // Host must handle the instruction.

	NumExitCauses
)

var causeNames = [NumExitCauses]string{
	CauseReturn:      "return",
	CauseGuard:       "guard",
	CauseCodeVersion: "code-version",
	CauseExit:        "exit",
	CauseBudget:      "budget",
	CauseHandoff:     "handoff",
}

func (c ExitCause) String() string {
	if c < NumExitCauses {
		return causeNames[c]
	}
	return fmt.Sprintf("unknown exit cause %d", uint64(c))
}
