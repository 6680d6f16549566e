// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import (
	"fmt"

	"gate.computer/xlate/guest"
)

// Eval computes a binary operation and its complete flag result.
func Eval(op Op, lhs, rhs uint64) (res uint64, fl guest.Flags) {
	switch op {
	case Add:
		res = lhs + rhs
		fl.CF = res < lhs
		fl.OF = ((lhs^res)&(rhs^res))>>63 != 0

	case Sub:
		res = lhs - rhs
		fl.CF = lhs < rhs
		fl.OF = ((lhs^rhs)&(lhs^res))>>63 != 0

	case Mul:
		res = lhs * rhs

	case And:
		res = lhs & rhs

	case Or:
		res = lhs | rhs

	case Xor:
		res = lhs ^ rhs

	case Shl:
		res = lhs << (rhs & 63)

	case Shr:
		res = lhs >> (rhs & 63)

	case Eq:
		if lhs == rhs {
			res = 1
		}

	case LtU:
		if lhs < rhs {
			res = 1
		}

	default:
		panic(fmt.Sprintf("unknown binary operation %d", op))
	}

	fl.ZF = res == 0
	fl.SF = res>>63 != 0
	return
}

// EvalAddr computes an effective address.
func EvalAddr(base, index uint64, scale uint8, disp int64) uint64 {
	return base + index*uint64(scale) + uint64(disp)
}
