// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package in

import (
	"gate.computer/xlate/guest"
)

type Mod byte
type ModRO byte
type ModRM byte

const (
	ModMem       = Mod(0)
	ModMemDisp8  = Mod(64)
	ModMemDisp32 = Mod(128)
	ModReg       = Mod(192)
)

const (
	ModRMSIB    = ModRM(4)
	ModRMDisp32 = ModRM(5)
)

type Scale byte
type Index byte
type Base byte

const (
	Scale0 = Scale(0 << 6)
	Scale1 = Scale(1 << 6)
	Scale2 = Scale(2 << 6)
	Scale3 = Scale(3 << 6)
)

const (
	noIndex = Index(4 << 3)
	noBase  = Base(5)
)

// dispModSize chooses the shortest displacement encoding.  A zero
// displacement is omitted.
func dispModSize(disp int32) (Mod, uint8) {
	switch {
	case disp == 0:
		return ModMem, 0

	case disp >= -128 && disp <= 127:
		return ModMemDisp8, 1

	default:
		return ModMemDisp32, 4
	}
}

func scaleOf(factor uint8) Scale {
	switch factor {
	case 2:
		return Scale1
	case 4:
		return Scale2
	case 8:
		return Scale3
	default:
		return Scale0
	}
}

func regRO(r guest.Reg) ModRO    { return ModRO((r & 7) << 3) }
func regRM(r guest.Reg) ModRM    { return ModRM(r & 7) }
func regIndex(r guest.Reg) Index { return Index((r & 7) << 3) }
func regBase(r guest.Reg) Base   { return Base(r & 7) }
