// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guest

// Flag identifies one of the modeled condition flags.
type Flag uint8

const (
	ZF = Flag(iota)
	SF
	CF
	OF

	NumFlags
)

func (f Flag) String() string {
	switch f {
	case ZF:
		return "zf"

	case SF:
		return "sf"

	case CF:
		return "cf"

	case OF:
		return "of"

	default:
		return "<invalid flag>"
	}
}

// Bit in RFLAGS.
func (f Flag) Bit() uint {
	switch f {
	case ZF:
		return BitZF

	case SF:
		return BitSF

	case CF:
		return BitCF

	case OF:
		return BitOF
	}
	panic(f)
}

// Mask containing only this flag.
func (f Flag) Mask() FlagMask {
	return FlagMask(1) << f
}

// FlagMask is a set of flags.
type FlagMask uint8

const (
	MaskZF = FlagMask(1 << ZF)
	MaskSF = FlagMask(1 << SF)
	MaskCF = FlagMask(1 << CF)
	MaskOF = FlagMask(1 << OF)

	MaskNone = FlagMask(0)
	MaskAll  = MaskZF | MaskSF | MaskCF | MaskOF
)

func (m FlagMask) Has(f Flag) bool { return m&f.Mask() != 0 }

func (m FlagMask) String() string {
	if m == 0 {
		return "-"
	}
	var s string
	for f := Flag(0); f < NumFlags; f++ {
		if m.Has(f) {
			if s != "" {
				s += "|"
			}
			s += f.String()
		}
	}
	return s
}

// Flags holds the condition flags as independent booleans.
type Flags struct {
	ZF bool
	SF bool
	CF bool
	OF bool
}

func (fl Flags) Get(f Flag) bool {
	switch f {
	case ZF:
		return fl.ZF

	case SF:
		return fl.SF

	case CF:
		return fl.CF

	case OF:
		return fl.OF
	}
	panic(f)
}

func (fl *Flags) Set(f Flag, value bool) {
	switch f {
	case ZF:
		fl.ZF = value

	case SF:
		fl.SF = value

	case CF:
		fl.CF = value

	case OF:
		fl.OF = value

	default:
		panic(f)
	}
}

// Apply copies the flags selected by mask from values, leaving the others
// untouched.
func (fl *Flags) Apply(mask FlagMask, values Flags) {
	for f := Flag(0); f < NumFlags; f++ {
		if mask.Has(f) {
			fl.Set(f, values.Get(f))
		}
	}
}

func (fl Flags) String() string {
	var m FlagMask
	for f := Flag(0); f < NumFlags; f++ {
		if fl.Get(f) {
			m |= f.Mask()
		}
	}
	return m.String()
}
