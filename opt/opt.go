// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package opt optimizes traces.  The passes run in this order: constant
// folding, strength reduction, common subexpression elimination, loop
// invariant code motion, dead code elimination (with flag liveness) and
// register cache allocation.
package opt

import (
	"gate.computer/xlate/guest"
	"gate.computer/xlate/ir"
	"gate.computer/xlate/telemetry"
)

type Options struct {
	MaxCachedRegs int
}

var DefaultOptions = Options{
	MaxCachedRegs: int(guest.NumRegs),
}

// Optimize with default options.
func Optimize(t *ir.Trace, tel *telemetry.Telemetry) *ir.AllocPlan {
	return DefaultOptions.Optimize(t, tel)
}

// Optimize the trace in place and plan its register cache.
func (opts Options) Optimize(t *ir.Trace, tel *telemetry.Telemetry) *ir.AllocPlan {
	done := tel.TimePass(telemetry.PassConstFold)
	ConstFold(t)
	done()

	done = tel.TimePass(telemetry.PassStrength)
	StrengthReduce(t)
	done()

	done = tel.TimePass(telemetry.PassCSE)
	CSE(t)
	done()

	done = tel.TimePass(telemetry.PassLICM)
	LICM(t)
	done()

	done = tel.TimePass(telemetry.PassDCE)
	DCE(t)
	done()

	done = tel.TimePass(telemetry.PassRegAlloc)
	plan := opts.RegAlloc(t)
	done()

	return plan
}
