// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package telemetry collects translator counters for one virtual CPU.
//
// All methods may be called on a nil *Telemetry, and do nothing while
// telemetry is disabled.
package telemetry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Tier of compiled code.
type Tier uint8

const (
	Tier1 = Tier(1) // Interpreted basic-block regions.
	Tier2 = Tier(2) // Compiled traces.
)

// Pass of the optimizer.
type Pass uint8

const (
	PassConstFold = Pass(iota)
	PassStrength
	PassCSE
	PassLICM
	PassDCE
	PassRegAlloc

	NumPasses
)

func (p Pass) String() string {
	switch p {
	case PassConstFold:
		return "constfold"

	case PassStrength:
		return "strength"

	case PassCSE:
		return "cse"

	case PassLICM:
		return "licm"

	case PassDCE:
		return "dce"

	case PassRegAlloc:
		return "regalloc"

	default:
		return fmt.Sprintf("<pass %d>", uint8(p))
	}
}

// Totals is a consistent snapshot of all counters.  Durations are in
// nanoseconds.
type Totals struct {
	Tier1Compiled      uint64 `json:"tier1_compiled"`
	Tier1CompileNanos  uint64 `json:"tier1_compile_ns"`
	Tier2Compiled      uint64 `json:"tier2_compiled"`
	Tier2CompileNanos  uint64 `json:"tier2_compile_ns"`
	ConstFoldNanos     uint64 `json:"constfold_ns"`
	StrengthNanos      uint64 `json:"strength_ns"`
	CSENanos           uint64 `json:"cse_ns"`
	LICMNanos          uint64 `json:"licm_ns"`
	DCENanos           uint64 `json:"dce_ns"`
	RegAllocNanos      uint64 `json:"regalloc_ns"`
	CacheHits          uint64 `json:"cache_hits"`
	CacheMisses        uint64 `json:"cache_misses"`
	CacheUsedBytes     uint64 `json:"cache_used_bytes"`
	CacheCapacityBytes uint64 `json:"cache_capacity_bytes"`
	Deopts             uint64 `json:"deopts"`
	GuardFailures      uint64 `json:"guard_failures"`
}

// Counter is a named value of an export list.
type Counter struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

// Counters lists every field of the totals.
func (t Totals) Counters() []Counter {
	return []Counter{
		{"tier1_compiled", t.Tier1Compiled},
		{"tier1_compile_ns", t.Tier1CompileNanos},
		{"tier2_compiled", t.Tier2Compiled},
		{"tier2_compile_ns", t.Tier2CompileNanos},
		{"constfold_ns", t.ConstFoldNanos},
		{"strength_ns", t.StrengthNanos},
		{"cse_ns", t.CSENanos},
		{"licm_ns", t.LICMNanos},
		{"dce_ns", t.DCENanos},
		{"regalloc_ns", t.RegAllocNanos},
		{"cache_hits", t.CacheHits},
		{"cache_misses", t.CacheMisses},
		{"cache_used_bytes", t.CacheUsedBytes},
		{"cache_capacity_bytes", t.CacheCapacityBytes},
		{"deopts", t.Deopts},
		{"guard_failures", t.GuardFailures},
	}
}

// Compiled is the number of blocks and traces compiled by all tiers.
func (t Totals) Compiled() uint64 {
	return t.Tier1Compiled + t.Tier2Compiled
}

// CompileNanos of all tiers.
func (t Totals) CompileNanos() uint64 {
	return t.Tier1CompileNanos + t.Tier2CompileNanos
}

// PassNanos is the accumulated time of an optimization pass.
func (t Totals) PassNanos(p Pass) uint64 {
	switch p {
	case PassConstFold:
		return t.ConstFoldNanos

	case PassStrength:
		return t.StrengthNanos

	case PassCSE:
		return t.CSENanos

	case PassLICM:
		return t.LICMNanos

	case PassDCE:
		return t.DCENanos

	case PassRegAlloc:
		return t.RegAllocNanos

	default:
		return 0
	}
}

// Telemetry context of one virtual CPU.
type Telemetry struct {
	enabled atomic.Bool
	mu      sync.Mutex
	totals  Totals
}

// New enabled telemetry context.
func New() *Telemetry {
	t := new(Telemetry)
	t.enabled.Store(true)
	return t
}

func (t *Telemetry) SetEnabled(enabled bool) {
	if t != nil {
		t.enabled.Store(enabled)
	}
}

func (t *Telemetry) Enabled() bool {
	return t != nil && t.enabled.Load()
}

func (t *Telemetry) update(f func(*Totals)) {
	if !t.Enabled() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	f(&t.totals)
}

func nanos(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d)
}

// RecordCompile of one block region or trace.
func (t *Telemetry) RecordCompile(tier Tier, d time.Duration) {
	t.update(func(x *Totals) {
		switch tier {
		case Tier1:
			x.Tier1Compiled++
			x.Tier1CompileNanos += nanos(d)

		case Tier2:
			x.Tier2Compiled++
			x.Tier2CompileNanos += nanos(d)
		}
	})
}

func (t *Telemetry) RecordPass(p Pass, d time.Duration) {
	t.update(func(x *Totals) {
		switch p {
		case PassConstFold:
			x.ConstFoldNanos += nanos(d)

		case PassStrength:
			x.StrengthNanos += nanos(d)

		case PassCSE:
			x.CSENanos += nanos(d)

		case PassLICM:
			x.LICMNanos += nanos(d)

		case PassDCE:
			x.DCENanos += nanos(d)

		case PassRegAlloc:
			x.RegAllocNanos += nanos(d)
		}
	})
}

// TimePass returns a function which records the time since the call.
func (t *Telemetry) TimePass(p Pass) func() {
	if !t.Enabled() {
		return func() {}
	}
	start := time.Now()
	return func() {
		t.RecordPass(p, time.Since(start))
	}
}

func (t *Telemetry) CacheHit()  { t.update(func(x *Totals) { x.CacheHits++ }) }
func (t *Telemetry) CacheMiss() { t.update(func(x *Totals) { x.CacheMisses++ }) }
func (t *Telemetry) Deopt()     { t.update(func(x *Totals) { x.Deopts++ }) }
func (t *Telemetry) GuardFail() { t.update(func(x *Totals) { x.GuardFailures++ }) }

// SetCacheBytes records code cache occupancy.
func (t *Telemetry) SetCacheBytes(used, capacity uint64) {
	t.update(func(x *Totals) {
		x.CacheUsedBytes = used
		x.CacheCapacityBytes = capacity
	})
}

// Snapshot reads all counters at once.
func (t *Telemetry) Snapshot() Totals {
	if t == nil {
		return Totals{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}

// Reset clears the counters.
func (t *Telemetry) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals = Totals{}
}
