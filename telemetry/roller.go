// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"time"
)

// DefaultRollerSize is the number of samples retained by default.
const DefaultRollerSize = 256

type sample struct {
	at     time.Time
	totals Totals
}

// Roller keeps timestamped snapshots for rate computation.  It is not safe
// for concurrent use.
type Roller struct {
	samples []sample
	size    int
}

func NewRoller(size int) *Roller {
	if size < 2 {
		size = 2
	}
	return &Roller{size: size}
}

// Add a sample.  Samples must be added in time order.
func (r *Roller) Add(at time.Time, totals Totals) {
	if len(r.samples) == r.size {
		copy(r.samples, r.samples[1:])
		r.samples = r.samples[:len(r.samples)-1]
	}
	r.samples = append(r.samples, sample{at, totals})
}

func (r *Roller) Len() int { return len(r.samples) }

// View is a rolling summary.
type View struct {
	Window             time.Duration `json:"window_ns"`
	HitRate            float64       `json:"hit_rate"`
	CompileNanosPerSec float64       `json:"compile_ns_per_sec"`
	BlocksPerSec       float64       `json:"blocks_per_sec"`
}

// View over the samples between now-window and now.  The oldest sample in
// the window is the baseline.  The window is clamped to the samples
// available.
func (r *Roller) View(now time.Time, window time.Duration) View {
	var (
		first, last sample
		found       bool
	)

	start := now.Add(-window)

	for _, s := range r.samples {
		if s.at.After(now) {
			break
		}
		if !found {
			if s.at.Before(start) {
				continue
			}
			first = s
			found = true
		}
		last = s
	}

	if !found {
		return View{}
	}

	span := last.at.Sub(first.at)
	v := View{Window: span}

	hits := last.totals.CacheHits - first.totals.CacheHits
	misses := last.totals.CacheMisses - first.totals.CacheMisses
	if hits+misses > 0 {
		v.HitRate = float64(hits) / float64(hits+misses)
	}

	if secs := span.Seconds(); secs > 0 {
		v.CompileNanosPerSec = float64(last.totals.CompileNanos()-first.totals.CompileNanos()) / secs
		v.BlocksPerSec = float64(last.totals.Compiled()-first.totals.Compiled()) / secs
	}

	return v
}
