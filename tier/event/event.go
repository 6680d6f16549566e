// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package event enumerates notifications of the tier engine.
package event

// Event handler is invoked from the goroutine which runs the engine.
type Event int

const (
	// A basic-block region was translated for the baseline tier.
	RegionCompiled = Event(iota)

	// A trace was compiled and loaded for the optimizing tier.
	TraceCompiled

	// Translated code was dropped because a code page it covers was
	// modified.
	Invalidated

	// Translated code was dropped to stay within the code cache capacity.
	Evicted
)

func (e Event) String() string {
	switch e {
	case RegionCompiled:
		return "RegionCompiled"

	case TraceCompiled:
		return "TraceCompiled"

	case Invalidated:
		return "Invalidated"

	case Evicted:
		return "Evicted"

	default:
		return "<invalid>"
	}
}

// Handler receives an event and the guest entry address it concerns.
type Handler func(e Event, rip uint64)
