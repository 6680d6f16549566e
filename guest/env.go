// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guest

import (
	"sync"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift
)

// PageOf returns the page number of an address.
func PageOf(addr uint64) uint64 {
	return addr >> PageShift
}

// Env is the per-virtual-CPU runtime environment consulted by code version
// guards.  Versions are bumped by the guest memory write observer, which may
// run on a different goroutine than the translator.
type Env struct {
	mu       sync.RWMutex
	versions map[uint64]uint64
	watched  map[uint64]struct{}
}

func NewEnv() *Env {
	return &Env{
		versions: make(map[uint64]uint64),
		watched:  make(map[uint64]struct{}),
	}
}

// Version of a page.  Pages which have never been bumped are at version 0.
func (e *Env) Version(page uint64) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.versions[page]
}

// Bump increments the version of a page and returns the new version.
func (e *Env) Bump(page uint64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.versions[page]++
	return e.versions[page]
}

// Watch marks a page as backing translated code.
func (e *Env) Watch(page uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watched[page] = struct{}{}
}

// Watched reports whether writes to the page must bump its version.
func (e *Env) Watched(page uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.watched[page]
	return ok
}

// NoteWrite is the write observer hook: it bumps every watched page touched
// by a write of size bytes at addr.
func (e *Env) NoteWrite(addr uint64, size int) {
	first := PageOf(addr)
	last := PageOf(addr + uint64(size) - 1)
	for page := first; ; page++ {
		if e.Watched(page) {
			e.Bump(page)
		}
		if page == last {
			break
		}
	}
}
