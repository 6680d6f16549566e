// Copyright (c) 2016 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errorpanic converts panicked error values back into errors at
// package boundaries.
package errorpanic

import (
	"io"
	"runtime"

	"gate.computer/xlate/internal/module"
	"golang.org/x/xerrors"
)

// Handle the result of recover().  Non-error values and runtime errors are
// panicked again.
func Handle(x interface{}) (err error) {
	if x != nil {
		err, _ = x.(error)
		if err == nil {
			panic(x)
		}

		if _, ok := err.(runtime.Error); ok {
			panic(x)
		}

		if xerrors.Is(err, io.EOF) || xerrors.Is(err, io.ErrUnexpectedEOF) {
			err = module.ErrUnexpectedEOF
		}
	}

	return
}
