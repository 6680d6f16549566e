// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package module

import (
	"fmt"
	"io"
)

// formatError means that a module is malformed or invalid.  Errors which
// describe module content implement the ModuleError method.
type formatError struct {
	text  string
	cause error
}

func Error(text string) error {
	return &formatError{text: text}
}

func Errorf(format string, args ...interface{}) error {
	return &formatError{text: fmt.Sprintf(format, args...)}
}

// WrapError describes a module problem detected through a lower-level error.
func WrapError(cause error, text string) error {
	return &formatError{text, cause}
}

func (e *formatError) Error() string {
	if e.cause == nil {
		return e.text
	}
	return e.text + ": " + e.cause.Error()
}

func (e *formatError) ModuleError() string { return e.text }
func (e *formatError) Unwrap() error       { return e.cause }

// ErrUnexpectedEOF is io.ErrUnexpectedEOF as a module error.
var ErrUnexpectedEOF = WrapError(io.ErrUnexpectedEOF, "module is truncated")
