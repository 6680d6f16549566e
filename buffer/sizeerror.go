// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buffer implements byte buffers for module generation.  Writes which
// would exceed a buffer's size limit panic with ErrSizeLimit.
package buffer

type sizeError struct{}

func (sizeError) Error() string       { return "buffer size limit exceeded" }
func (sizeError) ModuleError() string { return "module size limit exceeded" }

// ErrSizeLimit is recognized as a module error by its ModuleError method.
var ErrSizeLimit error = sizeError{}
