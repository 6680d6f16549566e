// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package in

func fitsInt8(val int64) bool {
	return val >= -128 && val <= 127
}

func fitsInt32(val int64) bool {
	return val >= -0x80000000 && val <= 0x7fffffff
}
