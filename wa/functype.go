// Copyright (c) 2016 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wa

import (
	"strings"

	"golang.org/x/exp/slices"
)

type FuncType struct {
	Params  []Type
	Results []Type
}

// Sig is a convenience constructor for single-result (or void) types.
func Sig(result Type, params ...Type) FuncType {
	f := FuncType{Params: params}
	if result != Void {
		f.Results = []Type{result}
	}
	return f
}

// Equal reports whether the signatures are identical.
func (f FuncType) Equal(other FuncType) bool {
	return slices.Equal(f.Params, other.Params) && slices.Equal(f.Results, other.Results)
}

// Key is a comparable representation of the signature: the encoded parameter
// types, a zero byte, and the encoded result types.
func (f FuncType) Key() string {
	b := make([]byte, 0, len(f.Params)+len(f.Results)+1)
	for _, t := range f.Params {
		b = append(b, t.Encode())
	}
	b = append(b, 0)
	for _, t := range f.Results {
		b = append(b, t.Encode())
	}
	return string(b)
}

func writeTypes(b *strings.Builder, types []Type) {
	b.WriteByte('(')
	for i, t := range types {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.String())
	}
	b.WriteByte(')')
}

// String formats the signature as "(params) result".
func (f FuncType) String() string {
	var b strings.Builder

	writeTypes(&b, f.Params)

	switch len(f.Results) {
	case 0:

	case 1:
		b.WriteByte(' ')
		b.WriteString(f.Results[0].String())

	default:
		b.WriteByte(' ')
		writeTypes(&b, f.Results)
	}

	return b.String()
}
