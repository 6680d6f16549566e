// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasmrt

import (
	"context"

	"gate.computer/xlate/abi"
	"gate.computer/xlate/guest"
	"github.com/tetratelabs/wazero"
)

// binding connects a trace call to the guest state it operates on.
type binding struct {
	mem    guest.Memory
	env    *guest.Env
	exited bool
	kind   abi.ExitKind
}

type bindingKey struct{}

func withBinding(ctx context.Context, b *binding) context.Context {
	return context.WithValue(ctx, bindingKey{}, b)
}

func bound(ctx context.Context) *binding {
	b, _ := ctx.Value(bindingKey{}).(*binding)
	if b == nil {
		panic("wasmrt: helper called outside of a trace call")
	}
	return b
}

func memRead(size int) func(context.Context, uint32, uint64) uint32 {
	return func(ctx context.Context, _ uint32, addr uint64) uint32 {
		return uint32(bound(ctx).mem.Load(addr, size))
	}
}

func memWrite(size int) func(context.Context, uint32, uint64, uint32) {
	return func(ctx context.Context, _ uint32, addr uint64, value uint32) {
		bound(ctx).mem.Store(addr, size, uint64(value))
	}
}

func hostModule(r wazero.Runtime) wazero.HostModuleBuilder {
	funcs := map[abi.Helper]interface{}{
		abi.HelperMemRead8:   memRead(1),
		abi.HelperMemRead16:  memRead(2),
		abi.HelperMemRead32:  memRead(4),
		abi.HelperMemWrite8:  memWrite(1),
		abi.HelperMemWrite16: memWrite(2),
		abi.HelperMemWrite32: memWrite(4),

		abi.HelperMemRead64: func(ctx context.Context, _ uint32, addr uint64) uint64 {
			return bound(ctx).mem.Load(addr, 8)
		},

		abi.HelperMemWrite64: func(ctx context.Context, _ uint32, addr, value uint64) {
			bound(ctx).mem.Store(addr, 8, value)
		},

		abi.HelperCodePageVersion: func(ctx context.Context, _ uint32, page uint64) uint64 {
			return bound(ctx).env.Version(page)
		},

		abi.HelperJITExit: func(ctx context.Context, _, kind uint32, _ uint64) uint64 {
			b := bound(ctx)
			b.exited = true
			b.kind = abi.ExitKind(kind)
			return abi.Sentinel
		},
	}

	builder := r.NewHostModuleBuilder(HostModule)
	for h := abi.Helper(0); h < abi.NumHelpers; h++ {
		builder = builder.NewFunctionBuilder().WithFunc(funcs[h]).Export(h.Name())
	}
	return builder
}
