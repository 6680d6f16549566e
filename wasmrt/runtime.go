// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wasmrt executes compiled trace modules with wazero.
//
// A Runtime hosts the helper functions in a host module, and an env module
// which defines the linear memory and re-exports the helpers under the names
// which trace modules import.  The CPU state is placed at address 0 of the
// linear memory for the duration of a call.
package wasmrt

import (
	"context"
	"fmt"
	"runtime"

	"gate.computer/xlate/abi"
	"gate.computer/xlate/guest"
	"gate.computer/xlate/wasm"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"golang.org/x/sys/cpu"
	"golang.org/x/xerrors"
)

// HostModule name of the helper implementations.
const HostModule = "xlate_host"

const cpuPtr = 0

type Engine uint8

const (
	EngineAuto = Engine(iota)
	EngineCompiler
	EngineInterpreter
)

func (e Engine) String() string {
	switch e {
	case EngineAuto:
		return "auto"

	case EngineCompiler:
		return "compiler"

	case EngineInterpreter:
		return "interpreter"

	default:
		return "<invalid engine>"
	}
}

// CompilerSupported reports whether the host CPU can run wazero's compiler.
func CompilerSupported() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasSSE41
	case "arm64":
		return true
	}
	return false
}

type Config struct {
	Engine Engine `json:"engine"`

	// CloseOnContextDone makes calls abort when their context is canceled.
	CloseOnContextDone bool `json:"close_on_context_done"`
}

// Runtime owns a wazero runtime.  It is not safe for concurrent use.
type Runtime struct {
	r      wazero.Runtime
	env    api.Module
	engine Engine
	serial int
}

func New(ctx context.Context, config Config) (rt *Runtime, err error) {
	engine := config.Engine
	if engine == EngineAuto {
		if CompilerSupported() {
			engine = EngineCompiler
		} else {
			engine = EngineInterpreter
		}
	}

	var rc wazero.RuntimeConfig
	if engine == EngineCompiler {
		rc = wazero.NewRuntimeConfigCompiler()
	} else {
		rc = wazero.NewRuntimeConfigInterpreter()
	}
	rc = rc.WithCloseOnContextDone(config.CloseOnContextDone)

	rt = &Runtime{
		r:      wazero.NewRuntimeWithConfig(ctx, rc),
		engine: engine,
	}
	defer func() {
		if err != nil {
			rt.r.Close(ctx)
			rt = nil
		}
	}()

	if _, err = hostModule(rt.r).Instantiate(ctx); err != nil {
		return
	}

	bin, err := envModule()
	if err != nil {
		return
	}

	rt.env, err = rt.r.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(abi.Namespace))
	return
}

// Engine which was selected.
func (rt *Runtime) Engine() Engine { return rt.engine }

func (rt *Runtime) Close(ctx context.Context) error {
	return rt.r.Close(ctx)
}

// envModule imports every helper from the host module and exports it with
// the linear memory.
func envModule() ([]byte, error) {
	var m wasm.Module

	for h := abi.Helper(0); h < abi.NumHelpers; h++ {
		m.ImportFunc(HostModule, h.Name(), h.Type())
	}
	m.DefineMemory(1)
	m.ExportMemory(abi.Memory)
	for h := abi.Helper(0); h < abi.NumHelpers; h++ {
		m.ExportFunc(h.Name(), uint32(h))
	}

	return m.Bytes(wasm.DefaultMaxSize)
}

// Module is an instantiated trace.
type Module struct {
	rt       *Runtime
	compiled wazero.CompiledModule
	instance api.Module
	fn       api.Function
	Size     int
}

// Load compiles and instantiates a trace module.  The name must be unique
// among the modules which are open at the same time; an empty name is
// replaced with a generated one.
func (rt *Runtime) Load(ctx context.Context, name string, bin []byte) (*Module, error) {
	if name == "" {
		rt.serial++
		name = fmt.Sprintf("trace%d", rt.serial)
	}

	compiled, err := rt.r.CompileModule(ctx, bin)
	if err != nil {
		return nil, xerrors.Errorf("wasmrt: compiling %s: %w", name, err)
	}

	instance, err := rt.r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		compiled.Close(ctx)
		return nil, xerrors.Errorf("wasmrt: instantiating %s: %w", name, err)
	}

	fn := instance.ExportedFunction(abi.TraceExport)
	if fn == nil {
		instance.Close(ctx)
		compiled.Close(ctx)
		return nil, xerrors.Errorf("wasmrt: %s does not export %s", name, abi.TraceExport)
	}

	return &Module{
		rt:       rt,
		compiled: compiled,
		instance: instance,
		fn:       fn,
		Size:     len(bin),
	}, nil
}

// Imports of the module as module.name strings.
func (m *Module) Imports() (names []string) {
	for _, def := range m.compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		names = append(names, module+"."+name)
	}
	return
}

func (m *Module) Close(ctx context.Context) error {
	err := m.instance.Close(ctx)
	if e := m.compiled.Close(ctx); err == nil {
		err = e
	}
	return err
}

// Result of a trace call.  CPU state has been updated.
type Result struct {
	NextRIP uint64
	Cause   abi.ExitCause
	Handoff bool
	Kind    abi.ExitKind // Set if Handoff is true.
}

// Run the trace on CPU state.  Guest memory accesses go to mem, and code
// page versions are read from env.
func (m *Module) Run(ctx context.Context, state *guest.State, mem guest.Memory, env *guest.Env) (res Result, err error) {
	lm := m.rt.env.Memory()

	var buf [abi.StateSize]byte
	abi.PutState(buf[:], state)
	if !lm.Write(cpuPtr, buf[:]) {
		err = xerrors.New("wasmrt: CPU state does not fit in linear memory")
		return
	}

	b := &binding{mem: mem, env: env}
	results, err := m.fn.Call(withBinding(ctx, b), cpuPtr)
	if err != nil {
		err = xerrors.Errorf("wasmrt: trace call: %w", err)
		return
	}

	data, ok := lm.Read(cpuPtr, abi.StateSize)
	if !ok {
		err = xerrors.New("wasmrt: CPU state does not fit in linear memory")
		return
	}
	abi.GetState(state, data)

	res.NextRIP = state.RIP
	res.Cause = abi.GetCause(data)
	if results[0] == abi.Sentinel {
		if !b.exited {
			err = xerrors.New("wasmrt: trace returned sentinel without hand-off")
			return
		}
		res.Handoff = true
		res.Kind = b.kind
	} else if results[0] != state.RIP {
		err = xerrors.Errorf("wasmrt: trace returned 0x%x but stored 0x%x", results[0], state.RIP)
	}
	return
}
