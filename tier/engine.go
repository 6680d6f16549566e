// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tier runs guest code through the translation tiers.
//
// Tier 0 interprets a single instruction.  A guest address which has been
// dispatched Tier1Threshold times gets a basic-block region which is run by
// the reference interpreter.  At Tier2Threshold a speculative trace is
// optimized, compiled to WebAssembly and run by wazero.
package tier

import (
	"context"
	"fmt"
	"time"

	"gate.computer/xlate/abi"
	"gate.computer/xlate/codegen"
	"gate.computer/xlate/decode"
	"gate.computer/xlate/guest"
	"gate.computer/xlate/internal/log"
	"gate.computer/xlate/interp"
	"gate.computer/xlate/ir"
	"gate.computer/xlate/opt"
	"gate.computer/xlate/telemetry"
	"gate.computer/xlate/tier/event"
	"gate.computer/xlate/trace"
	"gate.computer/xlate/wasmrt"
	"golang.org/x/xerrors"
)

// Reason for returning from Run.
type Reason uint8

const (
	Halted = Reason(iota)
	BudgetExhausted
)

func (r Reason) String() string {
	switch r {
	case Halted:
		return "halted"

	case BudgetExhausted:
		return "budget exhausted"

	default:
		return fmt.Sprintf("<reason %d>", uint8(r))
	}
}

// Exit of Run.  RIP is the address of the next instruction.
type Exit struct {
	Reason Reason
	RIP    uint64
	Steps  int
}

type Option func(*Engine)

// WithRuntime shares a wasm runtime.  The engine will not close it.
func WithRuntime(rt *wasmrt.Runtime) Option {
	return func(e *Engine) {
		e.rt = rt
		e.ownRuntime = false
	}
}

// Engine executes one virtual CPU.  It is not safe for concurrent use.
type Engine struct {
	cfg     Config
	cpu     *guest.State
	mem     guest.Memory
	env     *guest.Env
	tel     *telemetry.Telemetry
	machine interp.Machine

	rt         *wasmrt.Runtime
	ownRuntime bool

	hotness  map[uint64]uint64
	cache    *cache
	rejected map[key]struct{}
}

// New engine.  Memory must also implement guest.Fetcher.  Telemetry may be
// nil.
func New(ctx context.Context, cfg Config, cpu *guest.State, mem guest.Memory, env *guest.Env, tel *telemetry.Telemetry, opts ...Option) (*Engine, error) {
	if _, ok := mem.(guest.Fetcher); !ok {
		return nil, xerrors.New("tier: memory does not support instruction fetch")
	}

	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:        cfg,
		cpu:        cpu,
		mem:        mem,
		env:        env,
		tel:        tel,
		machine:    interp.Machine{CPU: cpu, Mem: mem, Env: env},
		ownRuntime: true,
		hotness:    make(map[uint64]uint64),
		cache:      newCache(cfg.CodeCacheCapacity),
		rejected:   make(map[key]struct{}),
	}
	for _, o := range opts {
		o(e)
	}

	if e.rt == nil && !cfg.DisableTier2 {
		rt, err := wasmrt.New(ctx, cfg.Runtime)
		if err != nil {
			return nil, xerrors.Errorf("tier: %w", err)
		}
		e.rt = rt
		log.Debug(log.Tier, "wasm runtime", "engine", rt.Engine())
	}

	e.syncCacheBytes()
	return e, nil
}

// Close releases compiled modules, and the runtime unless it is shared.
func (e *Engine) Close(ctx context.Context) (err error) {
	for _, ent := range e.cache.all() {
		e.cache.remove(ent.key)
		if e2 := e.release(ctx, ent); err == nil {
			err = e2
		}
	}

	if e.rt != nil && e.ownRuntime {
		if e2 := e.rt.Close(ctx); err == nil {
			err = e2
		}
	}
	e.rt = nil
	return
}

// Stats of the register caches used by interpreted regions.
func (e *Engine) Stats() string {
	return e.machine.Stats.String()
}

func (e *Engine) fetcher() guest.Fetcher {
	return e.mem.(guest.Fetcher)
}

func (e *Engine) notify(ev event.Event, rip uint64) {
	if e.cfg.EventHandler != nil {
		e.cfg.EventHandler(ev, rip)
	}
}

func (e *Engine) syncCacheBytes() {
	e.tel.SetCacheBytes(uint64(e.cache.used), uint64(e.cache.capacity))
}

// Run until the guest halts or budget dispatches have been made.
func (e *Engine) Run(ctx context.Context, budget int) (exit Exit, err error) {
	exit.Reason = BudgetExhausted

	for exit.Steps < budget {
		if err = ctx.Err(); err != nil {
			break
		}

		exit.Steps++

		var halted bool
		if halted, err = e.dispatch(ctx); err != nil {
			break
		}
		if halted {
			exit.Reason = Halted
			break
		}
	}

	exit.RIP = e.cpu.RIP
	return
}

func (e *Engine) dispatch(ctx context.Context) (halted bool, err error) {
	rip := e.cpu.RIP

	n := e.hotness[rip] + 1
	e.hotness[rip] = n

	if !e.cfg.DisableTier2 && n >= e.cfg.Tier2Threshold {
		if err := e.compileTrace(ctx, rip); err != nil {
			return false, err
		}
	}
	if n >= e.cfg.Tier1Threshold {
		e.compileRegion(ctx, rip)
	}

	if ent := e.lookup(ctx, rip); ent != nil {
		e.tel.CacheHit()
		if ent.module != nil {
			return e.runTrace(ctx, ent)
		}
		return e.runRegion(ctx, ent)
	}

	e.tel.CacheMiss()
	return e.interpretOne(rip)
}

// lookup the best tier of code for rip.  Stale entries are evicted.
func (e *Engine) lookup(ctx context.Context, rip uint64) *entry {
	for _, k := range []key{{telemetry.Tier2, rip}, {telemetry.Tier1, rip}} {
		ent := e.cache.get(k)
		if ent == nil {
			continue
		}
		if ent.stale(e.env) {
			e.invalidate(ctx, ent)
			continue
		}
		return ent
	}
	return nil
}

// invalidate a stale entry.  The address starts cold again.
func (e *Engine) invalidate(ctx context.Context, ent *entry) {
	if e.cache.remove(ent.key) == nil {
		return
	}

	e.tel.Deopt()
	delete(e.hotness, ent.key.rip)
	for t := telemetry.Tier1; t <= telemetry.Tier2; t++ {
		delete(e.rejected, key{t, ent.key.rip})
	}
	e.release(ctx, ent)
	e.syncCacheBytes()

	log.Debug(log.Tier, "invalidated", "tier", ent.key.tier, "rip", hex(ent.key.rip))
	e.notify(event.Invalidated, ent.key.rip)
}

func (e *Engine) release(ctx context.Context, ent *entry) error {
	if ent.module == nil {
		return nil
	}
	err := ent.module.Close(ctx)
	ent.module = nil
	if err != nil {
		log.Warn(log.Tier, "closing module", "rip", hex(ent.key.rip), "error", err)
	}
	return err
}

// install an entry unless it exceeds the whole capacity.
func (e *Engine) install(ctx context.Context, ent *entry) bool {
	if !e.cache.fits(ent.size) {
		log.Debug(log.Tier, "too large for code cache", "tier", ent.key.tier, "rip", hex(ent.key.rip), "size", ent.size)
		return false
	}

	for _, old := range e.cache.insert(ent) {
		e.release(ctx, old)
		if old.key != ent.key {
			log.Debug(log.Tier, "evicted", "tier", old.key.tier, "rip", hex(old.key.rip))
			e.notify(event.Evicted, old.key.rip)
		}
	}
	e.syncCacheBytes()
	return true
}

func (e *Engine) compileRegion(ctx context.Context, rip uint64) {
	k := key{telemetry.Tier1, rip}
	if e.cache.get(k) != nil {
		return
	}
	if _, ok := e.rejected[k]; ok {
		return
	}

	start := time.Now()

	fn, err := trace.BuildFunction(e.fetcher(), e.env, rip, e.cfg.traceOptions())
	if err != nil {
		log.Debug(log.Tier, "region not translated", "rip", hex(rip), "error", err)
		e.rejected[k] = struct{}{}
		return
	}

	ent := &entry{
		key:   k,
		size:  regionSize(fn),
		pages: fn.Pages,
		fn:    fn,
		plan:  ir.NewAllocPlan(regionRegs(fn)),
	}

	e.tel.RecordCompile(telemetry.Tier1, time.Since(start))

	if e.install(ctx, ent) {
		log.Debug(log.Tier, "region compiled", "rip", hex(rip), "blocks", len(fn.Blocks))
		e.notify(event.RegionCompiled, rip)
	}
}

// regionRegs returns the registers accessed by a region.
func regionRegs(fn *ir.Function) (set ir.RegSet) {
	for _, b := range fn.Blocks {
		for _, i := range b.Instrs {
			switch i := i.(type) {
			case ir.LoadReg:
				set = set.With(i.Reg)

			case ir.StoreReg:
				set = set.With(i.Reg)
			}
		}
	}
	return
}

func (e *Engine) compileTrace(ctx context.Context, rip uint64) error {
	k := key{telemetry.Tier2, rip}
	if e.cache.get(k) != nil {
		return nil
	}
	if _, ok := e.rejected[k]; ok {
		return nil
	}

	start := time.Now()

	t, err := trace.Build(e.fetcher(), e.env, rip, e.cfg.traceOptions())
	if err != nil {
		log.Debug(log.Tier, "trace not built", "rip", hex(rip), "error", err)
		e.rejected[k] = struct{}{}
		return nil
	}

	plan := opt.Optimize(t, e.tel)

	bin, err := e.cfg.codegenOptions().Compile(t, plan)
	if err != nil {
		if xerrors.Is(err, codegen.ErrInvalidModule) {
			return xerrors.Errorf("tier: trace at 0x%x: %w", rip, err)
		}
		log.Debug(log.Tier, "trace not compiled", "rip", hex(rip), "error", err)
		e.rejected[k] = struct{}{}
		return nil
	}

	m, err := e.rt.Load(ctx, fmt.Sprintf("trace_%x", rip), bin)
	if err != nil {
		return xerrors.Errorf("tier: %w", err)
	}

	e.tel.RecordCompile(telemetry.Tier2, time.Since(start))

	ent := &entry{
		key:    k,
		size:   m.Size,
		pages:  t.Pages,
		trace:  t,
		module: m,
	}

	if !e.install(ctx, ent) {
		m.Close(ctx)
		e.rejected[k] = struct{}{}
		return nil
	}

	log.Debug(log.Tier, "trace compiled", "rip", hex(rip), "kind", t.Kind, "insns", t.Insns, "size", m.Size, "imports", len(m.Imports()))
	e.notify(event.TraceCompiled, rip)
	return nil
}

func (e *Engine) runRegion(ctx context.Context, ent *entry) (bool, error) {
	out := e.machine.RunBlocks(ent.fn, ent.fn.Entry, ent.plan, e.cfg.MaxSteps)

	log.Trace(log.Tier, "region", "rip", hex(ent.key.rip), "outcome", out)

	switch out.Status {
	case interp.SideExit:
		switch out.Cause {
		case interp.CauseGuard:
			e.tel.GuardFail()

		case interp.CauseCodeVersion:
			e.invalidate(ctx, ent)
		}

	case interp.Handoff:
		return e.handoff(out.Kind, out.NextRIP)
	}

	return false, nil
}

func (e *Engine) runTrace(ctx context.Context, ent *entry) (bool, error) {
	res, err := ent.module.Run(ctx, e.cpu, e.mem, e.env)
	if err != nil {
		return false, xerrors.Errorf("tier: trace at 0x%x: %w", ent.key.rip, err)
	}

	log.Trace(log.Tier, "trace", "rip", hex(ent.key.rip), "next", hex(res.NextRIP), "cause", res.Cause)

	if ent.stale(e.env) {
		e.invalidate(ctx, ent)
	}

	if res.Handoff {
		return e.handoff(res.Kind, res.NextRIP)
	}

	if res.Cause == abi.CauseGuard {
		e.tel.GuardFail()
	}
	return false, nil
}

// handoff completes an instruction which translated code could not.
func (e *Engine) handoff(kind abi.ExitKind, rip uint64) (bool, error) {
	switch kind {
	case abi.ExitHalt:
		e.cpu.RIP = rip
		return true, nil

	case abi.ExitIndirect, abi.ExitDecode:
		return e.interpretOne(rip)

	default:
		return false, nil
	}
}

// interpretOne executes the instruction at rip.
func (e *Engine) interpretOne(rip uint64) (halted bool, err error) {
	insn, err := trace.Fetch(e.fetcher(), rip)
	if err != nil {
		return false, xerrors.Errorf("tier: %w", err)
	}

	switch insn.Op {
	case decode.Ret:
		rsp := e.cpu.Regs[guest.RSP]
		e.cpu.RIP = e.mem.Load(rsp, 8)
		e.cpu.Regs[guest.RSP] = rsp + 8

	case decode.Hlt:
		e.cpu.RIP = insn.Next()
		return true, nil

	default:
		fn, err := trace.BuildFunction(e.fetcher(), e.env, rip, singleInsn)
		if err != nil {
			return false, xerrors.Errorf("tier: %w", err)
		}
		e.machine.RunBlocks(fn, fn.Entry, nil, 1)
	}

	return false, nil
}

var singleInsn = trace.Options{
	MaxInsns:  1,
	MaxBlocks: 1,
}

type hex uint64

func (x hex) String() string {
	return fmt.Sprintf("0x%x", uint64(x))
}
