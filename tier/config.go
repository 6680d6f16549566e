// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tier

import (
	"encoding/json"
	"io"

	"gate.computer/xlate/codegen"
	"gate.computer/xlate/tier/event"
	"gate.computer/xlate/trace"
	"gate.computer/xlate/wasmrt"
	"golang.org/x/xerrors"
)

// Config of an engine.  Zero numeric fields are replaced with defaults.
type Config struct {
	Tier1Threshold    uint64 `json:"tier1_threshold"`
	Tier2Threshold    uint64 `json:"tier2_threshold"`
	MaxRegionBlocks   int    `json:"max_region_blocks"`
	MaxTraceInsns     int    `json:"max_trace_insns"`
	MaxSteps          int    `json:"max_steps"` // Blocks per region entry.
	MaxIters          int    `json:"max_iters"` // Loop passes per trace call.
	CodeCacheCapacity int    `json:"code_cache_capacity"`
	MaxModuleSize     int    `json:"max_module_size"`
	DisableTier2      bool   `json:"disable_tier2"`

	Runtime wasmrt.Config `json:"runtime"`

	EventHandler event.Handler `json:"-"`
}

var DefaultConfig = Config{
	Tier1Threshold:    10,
	Tier2Threshold:    1000,
	MaxRegionBlocks:   32,
	MaxTraceInsns:     256,
	MaxSteps:          1024,
	MaxIters:          4096,
	CodeCacheCapacity: 256 * 1024 * 1024,
	MaxModuleSize:     1024 * 1024,
}

func (cfg Config) withDefaults() Config {
	d := DefaultConfig

	if cfg.Tier1Threshold == 0 {
		cfg.Tier1Threshold = d.Tier1Threshold
	}
	if cfg.Tier2Threshold == 0 {
		cfg.Tier2Threshold = d.Tier2Threshold
	}
	if cfg.MaxRegionBlocks <= 0 {
		cfg.MaxRegionBlocks = d.MaxRegionBlocks
	}
	if cfg.MaxTraceInsns <= 0 {
		cfg.MaxTraceInsns = d.MaxTraceInsns
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = d.MaxSteps
	}
	if cfg.MaxIters <= 0 {
		cfg.MaxIters = d.MaxIters
	}
	if cfg.CodeCacheCapacity <= 0 {
		cfg.CodeCacheCapacity = d.CodeCacheCapacity
	}
	if cfg.MaxModuleSize <= 0 {
		cfg.MaxModuleSize = d.MaxModuleSize
	}
	return cfg
}

// LoadConfig decodes JSON on top of the defaults.  Unknown fields are
// rejected.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, xerrors.Errorf("tier config: %w", err)
	}
	return cfg, nil
}

func (cfg Config) traceOptions() trace.Options {
	opts := trace.DefaultOptions
	opts.MaxInsns = cfg.MaxTraceInsns
	opts.MaxBlocks = cfg.MaxRegionBlocks
	return opts
}

func (cfg Config) codegenOptions() codegen.Options {
	return codegen.Options{
		MaxModuleSize: cfg.MaxModuleSize,
		MaxIters:      cfg.MaxIters,
	}
}
