// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Program xlate inspects and runs raw x86-64 machine code with the tiered
// translator.
package main

import (
	"fmt"
	"os"

	"gate.computer/xlate/guest"
	"gate.computer/xlate/internal/log"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

// Loaded program image.
type image struct {
	cpu *guest.State
	mem *guest.Flat
	env *guest.Env
	end uint64
}

var (
	logLevel = "warn"
	loadBase = uint64(0x1000)
	entryRIP uint64
	memSize  = 16 << 20
)

func rip() uint64 {
	if entryRIP != 0 {
		return entryRIP
	}
	return loadBase
}

// load a raw code file at the load base of a flat memory starting at 0.
func load(filename string) (*image, error) {
	code, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if loadBase+uint64(len(code)) > uint64(memSize) {
		return nil, xerrors.Errorf("%s does not fit in %d bytes of memory at 0x%x", filename, memSize, loadBase)
	}

	env := guest.NewEnv()
	img := &image{
		cpu: &guest.State{RIP: rip()},
		mem: guest.NewFlat(0, memSize, env),
		env: env,
		end: loadBase + uint64(len(code)),
	}
	img.mem.Write(loadBase, code)
	img.cpu.Regs[guest.RSP] = uint64(memSize)
	return img, nil
}

func main() {
	root := &cobra.Command{
		Use:           "xlate",
		Short:         "Tiered x86-64 to WebAssembly translator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.Init(os.Stderr, logLevel)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", logLevel, "trace, debug, info, warn or error")
	flags.Uint64Var(&loadBase, "base", loadBase, "load address of the code file")
	flags.Uint64Var(&entryRIP, "rip", 0, "entry address (default is the load address)")
	flags.IntVar(&memSize, "mem-size", memSize, "guest memory size in bytes")

	root.AddCommand(
		decodeCommand(),
		traceCommand(),
		cfgCommand(),
		runCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "xlate:", err)
		os.Exit(1)
	}
}
