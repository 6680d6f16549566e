// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"os"

	"gate.computer/xlate/codegen"
	"gate.computer/xlate/opt"
	"gate.computer/xlate/telemetry"
	"gate.computer/xlate/trace"
	"gate.computer/xlate/wasm/validate"
	"github.com/spf13/cobra"
)

func traceCommand() *cobra.Command {
	var (
		opts    = trace.DefaultOptions
		output  string
		noOpt   bool
		maxSize = codegen.DefaultOptions.MaxModuleSize
	)

	cmd := &cobra.Command{
		Use:   "trace FILE",
		Short: "Build, optimize and compile a trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := load(args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()

			t, err := trace.Build(img.mem, img.env, img.cpu.RIP, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "; %d instructions\n%s\n", t.Insns, t)

			tel := telemetry.New()
			plan := opt.DefaultOptions.RegAlloc(t)
			if !noOpt {
				plan = opt.Optimize(t, tel)
				fmt.Fprintf(w, "; optimized\n%s\n", t)
			}
			fmt.Fprintf(w, "; %s\n", plan)
			if sites := t.GuardSites(); len(sites) > 0 {
				fmt.Fprint(w, "; guard exits:")
				for _, rip := range sites {
					fmt.Fprintf(w, " 0x%x", rip)
				}
				fmt.Fprintln(w)
			}

			bin, err := codegen.Options{MaxModuleSize: maxSize}.Compile(t, plan)
			if err != nil {
				return err
			}

			info, err := validate.Module(bytes.NewReader(bin), validate.Options{Strict: true})
			if err != nil {
				return err
			}

			fmt.Fprintf(w, "; module: %d bytes, %d types\n", len(bin), len(info.Types))
			for _, imp := range info.Imports {
				if imp.Memory {
					fmt.Fprintf(w, ";   import %s.%s memory\n", imp.Module, imp.Name)
				} else {
					fmt.Fprintf(w, ";   import %s.%s %s\n", imp.Module, imp.Name, imp.Type)
				}
			}

			totals := tel.Snapshot()
			fmt.Fprint(w, "; passes:")
			for p := telemetry.Pass(0); p < telemetry.NumPasses; p++ {
				fmt.Fprintf(w, " %s %dns", p, totals.PassNanos(p))
			}
			fmt.Fprintln(w)

			if output != "" {
				return os.WriteFile(output, bin, 0o644)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.MaxInsns, "max-insns", opts.MaxInsns, "guest instructions per trace")
	flags.BoolVar(&noOpt, "no-opt", false, "skip the optimization passes")
	flags.IntVar(&maxSize, "max-module-size", maxSize, "encoded module size limit")
	flags.StringVar(&output, "wasm", "", "write the module to a file")
	return cmd
}
