// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"gate.computer/xlate/guest"
	"gate.computer/xlate/internal/log"
	"gate.computer/xlate/telemetry"
	"gate.computer/xlate/telemetry/dashboard"
	"gate.computer/xlate/tier"
	"gate.computer/xlate/tier/event"
	"gate.computer/xlate/wasmrt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

var engineNames = map[string]wasmrt.Engine{
	"auto":        wasmrt.EngineAuto,
	"compiler":    wasmrt.EngineCompiler,
	"interpreter": wasmrt.EngineInterpreter,
}

func runCommand() *cobra.Command {
	var (
		budget     = 1000000
		sets       []string
		configFile string
		engine     = "auto"
		noTier2    bool
		serve      string
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute the code with the tier engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := tier.DefaultConfig
			if configFile != "" {
				f, err := os.Open(configFile)
				if err != nil {
					return err
				}
				cfg, err = tier.LoadConfig(f)
				f.Close()
				if err != nil {
					return err
				}
			}

			if cmd.Flags().Changed("engine") {
				e, found := engineNames[engine]
				if !found {
					return xerrors.Errorf("unknown engine: %s", engine)
				}
				cfg.Runtime.Engine = e
			}
			if noTier2 {
				cfg.DisableTier2 = true
			}
			cfg.EventHandler = func(ev event.Event, rip uint64) {
				log.Debug(log.Frontend, ev.String(), "rip", fmt.Sprintf("0x%x", rip))
			}

			img, err := load(args[0])
			if err != nil {
				return err
			}
			if err := setRegs(img.cpu, sets); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			tel := telemetry.New()

			e, err := tier.New(ctx, cfg, img.cpu, img.mem, img.env, tel)
			if err != nil {
				return err
			}
			defer e.Close(context.Background())

			exit, runErr := e.Run(ctx, budget)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s after %d steps at 0x%x\n", exit.Reason, exit.Steps, exit.RIP)
			fmt.Fprint(w, img.cpu)
			fmt.Fprintf(w, "regcache: %s\n", e.Stats())

			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(tel.Snapshot()); err != nil {
				return err
			}

			if runErr != nil {
				return runErr
			}

			if serve != "" {
				return serveTelemetry(ctx, serve, tel)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&budget, "budget", budget, "maximum number of dispatches")
	flags.StringArrayVar(&sets, "set", nil, "initial register value (reg=value)")
	flags.StringVar(&configFile, "config", "", "tier engine configuration JSON file")
	flags.StringVar(&engine, "engine", engine, "wasm engine: auto, compiler or interpreter")
	flags.BoolVar(&noTier2, "no-tier2", false, "run without compiled traces")
	flags.StringVar(&serve, "serve", "", "serve /metrics and /ws at an address after the run")
	return cmd
}

func setRegs(cpu *guest.State, sets []string) error {
	for _, s := range sets {
		name, value, ok := strings.Cut(s, "=")
		if !ok {
			return xerrors.Errorf("register assignment without value: %s", s)
		}

		r, found := guest.ParseReg(name)
		if !found {
			return xerrors.Errorf("unknown register: %s", name)
		}

		x, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return xerrors.Errorf("register %s: %w", name, err)
		}

		cpu.Regs[r] = x
	}
	return nil
}

func serveTelemetry(ctx context.Context, addr string, tel *telemetry.Telemetry) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(telemetry.NewCollector(tel, "", prometheus.Labels{"vcpu": "0"})); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/ws", dashboard.New(tel))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Info(log.Frontend, "serving telemetry", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
