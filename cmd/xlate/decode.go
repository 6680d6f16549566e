// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"

	"gate.computer/xlate/decode"
	"gate.computer/xlate/trace"
	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"
)

func decodeCommand() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "decode FILE",
		Short: "Disassemble instructions linearly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := load(args[0])
			if err != nil {
				return err
			}
			return disassemble(cmd.OutOrStdout(), img, count)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "maximum number of instructions (default is until end of file)")
	return cmd
}

// disassemble prints the decoder's reading of each instruction next to the
// x86asm reference.  It stops at the first instruction the decoder rejects.
func disassemble(w io.Writer, img *image, count int) error {
	for pc, n := img.cpu.RIP, 0; pc < img.end && (count <= 0 || n < count); n++ {
		var window [decode.MaxInsnLen]byte
		k := img.mem.Fetch(pc, window[:])

		ref := "(bad)"
		if inst, err := x86asm.Decode(window[:k], 64); err == nil {
			ref = x86asm.IntelSyntax(inst, pc, nil)
		}

		insn, err := trace.Fetch(img.mem, pc)
		if err != nil {
			fmt.Fprintf(w, "%8x:  %-30s  %s\n", pc, err, ref)
			return err
		}

		fmt.Fprintf(w, "%8x:  %-20x  %-30s  %s\n", pc, window[:insn.Len], insn, ref)
		pc = insn.Next()
	}
	return nil
}
