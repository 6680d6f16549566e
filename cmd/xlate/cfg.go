// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"

	"gate.computer/xlate/ir"
	"gate.computer/xlate/trace"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
)

func cfgCommand() *cobra.Command {
	var (
		options = trace.DefaultOptions
		html    string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "cfg FILE",
		Short: "Discover the basic-block region at the entry address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := load(args[0])
			if err != nil {
				return err
			}

			fn, err := trace.BuildFunction(img.mem, img.env, img.cpu.RIP, options)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if verbose {
				fmt.Fprintln(w, fn)
			}
			fmt.Fprint(w, blockTree(fn).String())

			if html != "" {
				return writeGraph(html, fn)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&options.MaxBlocks, "max-blocks", options.MaxBlocks, "blocks per region")
	flags.IntVar(&options.MaxInsns, "max-insns", options.MaxInsns, "guest instructions per block")
	flags.BoolVarP(&verbose, "verbose", "v", false, "print the IR of every block")
	flags.StringVar(&html, "html", "", "write an interactive graph to a file")
	return cmd
}

func blockLabel(b *ir.Block) string {
	return fmt.Sprintf("b%d 0x%x-0x%x (%d instrs)", b.ID, b.RIP, b.End, len(b.Instrs))
}

// successors of a block within the function.  Terminators which leave the
// function are described by exit.
func successors(b *ir.Block) (ids []ir.BlockID, exit string) {
	switch t := b.Term.(type) {
	case ir.Jump:
		return []ir.BlockID{t.Target}, ""

	case ir.Branch:
		return []ir.BlockID{t.Then, t.Else}, ""

	default:
		return nil, t.String()
	}
}

// blockTree is a depth-first spanning tree of the region.  Edges to blocks
// which have already been printed are shown as references.
func blockTree(fn *ir.Function) treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("region with %d blocks, %d values", len(fn.Blocks), fn.NumValues))

	seen := make(map[ir.BlockID]bool)

	var visit func(parent treeprint.Tree, id ir.BlockID)
	visit = func(parent treeprint.Tree, id ir.BlockID) {
		b := fn.Block(id)
		if seen[id] {
			parent.AddNode(fmt.Sprintf("-> b%d", id))
			return
		}
		seen[id] = true

		ids, exit := successors(b)
		if len(ids) == 0 {
			parent.AddMetaNode(exit, blockLabel(b))
			return
		}

		branch := parent.AddBranch(blockLabel(b))
		for _, next := range ids {
			visit(branch, next)
		}
	}

	visit(tree, fn.Entry)
	return tree
}

func writeGraph(filename string, fn *ir.Function) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := renderGraph(f, fn); err != nil {
		return err
	}
	return f.Close()
}

func renderGraph(w io.Writer, fn *ir.Function) error {
	var (
		nodes = make([]opts.GraphNode, 0, len(fn.Blocks))
		links []opts.GraphLink
	)

	for _, b := range fn.Blocks {
		color := "steelblue"
		if b.ID == fn.Entry {
			color = "green"
		}

		ids, _ := successors(b)
		if len(ids) == 0 {
			color = "red"
		}

		nodes = append(nodes, opts.GraphNode{
			Name:  fmt.Sprintf("b%d", b.ID),
			Value: float32(len(b.Instrs)),
			Tooltip: &opts.Tooltip{
				Show:      opts.Bool(true),
				Formatter: types.FuncStr(fmt.Sprintf("%s<br>%s", blockLabel(b), b.Term)),
			},
			ItemStyle: &opts.ItemStyle{
				Color: color,
			},
		})

		for _, next := range ids {
			links = append(links, opts.GraphLink{
				Source: fmt.Sprintf("b%d", b.ID),
				Target: fmt.Sprintf("b%d", next),
			})
		}
	}

	graph := charts.NewGraph()
	graph.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Basic-block region",
			Subtitle: fmt.Sprintf("entry 0x%x", fn.Block(fn.Entry).RIP),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	graph.AddSeries("region", nodes, links).SetSeriesOptions(
		charts.WithGraphChartOpts(opts.GraphChart{
			Force:  &opts.GraphForce{Repulsion: 1000, Gravity: 0.3},
			Layout: "force",
			Roam:   opts.Bool(true),
		}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "right", Formatter: "{b}"}),
	)

	page := components.NewPage()
	page.AddCharts(graph)
	return page.Render(w)
}
