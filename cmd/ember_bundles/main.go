// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// ember_bundles saves, inspects and benchmarks network bundles.
//
// Examples:
//
//	ember_bundles -save /tmp/demo
//	ember_bundles -summary /tmp/demo
//	ember_bundles -bench /tmp/demo -backend vecgo -iterations 10000
//	ember_bundles -backends
package main

import (
	"flag"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/emberml/ember/backends"
	"github.com/emberml/ember/backends/bundle"
	"github.com/emberml/ember/engine"
	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/optimizer"
	"github.com/emberml/ember/types/shapes"
	"github.com/emberml/ember/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	_ "github.com/emberml/ember/backends/interpreter"
	_ "github.com/emberml/ember/backends/vecgo"
)

var (
	flagBackend = flag.String("backend", "", "Backend to compile with (interpreter, vecgo). "+
		"Defaults to the EMBER_BACKEND environment variable, or the interpreter.")
	flagName = flag.String("name", "demo_mlp", "Network name: bundles are written and read as "+
		"<name>.json plus <name>.weights.")

	flagSave    = flag.String("save", "", "Directory to write a bundle of the built-in demo network to.")
	flagSummary = flag.String("summary", "", "Directory holding a bundle to describe: prints its "+
		"placeholders, weights and program.")
	flagBench = flag.String("bench", "", "Directory holding a bundle written by -save: prints its header, "+
		"then benchmarks the built-in demo network with -iterations runs over a -batch sized batch.")
	flagBackends = flag.Bool("backends", false, "Lists the registered backends and what each supports.")

	flagIterations = flag.Int("iterations", 1000, "Number of runs for -bench.")
	flagBatch      = flag.Int("batch", 32, "Leading dimension of the synthetic inputs for -bench.")
)

func main() {
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'ember_bundles -help'.", flag.Args())
		os.Exit(1)
	}

	ran := false
	if *flagBackends {
		listBackends()
		ran = true
	}
	if *flagSave != "" {
		saveBundle(*flagSave)
		ran = true
	}
	if *flagSummary != "" {
		summarizeBundle(*flagSummary)
		ran = true
	}
	if *flagBench != "" {
		benchBundle(*flagBench)
		ran = true
	}
	if !ran {
		flag.Usage()
		os.Exit(1)
	}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("63"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func newEngine() *engine.Engine {
	if *flagBackend == "" {
		return must.M1(engine.NewDefault())
	}
	kind := must.M1(backends.KindFromName(*flagBackend))
	return must.M1(engine.New(kind))
}

// buildDemoNetwork builds the demo MLP, out = relu(x@w1 + b1)@w2 + b2, with
// deterministic weights.
func buildDemoNetwork(m *graph.Module) (fn *graph.Function, x, y *graph.Placeholder) {
	x = m.NewPlaceholder("x", shapes.Make(dtypes.Float32, 1, 4))
	y = m.NewPlaceholder("y", shapes.Make(dtypes.Float32, 1, 2))
	fn = m.NewFunction("demo_mlp")
	w1 := fn.Constant(patternTensor(0.25, 4, 8))
	b1 := fn.Constant(patternTensor(0.5, 1, 8))
	w2 := fn.Constant(patternTensor(-0.125, 8, 2))
	b2 := fn.Constant(patternTensor(1, 1, 2))
	hidden := fn.Relu(fn.Add(fn.MatMul(fn.Input(x), w1), b1))
	fn.Save(fn.Add(fn.MatMul(hidden, w2), b2), y)
	return
}

// patternTensor fills a float32 tensor with a small deterministic ramp, so
// saved bundles are reproducible.
func patternTensor(step float32, dimensions ...int) *tensors.Tensor {
	size := 1
	for _, dim := range dimensions {
		size *= dim
	}
	flat := make([]float32, size)
	for i := range flat {
		flat[i] = step * float32(i%7-3)
	}
	return tensors.FromFlatDataAndDimensions(flat, dimensions...)
}

func saveBundle(dir string) {
	e := newEngine()
	defer e.Finalize()
	fn, _, _ := buildDemoNetwork(e.Module())

	start := time.Now()
	must.M(e.Save(optimizer.Inference, fn, dir, *flagName))

	fmt.Println(titleStyle.Render("Saved"))
	table := newPlainTable(false)
	table.Row("backend", e.Backend().Name())
	table.Row("network", *flagName)
	for _, suffix := range []string{bundle.MetadataSuffix, bundle.WeightsSuffix} {
		filePath := filepath.Join(dir, *flagName+suffix)
		info := must.M1(os.Stat(filePath))
		table.Row(filePath, humanize.Bytes(uint64(info.Size())))
	}
	table.Row("elapsed", time.Since(start).String())
	fmt.Println(table.Render())
}

func summarizeBundle(dir string) {
	b := must.M1(bundle.Read(dir, *flagName))

	fmt.Println(titleStyle.Render("Bundle"))
	table := newPlainTable(false)
	table.Row("directory", dir)
	table.Row("network", *flagName)
	table.Row("backend", b.Metadata.Backend)
	table.Row("function", b.Metadata.Function)
	for _, key := range slices.Sorted(maps.Keys(b.Metadata.Extras)) {
		table.Row("extras."+key, b.Metadata.Extras[key])
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Placeholders"))
	placeholderTable := newPlainTable(true)
	placeholderTable.Row("Direction", "Name", "Shape")
	for _, info := range b.Metadata.Inputs {
		placeholderTable.Row("input", info.Name, info.Shape().String())
	}
	for _, info := range b.Metadata.Outputs {
		placeholderTable.Row("output", info.Name, info.Shape().String())
	}
	fmt.Println(placeholderTable.Render())

	fmt.Println(titleStyle.Render("Weights"))
	weightsTable := newPlainTable(true)
	weightsTable.Row("Name", "Shape", "Size", "Bytes")
	var totalBytes uint64
	for _, w := range b.Weights {
		shape := w.Tensor.Shape()
		weightsTable.Row(w.Name, shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())))
		totalBytes += uint64(shape.Memory())
	}
	weightsTable.Row("total", "", "", humanize.Bytes(totalBytes))
	fmt.Println(weightsTable.Render())

	fmt.Println(titleStyle.Render("Program"))
	programTable := newPlainTable(false)
	for i, line := range b.Metadata.Program {
		programTable.Row(fmt.Sprintf("#%d", i), line)
	}
	fmt.Println(programTable.Render())
}

func benchBundle(dir string) {
	b := must.M1(bundle.Read(dir, *flagName))

	e := newEngine()
	defer e.Finalize()
	fn, x, _ := buildDemoNetwork(e.Module())
	if b.Metadata.Function != fn.Name() {
		klog.Warningf("Bundle at %s holds %q; the benchmark always runs the built-in %q.",
			dir, b.Metadata.Function, fn.Name())
	}

	start := time.Now()
	must.M(e.Compile(optimizer.Inference, fn, true))
	compileTime := time.Since(start)

	samples := patternTensor(0.125, *flagBatch, 1, 4)
	ctx := graph.NewContext()
	phs := []*graph.Placeholder{x}
	inputs := []*tensors.Tensor{samples}

	bar := progressbar.NewOptions(*flagIterations,
		progressbar.OptionSetDescription(fmt.Sprintf("Benchmarking %q: ", fn.Name())),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode))
	counter := 0
	start = time.Now()
	for range *flagIterations {
		must.M(engine.RunBatch(e, ctx, 1, &counter, phs, inputs))
		_ = bar.Add(1)
	}
	elapsed := time.Since(start)
	_ = bar.Finish()
	fmt.Println()

	fmt.Println(titleStyle.Render("Benchmark"))
	table := newPlainTable(false)
	table.Row("backend", e.Backend().Name())
	table.Row("iterations", humanize.Comma(int64(*flagIterations)))
	table.Row("batch size", humanize.Comma(int64(*flagBatch)))
	table.Row("compile time", compileTime.String())
	table.Row("total time", elapsed.String())
	table.Row("runs/sec", humanize.CommafWithDigits(float64(*flagIterations)/elapsed.Seconds(), 1))
	fmt.Println(table.Render())
}

func listBackends() {
	fmt.Println(titleStyle.Render("Backends"))
	overview := newPlainTable(true)
	overview.Row("Kind", "Name", "Description")
	for _, kind := range backends.Registered() {
		b := must.M1(backends.New(kind))
		overview.Row(kind.String(), b.Name(), b.Description())
		b.Finalize()
	}
	fmt.Println(overview.Render())

	for _, kind := range backends.Registered() {
		b := must.M1(backends.New(kind))
		caps := b.Capabilities()
		dts := make([]dtypes.DType, 0, len(caps.DTypes))
		for dtype, ok := range caps.DTypes {
			if ok {
				dts = append(dts, dtype)
			}
		}
		slices.SortFunc(dts, func(a, b dtypes.DType) int { return int(a) - int(b) })

		fmt.Println(titleStyle.Render(fmt.Sprintf("Capabilities: %s", b.Name())))
		table := newPlainTable(true)
		header := make([]string, 1, 1+len(dts))
		header[0] = "Operation"
		for _, dtype := range dts {
			header = append(header, dtype.String())
		}
		table.Row(header...)
		for _, op := range graph.OpKinds() {
			row := make([]string, 1, 1+len(dts))
			row[0] = op.String()
			for _, dtype := range dts {
				if b.IsOpSupported(op, dtype) {
					row = append(row, "✓")
				} else {
					row = append(row, "")
				}
			}
			table.Row(row...)
		}
		fmt.Println(table.Render())
		b.Finalize()
	}
}
