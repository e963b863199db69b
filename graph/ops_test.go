// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/emberml/ember/types/shapes"
	"github.com/emberml/ember/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

// buildModule returns a module with two (Float32)[2 2] placeholders and an
// empty function, the scaffolding most op tests need.
func buildModule(t *testing.T) (*Module, *Function, *Node, *Node) {
	t.Helper()
	m := NewModule()
	a := m.NewPlaceholder("a", shapes.Make(dtypes.Float32, 2, 2))
	b := m.NewPlaceholder("b", shapes.Make(dtypes.Float32, 2, 2))
	fn := m.NewFunction("main")
	return m, fn, fn.Input(a), fn.Input(b)
}

func TestBinaryOps(t *testing.T) {
	_, fn, x, y := buildModule(t)
	for _, node := range []*Node{fn.Add(x, y), fn.Sub(x, y), fn.Mul(x, y), fn.Div(x, y), fn.Min(x, y), fn.Max(x, y)} {
		require.True(t, x.Shape().Equal(node.Shape()))
		require.Equal(t, []*Node{x, y}, node.Inputs())
		require.True(t, node.Kind().IsBinary())
	}
}

func TestUnaryOps(t *testing.T) {
	_, fn, x, _ := buildModule(t)
	for _, node := range []*Node{fn.Neg(x), fn.Abs(x), fn.Exp(x), fn.Sqrt(x), fn.Tanh(x), fn.Sigmoid(x), fn.Relu(x)} {
		require.True(t, x.Shape().Equal(node.Shape()))
		require.Equal(t, []*Node{x}, node.Inputs())
		require.True(t, node.Kind().IsUnary())
	}
}

func TestShapeMismatchPanics(t *testing.T) {
	m := NewModule()
	a := m.NewPlaceholder("a", shapes.Make(dtypes.Float32, 2, 2))
	b := m.NewPlaceholder("b", shapes.Make(dtypes.Float32, 2, 3))
	c := m.NewPlaceholder("c", shapes.Make(dtypes.Float64, 2, 2))
	fn := m.NewFunction("main")
	x, y, z := fn.Input(a), fn.Input(b), fn.Input(c)

	require.Panics(t, func() { fn.Add(x, y) })     // Different dimensions.
	require.Panics(t, func() { fn.Add(x, z) })     // Different dtypes.
	require.Panics(t, func() { fn.Add(x, nil) })   // Nil operand.
	require.NotPanics(t, func() { fn.Add(x, x) })  // Same node twice is fine.
}

func TestCrossFunctionPanics(t *testing.T) {
	m := NewModule()
	a := m.NewPlaceholder("a", shapes.Make(dtypes.Float32, 2))
	fn1 := m.NewFunction("f1")
	fn2 := m.NewFunction("f2")
	x1 := fn1.Input(a)
	x2 := fn2.Input(a)
	require.Panics(t, func() { fn1.Add(x1, x2) })

	// Placeholders from another module are rejected too.
	m2 := NewModule()
	b := m2.NewPlaceholder("b", shapes.Make(dtypes.Float32, 2))
	require.Panics(t, func() { fn1.Input(b) })
	require.Panics(t, func() { fn1.Save(x1, b) })
}

func TestMatMul(t *testing.T) {
	m := NewModule()
	a := m.NewPlaceholder("a", shapes.Make(dtypes.Float32, 2, 3))
	b := m.NewPlaceholder("b", shapes.Make(dtypes.Float32, 3, 5))
	fn := m.NewFunction("main")
	x, y := fn.Input(a), fn.Input(b)

	prod := fn.MatMul(x, y)
	require.True(t, shapes.Make(dtypes.Float32, 2, 5).Equal(prod.Shape()))

	require.Panics(t, func() { fn.MatMul(y, x) }) // Inner dimensions don't match.
	vec := fn.Input(m.NewPlaceholder("v", shapes.Make(dtypes.Float32, 3)))
	require.Panics(t, func() { fn.MatMul(x, vec) }) // Not rank-2.
	f64 := fn.Input(m.NewPlaceholder("w", shapes.Make(dtypes.Float64, 3, 5)))
	require.Panics(t, func() { fn.MatMul(x, f64) }) // Dtype mismatch.
}

func TestReshape(t *testing.T) {
	_, fn, x, _ := buildModule(t)
	flat := fn.Reshape(x, 4)
	require.True(t, shapes.Make(dtypes.Float32, 4).Equal(flat.Shape()))
	back := fn.Reshape(flat, 2, 2)
	require.True(t, x.Shape().Equal(back.Shape()))

	require.Panics(t, func() { fn.Reshape(x, 3) })    // Wrong size.
	require.Panics(t, func() { fn.Reshape(x, 2, 0) }) // Invalid dimension.
}

func TestConstant(t *testing.T) {
	m := NewModule()
	fn := m.NewFunction("main")
	value := tensors.FromValue([]float32{1, 2, 3})
	node := fn.Constant(value)
	require.Equal(t, OpKindConstant, node.Kind())
	require.True(t, value.Shape().Equal(node.Shape()))

	// The node holds a copy: mutating the original doesn't leak in.
	tensors.MutableFlatData(value, func(flat []float32) { flat[0] = 100 })
	require.Equal(t, []float32{1, 2, 3}, tensors.CopyFlatData[float32](node.ConstantValue()))

	require.Panics(t, func() { fn.Constant(nil) })
	require.Panics(t, func() { node.ConstantValue().Equal(nil) })
}

func TestSaveShapeChecks(t *testing.T) {
	m := NewModule()
	a := m.NewPlaceholder("a", shapes.Make(dtypes.Float32, 2, 2))
	narrow := m.NewPlaceholder("narrow", shapes.Make(dtypes.Float32, 4))
	fn := m.NewFunction("main")
	x := fn.Input(a)
	require.Panics(t, func() { fn.Save(x, narrow) }) // Shape mismatch.
	require.Panics(t, func() { fn.Save(x, nil) })

	// Saving back to an input placeholder is allowed (in-place update idiom).
	require.NotPanics(t, func() { fn.Save(fn.Neg(x), a) })
}

func TestReplaceAllUsesAndPrune(t *testing.T) {
	m := NewModule()
	a := m.NewPlaceholder("a", shapes.Make(dtypes.Float32, 2))
	b := m.NewPlaceholder("b", shapes.Make(dtypes.Float32, 2))
	out := m.NewPlaceholder("out", shapes.Make(dtypes.Float32, 2))
	fn := m.NewFunction("main")
	x, y := fn.Input(a), fn.Input(b)

	sum1 := fn.Add(x, y)
	sum2 := fn.Add(x, y) // Duplicate of sum1.
	save := fn.Save(sum2, out)

	fn.ReplaceAllUses(sum2, sum1)
	require.Equal(t, []*Node{sum1}, save.Inputs())

	fn.Prune()
	require.Equal(t, 4, fn.NumNodes()) // x, y, sum1, save.
	for id, node := range fn.Nodes() {
		require.Equal(t, NodeId(id), node.Id())
	}
	require.Equal(t, []*Placeholder{a, b}, fn.Inputs())
	require.Equal(t, []*Placeholder{out}, fn.Outputs())

	// Shape mismatches in replacement are rejected.
	flat := fn.Reshape(sum1, 1, 2)
	require.Panics(t, func() { fn.ReplaceAllUses(sum1, flat) })
}

func TestPruneDropsDeadInputs(t *testing.T) {
	m := NewModule()
	a := m.NewPlaceholder("a", shapes.Make(dtypes.Float32, 2))
	unused := m.NewPlaceholder("unused", shapes.Make(dtypes.Float32, 2))
	out := m.NewPlaceholder("out", shapes.Make(dtypes.Float32, 2))
	fn := m.NewFunction("main")
	x := fn.Input(a)
	fn.Input(unused) // Read but never contributes to an output.
	fn.Save(fn.Neg(x), out)

	fn.Prune()
	require.Equal(t, []*Placeholder{a}, fn.Inputs())
	require.Equal(t, 3, fn.NumNodes())
}

func TestStringRendering(t *testing.T) {
	m := NewModule()
	a := m.NewPlaceholder("a", shapes.Make(dtypes.Float32, 2))
	out := m.NewPlaceholder("out", shapes.Make(dtypes.Float32, 2))
	fn := m.NewFunction("main")
	fn.Save(fn.Neg(fn.Input(a)), out)

	require.Contains(t, fn.String(), `Function "main"`)
	require.Contains(t, fn.String(), "Neg")
	require.Contains(t, m.String(), "placeholder a")
	require.Contains(t, fn.Nodes()[0].String(), `Input("a")`)
}
