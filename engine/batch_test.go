package engine_test

import (
	"testing"

	"github.com/emberml/ember/engine"
	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/optimizer"
	"github.com/emberml/ember/types/shapes"
	"github.com/emberml/ember/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestUpdateInputPlaceholders(t *testing.T) {
	m := graph.NewModule()
	a := m.NewPlaceholder("a", shapes.Make(dtypes.Float32, 2))
	b := m.NewPlaceholder("b", shapes.Make(dtypes.Int32, 3))
	phs := []*graph.Placeholder{a, b}

	ta := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)
	tb := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3}, 3)

	ctx := graph.NewContext()
	require.NoError(t, engine.UpdateInputPlaceholders(ctx, phs, []*tensors.Tensor{ta, tb}))
	require.Same(t, ta, ctx.Get(a))
	require.Same(t, tb, ctx.Get(b))

	// All-or-nothing: a bad second pair leaves the first unbound too.
	fresh := graph.NewContext()
	wrongShape := tensors.FromFlatDataAndDimensions([]int32{1, 2}, 2)
	err := engine.UpdateInputPlaceholders(fresh, phs, []*tensors.Tensor{ta, wrongShape})
	require.ErrorIs(t, err, graph.ErrShapeMismatch)
	require.Zero(t, fresh.Len())

	// Dtype mismatch is a shape mismatch: no implicit casting.
	wrongDType := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)
	err = engine.UpdateInputPlaceholders(fresh, phs, []*tensors.Tensor{ta, wrongDType})
	require.ErrorIs(t, err, graph.ErrShapeMismatch)
	require.Zero(t, fresh.Len())

	err = engine.UpdateInputPlaceholders(fresh, phs, []*tensors.Tensor{ta})
	require.ErrorContains(t, err, "2 placeholders but 1 tensors")
	require.Zero(t, fresh.Len())

	err = engine.UpdateInputPlaceholders(fresh, phs, []*tensors.Tensor{ta, nil})
	require.ErrorContains(t, err, "nil or invalid")
	require.Zero(t, fresh.Len())
}

func TestUpdateInputPlaceholdersByName(t *testing.T) {
	m := graph.NewModule()
	m.NewPlaceholder("left", shapes.Make(dtypes.Float64, 2))
	m.NewPlaceholder("right", shapes.Make(dtypes.Float64, 2))

	tl := tensors.FromFlatDataAndDimensions([]float64{1, 2}, 2)
	tr := tensors.FromFlatDataAndDimensions([]float64{3, 4}, 2)

	ctx := graph.NewContext()
	require.NoError(t, engine.UpdateInputPlaceholdersByName(ctx, m,
		[]string{"left", "right"}, []*tensors.Tensor{tl, tr}))
	require.Same(t, tl, ctx.Get(m.PlaceholderByName("left")))
	require.Same(t, tr, ctx.Get(m.PlaceholderByName("right")))

	err := engine.UpdateInputPlaceholdersByName(ctx, m,
		[]string{"left", "missing"}, []*tensors.Tensor{tl, tr})
	require.ErrorContains(t, err, `no placeholder "missing"`)
}

// batchEngine compiles y = x over a spy backend, so the test can observe the
// exact sample fed at every iteration.
func batchEngine(t *testing.T) (*engine.Engine, *spyFunction, *graph.Placeholder) {
	t.Helper()
	e, spy := spyEngine(t)
	m := e.Module()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Float32, 2))
	y := m.NewPlaceholder("y", shapes.Make(dtypes.Float32, 2))
	fn := m.NewFunction("consume")
	fn.Save(fn.Input(x), y)
	require.NoError(t, e.Compile(optimizer.Inference, fn, false))
	return e, spy.compiled[0], x
}

// TestRunBatch walks a 4 sample batch for 10 iterations and then resumes for
// 3 more with the same counter: the offsets must be one uninterrupted
// wrapping sequence.
func TestRunBatch(t *testing.T) {
	e, cf, x := batchEngine(t)
	defer e.Finalize()

	// Row i holds [i, 10*i], so the sample identifies its offset.
	batch := tensors.FromFlatDataAndDimensions([]float32{
		0, 0,
		1, 10,
		2, 20,
		3, 30,
	}, 4, 2)

	ctx := graph.NewContext()
	counter := 0
	phs := []*graph.Placeholder{x}
	inputs := []*tensors.Tensor{batch}

	require.NoError(t, engine.RunBatch(e, ctx, 10, &counter, phs, inputs))
	require.Equal(t, 10, counter)
	require.Len(t, cf.executed, 10)
	for i, offset := range []int{0, 1, 2, 3, 0, 1, 2, 3, 0, 1} {
		require.Equal(t, []float32{float32(offset), float32(10 * offset)},
			tensors.CopyFlatData[float32](cf.executed[i][0]), "iteration %d", i)
	}

	require.NoError(t, engine.RunBatch(e, ctx, 3, &counter, phs, inputs))
	require.Equal(t, 13, counter)
	require.Len(t, cf.executed, 13)
	for i, offset := range []int{2, 3, 0} {
		require.Equal(t, []float32{float32(offset), float32(10 * offset)},
			tensors.CopyFlatData[float32](cf.executed[10+i][0]), "resumed iteration %d", i)
	}
}

func TestRunBatchMultipleInputs(t *testing.T) {
	e, spy := spyEngine(t)
	defer e.Finalize()
	m := e.Module()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Float32, 2))
	w := m.NewPlaceholder("w", shapes.Make(dtypes.Float32))
	y := m.NewPlaceholder("y", shapes.Make(dtypes.Float32, 2))
	yw := m.NewPlaceholder("yw", shapes.Make(dtypes.Float32))
	fn := m.NewFunction("weighted")
	fn.Save(fn.Input(x), y)
	fn.Save(fn.Input(w), yw)
	require.NoError(t, e.Compile(optimizer.Inference, fn, false))
	cf := spy.compiled[0]

	xs := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	ws := tensors.FromFlatDataAndDimensions([]float32{10, 20, 30}, 3)

	ctx := graph.NewContext()
	counter := 0
	require.NoError(t, engine.RunBatch(e, ctx, 4, &counter,
		[]*graph.Placeholder{x, w}, []*tensors.Tensor{xs, ws}))
	require.Len(t, cf.executed, 4)

	// Both inputs walk in lockstep and wrap together.
	require.Equal(t, []float32{1, 2}, tensors.CopyFlatData[float32](cf.executed[0][0]))
	require.Equal(t, []float32{10}, tensors.CopyFlatData[float32](cf.executed[0][1]))
	require.Equal(t, []float32{5, 6}, tensors.CopyFlatData[float32](cf.executed[2][0]))
	require.Equal(t, []float32{30}, tensors.CopyFlatData[float32](cf.executed[2][1]))
	require.Equal(t, []float32{1, 2}, tensors.CopyFlatData[float32](cf.executed[3][0]))
	require.Equal(t, []float32{10}, tensors.CopyFlatData[float32](cf.executed[3][1]))
}

func TestRunBatchValidation(t *testing.T) {
	e, _, x := batchEngine(t)
	defer e.Finalize()
	ctx := graph.NewContext()
	counter := 5
	phs := []*graph.Placeholder{x}
	batch := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)

	err := engine.RunBatch(e, ctx, 1, nil, phs, []*tensors.Tensor{batch})
	require.ErrorContains(t, err, "sampleCounter is nil")

	err = engine.RunBatch(e, ctx, 1, &counter, phs, nil)
	require.ErrorContains(t, err, "1 placeholders but 0 batched tensors")

	err = engine.RunBatch(e, ctx, 1, &counter, nil, nil)
	require.ErrorContains(t, err, "no batched inputs")

	scalar := tensors.FromScalar(float32(7))
	err = engine.RunBatch(e, ctx, 1, &counter, phs, []*tensors.Tensor{scalar})
	require.ErrorContains(t, err, "needs a batch axis")

	// Sample shape must equal the placeholder shape.
	wide := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	err = engine.RunBatch(e, ctx, 1, &counter, phs, []*tensors.Tensor{wide})
	require.ErrorIs(t, err, graph.ErrShapeMismatch)

	require.Equal(t, 5, counter, "validation failures must not advance the counter")
}

func TestRunBatchMismatchedLeadingDims(t *testing.T) {
	e, spy := spyEngine(t)
	defer e.Finalize()
	m := e.Module()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Float32, 2))
	w := m.NewPlaceholder("w", shapes.Make(dtypes.Float32))
	y := m.NewPlaceholder("y", shapes.Make(dtypes.Float32, 2))
	yw := m.NewPlaceholder("yw", shapes.Make(dtypes.Float32))
	fn := m.NewFunction("weighted")
	fn.Save(fn.Input(x), y)
	fn.Save(fn.Input(w), yw)
	require.NoError(t, e.Compile(optimizer.Inference, fn, false))

	xs := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	ws := tensors.FromFlatDataAndDimensions([]float32{10, 20, 30}, 3)

	counter := 0
	err := engine.RunBatch(e, graph.NewContext(), 1, &counter,
		[]*graph.Placeholder{x, w}, []*tensors.Tensor{xs, ws})
	require.ErrorContains(t, err, "leading dimension")
	require.Zero(t, counter)
	require.Empty(t, spy.compiled[0].executed)
}

func TestRunBatchFailedIteration(t *testing.T) {
	e, _ := spyEngine(t)
	defer e.Finalize()
	x := e.Module().NewPlaceholder("x", shapes.Make(dtypes.Float32, 2))

	// Nothing compiled: iteration 0 fails and the counter must not move.
	counter := 7
	batch := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	err := engine.RunBatch(e, graph.NewContext(), 3, &counter,
		[]*graph.Placeholder{x}, []*tensors.Tensor{batch})
	require.ErrorIs(t, err, engine.ErrNoCompiledFunction)
	require.Equal(t, 7, counter)
}
