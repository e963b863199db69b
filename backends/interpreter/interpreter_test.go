package interpreter

import (
	"testing"

	"github.com/emberml/ember/backends"
	"github.com/emberml/ember/backends/bundle"
	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/types/shapes"
	"github.com/emberml/ember/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestRegistered(t *testing.T) {
	b, err := backends.New(backends.KindInterpreter)
	require.NoError(t, err)
	require.Equal(t, backends.KindInterpreter, b.Kind())
	require.Equal(t, "interpreter", b.Name())
}

func TestIdentity(t *testing.T) {
	m := graph.NewModule()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Float32, 3))
	y := m.NewPlaceholder("y", shapes.Make(dtypes.Float32, 3))
	fn := m.NewFunction("identity")
	fn.Save(fn.Input(x), y)

	exe, err := New().Compile(fn)
	require.NoError(t, err)
	require.Equal(t, "identity", exe.Name())
	require.Equal(t, []*graph.Placeholder{x}, exe.Inputs())
	require.Equal(t, []*graph.Placeholder{y}, exe.Outputs())

	input := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)
	outputs, err := exe.Execute([]*tensors.Tensor{input})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, []float32{1, 2, 3}, tensors.CopyFlatData[float32](outputs[0]))
	require.NotSame(t, input, outputs[0]) // Outputs never alias inputs.
}

func TestAddConstant(t *testing.T) {
	m := graph.NewModule()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Float64, 2))
	y := m.NewPlaceholder("y", shapes.Make(dtypes.Float64, 2))
	fn := m.NewFunction("add_bias")
	bias := fn.Constant(tensors.FromFlatDataAndDimensions([]float64{10, 20}, 2))
	fn.Save(fn.Add(fn.Input(x), bias), y)

	exe, err := New().Compile(fn)
	require.NoError(t, err)
	outputs, err := exe.Execute([]*tensors.Tensor{
		tensors.FromFlatDataAndDimensions([]float64{1, 2}, 2)})
	require.NoError(t, err)
	require.Equal(t, []float64{11, 22}, tensors.CopyFlatData[float64](outputs[0]))
}

// TestMLP runs a two layer perceptron with closed-form values:
// out = relu(x @ w1 + b1) @ w2 + b2.
func TestMLP(t *testing.T) {
	m := graph.NewModule()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Float32, 1, 2))
	out := m.NewPlaceholder("out", shapes.Make(dtypes.Float32, 1, 1))
	fn := m.NewFunction("mlp")

	w1 := fn.Constant(tensors.FromFlatDataAndDimensions([]float32{1, 0, 0, -1}, 2, 2))
	b1 := fn.Constant(tensors.FromFlatDataAndDimensions([]float32{0.5, 0.5}, 1, 2))
	w2 := fn.Constant(tensors.FromFlatDataAndDimensions([]float32{2, 3}, 2, 1))
	b2 := fn.Constant(tensors.FromFlatDataAndDimensions([]float32{1}, 1, 1))

	hidden := fn.Relu(fn.Add(fn.MatMul(fn.Input(x), w1), b1))
	fn.Save(fn.Add(fn.MatMul(hidden, w2), b2), out)

	exe, err := New().Compile(fn)
	require.NoError(t, err)
	outputs, err := exe.Execute([]*tensors.Tensor{
		tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2)})
	require.NoError(t, err)
	// x@w1 = [1,-2]; +b1 = [1.5,-1.5]; relu = [1.5,0]; @w2 = [3]; +b2 = [4].
	require.Equal(t, []float32{4}, tensors.CopyFlatData[float32](outputs[0]))
}

func TestMultipleOutputs(t *testing.T) {
	m := graph.NewModule()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Int64, 2))
	sumOut := m.NewPlaceholder("sum", shapes.Make(dtypes.Int64, 2))
	negOut := m.NewPlaceholder("neg", shapes.Make(dtypes.Int64, 2))
	fn := m.NewFunction("fanout")
	xNode := fn.Input(x)
	fn.Save(fn.Add(xNode, xNode), sumOut)
	fn.Save(fn.Neg(xNode), negOut)

	exe, err := New().Compile(fn)
	require.NoError(t, err)
	require.Equal(t, []*graph.Placeholder{sumOut, negOut}, exe.Outputs())
	outputs, err := exe.Execute([]*tensors.Tensor{
		tensors.FromFlatDataAndDimensions([]int64{3, -4}, 2)})
	require.NoError(t, err)
	require.Equal(t, []int64{6, -8}, tensors.CopyFlatData[int64](outputs[0]))
	require.Equal(t, []int64{-3, 4}, tensors.CopyFlatData[int64](outputs[1]))
}

func TestFloat16(t *testing.T) {
	m := graph.NewModule()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Float16, 2))
	y := m.NewPlaceholder("y", shapes.Make(dtypes.Float16, 2))
	fn := m.NewFunction("halve")
	half := fn.Constant(tensors.FromValue([]float16.Float16{
		float16.Fromfloat32(0.5), float16.Fromfloat32(0.5)}))
	fn.Save(fn.Mul(fn.Input(x), half), y)

	exe, err := New().Compile(fn)
	require.NoError(t, err)
	outputs, err := exe.Execute([]*tensors.Tensor{
		tensors.FromValue([]float16.Float16{float16.Fromfloat32(4), float16.Fromfloat32(-6)})})
	require.NoError(t, err)
	got := tensors.CopyFlatData[float16.Float16](outputs[0])
	require.Equal(t, float32(2), got[0].Float32())
	require.Equal(t, float32(-3), got[1].Float32())
}

func TestCompileRejectsUnsupported(t *testing.T) {
	m := graph.NewModule()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Int32, 2))
	y := m.NewPlaceholder("y", shapes.Make(dtypes.Int32, 2))
	fn := m.NewFunction("bad")
	fn.Save(fn.Exp(fn.Input(x)), y) // Exp over integers.

	_, err := New().Compile(fn)
	require.ErrorIs(t, err, backends.ErrOpNotSupported)
	require.Contains(t, err.Error(), "Exp")
}

func TestExecuteReportsRuntimeErrors(t *testing.T) {
	m := graph.NewModule()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Int32, 1))
	z := m.NewPlaceholder("z", shapes.Make(dtypes.Int32, 1))
	y := m.NewPlaceholder("y", shapes.Make(dtypes.Int32, 1))
	fn := m.NewFunction("ratio")
	fn.Save(fn.Div(fn.Input(x), fn.Input(z)), y)

	exe, err := New().Compile(fn)
	require.NoError(t, err)
	_, err = exe.Execute([]*tensors.Tensor{
		tensors.FromFlatDataAndDimensions([]int32{6}, 1),
		tensors.FromFlatDataAndDimensions([]int32{0}, 1),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ratio")
}

func TestExecutableIsIndependentOfFunction(t *testing.T) {
	m := graph.NewModule()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Float32, 1))
	y := m.NewPlaceholder("y", shapes.Make(dtypes.Float32, 1))
	fn := m.NewFunction("scaled")
	factor := tensors.FromFlatDataAndDimensions([]float32{3}, 1)
	factorNode := fn.Constant(factor)
	fn.Save(fn.Mul(fn.Input(x), factorNode), y)

	exe, err := New().Compile(fn)
	require.NoError(t, err)

	// Mutating the tensor the constant was built from must not leak in:
	// the graph copied it at building time and the executable copied again.
	factor.MutableFlatData(func(flat []float32) { flat[0] = 999 })

	outputs, err := exe.Execute([]*tensors.Tensor{
		tensors.FromFlatDataAndDimensions([]float32{2}, 1)})
	require.NoError(t, err)
	require.Equal(t, []float32{6}, tensors.CopyFlatData[float32](outputs[0]))
}

func TestExecuteValidation(t *testing.T) {
	m := graph.NewModule()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Float32, 1))
	y := m.NewPlaceholder("y", shapes.Make(dtypes.Float32, 1))
	fn := m.NewFunction("id")
	fn.Save(fn.Input(x), y)

	exe, err := New().Compile(fn)
	require.NoError(t, err)

	_, err = exe.Execute(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "takes 1 inputs")

	exe.Finalize()
	_, err = exe.Execute([]*tensors.Tensor{tensors.FromFlatDataAndDimensions([]float32{1}, 1)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "finalized")
}

func TestSaveBundle(t *testing.T) {
	m := graph.NewModule()
	x := m.NewPlaceholder("x", shapes.Make(dtypes.Float32, 2))
	y := m.NewPlaceholder("y", shapes.Make(dtypes.Float32, 2))
	fn := m.NewFunction("add_bias")
	bias := tensors.FromFlatDataAndDimensions([]float32{10, 20}, 2)
	fn.Save(fn.Add(fn.Input(x), fn.Constant(bias)), y)

	dir := t.TempDir()
	require.NoError(t, New().SaveBundle(fn, dir, "demo"))

	b, err := bundle.Read(dir, "demo")
	require.NoError(t, err)
	require.Equal(t, "interpreter", b.Metadata.Backend)
	require.Equal(t, "add_bias", b.Metadata.Function)
	require.Len(t, b.Metadata.Program, fn.NumNodes())
	require.Len(t, b.Weights, 1)
	require.True(t, bias.Equal(b.Weights[0]))
	require.Len(t, b.Metadata.Inputs, 1)
	require.Equal(t, "x", b.Metadata.Inputs[0].Name)
	require.Len(t, b.Metadata.Outputs, 1)
	require.Equal(t, "y", b.Metadata.Outputs[0].Name)
}
