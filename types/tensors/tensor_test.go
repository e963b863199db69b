// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"testing"

	"github.com/emberml/ember/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	require.True(t, tensor.Ok())
	require.Equal(t, 6, tensor.Size())
	require.Equal(t, dtypes.Float32, tensor.DType())
	ConstFlatData(tensor, func(flat []float32) {
		require.Len(t, flat, 6)
		for _, v := range flat {
			require.Zero(t, v)
		}
	})
	require.Panics(t, func() { FromShape(shapes.Invalid()) })
}

func TestFromScalarAndDimensions(t *testing.T) {
	scalar := FromScalar(float32(1.5))
	require.True(t, scalar.IsScalar())
	require.Equal(t, float32(1.5), ToScalar[float32](scalar))

	filled := FromScalarAndDimensions(int32(7), 2, 2)
	require.Equal(t, []int32{7, 7, 7, 7}, CopyFlatData[int32](filled))
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2)
	require.Equal(t, shapes.Make(dtypes.Int8, 2, 2), tensor.Shape())
	require.Equal(t, []int8{1, 2, 3, 4}, CopyFlatData[int8](tensor))

	require.Panics(t, func() { FromFlatDataAndDimensions([]int8{1, 2, 3}, 2, 2) })

	// Go `int` is stored as the platform word size.
	fromInts := FromFlatDataAndDimensions([]int{10, 20, 30}, 3)
	require.Equal(t, []int64{10, 20, 30}, CopyFlatData[int64](fromInts))
}

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2}, {3, 5}, {7, 11}})
	require.Equal(t, shapes.Make(dtypes.Float32, 3, 2), tensor.Shape())
	require.Equal(t, []float32{1, 2, 3, 5, 7, 11}, CopyFlatData[float32](tensor))
	require.Equal(t, [][]float32{{1, 2}, {3, 5}, {7, 11}}, tensor.Value())

	scalar := FromValue(3.0)
	require.True(t, scalar.IsScalar())
	require.Equal(t, 3.0, scalar.Value())

	// Irregular sub-slices panic.
	require.Panics(t, func() { FromAnyValue([][]float32{{1, 2}, {3}}) })
}

func TestFlatDataAccess(t *testing.T) {
	tensor := FromValue([]float64{1, 2, 3})
	MutableFlatData(tensor, func(flat []float64) {
		flat[1] = 20
	})
	require.Equal(t, []float64{1, 20, 3}, CopyFlatData[float64](tensor))

	// Generic access with the wrong dtype panics.
	require.Panics(t, func() { ConstFlatData(tensor, func(flat []float32) {}) })
	require.Panics(t, func() { MutableFlatData(tensor, func(flat []int32) {}) })
	require.Panics(t, func() { ToScalar[float64](tensor) })
}

func TestLayoutStrides(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 7, 3, 4, 2))
	require.Equal(t, []int{24, 8, 2, 1}, tensor.LayoutStrides())
}

func TestSlice(t *testing.T) {
	batch := FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}})
	sample := batch.Slice(1)
	require.Equal(t, shapes.Make(dtypes.Float32, 2), sample.Shape())
	require.Equal(t, []float32{3, 4}, CopyFlatData[float32](sample))

	// Slices are copies: mutating the slice leaves the original untouched.
	MutableFlatData(sample, func(flat []float32) { flat[0] = 100 })
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, CopyFlatData[float32](batch))

	require.Panics(t, func() { batch.Slice(3) })
	require.Panics(t, func() { batch.Slice(-1) })
	require.Panics(t, func() { FromScalar(int32(1)).Slice(0) })

	vector := FromValue([]int32{10, 20})
	second := vector.Slice(1)
	require.True(t, second.IsScalar())
	require.Equal(t, int32(20), ToScalar[int32](second))
}

func TestRawRoundTrip(t *testing.T) {
	tensor := FromValue([][]float32{{1.5, -2}, {3, 4.25}})
	var buf bytes.Buffer
	n, err := tensor.WriteRaw(&buf)
	require.NoError(t, err)
	require.Equal(t, int(tensor.Memory()), n)

	restored, err := ReadRaw(&buf, tensor.Shape())
	require.NoError(t, err)
	require.True(t, tensor.Equal(restored))

	// Truncated data fails.
	_, err = ReadRaw(bytes.NewReader([]byte{1, 2, 3}), tensor.Shape())
	require.Error(t, err)
}

func TestEqualAndInDelta(t *testing.T) {
	a := FromValue([]float32{1, 2, 3})
	b := FromValue([]float32{1, 2, 3})
	c := FromValue([]float32{1, 2, 4})
	require.True(t, a.Equal(b))
	require.True(t, a.Equal(a))
	require.False(t, a.Equal(c))
	require.False(t, a.Equal(FromValue([][]float32{{1, 2, 3}})))

	d := FromValue([]float32{1.001, 2.001, 2.999})
	require.True(t, a.InDelta(d, 0.01))
	require.False(t, a.InDelta(d, 0.0001))
}

func TestCloneAndFinalize(t *testing.T) {
	tensor := FromValue([]int64{1, 2, 3})
	clone := tensor.Clone()
	MutableFlatData(clone, func(flat []int64) { flat[0] = 100 })
	require.Equal(t, []int64{1, 2, 3}, CopyFlatData[int64](tensor))

	clone.Finalize()
	require.True(t, clone.IsFinalized())
	require.False(t, clone.Ok())
	require.Panics(t, func() { clone.AssertValid() })
	clone.Finalize() // Idempotent.
}

func TestFloat16(t *testing.T) {
	values := []float16.Float16{
		float16.Fromfloat32(1.5),
		float16.Fromfloat32(-2.25),
	}
	tensor := FromFlatDataAndDimensions(values, 2)
	require.Equal(t, dtypes.Float16, tensor.DType())
	require.Equal(t, 2*2, int(tensor.Memory()))
	require.Equal(t, values, CopyFlatData[float16.Float16](tensor))

	var buf bytes.Buffer
	_, err := tensor.WriteRaw(&buf)
	require.NoError(t, err)
	restored, err := ReadRaw(&buf, tensor.Shape())
	require.NoError(t, err)
	require.Equal(t, float32(1.5), CopyFlatData[float16.Float16](restored)[0].Float32())
}
