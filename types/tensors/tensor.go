// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Tensor, a representation of a multi-dimensional array.
//
// Tensors are multidimensional arrays (from scalars with 0 dimensions to
// arbitrarily large dimensions) defined by a shape, that is, a data type
// (DType) plus the dimensions of its axes, and their content, stored as a
// flat (1D) Go slice of the corresponding Go type. They are the values bound
// to graph placeholders when executing compiled functions.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): a tensor of the given shape, zero-initialized.
//
//   - FromScalar[T](value T): a scalar tensor, DType inferred from T.
//
//   - FromScalarAndDimensions[T](value T, dimensions ...int): a tensor of the
//     given dimensions with every element set to value.
//
//   - FromFlatDataAndDimensions[T](data []T, dimensions ...int): a tensor of
//     the given dimensions with the flattened content copied from data:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2) // [[1 2] [3 4]]
//
//   - FromValue[S MultiDimensionSlice](value S): generic conversion from a
//     scalar or (regular) multidimensional slice:
//
//     t := FromValue([][]float32{{1, 2}, {3, 5}, {7, 11}})
//
//   - FromAnyValue(value any): non-generic version of FromValue; if value is
//     already a *Tensor it is returned unchanged.
//
// Access to the underlying flat data goes through ConstFlatData and
// MutableFlatData (plus their generic versions), which hold the tensor's lock
// while the given access function runs. Float16 elements use the
// github.com/x448/float16 representation.
package tensors

import (
	"sync"

	"github.com/emberml/ember/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Tensor is a value of a shape: a dtype and axes' dimensions, with the
// content stored as a flat slice of the dtype's Go type.
//
// Tensors are the inputs and outputs of compiled graph functions, bound to
// placeholders through a graph.Context.
type Tensor struct {
	// shape is immutable after construction, except when the tensor is finalized.
	shape shapes.Shape

	// mu protects flat.
	mu   sync.Mutex
	flat any // Slice of the Go type for the dtype of the shape.
}

// Shape of the tensor, includes the DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements. A shortcut to Tensor.Shape().DType.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor's shape. A shortcut to Tensor.Shape().Rank().
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor holds a single value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the tensor is in a valid state: not nil and not finalized.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && t.flat != nil
}

// AssertValid panics if the tensor is nil, finalized or has an invalid shape.
func (t *Tensor) AssertValid() {
	if t == nil {
		panic(errors.New("Tensor is nil"))
	}
	if !t.shape.Ok() {
		panic(errors.New("Tensor shape is invalid"))
	}
	if t.flat == nil {
		panic(errors.New("Tensor has been finalized, no data associated to it"))
	}
}

// IsFinalized returns true if the tensor data has been released with Finalize.
func (t *Tensor) IsFinalized() bool {
	return t == nil || t.flat == nil
}

// Finalize releases the tensor data immediately and leaves the tensor in an
// invalid state. The shape is cleared as well. It is safe to call more than once.
//
// It's the caller's responsibility to make sure the tensor is not in use
// elsewhere -- like bound to a Context of a running computation.
func (t *Tensor) Finalize() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flat = nil
	t.shape = shapes.Invalid()
}
