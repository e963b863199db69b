// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the pairing of a data type (DType) and
// dimensions that describes both concrete tensors and the expected values of
// computation graph nodes.
//
// DType is the element type of a tensor, an enumeration defined in
// github.com/gomlx/gopjrt/dtypes. Float16 values use the
// github.com/x448/float16 implementation.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: the index of a dimension. We refer to the dimension index as
//     "axis" (plural axes) and to its size as its dimension.
//   - Dimension: the size of a tensor along one axis.
//   - Scalar: a shape with no axes, holding a single value of its DType.
//
// Example: the multi-dimensional array `[][]int32{{0, 1, 2}, {3, 4, 5}}`
// converted to a tensor has shape `(Int32)[2 3]`: rank 2, axis 0 has
// dimension 2 and axis 1 has dimension 3. It is created with
// `shapes.Make(dtypes.Int32, 2, 3)`.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gopjrt/dtypes"
)

// Shape represents the shape of either a concrete tensor or the expected
// value of a computation graph node.
//
// Use Make to create one. The zero value is invalid (Ok() == false).
type Shape struct {
	DType      DType
	Dimensions []int
}

// Make returns a Shape with the given element type and dimensions.
// It panics if any dimension is <= 0: use rank-0 (no dimensions) for scalars.
func Make(dtype DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Scalar returns a rank-0 Shape for the given Go type.
func Scalar[T Number]() Shape {
	return Shape{DType: FromGenericsType[T]()}
}

// Invalid returns an invalid shape: Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: InvalidDType}
}

// Ok returns whether this is a valid Shape. The zero value Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape holds a single value (rank 0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. A negative axis counts from
// the end, so Dim(-1) is the dimension of the last axis. It panics on an
// out-of-bounds axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements fmt.Stringer, pretty-printing the shape as `(dtype)[dims]`.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements a tensor of this shape holds.
// It's the product of all dimensions, and 1 for scalars.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the number of bytes needed to store the flat data of a
// tensor of this shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

/// Equal compares two shapes for equality: dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares the dimensions of two shapes, ignoring dtypes.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// SliceShape returns the shape of one sub-tensor taken along axis 0: the
// leading axis is dropped and the remaining dimensions are kept. So the
// slice shape of `(Float32)[8 3 2]` is `(Float32)[3 2]`.
//
// It panics for scalars, which have no axis to slice on.
func (s Shape) SliceShape() Shape {
	if s.Rank() == 0 {
		exceptions.Panicf("Shape.SliceShape() of scalar shape %s: there is no axis to slice on", s)
	}
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions[1:])}
}
