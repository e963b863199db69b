// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

package vecgo

import (
	"math"

	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/internal/workerspool"
	"github.com/emberml/ember/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// minParallelSize is the amount of element-wise work below which a kernel
// runs inline: spawning goroutines for tiny tensors costs more than it saves.
const minParallelSize = 4096

// number are the Go types behind the dtypes vecgo supports.
type number interface {
	int32 | int64 | float32 | float64
}

// kernelFn executes one instruction: operands are the already materialized
// inputs, out is pre-allocated with the instruction's shape.
type kernelFn func(out *tensors.Tensor, operands []*tensors.Tensor)

// makeKernel resolves the kernel closure for one node at compile time, so
// Execute never dispatches on dtype or op kind.
func makeKernel(kind graph.OpKind, dtype dtypes.DType, pool *workerspool.Pool) (kernelFn, error) {
	switch {
	case kind == graph.OpKindReshape:
		return reshapeKernel, nil
	case kind == graph.OpKindMatMul:
		return makeMatMulKernel(dtype, pool)
	case kind.IsBinary():
		return makeBinaryKernel(kind, dtype, pool)
	case kind.IsUnary():
		return makeUnaryKernel(kind, dtype, pool)
	}
	return nil, errors.Errorf("vecgo has no kernel for operation %s", kind)
}

// reshapeKernel copies the flat contents: a reshape never reorders data.
func reshapeKernel(out *tensors.Tensor, operands []*tensors.Tensor) {
	operands[0].ConstBytes(func(from []byte) {
		out.MutableBytes(func(to []byte) {
			copy(to, from)
		})
	})
}

func makeBinaryKernel(kind graph.OpKind, dtype dtypes.DType, pool *workerspool.Pool) (kernelFn, error) {
	switch dtype {
	case dtypes.Int32:
		return binaryKernel[int32](kind, pool)
	case dtypes.Int64:
		return binaryKernel[int64](kind, pool)
	case dtypes.Float32:
		return binaryKernel[float32](kind, pool)
	case dtypes.Float64:
		return binaryKernel[float64](kind, pool)
	}
	return nil, errors.Errorf("vecgo has no %s kernel for dtype %s", kind, dtype)
}

func binaryKernel[T number](kind graph.OpKind, pool *workerspool.Pool) (kernelFn, error) {
	var op func(a, b T) T
	switch kind {
	case graph.OpKindAdd:
		op = func(a, b T) T { return a + b }
	case graph.OpKindSub:
		op = func(a, b T) T { return a - b }
	case graph.OpKindMul:
		op = func(a, b T) T { return a * b }
	case graph.OpKindDiv:
		op = func(a, b T) T { return a / b }
	case graph.OpKindMin:
		op = func(a, b T) T { return min(a, b) }
	case graph.OpKindMax:
		op = func(a, b T) T { return max(a, b) }
	default:
		return nil, errors.Errorf("vecgo has no binary kernel for operation %s", kind)
	}
	return func(out *tensors.Tensor, operands []*tensors.Tensor) {
		tensors.ConstFlatData(operands[0], func(lhs []T) {
			tensors.ConstFlatData(operands[1], func(rhs []T) {
				tensors.MutableFlatData(out, func(flat []T) {
					pool.ParallelFor(len(flat), minParallelSize, func(start, end int) {
						for ii := start; ii < end; ii++ {
							flat[ii] = op(lhs[ii], rhs[ii])
						}
					})
				})
			})
		})
	}, nil
}

func makeUnaryKernel(kind graph.OpKind, dtype dtypes.DType, pool *workerspool.Pool) (kernelFn, error) {
	switch dtype {
	case dtypes.Int32:
		return unaryKernel[int32](kind, pool)
	case dtypes.Int64:
		return unaryKernel[int64](kind, pool)
	case dtypes.Float32:
		return unaryKernel[float32](kind, pool)
	case dtypes.Float64:
		return unaryKernel[float64](kind, pool)
	}
	return nil, errors.Errorf("vecgo has no %s kernel for dtype %s", kind, dtype)
}

func unaryKernel[T number](kind graph.OpKind, pool *workerspool.Pool) (kernelFn, error) {
	var op func(a T) T
	switch kind {
	case graph.OpKindNeg:
		op = func(a T) T { return -a }
	case graph.OpKindAbs:
		op = func(a T) T {
			if a < 0 {
				return -a
			}
			return a
		}
	case graph.OpKindRelu:
		op = func(a T) T {
			var zero T
			return max(a, zero)
		}
	case graph.OpKindExp:
		op = floatOp[T](math.Exp)
	case graph.OpKindSqrt:
		op = floatOp[T](math.Sqrt)
	case graph.OpKindTanh:
		op = floatOp[T](math.Tanh)
	case graph.OpKindSigmoid:
		op = floatOp[T](func(v float64) float64 { return 1.0 / (1.0 + math.Exp(-v)) })
	default:
		return nil, errors.Errorf("vecgo has no unary kernel for operation %s", kind)
	}
	if op == nil {
		return nil, errors.Errorf("vecgo cannot apply %s to an integer dtype", kind)
	}
	return func(out *tensors.Tensor, operands []*tensors.Tensor) {
		tensors.ConstFlatData(operands[0], func(input []T) {
			tensors.MutableFlatData(out, func(flat []T) {
				pool.ParallelFor(len(flat), minParallelSize, func(start, end int) {
					for ii := start; ii < end; ii++ {
						flat[ii] = op(input[ii])
					}
				})
			})
		})
	}, nil
}

// floatOp adapts a float64 function to T, or returns nil when T is an
// integer type. Compile validates operations against the capabilities before
// kernels are resolved, so the nil only guards against internal mistakes.
func floatOp[T number](fn func(float64) float64) func(T) T {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return func(a T) T { return T(fn(float64(a))) }
	}
	return nil
}

func makeMatMulKernel(dtype dtypes.DType, pool *workerspool.Pool) (kernelFn, error) {
	switch dtype {
	case dtypes.Int32:
		return matMulKernel[int32](pool), nil
	case dtypes.Int64:
		return matMulKernel[int64](pool), nil
	case dtypes.Float32:
		return matMulKernel[float32](pool), nil
	case dtypes.Float64:
		return matMulKernel[float64](pool), nil
	}
	return nil, errors.Errorf("vecgo has no MatMul kernel for dtype %s", dtype)
}

// matMulKernel multiplies [m, k] x [k, n] into [m, n], parallelizing across
// chunks of output rows. Each span is sized so it carries at least
// minParallelSize multiply-adds.
func matMulKernel[T number](pool *workerspool.Pool) kernelFn {
	return func(out *tensors.Tensor, operands []*tensors.Tensor) {
		lhsDims := operands[0].Shape().Dimensions
		m, k := lhsDims[0], lhsDims[1]
		n := operands[1].Shape().Dimensions[1]
		minRows := 1
		if rowWork := k * n; rowWork > 0 {
			minRows = max(1, minParallelSize/rowWork)
		}
		tensors.ConstFlatData(operands[0], func(lhs []T) {
			tensors.ConstFlatData(operands[1], func(rhs []T) {
				tensors.MutableFlatData(out, func(flat []T) {
					pool.ParallelFor(m, minRows, func(rowStart, rowEnd int) {
						for row := rowStart; row < rowEnd; row++ {
							lhsRow := lhs[row*k : (row+1)*k]
							outRow := flat[row*n : (row+1)*n]
							for kk := 0; kk < k; kk++ {
								lhsValue := lhsRow[kk]
								rhsRow := rhs[kk*n : (kk+1)*n]
								for col, rhsValue := range rhsRow {
									outRow[col] += lhsValue * rhsValue
								}
							}
						}
					})
				})
			})
		})
	}
}
