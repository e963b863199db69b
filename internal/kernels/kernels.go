// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels holds the scalar evaluation kernels for graph operations
// over host tensors. They are shared by the interpreter backend (node-by-node
// execution) and the optimizer (constant folding).
//
// Kernels panic (with stack traces) on combinations they cannot evaluate,
// like transcendental functions over integer dtypes; callers either
// pre-validate with the backend capabilities or wrap the call with
// exceptions.TryCatch.
package kernels

import (
	"math"

	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/types/shapes"
	"github.com/emberml/ember/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

type numeric interface {
	constraints.Integer | constraints.Float
}

// Evaluate computes one operation over concrete input tensors and returns a
// newly allocated tensor of outShape. The structural kinds Input, Constant
// and Save are not evaluated here: they move data, the executor handles them.
//
// It panics on unsupported kind and dtype combinations and on integer
// division by zero (the Go runtime panic is left to propagate: executors
// convert it into an error with exceptions.TryCatch).
func Evaluate(kind graph.OpKind, outShape shapes.Shape, inputs []*tensors.Tensor) *tensors.Tensor {
	if outShape.DType == dtypes.Float16 {
		return evaluateFloat16(kind, outShape, inputs)
	}
	switch {
	case kind == graph.OpKindReshape:
		return reshapeEval(outShape, inputs[0])
	case kind.IsBinary():
		return binaryEval(kind, outShape, inputs[0], inputs[1])
	case kind.IsUnary():
		return unaryEval(kind, outShape, inputs[0])
	case kind == graph.OpKindMatMul:
		return matMulEval(outShape, inputs[0], inputs[1])
	}
	exceptions.Panicf("kernels.Evaluate: kind %s is not evaluable", kind)
	return nil
}

// evaluateFloat16 computes Float16 operations by converting the operands to
// Float32, evaluating, and converting the result back.
func evaluateFloat16(kind graph.OpKind, outShape shapes.Shape, inputs []*tensors.Tensor) *tensors.Tensor {
	wideInputs := make([]*tensors.Tensor, len(inputs))
	for ii, input := range inputs {
		wideInputs[ii] = float16ToFloat32(input)
	}
	wideShape := shapes.Shape{DType: dtypes.Float32, Dimensions: outShape.Dimensions}
	wide := Evaluate(kind, wideShape, wideInputs)
	return float32ToFloat16(wide)
}

func float16ToFloat32(t *tensors.Tensor) *tensors.Tensor {
	out := tensors.FromShape(shapes.Shape{DType: dtypes.Float32, Dimensions: t.Shape().Dimensions})
	tensors.ConstFlatData(t, func(from []float16.Float16) {
		tensors.MutableFlatData(out, func(to []float32) {
			for ii, v := range from {
				to[ii] = v.Float32()
			}
		})
	})
	return out
}

func float32ToFloat16(t *tensors.Tensor) *tensors.Tensor {
	out := tensors.FromShape(shapes.Shape{DType: dtypes.Float16, Dimensions: t.Shape().Dimensions})
	tensors.ConstFlatData(t, func(from []float32) {
		tensors.MutableFlatData(out, func(to []float16.Float16) {
			for ii, v := range from {
				to[ii] = float16.Fromfloat32(v)
			}
		})
	})
	return out
}

// reshapeEval copies the flat data into a tensor of the new shape.
func reshapeEval(outShape shapes.Shape, x *tensors.Tensor) *tensors.Tensor {
	out := tensors.FromShape(outShape)
	x.ConstBytes(func(from []byte) {
		out.MutableBytes(func(to []byte) {
			copy(to, from)
		})
	})
	return out
}

func binaryEval(kind graph.OpKind, outShape shapes.Shape, x, y *tensors.Tensor) *tensors.Tensor {
	out := tensors.FromShape(outShape)
	switch outShape.DType {
	case dtypes.Int8:
		binaryFlat[int8](kind, x, y, out)
	case dtypes.Int32:
		binaryFlat[int32](kind, x, y, out)
	case dtypes.Int64:
		binaryFlat[int64](kind, x, y, out)
	case dtypes.Uint64:
		binaryFlat[uint64](kind, x, y, out)
	case dtypes.Float32:
		binaryFlat[float32](kind, x, y, out)
	case dtypes.Float64:
		binaryFlat[float64](kind, x, y, out)
	default:
		exceptions.Panicf("kernels: binary op %s not supported for dtype %s", kind, outShape.DType)
	}
	return out
}

func binaryFlat[T numeric](kind graph.OpKind, x, y, out *tensors.Tensor) {
	tensors.ConstFlatData(x, func(xFlat []T) {
		tensors.ConstFlatData(y, func(yFlat []T) {
			tensors.MutableFlatData(out, func(outFlat []T) {
				switch kind {
				case graph.OpKindAdd:
					for ii := range outFlat {
						outFlat[ii] = xFlat[ii] + yFlat[ii]
					}
				case graph.OpKindSub:
					for ii := range outFlat {
						outFlat[ii] = xFlat[ii] - yFlat[ii]
					}
				case graph.OpKindMul:
					for ii := range outFlat {
						outFlat[ii] = xFlat[ii] * yFlat[ii]
					}
				case graph.OpKindDiv:
					for ii := range outFlat {
						outFlat[ii] = xFlat[ii] / yFlat[ii]
					}
				case graph.OpKindMin:
					for ii := range outFlat {
						outFlat[ii] = min(xFlat[ii], yFlat[ii])
					}
				case graph.OpKindMax:
					for ii := range outFlat {
						outFlat[ii] = max(xFlat[ii], yFlat[ii])
					}
				default:
					exceptions.Panicf("kernels: %s is not a binary op", kind)
				}
			})
		})
	})
}

func unaryEval(kind graph.OpKind, outShape shapes.Shape, x *tensors.Tensor) *tensors.Tensor {
	out := tensors.FromShape(outShape)
	dtype := outShape.DType
	switch kind {
	case graph.OpKindNeg, graph.OpKindAbs, graph.OpKindRelu:
		// Defined for every numeric dtype (Neg excluded for unsigned by capabilities).
		switch dtype {
		case dtypes.Int8:
			simpleUnaryFlat[int8](kind, x, out)
		case dtypes.Int32:
			simpleUnaryFlat[int32](kind, x, out)
		case dtypes.Int64:
			simpleUnaryFlat[int64](kind, x, out)
		case dtypes.Uint64:
			simpleUnaryFlat[uint64](kind, x, out)
		case dtypes.Float32:
			simpleUnaryFlat[float32](kind, x, out)
		case dtypes.Float64:
			simpleUnaryFlat[float64](kind, x, out)
		default:
			exceptions.Panicf("kernels: unary op %s not supported for dtype %s", kind, dtype)
		}
	case graph.OpKindExp, graph.OpKindSqrt, graph.OpKindTanh, graph.OpKindSigmoid:
		// Transcendental functions are only defined over floats.
		fn := transcendentalFunc(kind)
		switch dtype {
		case dtypes.Float32:
			floatUnaryFlat[float32](fn, x, out)
		case dtypes.Float64:
			floatUnaryFlat[float64](fn, x, out)
		default:
			exceptions.Panicf("kernels: unary op %s not supported for dtype %s", kind, dtype)
		}
	default:
		exceptions.Panicf("kernels: %s is not a unary op", kind)
	}
	return out
}

func simpleUnaryFlat[T numeric](kind graph.OpKind, x, out *tensors.Tensor) {
	tensors.ConstFlatData(x, func(xFlat []T) {
		tensors.MutableFlatData(out, func(outFlat []T) {
			switch kind {
			case graph.OpKindNeg:
				for ii := range outFlat {
					outFlat[ii] = -xFlat[ii]
				}
			case graph.OpKindAbs:
				for ii := range outFlat {
					if xFlat[ii] < 0 {
						outFlat[ii] = -xFlat[ii]
					} else {
						outFlat[ii] = xFlat[ii]
					}
				}
			case graph.OpKindRelu:
				var zero T
				for ii := range outFlat {
					outFlat[ii] = max(xFlat[ii], zero)
				}
			}
		})
	})
}

func transcendentalFunc(kind graph.OpKind) func(float64) float64 {
	switch kind {
	case graph.OpKindExp:
		return math.Exp
	case graph.OpKindSqrt:
		return math.Sqrt
	case graph.OpKindTanh:
		return math.Tanh
	case graph.OpKindSigmoid:
		return func(v float64) float64 { return 1.0 / (1.0 + math.Exp(-v)) }
	}
	exceptions.Panicf("kernels: %s is not a transcendental op", kind)
	return nil
}

func floatUnaryFlat[T constraints.Float](fn func(float64) float64, x, out *tensors.Tensor) {
	tensors.ConstFlatData(x, func(xFlat []T) {
		tensors.MutableFlatData(out, func(outFlat []T) {
			for ii := range outFlat {
				outFlat[ii] = T(fn(float64(xFlat[ii])))
			}
		})
	})
}

func matMulEval(outShape shapes.Shape, x, y *tensors.Tensor) *tensors.Tensor {
	out := tensors.FromShape(outShape)
	m := x.Shape().Dim(0)
	k := x.Shape().Dim(1)
	n := y.Shape().Dim(1)
	switch outShape.DType {
	case dtypes.Int8:
		matMulFlat[int8](x, y, out, m, k, n)
	case dtypes.Int32:
		matMulFlat[int32](x, y, out, m, k, n)
	case dtypes.Int64:
		matMulFlat[int64](x, y, out, m, k, n)
	case dtypes.Uint64:
		matMulFlat[uint64](x, y, out, m, k, n)
	case dtypes.Float32:
		matMulFlat[float32](x, y, out, m, k, n)
	case dtypes.Float64:
		matMulFlat[float64](x, y, out, m, k, n)
	default:
		exceptions.Panicf("kernels: MatMul not supported for dtype %s", outShape.DType)
	}
	return out
}

// matMulFlat computes out[i,j] = sum_k x[i,k]*y[k,j] over row-major flat data.
func matMulFlat[T numeric](x, y, out *tensors.Tensor, m, k, n int) {
	tensors.ConstFlatData(x, func(xFlat []T) {
		tensors.ConstFlatData(y, func(yFlat []T) {
			tensors.MutableFlatData(out, func(outFlat []T) {
				for i := 0; i < m; i++ {
					xRow := xFlat[i*k : (i+1)*k]
					outRow := outFlat[i*n : (i+1)*n]
					for kk, xv := range xRow {
						yRow := yFlat[kk*n : (kk+1)*n]
						for j, yv := range yRow {
							outRow[j] += xv * yv
						}
					}
				}
			})
		})
	})
}
