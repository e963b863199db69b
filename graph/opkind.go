// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

package graph

// OpKind is an enum of the operations a Node can represent.
//
// Backends declare which kinds they support through their Capabilities;
// the structural kinds (Input, Constant, Reshape and Save) move or
// reinterpret data and every backend must handle them.
type OpKind int

const (
	OpKindInvalid OpKind = iota

	// Structural kinds.

	OpKindInput    // Reads a placeholder.
	OpKindConstant // Holds a literal tensor.
	OpKindReshape  // Reinterprets dimensions, same total size.
	OpKindSave     // Writes its input to a placeholder.

	// Element-wise binary kinds: both operands must have identical shapes.

	OpKindAdd
	OpKindSub
	OpKindMul
	OpKindDiv
	OpKindMin
	OpKindMax

	// Element-wise unary kinds.

	OpKindNeg
	OpKindAbs
	OpKindExp
	OpKindSqrt
	OpKindTanh
	OpKindSigmoid
	OpKindRelu

	// OpKindMatMul is the rank-2 matrix product: [m,k] x [k,n] -> [m,n].
	OpKindMatMul

	opKindLast // Keep at the end: marks the number of kinds.
)

// String returns the name of the operation kind.
func (k OpKind) String() string {
	switch k {
	case OpKindInput:
		return "Input"
	case OpKindConstant:
		return "Constant"
	case OpKindReshape:
		return "Reshape"
	case OpKindSave:
		return "Save"
	case OpKindAdd:
		return "Add"
	case OpKindSub:
		return "Sub"
	case OpKindMul:
		return "Mul"
	case OpKindDiv:
		return "Div"
	case OpKindMin:
		return "Min"
	case OpKindMax:
		return "Max"
	case OpKindNeg:
		return "Neg"
	case OpKindAbs:
		return "Abs"
	case OpKindExp:
		return "Exp"
	case OpKindSqrt:
		return "Sqrt"
	case OpKindTanh:
		return "Tanh"
	case OpKindSigmoid:
		return "Sigmoid"
	case OpKindRelu:
		return "Relu"
	case OpKindMatMul:
		return "MatMul"
	default:
		return "InvalidOpKind"
	}
}

// IsStructural returns whether the kind moves or reinterprets data rather
// than computing: Input, Constant, Reshape and Save.
func (k OpKind) IsStructural() bool {
	switch k {
	case OpKindInput, OpKindConstant, OpKindReshape, OpKindSave:
		return true
	}
	return false
}

// IsBinary returns whether the kind is an element-wise binary operation.
func (k OpKind) IsBinary() bool {
	return k >= OpKindAdd && k <= OpKindMax
}

// IsUnary returns whether the kind is an element-wise unary operation.
func (k OpKind) IsUnary() bool {
	return k >= OpKindNeg && k <= OpKindRelu
}

// OpKinds returns all valid operation kinds, in order.
func OpKinds() []OpKind {
	kinds := make([]OpKind, 0, int(opKindLast)-1)
	for k := OpKindInput; k < opKindLast; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}
