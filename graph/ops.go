// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/emberml/ember/types/shapes"
	"github.com/emberml/ember/types/tensors"
	"github.com/gomlx/exceptions"
)

// This file holds the graph building operations. They all panic (with stack
// traces) on invalid arguments: nil nodes, nodes from another function, or
// shape and dtype mismatches. Shapes are inferred here, at building time.

// newNode creates and registers a node of the given kind and shape.
func (f *Function) newNode(kind OpKind, shape shapes.Shape, inputs ...*Node) *Node {
	return f.registerNode(&Node{
		fn:         f,
		kind:       kind,
		shape:      shape,
		inputNodes: inputs,
	})
}

// Input returns the node that reads the given placeholder. The placeholder
// becomes one of the function's inputs on first use; further calls with the
// same placeholder return the same node.
func (f *Function) Input(p *Placeholder) *Node {
	f.AssertValid()
	if p == nil {
		exceptions.Panicf("Function(%q).Input: placeholder is nil", f.name)
	}
	if p.module != f.module {
		exceptions.Panicf("Function(%q).Input(%q): placeholder belongs to a different Module", f.name, p.name)
	}
	if node, found := f.inputNodeByPlaceholder[p]; found {
		return node
	}
	node := f.newNode(OpKindInput, p.shape.Clone())
	node.placeholder = p
	f.inputs = append(f.inputs, p)
	f.inputNodeByPlaceholder[p] = node
	return node
}

// Constant returns a node holding a literal value. The tensor contents are
// copied, so the caller is free to mutate t afterwards.
func (f *Function) Constant(t *tensors.Tensor) *Node {
	f.AssertValid()
	if t == nil || !t.Ok() {
		exceptions.Panicf("Function(%q).Constant: tensor is nil or invalid", f.name)
	}
	node := f.newNode(OpKindConstant, t.Shape().Clone())
	node.constant = t.Clone()
	return node
}

// Save writes the value of node x to the placeholder p, marking it as one of
// the function outputs. Shapes must match exactly. A function can save to
// each placeholder only once.
//
// It returns the Save node, the root that keeps x alive through optimization.
func (f *Function) Save(x *Node, p *Placeholder) *Node {
	f.AssertValid()
	f.assertSameFunction(x)
	if p == nil {
		exceptions.Panicf("Function(%q).Save: placeholder is nil", f.name)
	}
	if p.module != f.module {
		exceptions.Panicf("Function(%q).Save(%q): placeholder belongs to a different Module", f.name, p.name)
	}
	if !x.shape.Equal(p.shape) {
		exceptions.Panicf("Function(%q).Save(%q): node shape %s does not match placeholder shape %s",
			f.name, p.name, x.shape, p.shape)
	}
	if _, found := f.saveByPlaceholder[p]; found {
		exceptions.Panicf("Function(%q).Save(%q): function already saves to this placeholder", f.name, p.name)
	}
	node := f.newNode(OpKindSave, p.shape.Clone(), x)
	node.placeholder = p
	f.saves = append(f.saves, node)
	f.saveByPlaceholder[p] = node
	return node
}

// binaryOp builds an element-wise binary node: operands must have identical
// shapes (dtype included), there is no broadcasting.
func (f *Function) binaryOp(kind OpKind, x, y *Node) *Node {
	f.AssertValid()
	f.assertSameFunction(x)
	f.assertSameFunction(y)
	if !x.shape.Equal(y.shape) {
		exceptions.Panicf("Function(%q).%s: operands must have identical shapes, got %s and %s",
			f.name, kind, x.shape, y.shape)
	}
	return f.newNode(kind, x.shape.Clone(), x, y)
}

// unaryOp builds an element-wise unary node with the shape of its operand.
func (f *Function) unaryOp(kind OpKind, x *Node) *Node {
	f.AssertValid()
	f.assertSameFunction(x)
	return f.newNode(kind, x.shape.Clone(), x)
}

// Add returns the element-wise x+y. Shapes must be identical: there is no
// implicit broadcasting.
func (f *Function) Add(x, y *Node) *Node { return f.binaryOp(OpKindAdd, x, y) }

// Sub returns the element-wise x-y. Shapes must be identical.
func (f *Function) Sub(x, y *Node) *Node { return f.binaryOp(OpKindSub, x, y) }

// Mul returns the element-wise x*y. Shapes must be identical.
func (f *Function) Mul(x, y *Node) *Node { return f.binaryOp(OpKindMul, x, y) }

// Div returns the element-wise x/y. Shapes must be identical.
func (f *Function) Div(x, y *Node) *Node { return f.binaryOp(OpKindDiv, x, y) }

// Min returns the element-wise minimum of x and y. Shapes must be identical.
func (f *Function) Min(x, y *Node) *Node { return f.binaryOp(OpKindMin, x, y) }

// Max returns the element-wise maximum of x and y. Shapes must be identical.
func (f *Function) Max(x, y *Node) *Node { return f.binaryOp(OpKindMax, x, y) }

// Neg returns the element-wise -x.
func (f *Function) Neg(x *Node) *Node { return f.unaryOp(OpKindNeg, x) }

// Abs returns the element-wise absolute value of x.
func (f *Function) Abs(x *Node) *Node { return f.unaryOp(OpKindAbs, x) }

// Exp returns the element-wise e^x.
func (f *Function) Exp(x *Node) *Node { return f.unaryOp(OpKindExp, x) }

// Sqrt returns the element-wise square root of x.
func (f *Function) Sqrt(x *Node) *Node { return f.unaryOp(OpKindSqrt, x) }

// Tanh returns the element-wise hyperbolic tangent of x.
func (f *Function) Tanh(x *Node) *Node { return f.unaryOp(OpKindTanh, x) }

// Sigmoid returns the element-wise 1/(1+e^-x).
func (f *Function) Sigmoid(x *Node) *Node { return f.unaryOp(OpKindSigmoid, x) }

// Relu returns the element-wise max(x, 0).
func (f *Function) Relu(x *Node) *Node { return f.unaryOp(OpKindRelu, x) }

// MatMul returns the matrix product of two rank-2 nodes:
// [m,k] x [k,n] -> [m,n]. Dtypes must match.
func (f *Function) MatMul(x, y *Node) *Node {
	f.AssertValid()
	f.assertSameFunction(x)
	f.assertSameFunction(y)
	if x.Rank() != 2 || y.Rank() != 2 {
		exceptions.Panicf("Function(%q).MatMul: operands must be rank-2, got %s and %s",
			f.name, x.shape, y.shape)
	}
	if x.DType() != y.DType() {
		exceptions.Panicf("Function(%q).MatMul: operands must have the same dtype, got %s and %s",
			f.name, x.shape, y.shape)
	}
	if x.shape.Dim(1) != y.shape.Dim(0) {
		exceptions.Panicf("Function(%q).MatMul: inner dimensions do not match, got %s and %s",
			f.name, x.shape, y.shape)
	}
	shape := shapes.Make(x.DType(), x.shape.Dim(0), y.shape.Dim(1))
	return f.newNode(OpKindMatMul, shape, x, y)
}

// Reshape reinterprets x with the given dimensions. The total size must not
// change: reshaping (Float32)[2 3] to dimensions 6 or [3 2] is valid, to
// [2 2] is not. Use no dimensions to reshape to a scalar.
func (f *Function) Reshape(x *Node, dimensions ...int) *Node {
	f.AssertValid()
	f.assertSameFunction(x)
	shape := shapes.Make(x.DType(), dimensions...)
	if shape.Size() != x.shape.Size() {
		exceptions.Panicf("Function(%q).Reshape: cannot reshape %s to %s, sizes differ (%d vs %d)",
			f.name, x.shape, shape, x.shape.Size(), shape.Size())
	}
	node := f.newNode(OpKindReshape, shape, x)
	node.dimensions = shape.Dimensions
	return node
}
