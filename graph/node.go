// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/emberml/ember/types/shapes"
	"github.com/emberml/ember/types/tensors"
	"github.com/emberml/ember/types/xslices"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// NodeId is a unique node id within a Function.
type NodeId int

// InvalidNodeId indicates a node that is not registered in a Function.
const InvalidNodeId = NodeId(-1)

// Node represents the result of an operation in a Function's computation
// graph, and can be used as input to further operations.
//
// Each node has a fixed shape inferred at graph building time. Nodes are
// created through the Function building methods (Function.Input,
// Function.Add, Function.MatMul, ...) and are immutable once created, except
// through the rewrite helpers used when optimizing (Function.ReplaceAllUses,
// Function.Prune).
type Node struct {
	fn    *Function
	id    NodeId
	kind  OpKind
	shape shapes.Shape

	// inputNodes are the edges of the computation graph.
	inputNodes []*Node

	// Kind-specific payloads:
	placeholder *Placeholder    // For OpKindInput and OpKindSave.
	constant    *tensors.Tensor // For OpKindConstant.
	dimensions  []int           // Target dimensions for OpKindReshape.
}

// Function that holds this node.
func (n *Node) Function() *Function {
	if n == nil {
		return nil
	}
	return n.fn
}

// Id is the unique id of this node within its Function. Ids are renumbered
// when the function is pruned.
func (n *Node) Id() NodeId { return n.id }

// Kind of the operation this node represents.
func (n *Node) Kind() OpKind { return n.kind }

// Shape of the node's value.
func (n *Node) Shape() shapes.Shape { return n.shape }

// DType of the node's shape. A shortcut to Node.Shape().DType.
func (n *Node) DType() dtypes.DType { return n.shape.DType }

// Rank of the node's shape.
func (n *Node) Rank() int { return n.shape.Rank() }

// IsScalar returns whether the node's shape is a scalar.
func (n *Node) IsScalar() bool { return n.shape.IsScalar() }

// Inputs are the nodes that are direct inputs to this node.
// The slice is owned by the node and must not be changed.
func (n *Node) Inputs() []*Node { return n.inputNodes }

// Placeholder returns the placeholder read by an Input node or written by a
// Save node. It panics for other kinds.
func (n *Node) Placeholder() *Placeholder {
	n.AssertValid()
	if n.kind != OpKindInput && n.kind != OpKindSave {
		exceptions.Panicf("Node.Placeholder() called on %s node #%d, only Input and Save nodes refer to placeholders",
			n.kind, n.id)
	}
	return n.placeholder
}

// ConstantValue returns the tensor held by a Constant node.
// It panics for other kinds. The tensor is owned by the node: treat it as
// read-only.
func (n *Node) ConstantValue() *tensors.Tensor {
	n.AssertValid()
	if n.kind != OpKindConstant {
		exceptions.Panicf("Node.ConstantValue() called on %s node #%d, only Constant nodes hold a value",
			n.kind, n.id)
	}
	return n.constant
}

// AssertValid panics if n is nil or not attached to a Function.
func (n *Node) AssertValid() {
	if n == nil {
		exceptions.Panicf("Node is nil")
	}
	if n.fn == nil {
		exceptions.Panicf("Node in an invalid state: not attached to a Function")
	}
}

// String pretty-prints the node as "#id Kind(inputs...) -> shape".
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s", n.id, n.kind)
	switch n.kind {
	case OpKindInput:
		fmt.Fprintf(&b, "(%q)", n.placeholder.Name())
	case OpKindConstant:
		fmt.Fprintf(&b, "(%s)", n.constant.Shape())
	case OpKindSave:
		fmt.Fprintf(&b, "(#%d -> %q)", n.inputNodes[0].id, n.placeholder.Name())
	case OpKindReshape:
		fmt.Fprintf(&b, "(#%d, dims=%v)", n.inputNodes[0].id, n.dimensions)
	default:
		ids := xslices.Map(n.inputNodes, func(input *Node) string {
			return fmt.Sprintf("#%d", input.id)
		})
		fmt.Fprintf(&b, "(%s)", strings.Join(ids, ", "))
	}
	fmt.Fprintf(&b, " -> %s", n.shape)
	return b.String()
}

// Placeholder is a named, shaped slot of a Module: functions read inputs from
// placeholders (Function.Input) and write outputs to them (Function.Save),
// and at execution time a Context binds concrete tensors to them.
//
// Placeholder identity is its pointer; name and shape are immutable after
// creation. Create placeholders with Module.NewPlaceholder.
type Placeholder struct {
	module *Module
	name   string
	shape  shapes.Shape
}

// Name of the placeholder, unique within its Module.
func (p *Placeholder) Name() string { return p.name }

// Shape declared for the placeholder.
func (p *Placeholder) Shape() shapes.Shape { return p.shape }

// Module that owns the placeholder.
func (p *Placeholder) Module() *Module { return p.module }

// String pretty-prints the placeholder name and shape.
func (p *Placeholder) String() string {
	if p == nil {
		return "Placeholder(nil)"
	}
	return fmt.Sprintf("%s: %s", p.name, p.shape)
}
