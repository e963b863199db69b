// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/emberml/ember/types/xslices"
	"github.com/gomlx/exceptions"
)

// Function is a computation graph: a DAG of Nodes reading from input
// placeholders (Function.Input) and writing results to output placeholders
// (Function.Save).
//
// Functions are built with the operation methods (Add, MatMul, ...), which
// panic with stack traces on invalid inputs (shape or dtype mismatches,
// cross-function nodes). A Function stays mutable after building: compiling
// it (engine.Engine.Compile) produces an independent artifact and optimizing
// it (optimizer.Optimize) rewrites it in place.
//
// Create functions with Module.NewFunction.
type Function struct {
	module *Module
	name   string

	nodes []*Node

	// inputs in first-use order, with the node that reads each.
	inputs                 []*Placeholder
	inputNodeByPlaceholder map[*Placeholder]*Node

	// saves in Save-call order: the function outputs.
	saves             []*Node
	saveByPlaceholder map[*Placeholder]*Node
}

// Name of the function, unique within its Module.
func (f *Function) Name() string { return f.name }

// Module that owns the function.
func (f *Function) Module() *Module { return f.module }

// Nodes returns all the function's nodes in id order.
// The slice is owned by the function and must not be changed.
func (f *Function) Nodes() []*Node { return f.nodes }

// NumNodes returns the number of nodes in the function.
func (f *Function) NumNodes() int { return len(f.nodes) }

// Inputs returns the placeholders the function reads, in first-use order.
// The slice is owned by the function and must not be changed.
func (f *Function) Inputs() []*Placeholder { return f.inputs }

// Outputs returns the placeholders the function writes, in Save order.
func (f *Function) Outputs() []*Placeholder {
	return xslices.Map(f.saves, func(save *Node) *Placeholder { return save.placeholder })
}

// SaveNodes returns the function's Save nodes, in Save order. They are the
// roots of the graph: everything not reachable from them is dead.
// The slice is owned by the function and must not be changed.
func (f *Function) SaveNodes() []*Node { return f.saves }

// AssertValid panics if the function is nil or detached from its module.
func (f *Function) AssertValid() {
	if f == nil {
		exceptions.Panicf("Function is nil")
	}
	if f.module == nil {
		exceptions.Panicf("Function %q is in an invalid state: detached from its Module", f.name)
	}
}

// registerNode appends the node to the function and assigns its id.
func (f *Function) registerNode(node *Node) *Node {
	node.id = NodeId(len(f.nodes))
	f.nodes = append(f.nodes, node)
	return node
}

// assertSameFunction panics unless the node belongs to this function.
func (f *Function) assertSameFunction(node *Node) {
	node.AssertValid()
	if node.fn != f {
		exceptions.Panicf("node %s belongs to function %q, not to function %q",
			node, node.fn.name, f.name)
	}
}

// ReplaceAllUses rewrites every edge pointing to old so it points to
// replacement instead. Both nodes must belong to this function and have equal
// shapes. The old node is left in place, unreferenced: Prune removes it.
//
// This is the primitive rewrite used by the optimizer passes.
func (f *Function) ReplaceAllUses(old, replacement *Node) {
	f.assertSameFunction(old)
	f.assertSameFunction(replacement)
	if old == replacement {
		return
	}
	if !old.shape.Equal(replacement.shape) {
		exceptions.Panicf("Function.ReplaceAllUses: shape of node %s differs from replacement %s",
			old, replacement)
	}
	for _, node := range f.nodes {
		for ii, input := range node.inputNodes {
			if input == old {
				node.inputNodes[ii] = replacement
			}
		}
	}
}

// Prune removes every node not reachable from the function's Save nodes,
// renumbers the remaining node ids and drops inputs whose Input nodes died.
// The relative order of surviving nodes is preserved.
func (f *Function) Prune() {
	reachable := make(map[*Node]bool, len(f.nodes))
	var mark func(node *Node)
	mark = func(node *Node) {
		if reachable[node] {
			return
		}
		reachable[node] = true
		for _, input := range node.inputNodes {
			mark(input)
		}
	}
	for _, save := range f.saves {
		mark(save)
	}

	survivors := make([]*Node, 0, len(f.nodes))
	for _, node := range f.nodes {
		if !reachable[node] {
			node.fn = nil // Detach dead node.
			continue
		}
		node.id = NodeId(len(survivors))
		survivors = append(survivors, node)
	}
	f.nodes = survivors

	// Drop inputs whose Input node died or was replaced.
	liveInputs := make([]*Placeholder, 0, len(f.inputs))
	for _, p := range f.inputs {
		inputNode := f.inputNodeByPlaceholder[p]
		if reachable[inputNode] {
			liveInputs = append(liveInputs, p)
			continue
		}
		delete(f.inputNodeByPlaceholder, p)
	}
	f.inputs = liveInputs
}

// String pretty-prints the function with all its nodes.
func (f *Function) String() string {
	var b strings.Builder
	inputNames := xslices.Map(f.inputs, func(p *Placeholder) string { return p.name })
	outputNames := xslices.Map(f.Outputs(), func(p *Placeholder) string { return p.name })
	fmt.Fprintf(&b, "Function %q: %d node(s), inputs=%v, outputs=%v\n",
		f.name, len(f.nodes), inputNames, outputNames)
	for _, node := range f.nodes {
		fmt.Fprintf(&b, "  %s\n", node)
	}
	return b.String()
}
