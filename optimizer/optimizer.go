// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizer rewrites graph.Functions in place before they are handed
// to a backend: it deduplicates structurally identical nodes, folds
// operations over constants (for inference) and prunes dead nodes.
//
// The passes only use the public graph rewrite primitives
// (Function.ReplaceAllUses and Function.Prune), so they preserve the
// function's observable semantics: inputs, outputs and the values saved.
package optimizer

import (
	"fmt"
	"strings"

	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/internal/kernels"
	"github.com/emberml/ember/types/tensors"
	"github.com/gomlx/exceptions"
)

// CompilationMode selects how aggressively a Function is optimized before
// compilation. Training keeps the graph faithful to what was built; Inference
// additionally folds constant subexpressions.
type CompilationMode int

const (
	// Inference mode: the compiled function will only be executed forward, so
	// constant subexpressions can be folded away.
	Inference CompilationMode = iota

	// Training mode: keeps every non-dead node, constants are not folded.
	Training
)

// String returns the name of the compilation mode.
func (m CompilationMode) String() string {
	switch m {
	case Inference:
		return "Inference"
	case Training:
		return "Training"
	default:
		return fmt.Sprintf("InvalidCompilationMode(%d)", int(m))
	}
}

// Optimize rewrites fn in place:
//
//  1. Deduplicates structurally identical nodes (same kind, shape, inputs
//     and payload), in any mode.
//  2. Folds operations whose inputs are all constants, in Inference mode only.
//  3. Prunes nodes not reachable from the Save nodes, in any mode.
//
// The function's saved values are unchanged. Node ids are renumbered by the
// final pruning, so ids recorded before the call are stale after it.
func Optimize(fn *graph.Function, mode CompilationMode) {
	fn.AssertValid()
	dedupNodes(fn)
	if mode == Inference {
		foldConstants(fn)
	}
	fn.Prune()
}

// dedupNodes redirects the uses of every node that is structurally identical
// to an earlier one (common subexpression elimination). Nodes are visited in
// id order, so inputs are canonical by the time a node is keyed.
func dedupNodes(fn *graph.Function) {
	seen := make(map[string]*graph.Node, fn.NumNodes())
	for _, node := range fn.Nodes() {
		switch node.Kind() {
		case graph.OpKindInput, graph.OpKindSave:
			// Inputs are unique per placeholder by construction and Saves are
			// roots with placeholder identity: neither is deduplicated.
			continue
		}
		key := nodeKey(node)
		if canonical, found := seen[key]; found {
			fn.ReplaceAllUses(node, canonical)
			continue
		}
		seen[key] = node
	}
}

// nodeKey returns a string identifying the node's structure: kind, shape,
// input node ids and, for constants, the literal bytes.
func nodeKey(node *graph.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s", node.Kind(), node.Shape())
	for _, input := range node.Inputs() {
		fmt.Fprintf(&b, "|#%d", input.Id())
	}
	if node.Kind() == graph.OpKindConstant {
		node.ConstantValue().ConstBytes(func(raw []byte) {
			b.WriteByte('|')
			b.Write(raw)
		})
	}
	return b.String()
}

// foldConstants replaces every node whose inputs are all constants with a
// constant holding the evaluated result. Nodes the kernels cannot evaluate
// (unsupported dtype, division by zero) are left in place for the backend to
// handle or reject.
func foldConstants(fn *graph.Function) {
	// Range over the node count at entry: folding appends constant nodes,
	// which need no visit of their own.
	for _, node := range fn.Nodes() {
		kind := node.Kind()
		if !foldable(kind) {
			continue
		}
		inputs := node.Inputs()
		values := make([]*tensors.Tensor, len(inputs))
		allConstant := true
		for ii, input := range inputs {
			if input.Kind() != graph.OpKindConstant {
				allConstant = false
				break
			}
			values[ii] = input.ConstantValue()
		}
		if !allConstant {
			continue
		}
		var folded *tensors.Tensor
		err := exceptions.TryCatch[error](func() {
			folded = kernels.Evaluate(kind, node.Shape(), values)
		})
		if err != nil {
			continue
		}
		fn.ReplaceAllUses(node, fn.Constant(folded))
	}
}

// foldable reports whether the kind computes a value the kernels can
// evaluate ahead of time.
func foldable(kind graph.OpKind) bool {
	return kind.IsBinary() || kind.IsUnary() ||
		kind == graph.OpKindMatMul || kind == graph.OpKindReshape
}
