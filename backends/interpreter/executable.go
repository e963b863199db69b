// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"slices"

	"github.com/emberml/ember/backends"
	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/internal/kernels"
	"github.com/emberml/ember/types/shapes"
	"github.com/emberml/ember/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// instruction is one step of the compiled program; its index in the program
// is also the index of its result buffer.
type instruction struct {
	kind   graph.OpKind
	shape  shapes.Shape
	inputs []int // Buffer indices of the operands.

	param    int             // For Input: index into the Execute inputs.
	output   int             // For Save: index into the Execute outputs.
	constant *tensors.Tensor // For Constant: the (copied) payload.
}

// Executable is a function compiled by the interpreter: a topological program
// evaluated node-by-node into per-node buffers.
//
// It is a frozen snapshot: changing the original function after Compile does
// not affect it.
type Executable struct {
	name    string
	inputs  []*graph.Placeholder
	outputs []*graph.Placeholder
	program []instruction
}

// Compile-time check that interpreter.Executable implements backends.CompiledFunction.
var _ backends.CompiledFunction = (*Executable)(nil)

// Compile lowers fn to an Executable after validating it against the
// backend's capabilities. Unsupported operation and dtype combinations are
// reported with an error wrapping backends.ErrOpNotSupported.
func (b *Backend) Compile(fn *graph.Function) (backends.CompiledFunction, error) {
	if err := b.validate(fn); err != nil {
		return nil, err
	}

	inputs := slices.Clone(fn.Inputs())
	paramIndex := make(map[*graph.Placeholder]int, len(inputs))
	for ii, p := range inputs {
		paramIndex[p] = ii
	}
	outputIndex := make(map[*graph.Node]int, len(fn.SaveNodes()))
	for ii, save := range fn.SaveNodes() {
		outputIndex[save] = ii
	}

	// Node ids are contiguous and inputs always precede their users, so the
	// program is the node list itself, with edges turned into buffer indices.
	program := make([]instruction, 0, fn.NumNodes())
	for _, node := range fn.Nodes() {
		inst := instruction{
			kind:  node.Kind(),
			shape: node.Shape().Clone(),
		}
		inst.inputs = make([]int, 0, len(node.Inputs()))
		for _, input := range node.Inputs() {
			inst.inputs = append(inst.inputs, int(input.Id()))
		}
		switch node.Kind() {
		case graph.OpKindInput:
			inst.param = paramIndex[node.Placeholder()]
		case graph.OpKindSave:
			inst.output = outputIndex[node]
		case graph.OpKindConstant:
			inst.constant = node.ConstantValue().Clone()
		}
		program = append(program, inst)
	}

	return &Executable{
		name:    fn.Name(),
		inputs:  inputs,
		outputs: fn.Outputs(),
		program: program,
	}, nil
}

// Name of the function the executable was compiled from.
func (e *Executable) Name() string { return e.name }

// Inputs returns the placeholders read, in the order Execute expects.
func (e *Executable) Inputs() []*graph.Placeholder { return e.inputs }

// Outputs returns the placeholders written, in the order Execute returns.
func (e *Executable) Outputs() []*graph.Placeholder { return e.outputs }

// Execute runs the program once. inputs must be parallel to Inputs() with
// exactly the placeholders' shapes. The returned tensors are parallel to
// Outputs() and freshly allocated: they never alias the inputs.
func (e *Executable) Execute(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	if e.program == nil {
		return nil, errors.Errorf("interpreter: executable %q already finalized", e.name)
	}
	if len(inputs) != len(e.inputs) {
		return nil, errors.Errorf("interpreter: executable %q takes %d inputs, got %d",
			e.name, len(e.inputs), len(inputs))
	}

	buffers := make([]*tensors.Tensor, len(e.program))
	outputs := make([]*tensors.Tensor, len(e.outputs))
	err := exceptions.TryCatch[error](func() {
		for ii, inst := range e.program {
			switch inst.kind {
			case graph.OpKindInput:
				buffers[ii] = inputs[inst.param]
			case graph.OpKindConstant:
				buffers[ii] = inst.constant
			case graph.OpKindSave:
				outputs[inst.output] = buffers[inst.inputs[0]].Clone()
			default:
				operands := make([]*tensors.Tensor, len(inst.inputs))
				for jj, index := range inst.inputs {
					operands[jj] = buffers[index]
				}
				buffers[ii] = kernels.Evaluate(inst.kind, inst.shape, operands)
			}
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "interpreter: executing %q", e.name)
	}
	return outputs, nil
}

// Finalize drops the program and the constants held by the executable. The
// executable is invalid afterwards.
func (e *Executable) Finalize() {
	e.program = nil
}
