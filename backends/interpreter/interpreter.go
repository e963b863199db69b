// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// Package interpreter implements the reference backend: it executes graph
// functions node-by-node over host tensors, with no vectorization and no
// parallelism. Slow, but it supports every operation and the widest set of
// dtypes, so it doubles as the comparison point for other backends.
package interpreter

import (
	"fmt"

	"github.com/emberml/ember/backends"
	"github.com/emberml/ember/backends/bundle"
	"github.com/emberml/ember/graph"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// BackendName to be used in EMBER_BACKEND to specify this backend.
const BackendName = "interpreter"

func init() {
	backends.Register(backends.KindInterpreter, BackendName, func() (backends.Backend, error) {
		return New(), nil
	})
}

// Capabilities of the interpreter: every operation, over the engine's full
// set of dtypes.
var Capabilities = backends.Capabilities{
	Operations: map[graph.OpKind]bool{
		graph.OpKindInput:    true,
		graph.OpKindConstant: true,
		graph.OpKindReshape:  true,
		graph.OpKindSave:     true,

		graph.OpKindAdd: true,
		graph.OpKindSub: true,
		graph.OpKindMul: true,
		graph.OpKindDiv: true,
		graph.OpKindMin: true,
		graph.OpKindMax: true,

		graph.OpKindNeg:     true,
		graph.OpKindAbs:     true,
		graph.OpKindExp:     true,
		graph.OpKindSqrt:    true,
		graph.OpKindTanh:    true,
		graph.OpKindSigmoid: true,
		graph.OpKindRelu:    true,

		graph.OpKindMatMul: true,
	},

	DTypes: map[dtypes.DType]bool{
		dtypes.Int8:    true,
		dtypes.Int32:   true,
		dtypes.Int64:   true,
		dtypes.Uint64:  true,
		dtypes.Float16: true,
		dtypes.Float32: true,
		dtypes.Float64: true,
	},
}

// New constructs an interpreter Backend. There are no configurations.
func New() *Backend {
	return &Backend{}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	finalized bool
}

// Compile-time check that interpreter.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// Kind of the backend: backends.KindInterpreter.
func (b *Backend) Kind() backends.Kind { return backends.KindInterpreter }

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Reference interpreter: sequential node-by-node execution"
}

// Capabilities returns a copy of what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return Capabilities.Clone()
}

// IsOpSupported reports whether the interpreter can execute op over dtype.
func (b *Backend) IsOpSupported(op graph.OpKind, dtype dtypes.DType) bool {
	return Capabilities.Supports(op, dtype)
}

// SaveBundle compiles fn and writes it as a deployable bundle under
// outputDir. The bundle's weights are the function's constants.
func (b *Backend) SaveBundle(fn *graph.Function, outputDir, networkName string) error {
	exe, err := b.Compile(fn)
	if err != nil {
		return err
	}
	defer exe.Finalize()

	program := make([]string, 0, fn.NumNodes())
	var weights []bundle.Weight
	for _, node := range fn.Nodes() {
		program = append(program, node.String())
		if node.Kind() == graph.OpKindConstant {
			weights = append(weights, bundle.Weight{
				Name:   constantWeightName(node),
				Tensor: node.ConstantValue(),
			})
		}
	}
	metadata := bundle.Metadata{
		Backend:  BackendName,
		Function: fn.Name(),
		Inputs:   placeholderInfos(fn.Inputs()),
		Outputs:  placeholderInfos(fn.Outputs()),
		Program:  program,
	}
	return bundle.Write(outputDir, networkName, metadata, weights)
}

// Finalize releases all the associated resources immediately, and makes the
// backend invalid.
func (b *Backend) Finalize() {
	b.finalized = true
}

func constantWeightName(node *graph.Node) string {
	return fmt.Sprintf("constant_%d", node.Id())
}

func placeholderInfos(phs []*graph.Placeholder) []bundle.TensorInfo {
	infos := make([]bundle.TensorInfo, 0, len(phs))
	for _, p := range phs {
		infos = append(infos, bundle.NewTensorInfo(p.Name(), p.Shape()))
	}
	return infos
}

// validate checks the function only uses operations and dtypes the
// capabilities allow.
func (b *Backend) validate(fn *graph.Function) error {
	if b.finalized {
		return errors.Errorf("interpreter backend already finalized")
	}
	if fn == nil {
		return errors.Errorf("interpreter: function is nil")
	}
	for _, node := range fn.Nodes() {
		if !Capabilities.Supports(node.Kind(), node.DType()) {
			return errors.Wrapf(backends.ErrOpNotSupported,
				"interpreter cannot compile function %q: node %s uses %s over %s",
				fn.Name(), node, node.Kind(), node.DType())
		}
	}
	return nil
}

