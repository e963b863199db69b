// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// Package vecgo implements the vectorized CPU backend: functions are
// compiled to flat instruction plans with per-dtype kernels resolved at
// compile time, and the element-wise kernels and matrix products execute in
// parallel chunks on a shared worker pool.
//
// It trades the interpreter's dtype breadth for speed: only Int32, Int64,
// Float32 and Float64 are supported. Capability probing (Backend.IsOpSupported)
// tells the two apart.
package vecgo

import (
	"fmt"

	"github.com/emberml/ember/backends"
	"github.com/emberml/ember/backends/bundle"
	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/internal/workerspool"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// BackendName to be used in EMBER_BACKEND to specify this backend.
const BackendName = "vecgo"

func init() {
	backends.Register(backends.KindVecGo, BackendName, func() (backends.Backend, error) {
		return New(), nil
	})
}

// Capabilities of vecgo: every operation, over the four vector-friendly
// dtypes.
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
		dtypes.Int32:   true,
		dtypes.Int64:   true,
		dtypes.Float32: true,
		dtypes.Float64: true,
	},
}

// New constructs a vecgo Backend with the default worker pool
// (runtime.NumCPU() workers).
func New() *Backend {
	return &Backend{pool: workerspool.New()}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	// pool is shared by every function this backend compiles.
	pool      *workerspool.Pool
	finalized bool
}

// Compile-time check that vecgo.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// Kind of the backend: backends.KindVecGo.
func (b *Backend) Kind() backends.Kind { return backends.KindVecGo }

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return fmt.Sprintf("Vectorized CPU backend (%d workers)", b.pool.MaxParallelism())
}

// Pool returns the worker pool shared by the backend's compiled functions.
// Setting its parallelism to 0 disables parallel execution.
func (b *Backend) Pool() *workerspool.Pool { return b.pool }

// Capabilities returns a copy of what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return Capabilities.Clone()
}

// IsOpSupported reports whether vecgo can execute op over dtype.
func (b *Backend) IsOpSupported(op graph.OpKind, dtype dtypes.DType) bool {
	return Capabilities.Supports(op, dtype)
}

// SaveBundle compiles fn and writes it as a deployable bundle under
// outputDir, with the plan summary in the metadata extras.
func (b *Backend) SaveBundle(fn *graph.Function, outputDir, networkName string) error {
	compiled, err := b.Compile(fn)
	if err != nil {
		return err
	}
	exe := compiled.(*Executable)
	defer exe.Finalize()

	program := make([]string, 0, fn.NumNodes())
	var weights []bundle.Weight
	for _, node := range fn.Nodes() {
		program = append(program, node.String())
		if node.Kind() == graph.OpKindConstant {
			weights = append(weights, bundle.Weight{
				Name:   fmt.Sprintf("constant_%d", node.Id()),
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
		Extras: map[string]string{
			"plan":    exe.planSummary(),
			"workers": fmt.Sprintf("%d", b.pool.MaxParallelism()),
		},
	}
	return bundle.Write(outputDir, networkName, metadata, weights)
}

// Finalize releases all the associated resources immediately, and makes the
// backend invalid. Functions it already compiled stay runnable: they only
// share the worker pool, which needs no teardown.
func (b *Backend) Finalize() {
	b.finalized = true
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
		return errors.Errorf("vecgo backend already finalized")
	}
	if fn == nil {
		return errors.Errorf("vecgo: function is nil")
	}
	for _, node := range fn.Nodes() {
		if !Capabilities.Supports(node.Kind(), node.DType()) {
			return errors.Wrapf(backends.ErrOpNotSupported,
				"vecgo cannot compile function %q: node %s uses %s over %s",
				fn.Name(), node, node.Kind(), node.DType())
		}
	}
	return nil
}
