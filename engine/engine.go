// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// Package engine pairs a graph.Module with one backend and drives the
// compile-then-execute lifecycle: functions are built on the engine's module,
// compiled into a name-keyed registry, and run against the placeholder
// bindings held in a graph.Context.
//
// An Engine is single-threaded: the registry, the backend slot and the batch
// sample counter are not synchronized. Independent Engine instances are
// independent and can be used from different goroutines.
package engine

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/emberml/ember/backends"
	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/optimizer"
	"github.com/emberml/ember/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrNoCompiledFunction is the cause of the error returned by Run and
	// CompiledFunction when nothing was compiled yet. Test with errors.Is.
	ErrNoCompiledFunction = errors.New("engine holds no compiled function")

	// ErrAmbiguousFunction is the cause of the error returned by Run and
	// CompiledFunction when more than one function is compiled and the sole
	// function is requested. Test with errors.Is.
	ErrAmbiguousFunction = errors.New("engine holds more than one compiled function")

	// ErrFunctionNotFound is the cause of the error returned by RunNamed and
	// CompiledFunctionByName for a name that was never compiled. Test with
	// errors.Is.
	ErrFunctionNotFound = errors.New("no compiled function with the given name")
)

// Engine owns a graph.Module and one backend, and keeps the functions it
// compiled keyed by name.
type Engine struct {
	module  *graph.Module
	backend backends.Backend

	// ownsBackend tells whether Finalize (and backend replacement) may
	// finalize the current backend.
	ownsBackend bool

	registry map[string]backends.CompiledFunction
}

// New creates an Engine with a fresh Module and a new backend of the given
// kind, which the engine owns. It returns an error wrapping
// backends.ErrUnknownKind if the kind was not registered (usually a missing
// underscore import of the backend package).
func New(kind backends.Kind) (*Engine, error) {
	b, err := backends.New(kind)
	if err != nil {
		return nil, err
	}
	return newWithBackend(b, true), nil
}

// MustNew is like New, but panics on error.
func MustNew(kind backends.Kind) *Engine {
	return must.M1(New(kind))
}

// NewDefault creates an Engine backed by the default backend: the one named
// by the EMBER_BACKEND environment variable if set, otherwise the
// interpreter, otherwise the first registered backend.
func NewDefault() (*Engine, error) {
	b, err := backends.NewDefault()
	if err != nil {
		return nil, err
	}
	return newWithBackend(b, true), nil
}

func newWithBackend(b backends.Backend, owns bool) *Engine {
	return &Engine{
		module:      graph.NewModule(),
		backend:     b,
		ownsBackend: owns,
		registry:    make(map[string]backends.CompiledFunction),
	}
}

// Module returns the module the engine builds and compiles functions from.
// It is owned by the engine and stays valid for the engine's lifetime.
func (e *Engine) Module() *graph.Module { return e.module }

// Backend returns the active backend, or nil after Finalize.
func (e *Engine) Backend() backends.Backend { return e.backend }

// SetBackend replaces the active backend with a new owned backend of the
// given kind. The previous backend is finalized if the engine owned it.
//
// The registry is intentionally left alone: functions compiled for the
// previous backend stay registered but hold dead artifacts, recompile them
// before running. On error the engine is unchanged.
func (e *Engine) SetBackend(kind backends.Kind) error {
	b, err := backends.New(kind)
	if err != nil {
		return err
	}
	e.SetCustomBackend(b, true)
	return nil
}

// SetCustomBackend replaces the active backend with a caller-supplied one.
// When ownsBackend is false the engine never finalizes b, not on replacement
// and not on Engine.Finalize. The previous backend is finalized if owned.
func (e *Engine) SetCustomBackend(b backends.Backend, ownsBackend bool) {
	if e.backend != nil && e.ownsBackend {
		e.backend.Finalize()
	}
	e.backend = b
	e.ownsBackend = ownsBackend
}

// IsOpSupported reports whether the active backend can compile op over
// dtype. It returns false when the engine was finalized.
func (e *Engine) IsOpSupported(op graph.OpKind, dtype dtypes.DType) bool {
	if e.backend == nil {
		return false
	}
	return e.backend.IsOpSupported(op, dtype)
}

// Finalize finalizes every compiled function and, if owned, the backend. The
// engine is invalid afterwards. Safe to call more than once.
func (e *Engine) Finalize() {
	for _, cf := range e.registry {
		cf.Finalize()
	}
	clear(e.registry)
	if e.backend != nil && e.ownsBackend {
		e.backend.Finalize()
	}
	e.backend = nil
}

// Compile optimizes fn for the given mode and compiles it on the active
// backend, registering the result under the function's name.
//
// If clearOthers is set, every previously compiled function is finalized and
// discarded first, so the new function becomes the engine's sole one.
// Otherwise a function compiled earlier under the same name is finalized and
// replaced. A compile failure leaves the registry exactly as it was.
//
// Optimization rewrites fn in place, and structurally invalid functions
// panic, as everywhere during graph building.
func (e *Engine) Compile(mode optimizer.CompilationMode, fn *graph.Function, clearOthers bool) error {
	if e.backend == nil {
		return errors.Errorf("Engine.Compile: engine was finalized")
	}
	if fn == nil {
		return errors.Errorf("Engine.Compile: function is nil")
	}
	start := time.Now()
	optimizer.Optimize(fn, mode)
	compiled, err := e.backend.Compile(fn)
	if err != nil {
		return errors.WithMessagef(err, "Engine.Compile(%q)", fn.Name())
	}
	if clearOthers {
		for _, cf := range e.registry {
			cf.Finalize()
		}
		clear(e.registry)
	} else if previous, found := e.registry[fn.Name()]; found {
		previous.Finalize()
	}
	e.registry[fn.Name()] = compiled
	if klog.V(1).Enabled() {
		klog.Infof("compiled %q for %s on %q in %s, %s of constants",
			fn.Name(), mode, e.backend.Name(), time.Since(start),
			humanize.Bytes(constantBytes(fn)))
	}
	return nil
}

// Save optimizes fn for the given mode and writes it as a deployable bundle
// under outputDir, named networkName. It goes straight to the backend and
// neither reads nor changes the registry.
func (e *Engine) Save(mode optimizer.CompilationMode, fn *graph.Function, outputDir, networkName string) error {
	if e.backend == nil {
		return errors.Errorf("Engine.Save: engine was finalized")
	}
	if fn == nil {
		return errors.Errorf("Engine.Save: function is nil")
	}
	optimizer.Optimize(fn, mode)
	err := e.backend.SaveBundle(fn, outputDir, networkName)
	if err != nil {
		return errors.WithMessagef(err, "Engine.Save(%q)", fn.Name())
	}
	return nil
}

func constantBytes(fn *graph.Function) uint64 {
	var total uintptr
	for _, node := range fn.Nodes() {
		if node.Kind() == graph.OpKindConstant {
			total += node.ConstantValue().Memory()
		}
	}
	return uint64(total)
}

// CompiledFunction returns the engine's sole compiled function. It returns
// an error wrapping ErrNoCompiledFunction when nothing was compiled, or
// ErrAmbiguousFunction when there is more than one candidate.
func (e *Engine) CompiledFunction() (backends.CompiledFunction, error) {
	if len(e.registry) == 0 {
		return nil, errors.WithStack(ErrNoCompiledFunction)
	}
	if len(e.registry) > 1 {
		names := slices.Sorted(maps.Keys(e.registry))
		return nil, errors.Wrapf(ErrAmbiguousFunction, "compiled functions: %s",
			strings.Join(names, ", "))
	}
	var sole backends.CompiledFunction
	for _, cf := range e.registry {
		sole = cf
	}
	return sole, nil
}

// CompiledFunctionByName returns the compiled function registered under
// name, or an error wrapping ErrFunctionNotFound.
func (e *Engine) CompiledFunctionByName(name string) (backends.CompiledFunction, error) {
	cf, found := e.registry[name]
	if !found {
		return nil, errors.Wrapf(ErrFunctionNotFound, "function %q", name)
	}
	return cf, nil
}

// Run executes the engine's sole compiled function once: inputs are read
// from ctx and outputs are written back to it. See CompiledFunction for the
// errors when the sole function is not well-defined.
func (e *Engine) Run(ctx *graph.Context) error {
	cf, err := e.CompiledFunction()
	if err != nil {
		return err
	}
	return e.runCompiled(cf, ctx)
}

// RunNamed is Run for engines holding several compiled functions.
func (e *Engine) RunNamed(ctx *graph.Context, name string) error {
	cf, err := e.CompiledFunctionByName(name)
	if err != nil {
		return err
	}
	return e.runCompiled(cf, ctx)
}

// runCompiled is the single invocation point: it gathers and validates every
// input binding before executing, executes exactly once, and binds every
// output back into ctx.
func (e *Engine) runCompiled(cf backends.CompiledFunction, ctx *graph.Context) error {
	if ctx == nil {
		return errors.Errorf("run %q: context is nil", cf.Name())
	}
	phs := cf.Inputs()
	inputs := make([]*tensors.Tensor, len(phs))
	for ii, p := range phs {
		t := ctx.Get(p)
		if t == nil {
			return errors.Errorf("run %q: input placeholder %q has no tensor bound",
				cf.Name(), p.Name())
		}
		if !t.Shape().Equal(p.Shape()) {
			return errors.Wrapf(graph.ErrShapeMismatch,
				"run %q: input %q is bound to a %s tensor, placeholder wants %s",
				cf.Name(), p.Name(), t.Shape(), p.Shape())
		}
		inputs[ii] = t
	}
	outputs, err := cf.Execute(inputs)
	if err != nil {
		return errors.WithMessagef(err, "run %q", cf.Name())
	}
	for ii, p := range cf.Outputs() {
		ctx.MustBind(p, outputs[ii])
	}
	return nil
}
