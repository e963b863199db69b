// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a computation backend needs to
// implement to compile and execute graph.Functions, and the registry the
// engine uses to instantiate them by Kind.
//
// Backends register themselves during package initialization, so importing a
// backend package is enough to make it available:
//
//	import _ "github.com/emberml/ember/backends/interpreter"
//
// Nothing in this package depends on a concrete backend.
package backends

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownKind is wrapped by errors reported for backend kinds that are
	// unknown or not registered (not compiled in).
	ErrUnknownKind = errors.New("unknown backend kind")

	// ErrOpNotSupported is wrapped by compilation errors reported when a
	// function uses an operation or dtype the backend does not support.
	ErrOpNotSupported = errors.New("operation not supported by backend")
)

// Kind identifies a backend implementation.
type Kind int

const (
	KindInvalid Kind = iota

	// KindInterpreter is the reference backend: it executes graphs
	// node-by-node and supports every operation.
	KindInterpreter

	// KindVecGo is the vectorized CPU backend: it compiles graphs to flat
	// instruction plans executed with a worker pool.
	KindVecGo
)

var kindByName = map[string]Kind{
	"interpreter": KindInterpreter,
	"vecgo":       KindVecGo,
}

// String returns the backend kind's short name, e.g. "interpreter".
func (k Kind) String() string {
	switch k {
	case KindInterpreter:
		return "interpreter"
	case KindVecGo:
		return "vecgo"
	default:
		return fmt.Sprintf("InvalidKind(%d)", int(k))
	}
}

// KindFromName returns the Kind with the given (case-insensitive) name.
// It returns an error wrapping ErrUnknownKind if the name matches no kind.
func KindFromName(name string) (Kind, error) {
	kind, found := kindByName[strings.ToLower(strings.TrimSpace(name))]
	if !found {
		known := slices.Sorted(maps.Keys(kindByName))
		return KindInvalid, errors.Wrapf(ErrUnknownKind, "backend name %q (known names: %s)",
			name, strings.Join(known, ", "))
	}
	return kind, nil
}

// Backend is the API a backend implements to compile and execute functions.
//
// A Backend is stateless with respect to the functions it compiles: each
// Compile call returns an independent CompiledFunction. Finalize releases
// whatever resources the backend holds (worker pools, scratch arenas) and
// makes it invalid; the engine only finalizes backends it owns.
type Backend interface {
	// Kind of the backend.
	Kind() Kind

	// Name returns the short name of the backend, matching Kind().String().
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Capabilities returns a copy of the backend's capability tables.
	Capabilities() Capabilities

	// IsOpSupported reports whether the backend can execute the operation
	// kind over the dtype. It is a pure query: it never fails.
	IsOpSupported(op graph.OpKind, dtype dtypes.DType) bool

	// Compile lowers fn to an executable artifact. The artifact is
	// independent of fn: later changes to fn do not affect it.
	//
	// Functions using operations or dtypes the backend does not support are
	// rejected with an error wrapping ErrOpNotSupported.
	Compile(fn *graph.Function) (CompiledFunction, error)

	// SaveBundle compiles fn and writes it as a deployable bundle
	// (<networkName>.json + <networkName>.weights) under outputDir,
	// creating the directory if needed.
	SaveBundle(fn *graph.Function, outputDir, networkName string) error

	// Finalize releases all the associated resources immediately, and makes
	// the backend invalid.
	Finalize()
}

// CompiledFunction is an executable artifact produced by Backend.Compile.
//
// It is safe for sequential reuse: Execute can be called any number of times.
type CompiledFunction interface {
	// Name of the function it was compiled from.
	Name() string

	// Inputs returns the placeholders the function reads, in the order
	// Execute expects its arguments.
	Inputs() []*graph.Placeholder

	// Outputs returns the placeholders the function writes, in the order
	// Execute returns its results.
	Outputs() []*graph.Placeholder

	// Execute runs the function once. inputs must be parallel to Inputs(),
	// with tensors of exactly the placeholders' shapes: implementations may
	// assume the caller (the engine) validated them. The returned tensors
	// are parallel to Outputs() and owned by the caller.
	Execute(inputs []*tensors.Tensor) ([]*tensors.Tensor, error)

	// Finalize releases the resources held by the compiled function. The
	// function is invalid afterwards.
	Finalize()
}

// Constructor builds a fresh Backend instance. Registered by each backend
// package's init().
type Constructor func() (Backend, error)

var (
	registry          = make(map[Kind]Constructor)
	registrationOrder []Kind
)

// Register a backend constructor under the given kind. The name must match
// kind.String(); it is taken explicitly so the registration line in each
// backend package documents itself.
//
// To be safe, call Register during initialization of a package.
func Register(kind Kind, name string, constructor Constructor) {
	if kind == KindInvalid || constructor == nil {
		exceptions.Panicf("backends.Register(%q): invalid kind or nil constructor", name)
	}
	if name != kind.String() {
		exceptions.Panicf("backends.Register(%q): name does not match kind %q", name, kind)
	}
	if _, found := registry[kind]; !found {
		registrationOrder = append(registrationOrder, kind)
	}
	registry[kind] = constructor
}

// Registered returns the kinds with a registered constructor, in
// registration order.
func Registered() []Kind {
	return slices.Clone(registrationOrder)
}

// New creates a backend of the given kind. It returns an error wrapping
// ErrUnknownKind if no such kind is registered.
func New(kind Kind) (Backend, error) {
	constructor, found := registry[kind]
	if !found {
		return nil, errors.Wrapf(ErrUnknownKind,
			"backend %s is not registered -- import its package, e.g. _ %q", kind,
			"github.com/emberml/ember/backends/interpreter")
	}
	return constructor()
}

// MustNew creates a backend of the given kind and panics on error.
func MustNew(kind Kind) Backend {
	return must.M1(New(kind))
}

// EMBER_BACKEND is the environment variable naming the default backend kind
// used by NewDefault, e.g. "interpreter" or "vecgo".
const EMBER_BACKEND = "EMBER_BACKEND"

// NewDefault creates the default backend:
//
//  1. The kind named by the EMBER_BACKEND environment variable, if set.
//  2. The interpreter, if registered.
//  3. The first registered backend.
//
// It returns an error wrapping ErrUnknownKind if nothing is registered or the
// environment variable names an unknown kind.
func NewDefault() (Backend, error) {
	if name := os.Getenv(EMBER_BACKEND); name != "" {
		kind, err := KindFromName(name)
		if err != nil {
			return nil, errors.WithMessagef(err, "from environment variable %s", EMBER_BACKEND)
		}
		return New(kind)
	}
	if _, found := registry[KindInterpreter]; found {
		return New(KindInterpreter)
	}
	if len(registrationOrder) > 0 {
		return New(registrationOrder[0])
	}
	return nil, errors.Wrapf(ErrUnknownKind,
		"no backends registered -- import a backend package, e.g. _ %q",
		"github.com/emberml/ember/backends/interpreter")
}
