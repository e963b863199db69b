// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

// Package graph defines the computation graphs compiled and executed by the
// engine package: a Module owns named Functions and Placeholders, a Function
// is a DAG of Nodes built with its operation methods, and a Context binds
// concrete tensors to placeholders for execution.
//
// # Error Handling
//
// Graph building methods (Module.NewFunction, Function.Add, Function.MatMul,
// ...) "throw" errors with panic(), carrying full stack traces (see
// github.com/gomlx/exceptions). This keeps model-building code free of error
// plumbing for every operation and still reports meaningful messages with the
// exact building location. Execution-time methods (Context.Bind and
// everything in the engine package) return errors instead.
//
// A typical build:
//
//	m := graph.NewModule()
//	x := m.NewPlaceholder("x", shapes.Make(dtypes.Float32, 4))
//	y := m.NewPlaceholder("y", shapes.Make(dtypes.Float32, 4))
//	fn := m.NewFunction("double")
//	fn.Save(fn.Add(fn.Input(x), fn.Input(x)), y)
package graph

import (
	"fmt"
	"strings"

	"github.com/emberml/ember/types/shapes"
	"github.com/gomlx/exceptions"
)

// Module owns a set of Functions and the Placeholders they read and write.
// It is the unit of ownership of an execution engine: one engine instance
// holds exactly one Module for its whole lifetime.
//
// Functions and placeholders are identified by name, unique within the
// module. A Module is not safe for concurrent mutation.
type Module struct {
	functions       []*Function
	functionsByName map[string]*Function

	placeholders       []*Placeholder
	placeholdersByName map[string]*Placeholder
}

// NewModule creates an empty Module.
func NewModule() *Module {
	return &Module{
		functionsByName:    make(map[string]*Function),
		placeholdersByName: make(map[string]*Placeholder),
	}
}

// NewFunction creates a new empty Function registered in the module.
// The name must be non-empty and unique within the module, otherwise it panics.
func (m *Module) NewFunction(name string) *Function {
	if name == "" {
		exceptions.Panicf("Module.NewFunction: function name cannot be empty")
	}
	if _, found := m.functionsByName[name]; found {
		exceptions.Panicf("Module.NewFunction: module already has a function named %q", name)
	}
	fn := &Function{
		module:                 m,
		name:                   name,
		inputNodeByPlaceholder: make(map[*Placeholder]*Node),
		saveByPlaceholder:      make(map[*Placeholder]*Node),
	}
	m.functions = append(m.functions, fn)
	m.functionsByName[name] = fn
	return fn
}

// NewPlaceholder creates a named, shaped slot in the module. Functions read
// it with Function.Input and write it with Function.Save; Context binds
// tensors to it for execution.
//
// The name must be non-empty and unique among the module's placeholders, and
// the shape must be valid, otherwise it panics.
func (m *Module) NewPlaceholder(name string, shape shapes.Shape) *Placeholder {
	if name == "" {
		exceptions.Panicf("Module.NewPlaceholder: placeholder name cannot be empty")
	}
	if _, found := m.placeholdersByName[name]; found {
		exceptions.Panicf("Module.NewPlaceholder: module already has a placeholder named %q", name)
	}
	if !shape.Ok() {
		exceptions.Panicf("Module.NewPlaceholder(%q): invalid shape", name)
	}
	p := &Placeholder{module: m, name: name, shape: shape.Clone()}
	m.placeholders = append(m.placeholders, p)
	m.placeholdersByName[name] = p
	return p
}

// FunctionByName returns the function with the given name, or nil if there
// is none.
func (m *Module) FunctionByName(name string) *Function {
	return m.functionsByName[name]
}

// PlaceholderByName returns the placeholder with the given name, or nil if
// there is none.
func (m *Module) PlaceholderByName(name string) *Placeholder {
	return m.placeholdersByName[name]
}

// Functions returns the module's functions in creation order.
// The slice is owned by the module and must not be changed.
func (m *Module) Functions() []*Function { return m.functions }

// Placeholders returns the module's placeholders in creation order.
// The slice is owned by the module and must not be changed.
func (m *Module) Placeholders() []*Placeholder { return m.placeholders }

// String pretty-prints the module: its placeholders and functions.
func (m *Module) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Module: %d function(s), %d placeholder(s)\n", len(m.functions), len(m.placeholders))
	for _, p := range m.placeholders {
		fmt.Fprintf(&b, "  placeholder %s\n", p)
	}
	for _, fn := range m.functions {
		b.WriteString(fn.String())
	}
	return b.String()
}
