// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/emberml/ember/types/tensors"
	"github.com/pkg/errors"
)

// ErrShapeMismatch is the cause of errors returned when a tensor is bound to
// (or validated against) a placeholder of a different shape or dtype.
// Test with errors.Is.
var ErrShapeMismatch = errors.New("tensor shape does not match placeholder shape")

// Context holds the tensors bound to placeholders for execution: the engine
// reads function inputs from it and writes function outputs back to it.
//
// Contexts are owned by the caller and reusable across runs -- rebinding
// inputs between runs is the normal way to stream data through a compiled
// function. A Context is not safe for concurrent use.
type Context struct {
	bindings map[*Placeholder]*tensors.Tensor
}

// NewContext returns an empty binding Context.
func NewContext() *Context {
	return &Context{bindings: make(map[*Placeholder]*tensors.Tensor)}
}

// Bind associates the tensor to the placeholder, replacing any previous
// binding. The tensor shape and dtype must equal the placeholder's declared
// shape: there is no implicit reshaping or casting. On mismatch it returns an
// error wrapping ErrShapeMismatch and the context is left unchanged.
func (c *Context) Bind(p *Placeholder, t *tensors.Tensor) error {
	if p == nil {
		return errors.New("Context.Bind: placeholder is nil")
	}
	if t == nil || !t.Ok() {
		return errors.Errorf("Context.Bind(%q): tensor is nil or invalid", p.name)
	}
	if !t.Shape().Equal(p.shape) {
		return errors.Wrapf(ErrShapeMismatch, "Context.Bind(%q): tensor shape %s, placeholder shape %s",
			p.name, t.Shape(), p.shape)
	}
	c.bindings[p] = t
	return nil
}

// MustBind is like Bind, but panics on error.
func (c *Context) MustBind(p *Placeholder, t *tensors.Tensor) {
	if err := c.Bind(p, t); err != nil {
		panic(err)
	}
}

// Get returns the tensor bound to the placeholder, or nil if it is unbound.
func (c *Context) Get(p *Placeholder) *tensors.Tensor {
	return c.bindings[p]
}

// Has returns whether the placeholder has a tensor bound to it.
func (c *Context) Has(p *Placeholder) bool {
	_, found := c.bindings[p]
	return found
}

// Len returns the number of bound placeholders.
func (c *Context) Len() int { return len(c.bindings) }

// Unbind removes the binding for the placeholder, if any.
func (c *Context) Unbind(p *Placeholder) {
	delete(c.bindings, p)
}

// Clear removes all bindings.
func (c *Context) Clear() {
	clear(c.bindings)
}
