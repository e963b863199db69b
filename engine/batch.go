// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/types/tensors"
	"github.com/pkg/errors"
)

// UpdateInputPlaceholders binds inputs[i] to phs[i] for every i. All pairs
// are validated before anything is bound, so on error the context is
// untouched. Shapes and dtypes must match exactly, there is no implicit
// reshaping: mismatches return an error wrapping graph.ErrShapeMismatch.
func UpdateInputPlaceholders(ctx *graph.Context, phs []*graph.Placeholder, inputs []*tensors.Tensor) error {
	if ctx == nil {
		return errors.Errorf("UpdateInputPlaceholders: context is nil")
	}
	if len(phs) != len(inputs) {
		return errors.Errorf("UpdateInputPlaceholders: %d placeholders but %d tensors",
			len(phs), len(inputs))
	}
	for ii, p := range phs {
		if p == nil {
			return errors.Errorf("UpdateInputPlaceholders: placeholder #%d is nil", ii)
		}
		t := inputs[ii]
		if t == nil || !t.Ok() {
			return errors.Errorf("UpdateInputPlaceholders: tensor for %q is nil or invalid", p.Name())
		}
		if !t.Shape().Equal(p.Shape()) {
			return errors.Wrapf(graph.ErrShapeMismatch,
				"UpdateInputPlaceholders: tensor for %q is %s, placeholder wants %s",
				p.Name(), t.Shape(), p.Shape())
		}
	}
	for ii, p := range phs {
		ctx.MustBind(p, inputs[ii])
	}
	return nil
}

// UpdateInputPlaceholdersByName resolves each name on the module and then
// binds like UpdateInputPlaceholders: all-or-nothing, exact shapes.
func UpdateInputPlaceholdersByName(ctx *graph.Context, m *graph.Module, names []string, inputs []*tensors.Tensor) error {
	if m == nil {
		return errors.Errorf("UpdateInputPlaceholdersByName: module is nil")
	}
	if len(names) != len(inputs) {
		return errors.Errorf("UpdateInputPlaceholdersByName: %d names but %d tensors",
			len(names), len(inputs))
	}
	phs := make([]*graph.Placeholder, len(names))
	for ii, name := range names {
		p := m.PlaceholderByName(name)
		if p == nil {
			return errors.Errorf("UpdateInputPlaceholdersByName: module has no placeholder %q", name)
		}
		phs[ii] = p
	}
	return UpdateInputPlaceholders(ctx, phs, inputs)
}

// RunBatch runs the engine's sole compiled function iterations times,
// feeding one sample of the batched inputs per iteration.
//
// Every tensor in inputs carries a batch on its leading axis: they must all
// share the same leading dimension (the batch size), and the shape of one
// sample must equal the matching placeholder's shape. Each iteration binds
// sample (*sampleCounter % batchSize) of every input, runs, and increments
// the counter, so consecutive iterations walk the batch in order and wrap
// around.
//
// The counter belongs to the caller and is never reset: calling RunBatch
// again with the same variable resumes exactly where the previous call
// stopped, as if it had been one longer call. The batch size is derived from
// inputs on every call; a caller that switches to differently sized batches
// gets the literal counter-modulo-new-size behavior. A failed iteration does
// not advance the counter.
func RunBatch(e *Engine, ctx *graph.Context, iterations int, sampleCounter *int,
	phs []*graph.Placeholder, inputs []*tensors.Tensor) error {
	if sampleCounter == nil {
		return errors.Errorf("RunBatch: sampleCounter is nil")
	}
	if len(phs) != len(inputs) {
		return errors.Errorf("RunBatch: %d placeholders but %d batched tensors",
			len(phs), len(inputs))
	}
	if len(inputs) == 0 {
		return errors.Errorf("RunBatch: no batched inputs")
	}
	batchSize := 0
	for ii, t := range inputs {
		if t == nil || t.Rank() < 1 {
			return errors.Errorf("RunBatch: batched tensor #%d needs a batch axis", ii)
		}
		if ii == 0 {
			batchSize = t.Shape().Dimensions[0]
		} else if t.Shape().Dimensions[0] != batchSize {
			return errors.Errorf("RunBatch: batched tensor #%d has leading dimension %d, the first has %d",
				ii, t.Shape().Dimensions[0], batchSize)
		}
		if phs[ii] == nil {
			return errors.Errorf("RunBatch: placeholder #%d is nil", ii)
		}
		if !t.Shape().SliceShape().Equal(phs[ii].Shape()) {
			return errors.Wrapf(graph.ErrShapeMismatch,
				"RunBatch: samples of batched tensor #%d are %s, placeholder %q wants %s",
				ii, t.Shape().SliceShape(), phs[ii].Name(), phs[ii].Shape())
		}
	}
	samples := make([]*tensors.Tensor, len(inputs))
	for iter := 0; iter < iterations; iter++ {
		offset := *sampleCounter % batchSize
		for ii, t := range inputs {
			samples[ii] = t.Slice(offset)
		}
		if err := UpdateInputPlaceholders(ctx, phs, samples); err != nil {
			return errors.WithMessagef(err, "RunBatch: iteration %d", iter)
		}
		if err := e.Run(ctx); err != nil {
			return errors.WithMessagef(err, "RunBatch: iteration %d, sample %d", iter, offset)
		}
		*sampleCounter++
	}
	return nil
}
