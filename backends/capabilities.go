// Copyright 2025-2026 The Ember Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"

	"github.com/emberml/ember/graph"
	"github.com/emberml/ember/types"
	"github.com/gomlx/gopjrt/dtypes"
)

// Capabilities holds mappings of what is supported by a backend.
type Capabilities struct {
	// Operations supported by a backend.
	// If not listed, it's assumed to be false, hence not supported.
	Operations map[graph.OpKind]bool

	// DTypes list the data types supported by a backend.
	// If not listed, it's assumed to be false, hence not supported.
	DTypes map[dtypes.DType]bool
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	var c2 Capabilities
	c2.Operations = make(map[graph.OpKind]bool, len(c.Operations))
	maps.Copy(c2.Operations, c.Operations)
	c2.DTypes = make(map[dtypes.DType]bool, len(c.DTypes))
	maps.Copy(c2.DTypes, c.DTypes)
	return c2
}

// Supports reports whether the capabilities allow executing op over dtype:
// the dtype must be supported, the operation must be supported (structural
// kinds are always allowed) and the combination must be meaningful per
// OpSupportsDType.
func (c Capabilities) Supports(op graph.OpKind, dtype dtypes.DType) bool {
	if !c.DTypes[dtype] {
		return false
	}
	if op.IsStructural() {
		return true
	}
	return c.Operations[op] && OpSupportsDType(op, dtype)
}

var (
	// FloatOperations operates only on floating point dtypes.
	FloatOperations = types.SetWith(
		graph.OpKindExp,
		graph.OpKindSqrt,
		graph.OpKindTanh,
		graph.OpKindSigmoid,
	)

	// SignedNumberOperations are meaningless on unsigned dtypes.
	// Notice Abs works for unsigned ints: it's just a trivial implementation.
	SignedNumberOperations = types.SetWith(
		graph.OpKindNeg,
	)
)

// OpSupportsDType reports whether the operation is meaningful for the dtype,
// independently of any backend: transcendental functions need floats and
// negation needs a signed dtype. Backends apply it on top of their own
// operation and dtype tables.
func OpSupportsDType(op graph.OpKind, dtype dtypes.DType) bool {
	if FloatOperations.Has(op) && !dtype.IsFloat() {
		return false
	}
	if SignedNumberOperations.Has(op) && dtype.IsUnsigned() {
		return false
	}
	return true
}
