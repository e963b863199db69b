// Package xslices contains generic slice helpers not found in the standard
// library's slices package.
package xslices

import (
	"golang.org/x/exp/constraints"
)

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// At returns the element at the given index. A negative index counts from the
// end, so At(slice, -1) is the last element. It panics (index out of range)
// like regular slice indexing would.
func At[T any](slice []T, index int) T {
	if index < 0 {
		index = len(slice) + index
	}
	return slice[index]
}

// Last returns the last element of the slice.
func Last[T any](slice []T) T {
	return slice[len(slice)-1]
}

// Pop removes the last element of the slice and returns both the element and
// the shortened slice.
func Pop[T any](slice []T) (T, []T) {
	last := Last(slice)
	return last, slice[:len(slice)-1]
}

// Fill sets every element of the slice to value.
func Fill[T any](slice []T, value T) {
	for ii := range slice {
		slice[ii] = value
	}
}

// FillFn sets every element of the slice to the result of fn for its index.
func FillFn[T any](slice []T, fn func(index int) T) {
	for ii := range slice {
		slice[ii] = fn(ii)
	}
}

// Iota returns a slice of the given length with the values
// start, start+1, ..., start+length-1.
func Iota[T constraints.Integer | constraints.Float](start T, length int) (slice []T) {
	slice = make([]T, length)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}
