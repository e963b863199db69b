package xslices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	count := 17
	in := make([]int, count)
	for ii := 0; ii < count; ii++ {
		in[ii] = ii
	}
	out := Map(in, func(v int) int32 { return int32(v + 1) })
	for ii := 0; ii < count; ii++ {
		assert.Equalf(t, int32(ii+1), out[ii], "element %d doesn't match", ii)
	}
}

func TestAtAndLast(t *testing.T) {
	slice := []int{0, 1, 2, 3, 4, 5}
	assert.Equal(t, 5, At(slice, -1))
	assert.Equal(t, 4, At(slice, -2))
	assert.Equal(t, 1, At(slice, 1))
	assert.Equal(t, 5, Last(slice))
}

func TestPop(t *testing.T) {
	slice := []int{0, 1, 2, 3, 4, 5}
	var got int
	got, slice = Pop(slice)
	assert.Equal(t, 5, got)
	assert.Len(t, slice, 5)

	got, slice = Pop(slice)
	assert.Equal(t, 4, got)
	assert.Len(t, slice, 4)
}

func TestFillAndIota(t *testing.T) {
	slice := make([]float32, 4)
	Fill(slice, 3.0)
	assert.Equal(t, []float32{3, 3, 3, 3}, slice)

	FillFn(slice, func(index int) float32 { return float32(index * index) })
	assert.Equal(t, []float32{0, 1, 4, 9}, slice)

	assert.Equal(t, []int32{5, 6, 7}, Iota(int32(5), 3))
	assert.Equal(t, []float64{0, 1, 2, 3}, Iota(0.0, 4))
}
