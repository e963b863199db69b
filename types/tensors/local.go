package tensors

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"unsafe"

	"github.com/emberml/ember/types/shapes"
	"github.com/emberml/ember/types/xslices"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) (t *Tensor) {
	if !shape.Ok() {
		panic(errors.New("invalid shape"))
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	return &Tensor{
		shape: shape.Clone(),
		flat:  flatV.Interface(),
	}
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	var clone *Tensor
	t.ConstFlatData(func(flat any) {
		clone = FromShape(t.shape)
		reflect.Copy(reflect.ValueOf(clone.flat), reflect.ValueOf(flat))
	})
	return clone
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go
// type corresponding to the DType. Even scalar tensors have a flattened
// representation of one element. It locks the tensor until accessFn returns.
//
// accessFn is given the actual tensor data (not a copy), owned by the Tensor:
// it must not be changed. See Tensor.MutableFlatData for mutable access.
//
// See Tensor.Size for the number of elements, and Tensor.LayoutStrides to
// calculate the offset of individual positions from the indices at each axis.
//
// It panics if the tensor is in an invalid state (finalized).
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AssertValid()
	accessFn(t.flat)
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go
// type T, which must correspond to the tensor's DType.
//
// It is the generics version of Tensor.ConstFlatData.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("ConstFlatData[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
	t.ConstFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// MutableFlatData calls accessFn with a flat slice pointing to the tensor
// data, whose contents can be changed until accessFn returns. During this
// time the tensor is locked.
//
// Even scalar tensors have a flattened representation of one element.
//
// It panics if the tensor is in an invalid state (finalized).
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AssertValid()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with a flat slice of the Go type T pointing
// to the tensor data, which can be changed until accessFn returns.
//
// It is the generics version of Tensor.MutableFlatData.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("MutableFlatData[%T] is incompatible with Tensor's dtype %s",
			v, t.shape.DType)
	}
	t.MutableFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// ConstBytes calls accessFn with the tensor data as a bytes slice, in the
// Go memory layout of the flat data. The bytes are owned by the tensor and
// must not be changed -- see Tensor.MutableBytes for that.
func (t *Tensor) ConstBytes(accessFn func(data []byte)) {
	t.ConstFlatData(func(flat any) {
		accessFn(flatAsBytes(flat))
	})
}

// MutableBytes calls accessFn with the tensor data as a bytes slice, which
// can be changed until accessFn returns. It's the bytes view of
// Tensor.MutableFlatData.
func (t *Tensor) MutableBytes(accessFn func(data []byte)) {
	t.MutableFlatData(func(flat any) {
		accessFn(flatAsBytes(flat))
	})
}

// flatAsBytes reinterprets the flat slice memory as bytes.
func flatAsBytes(flat any) []byte {
	flatV := reflect.ValueOf(flat)
	if flatV.Len() == 0 {
		return nil
	}
	element0 := flatV.Index(0)
	flatValuesPtr := element0.Addr().UnsafePointer()
	sizeBytes := uintptr(flatV.Len()) * element0.Type().Size()
	return unsafe.Slice((*byte)(flatValuesPtr), sizeBytes)
}

// AssignFlatData copies the values of fromFlat into the storage of toTensor.
// It panics if the dtype is incompatible or the size is wrong.
func AssignFlatData[T dtypes.Supported](toTensor *Tensor, fromFlat []T) {
	MutableFlatData(toTensor, func(toFlat []T) {
		if len(toFlat) != len(fromFlat) {
			var v T
			exceptions.Panicf("AssignFlatData[%T] is trying to store %d values into shape %s, which requires %d values",
				v, len(fromFlat), toTensor.Shape(), toTensor.Shape().Size())
		}
		copy(toFlat, fromFlat)
	})
}

// ToScalar returns the scalar value of the tensor.
// It panics if T doesn't match the tensor's DType or if the tensor is not a scalar.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	if !t.shape.IsScalar() {
		var v T
		exceptions.Panicf("ToScalar[%T] requires scalar Tensor, got shape %s instead", v, t.shape)
	}
	var value T
	ConstFlatData(t, func(flat []T) {
		value = flat[0]
	})
	return value
}

// CopyFlatData returns a copy of the flat data of the tensor.
// It panics if T doesn't match the tensor's DType.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var flatCopy []T
	ConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return flatCopy
}

// MultiDimensionSlice lists the Go types a Tensor can be converted to/from
// with FromValue. There are no recursions in generics' constraint
// definitions, so we enumerate up to 5 levels of slices.
type MultiDimensionSlice interface {
	int8 | int | int32 | int64 | uint64 | float16.Float16 | float32 | float64 |
		[]int8 | []int | []int32 | []int64 | []uint64 | []float16.Float16 | []float32 | []float64 |
		[][]int8 | [][]int | [][]int32 | [][]int64 | [][]uint64 | [][]float16.Float16 | [][]float32 | [][]float64 |
		[][][]int8 | [][][]int | [][][]int32 | [][][]int64 | [][][]uint64 | [][][]float16.Float16 | [][][]float32 | [][][]float64 |
		[][][][]int8 | [][][][]int | [][][][]int32 | [][][][]int64 | [][][][]uint64 | [][][][]float16.Float16 | [][][][]float32 | [][][][]float64 |
		[][][][][]int8 | [][][][][]int | [][][][][]int32 | [][][][][]int64 | [][][][][]uint64 | [][][][][]float16.Float16 | [][][][][]float32 | [][][][][]float64
}

// LayoutStrides returns the strides for each axis: handy when addressing the
// flat data directly.
func (t *Tensor) LayoutStrides() (strides []int) {
	rank := t.shape.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= t.shape.Dimensions[axis]
	}
	return
}

// FromScalar creates a scalar tensor with the given value.
// The DType is inferred from the value.
func FromScalar[T dtypes.Supported](value T) (t *Tensor) {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled
// with the scalar value replicated everywhere. The DType is inferred from the value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) (t *Tensor) {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	t = FromShape(shape)
	MutableFlatData(t, func(flat []T) {
		xslices.Fill(flat, value)
	})
	return
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions,
// filled with the flattened values given in data, which are copied.
// The DType is inferred from the data element type.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) (t *Tensor) {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t = FromShape(shape)
	var dummy T
	switch any(dummy).(type) {
	case int:
		// The underlying storage is int32 or int64 depending on the platform's
		// int size, so we copy the raw bytes.
		t.MutableBytes(func(tensorData []byte) {
			dataAsBytes := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(data))), uintptr(len(data))*unsafe.Sizeof(dummy))
			copy(tensorData, dataAsBytes)
		})
	default:
		MutableFlatData(t, func(flat []T) {
			copy(flat, data)
		})
	}
	return
}

// FromValue returns a tensor constructed from the given multi-dimension slice
// (or scalar). If the rank of value is larger than 1, the shape of all
// sub-slices must be the same.
//
// It panics if the shape is not regular.
//
// Notice that FromFlatDataAndDimensions is much faster if speed is a concern.
func FromValue[S MultiDimensionSlice](value S) *Tensor {
	return FromAnyValue(value)
}

// FromAnyValue is a non-generic version of FromValue. The input is expected
// to be either a scalar or a slice of slices with homogeneous dimensions. If
// the input is a *Tensor already, it is simply returned.
//
// It panics if the value type is unsupported or the shape is not regular.
func FromAnyValue(value any) (t *Tensor) {
	if valueT, ok := value.(*Tensor); ok {
		return valueT
	}
	shape, err := shapeForValue(value)
	if err != nil {
		panic(errors.Wrapf(err, "cannot create shape from %T", value))
	}
	t = FromShape(shape)
	t.MutableFlatData(func(flatAny any) {
		if baseType(reflect.TypeOf(value)) == reflect.TypeOf(int(0)) {
			// Go `int` is stored as int32 or int64 depending on the
			// architecture; reinterpret the flat slice as []int so the copy
			// below works without converting element by element.
			if strconv.IntSize == 64 {
				flatRef := flatAny.([]int64)
				flatAny = unsafe.Slice((*int)(unsafe.Pointer(unsafe.SliceData(flatRef))), len(flatRef))
			} else if strconv.IntSize == 32 {
				flatRef := flatAny.([]int32)
				flatAny = unsafe.Slice((*int)(unsafe.Pointer(unsafe.SliceData(flatRef))), len(flatRef))
			} else {
				exceptions.Panicf("cannot use `int` of %d bits -- try using int32 or int64", strconv.IntSize)
			}
		}
		flatV := reflect.ValueOf(flatAny)
		if shape.IsScalar() {
			flatV.Index(0).Set(reflect.ValueOf(value))
			return
		}
		copySlicesRecursively(flatV, reflect.ValueOf(value), t.LayoutStrides())
	})
	return
}

// copySlicesRecursively copies values of a multi-dimension slice to a flat
// data slice, given the strides of each dimension.
func copySlicesRecursively(data reflect.Value, mdSlice reflect.Value, strides []int) {
	if len(strides) == 1 {
		reflect.Copy(data, mdSlice)
		return
	}
	numElements := mdSlice.Len()
	subStrides := strides[1:]
	for ii := 0; ii < numElements; ii++ {
		subData := data.Slice(ii*strides[0], (ii+1)*strides[0])
		copySlicesRecursively(subData, mdSlice.Index(ii), subStrides)
	}
}

// convertDataToSlices takes data as a flat slice and creates multidimensional
// slices with the given dimensions pointing to it.
func convertDataToSlices(dataV reflect.Value, dimensions ...int) reflect.Value {
	if len(dimensions) <= 1 {
		return dataV
	}
	resultT := dataV.Type().Elem()
	for range dimensions {
		resultT = reflect.SliceOf(resultT)
	}
	strides := make([]int, len(dimensions))
	currentStride := 1
	for dim := len(dimensions) - 1; dim >= 0; dim-- {
		strides[dim] = currentStride
		currentStride *= dimensions[dim]
	}
	return createSlicesRecursively(resultT, dataV, dimensions, strides)
}

// createSlicesRecursively builds the nested slices of convertDataToSlices:
// only the slice headers are created, the data is shared.
func createSlicesRecursively(resultT reflect.Type, data reflect.Value, dimensions []int, strides []int) reflect.Value {
	if len(strides) == 1 {
		return data
	}
	numElements := dimensions[0]
	slice := reflect.MakeSlice(resultT, numElements, numElements)
	subStrides := strides[1:]
	subDimensions := dimensions[1:]
	subResultT := resultT.Elem()
	for ii := 0; ii < numElements; ii++ {
		subData := data.Slice(ii*strides[0], (ii+1)*strides[0])
		slice.Index(ii).Set(createSlicesRecursively(subResultT, subData, subDimensions, subStrides))
	}
	return slice
}

func shapeForValue(v any) (shape shapes.Shape, err error) {
	err = shapeForValueRecursive(&shape, reflect.ValueOf(v), reflect.TypeOf(v))
	return
}

func shapeForValueRecursive(shape *shapes.Shape, v reflect.Value, t reflect.Type) error {
	if t.Kind() == reflect.Slice {
		t = t.Elem()
		shape.Dimensions = append(shape.Dimensions, v.Len())
		shapePrefix := shape.Clone()

		// The first element is the reference.
		if v.Len() == 0 {
			return errors.Errorf("value with empty slice not valid for Tensor conversion: %v", v)
		}
		err := shapeForValueRecursive(shape, v.Index(0), t)
		if err != nil {
			return err
		}

		// Other elements must have the same shape as the first one.
		for ii := 1; ii < v.Len(); ii++ {
			shapeTest := shapePrefix.Clone()
			err = shapeForValueRecursive(&shapeTest, v.Index(ii), t)
			if err != nil {
				return err
			}
			if !shape.Equal(shapeTest) {
				return errors.Errorf("sub-slices have irregular shapes, found shapes %q, and %q", shape, shapeTest)
			}
		}
	} else if t.Kind() == reflect.Pointer {
		return errors.Errorf("cannot convert Pointer (%s) to a concrete tensor value", t)
	} else {
		shape.DType = dtypes.FromGoType(t)
		if shape.DType == dtypes.InvalidDType {
			return errors.Errorf("cannot convert type %s to a concrete tensor type", t)
		}
	}
	return nil
}

// baseType returns the element type underlying a multi-dimension slice type:
// baseType of [][]int is int.
func baseType(valueType reflect.Type) reflect.Type {
	for valueType.Kind() == reflect.Slice || valueType.Kind() == reflect.Array {
		valueType = valueType.Elem()
	}
	return valueType
}

// Value returns a multidimensional slice (except if the shape is a scalar)
// with a copy of the tensor values. Expensive, usually only used for small
// tensors in tests or to print results.
func (t *Tensor) Value() any {
	var mdSlice any
	t.ConstFlatData(func(flat any) {
		if t.shape.IsScalar() {
			mdSlice = reflect.ValueOf(flat).Index(0).Interface()
			return
		}
		flatCopyV := reflect.MakeSlice(reflect.SliceOf(t.shape.DType.GoType()), t.Size(), t.Size())
		reflect.Copy(flatCopyV, reflect.ValueOf(flat))
		if t.shape.Rank() == 1 {
			mdSlice = flatCopyV.Interface()
			return
		}
		mdSlice = convertDataToSlices(flatCopyV, t.shape.Dimensions...).Interface()
	})
	return mdSlice
}

// Slice returns a copy of the i-th sub-tensor along axis 0: for a tensor of
// shape (Float32)[8 3 2], Slice(1) is the (Float32)[3 2] tensor holding
// elements [1, :, :]. Used to feed one sample of a batched tensor at a time.
//
// It panics for scalars or if i is out of range.
func (t *Tensor) Slice(i int) *Tensor {
	if t.Rank() == 0 {
		exceptions.Panicf("Tensor.Slice(%d): cannot slice a scalar tensor %s", i, t.shape)
	}
	batchDim := t.shape.Dimensions[0]
	if i < 0 || i >= batchDim {
		exceptions.Panicf("Tensor.Slice(%d): index out of range for shape %s", i, t.shape)
	}
	slice := FromShape(t.shape.SliceShape())
	sampleSize := slice.Size()
	t.ConstFlatData(func(fromFlat any) {
		slice.MutableFlatData(func(toFlat any) {
			fromV := reflect.ValueOf(fromFlat)
			reflect.Copy(reflect.ValueOf(toFlat), fromV.Slice(i*sampleSize, (i+1)*sampleSize))
		})
	})
	return slice
}

// WriteRaw writes the tensor flat data to the writer as raw bytes, in the
// flat memory layout. The shape is not written: pair it with metadata that
// records the shape, as the bundle format does.
func (t *Tensor) WriteRaw(w io.Writer) (n int, err error) {
	t.ConstBytes(func(data []byte) {
		n, err = w.Write(data)
		if err == nil && n != len(data) {
			err = errors.Errorf("wrote %d bytes of tensor %s, expected %d", n, t.shape, len(data))
		}
	})
	if err != nil {
		err = errors.Wrapf(err, "Tensor.WriteRaw(%s)", t.shape)
	}
	return
}

// ReadRaw reads the flat data of a tensor of the given shape from the reader,
// as written by Tensor.WriteRaw.
func ReadRaw(r io.Reader, shape shapes.Shape) (t *Tensor, err error) {
	if !shape.Ok() {
		return nil, errors.New("ReadRaw: invalid shape")
	}
	t = FromShape(shape)
	t.MutableBytes(func(data []byte) {
		_, err = io.ReadFull(r, data)
	})
	if err != nil {
		t.Finalize()
		return nil, errors.Wrapf(err, "ReadRaw of tensor %s", shape)
	}
	return
}

// Equal checks whether t == otherTensor: same shape and same values.
// If they are the same pointer they are considered equal.
// If either is invalid (nil or finalized) it panics.
//
// Slow implementation: fine for small tensors.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	equal := true
	t.ConstFlatData(func(flat0 any) {
		otherTensor.ConstFlatData(func(flat1 any) {
			t0V := reflect.ValueOf(flat0)
			t1V := reflect.ValueOf(flat1)
			for ii := range t0V.Len() {
				if !t0V.Index(ii).Equal(t1V.Index(ii)) {
					equal = false
					return
				}
			}
		})
	})
	return equal
}

// InDelta checks whether Abs(t - otherTensor) < delta for every element,
// converting values to float64 for the comparison. Shapes must be equal.
//
// Slow implementation: fine for small tensors in tests.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	inDelta := true
	t.ConstFlatData(func(flat0 any) {
		otherTensor.ConstFlatData(func(flat1 any) {
			values0 := flatToFloat64(flat0)
			values1 := flatToFloat64(flat1)
			for ii, v0 := range values0 {
				diff := v0 - values1[ii]
				if diff < -delta || diff > delta {
					inDelta = false
					return
				}
			}
		})
	})
	return inDelta
}

// flatToFloat64 converts a flat slice of any supported dtype to float64 values.
func flatToFloat64(flat any) []float64 {
	switch values := flat.(type) {
	case []float64:
		return values
	case []float32:
		return xslices.Map(values, func(v float32) float64 { return float64(v) })
	case []float16.Float16:
		return xslices.Map(values, func(v float16.Float16) float64 { return float64(v.Float32()) })
	case []int8:
		return xslices.Map(values, func(v int8) float64 { return float64(v) })
	case []int32:
		return xslices.Map(values, func(v int32) float64 { return float64(v) })
	case []int64:
		return xslices.Map(values, func(v int64) float64 { return float64(v) })
	case []uint64:
		return xslices.Map(values, func(v uint64) float64 { return float64(v) })
	default:
		exceptions.Panicf("unsupported flat data type %T for float conversion", flat)
	}
	return nil
}

// MaxSizeForString is the largest tensor size fully printed by String().
var MaxSizeForString = 500

// String prints the shape and, for small tensors, the values.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	if t.IsFinalized() {
		return fmt.Sprintf("Tensor(%s, finalized)", t.shape)
	}
	if t.Size() > MaxSizeForString {
		return fmt.Sprintf("Tensor(%s, %d elements)", t.shape, t.Size())
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tensor(%s): ", t.shape)
	fmt.Fprintf(&b, "%v", t.Value())
	return b.String()
}
