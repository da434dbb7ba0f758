// Package ndarray holds the dense float64 array used for EEG samples and
// labels, together with its on-disk block format.
package ndarray

import (
	"fmt"
	"math"
)

// Array is a dense row-major float64 array.
type Array struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// New returns a zero-filled array of the given shape.
func New(shape ...int) Array {
	return Array{Shape: append([]int(nil), shape...), Data: make([]float64, product(shape))}
}

// FromData wraps data without copying. The number of elements must match shape.
func FromData(data []float64, shape ...int) (Array, error) {
	if n := product(shape); n != len(data) {
		return Array{}, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return Array{Shape: append([]int(nil), shape...), Data: data}, nil
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the leading dimension, or 0 for a scalar.
func (a Array) Len() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// Size is the total number of elements.
func (a Array) Size() int {
	return len(a.Data)
}

// Empty reports whether the array holds no elements.
func (a Array) Empty() bool {
	return len(a.Data) == 0
}

// Dims returns the number of dimensions.
func (a Array) Dims() int {
	return len(a.Shape)
}

// rowSize is the number of elements in one entry along the leading axis.
func (a Array) rowSize() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return product(a.Shape[1:])
}

// At returns a copy of entry i along the leading axis.
func (a Array) At(i int) Array {
	row := a.rowSize()
	out := New(a.Shape[1:]...)
	copy(out.Data, a.Data[i*row:(i+1)*row])
	return out
}

// Slice copies entries [lo, hi) along the leading axis.
func (a Array) Slice(lo, hi int) Array {
	row := a.rowSize()
	shape := append([]int{hi - lo}, a.Shape[1:]...)
	out := New(shape...)
	copy(out.Data, a.Data[lo*row:hi*row])
	return out
}

// Clone returns a deep copy.
func (a Array) Clone() Array {
	out := New(a.Shape...)
	copy(out.Data, a.Data)
	return out
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b Array) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Equal reports whether a and b have the same shape and bit-identical data.
func Equal(a, b Array) bool {
	if !SameShape(a, b) || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if math.Float64bits(a.Data[i]) != math.Float64bits(b.Data[i]) {
			return false
		}
	}
	return true
}
