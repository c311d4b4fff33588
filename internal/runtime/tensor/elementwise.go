package tensor

import (
	"errors"
	"fmt"
	"math"
)

// Map applies fn to every element and returns a new tensor of the same shape.
// fn receives and returns float64 so kernels round to float32 exactly once.
func Map(x *Tensor, fn func(v float64) float64) *Tensor {
	if x == nil {
		return nil
	}

	out := newOwned(make([]float32, len(x.data)), append([]int64(nil), x.shape...))

	parallelFor(len(x.data), getWorkers(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out.data[i] = float32(fn(float64(x.data[i])))
		}
	})

	return out
}

func Abs(x *Tensor) *Tensor { return Map(x, math.Abs) }

func Floor(x *Tensor) *Tensor { return Map(x, math.Floor) }

func Log2(x *Tensor) *Tensor { return Map(x, math.Log2) }

func Exp2(x *Tensor) *Tensor { return Map(x, math.Exp2) }

// RoundHalfEven rounds to the nearest integer, ties to even.
func RoundHalfEven(x *Tensor) *Tensor { return Map(x, math.RoundToEven) }

// RoundHalfAway rounds to the nearest integer, ties away from zero.
func RoundHalfAway(x *Tensor) *Tensor { return Map(x, math.Round) }

// Sign returns -1, 0 or +1 per element.
func Sign(x *Tensor) *Tensor {
	return Map(x, func(v float64) float64 {
		switch {
		case v > 0:
			return 1
		case v < 0:
			return -1
		default:
			return 0
		}
	})
}

// Clamp limits every element to [lo, hi].
func Clamp(x *Tensor, lo, hi float64) (*Tensor, error) {
	if x == nil {
		return nil, errors.New("tensor: clamp on nil tensor")
	}

	if lo > hi {
		return nil, fmt.Errorf("tensor: clamp bounds inverted [%g, %g]", lo, hi)
	}

	return Map(x, func(v float64) float64 {
		return math.Min(math.Max(v, lo), hi)
	}), nil
}

// CountOutside reports how many elements fall outside [lo, hi].
func CountOutside(x *Tensor, lo, hi float64) int {
	if x == nil {
		return 0
	}

	n := 0
	for _, v := range x.data {
		f := float64(v)
		if f < lo || f > hi {
			n++
		}
	}

	return n
}

// Where builds a tensor choosing a[i] where mask(x[i]) holds and b[i]
// otherwise. All three tensors must share a shape.
func Where(x *Tensor, mask func(v float32) bool, a, b *Tensor) (*Tensor, error) {
	if x == nil || a == nil || b == nil {
		return nil, errors.New("tensor: where requires non-nil inputs")
	}

	if !equalShape(x.shape, a.shape) || !equalShape(x.shape, b.shape) {
		return nil, fmt.Errorf("tensor: where shape mismatch %v, %v, %v", x.shape, a.shape, b.shape)
	}

	out := newOwned(make([]float32, len(x.data)), append([]int64(nil), x.shape...))
	for i, v := range x.data {
		if mask(v) {
			out.data[i] = a.data[i]
		} else {
			out.data[i] = b.data[i]
		}
	}

	return out, nil
}

// AllFinite reports whether no element is NaN or ±Inf.
func AllFinite(x *Tensor) bool {
	if x == nil {
		return true
	}

	for _, v := range x.data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}

	return true
}

// FirstNonFinite returns the index of the first NaN or ±Inf element, or -1.
func FirstNonFinite(x *Tensor) int {
	if x == nil {
		return -1
	}

	for i, v := range x.data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}

	return -1
}
