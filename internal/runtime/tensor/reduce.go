package tensor

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// MinMax returns the smallest and largest element of x.
func MinMax(x *Tensor) (lo, hi float64, err error) {
	if x == nil || len(x.data) == 0 {
		return 0, 0, errors.New("tensor: min/max of empty tensor")
	}

	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range x.data {
		f := float64(v)
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}

	return lo, hi, nil
}

// MinMaxAlong returns one (min, max) pair per index of dim, reducing over
// every other dimension. Both slices have length x.shape[dim].
func MinMaxAlong(x *Tensor, dim int) (mins, maxs []float64, err error) {
	if x == nil || len(x.data) == 0 {
		return nil, nil, errors.New("tensor: min/max of empty tensor")
	}

	dim, err = normalizeDim(dim, len(x.shape))
	if err != nil {
		return nil, nil, fmt.Errorf("tensor: min/max along: %w", err)
	}

	size := x.shape[dim]
	outer, inner := outerInner(x.shape, dim)

	mins = make([]float64, size)
	maxs = make([]float64, size)

	for c := range size {
		mins[c] = math.Inf(1)
		maxs[c] = math.Inf(-1)
	}

	for o := range outer {
		for c := range size {
			base := (o*size + c) * inner
			for _, v := range x.data[base : base+inner] {
				f := float64(v)
				mins[c] = math.Min(mins[c], f)
				maxs[c] = math.Max(maxs[c], f)
			}
		}
	}

	return mins, maxs, nil
}

// Sorted returns the elements of x in ascending order as float64.
func Sorted(x *Tensor) []float64 {
	if x == nil {
		return nil
	}

	out := make([]float64, len(x.data))
	for i, v := range x.data {
		out[i] = float64(v)
	}

	slices.Sort(out)

	return out
}

// Quantile returns the q-th quantile of x using linear interpolation between
// the two closest ranks: h = (n-1)*q, result = s[⌊h⌋] + (h-⌊h⌋)*(s[⌊h⌋+1]-s[⌊h⌋]).
func Quantile(x *Tensor, q float64) (float64, error) {
	if x == nil || len(x.data) == 0 {
		return 0, errors.New("tensor: quantile of empty tensor")
	}

	return QuantileSorted(Sorted(x), q)
}

// QuantileSorted is Quantile over data already sorted ascending.
func QuantileSorted(sorted []float64, q float64) (float64, error) {
	if len(sorted) == 0 {
		return 0, errors.New("tensor: quantile of empty data")
	}

	if math.IsNaN(q) || q < 0 || q > 1 {
		return 0, fmt.Errorf("tensor: quantile %g outside [0, 1]", q)
	}

	h := float64(len(sorted)-1) * q
	lo := int(math.Floor(h))

	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1], nil
	}

	frac := h - float64(lo)

	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo]), nil
}
