package tensor

import (
	"errors"
	"fmt"
)

// Narrow slices the tensor along a single dimension.
func (t *Tensor) Narrow(dim int, start, length int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: narrow on nil tensor")
	}

	dim, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: narrow: %w", err)
	}

	if start < 0 || length < 0 || start+length > t.shape[dim] {
		return nil, fmt.Errorf("tensor: narrow: range [%d:%d] out of bounds for dim %d size %d", start, start+length, dim, t.shape[dim])
	}

	outShape := append([]int64(nil), t.shape...)
	outShape[dim] = length

	out, err := Zeros(outShape)
	if err != nil {
		return nil, err
	}

	outer, inner := outerInner(t.shape, dim)
	span := length * inner

	for o := range outer {
		src := o*t.shape[dim]*inner + start*inner
		copy(out.data[o*span:(o+1)*span], t.data[src:src+span])
	}

	return out, nil
}

// AxisShape returns the broadcast shape that aligns a length-n vector with
// axis of a rank-dimensional tensor: all ones except n at axis.
func AxisShape(rank, axis int, n int64) ([]int64, error) {
	axis, err := normalizeDim(axis, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: axis shape: %w", err)
	}

	shape := make([]int64, rank)
	for i := range shape {
		shape[i] = 1
	}

	shape[axis] = n

	return shape, nil
}

// AlignToAxis reshapes the rank-1 tensor v so it broadcasts along axis of a
// rank-dimensional tensor.
func AlignToAxis(v *Tensor, rank, axis int) (*Tensor, error) {
	if v == nil {
		return nil, errors.New("tensor: align on nil tensor")
	}

	if v.Rank() != 1 {
		return nil, fmt.Errorf("tensor: align requires a rank-1 tensor, got shape %v", v.shape)
	}

	shape, err := AxisShape(rank, axis, v.shape[0])
	if err != nil {
		return nil, err
	}

	return v.Reshape(shape)
}
