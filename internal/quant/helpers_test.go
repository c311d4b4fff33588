package quant

import (
	"math"
	"testing"

	"github.com/example/go-inwhale/internal/runtime/tensor"
)

func mustTensor(t *testing.T, data []float32, shape ...int64) *tensor.Tensor {
	t.Helper()

	x, err := tensor.New(data, shape)
	if err != nil {
		t.Fatalf("tensor.New(%v): %v", shape, err)
	}

	return x
}

func equalF32(a, b []float32, tol float64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if math.Abs(float64(a[i])-float64(b[i])) > tol {
			return false
		}
	}

	return true
}

func equalI64(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func seed(v uint64) *uint64 { return &v }

// channelOf returns the index along axis of flat element i.
func channelOf(shape []int64, axis, i int) int {
	inner := int64(1)
	for _, d := range shape[axis+1:] {
		inner *= d
	}

	return int((int64(i) / inner) % shape[axis])
}

// checkRoundTrip asserts |deq - x| <= scale for every element, using the
// per-channel scale when the params are per-channel.
func checkRoundTrip(t *testing.T, x, deq *tensor.Tensor, p Params) {
	t.Helper()

	if !equalI64(x.Shape(), deq.Shape()) {
		t.Fatalf("dequantized shape = %v, want %v", deq.Shape(), x.Shape())
	}

	xs, ds := x.RawData(), deq.RawData()
	for i := range xs {
		if math.IsNaN(float64(ds[i])) || math.IsInf(float64(ds[i]), 0) {
			t.Fatalf("dequantized[%d] = %v, want finite", i, ds[i])
		}

		scale := p.Scale[0]
		if p.PerChannel() {
			scale = p.Scale[channelOf(x.Shape(), p.Axis, i)]
		}

		if diff := math.Abs(float64(ds[i]) - float64(xs[i])); diff > scale*(1+1e-5)+1e-7 {
			t.Fatalf("element %d: |%v - %v| = %v exceeds scale %v", i, ds[i], xs[i], diff, scale)
		}
	}
}

func checkCodes(t *testing.T, q *Quantized) {
	t.Helper()

	for i, v := range q.Values.RawData() {
		if float64(v) != math.Trunc(float64(v)) {
			t.Fatalf("code[%d] = %v, want integer", i, v)
		}

		if int64(v) < q.Params.QMin || int64(v) > q.Params.QMax {
			t.Fatalf("code[%d] = %v outside [%d, %d]", i, v, q.Params.QMin, q.Params.QMax)
		}
	}
}
