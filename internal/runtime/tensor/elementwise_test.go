package tensor

import (
	"math"
	"testing"
)

func TestRoundingKernels(t *testing.T) {
	x := mustNew(t, []float32{0.5, 1.5, 2.5, -0.5, -1.5, 2.4, -2.6}, []int64{7})

	even := RoundHalfEven(x).Data()
	wantEven := []float32{0, 2, 2, 0, -2, 2, -3}
	if !equalF32(even, wantEven, 0) {
		t.Fatalf("RoundHalfEven = %v, want %v", even, wantEven)
	}

	away := RoundHalfAway(x).Data()
	wantAway := []float32{1, 2, 3, -1, -2, 2, -3}
	if !equalF32(away, wantAway, 0) {
		t.Fatalf("RoundHalfAway = %v, want %v", away, wantAway)
	}

	floor := Floor(x).Data()
	wantFloor := []float32{0, 1, 2, -1, -2, 2, -3}
	if !equalF32(floor, wantFloor, 0) {
		t.Fatalf("Floor = %v, want %v", floor, wantFloor)
	}
}

func TestSignAbsLog2Exp2(t *testing.T) {
	x := mustNew(t, []float32{-4, 0, 0.25}, []int64{3})

	if got := Sign(x).Data(); !equalF32(got, []float32{-1, 0, 1}, 0) {
		t.Fatalf("Sign = %v", got)
	}

	abs := Abs(x)
	if got := abs.Data(); !equalF32(got, []float32{4, 0, 0.25}, 0) {
		t.Fatalf("Abs = %v", got)
	}

	lg := Log2(abs).Data()
	if lg[0] != 2 || lg[2] != -2 || !math.IsInf(float64(lg[1]), -1) {
		t.Fatalf("Log2 = %v, want [2 -Inf -2]", lg)
	}

	e := Exp2(mustNew(t, []float32{-1, 0, 3}, []int64{3})).Data()
	if !equalF32(e, []float32{0.5, 1, 8}, 0) {
		t.Fatalf("Exp2 = %v", e)
	}
}

func TestMapDoesNotMutateInput(t *testing.T) {
	x := mustNew(t, []float32{1.7}, []int64{1})
	_ = Floor(x)

	if x.RawData()[0] != 1.7 {
		t.Fatalf("input mutated: %v", x.Data())
	}
}

func TestClamp(t *testing.T) {
	x := mustNew(t, []float32{-300, -1, 0, 5, 200}, []int64{5})

	got, err := Clamp(x, -128, 127)
	if err != nil {
		t.Fatalf("clamp: %v", err)
	}

	want := []float32{-128, -1, 0, 5, 127}
	if !equalF32(got.Data(), want, 0) {
		t.Fatalf("clamp = %v, want %v", got.Data(), want)
	}

	if n := CountOutside(x, -128, 127); n != 2 {
		t.Fatalf("CountOutside = %d, want 2", n)
	}

	if _, err := Clamp(x, 1, 0); err == nil {
		t.Fatal("expected error for inverted bounds")
	}
}

func TestWhere(t *testing.T) {
	x := mustNew(t, []float32{0, 2, 0, -1}, []int64{4})
	a := mustNew(t, []float32{9, 9, 9, 9}, []int64{4})
	b := mustNew(t, []float32{1, 2, 3, 4}, []int64{4})

	out, err := Where(x, func(v float32) bool { return v == 0 }, a, b)
	if err != nil {
		t.Fatalf("where: %v", err)
	}

	want := []float32{9, 2, 9, 4}
	if got := out.Data(); !equalF32(got, want, 0) {
		t.Fatalf("where = %v, want %v", got, want)
	}

	if _, err := Where(x, func(float32) bool { return true }, Scalar(1), b); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestFiniteChecks(t *testing.T) {
	ok := mustNew(t, []float32{1, -2, 3}, []int64{3})
	if !AllFinite(ok) || FirstNonFinite(ok) != -1 {
		t.Fatal("finite tensor reported as non-finite")
	}

	bad := mustNew(t, []float32{1, float32(math.NaN()), float32(math.Inf(1))}, []int64{3})
	if AllFinite(bad) {
		t.Fatal("NaN tensor reported finite")
	}

	if got := FirstNonFinite(bad); got != 1 {
		t.Fatalf("FirstNonFinite = %d, want 1", got)
	}
}
