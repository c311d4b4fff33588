package safetensors

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestDecodeTensorData_F16(t *testing.T) {
	tests := []struct {
		name string
		h    uint16
		want float32
	}{
		{name: "positive zero", h: 0x0000, want: 0.0},
		{name: "negative zero", h: 0x8000, want: float32(math.Copysign(0, -1))},
		{name: "one", h: 0x3c00, want: 1.0},
		{name: "negative one", h: 0xbc00, want: -1.0},
		{name: "half", h: 0x3800, want: 0.5},
		{name: "max normal", h: 0x7bff, want: 65504.0},
		{name: "smallest positive normal", h: 0x0400, want: float32(math.Ldexp(1, -14))},
		{name: "smallest positive subnormal", h: 0x0001, want: float32(math.Ldexp(1, -24))},
		{name: "positive infinity", h: 0x7c00, want: float32(math.Inf(1))},
		{name: "negative infinity", h: 0xfc00, want: float32(math.Inf(-1))},
		{name: "NaN", h: 0x7e00, want: float32(math.NaN())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := make([]byte, 2)
			binary.LittleEndian.PutUint16(raw, tt.h)

			out, err := decodeTensorData(raw, DTypeF16, []int64{1})
			if err != nil {
				t.Fatalf("decodeTensorData: %v", err)
			}

			got := out[0]
			if math.IsNaN(float64(tt.want)) {
				if !math.IsNaN(float64(got)) {
					t.Fatalf("F16 0x%04x = %v; want NaN", tt.h, got)
				}
				return
			}

			if got != tt.want || math.Signbit(float64(got)) != math.Signbit(float64(tt.want)) {
				t.Fatalf("F16 0x%04x = %v; want %v", tt.h, got, tt.want)
			}
		})
	}
}

func TestDecodeTensorData_ShortBuffer(t *testing.T) {
	for _, dtype := range []string{DTypeF32, DTypeF16, DTypeBF16} {
		if _, err := decodeTensorData([]byte{1}, dtype, []int64{2}); err == nil {
			t.Errorf("%s: short buffer should fail", dtype)
		}
	}
}

func TestShapeElementCount(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int64
		want    int64
		wantErr bool
	}{
		{name: "scalar", shape: []int64{}, want: 1},
		{name: "matrix", shape: []int64{3, 4}, want: 12},
		{name: "zero dim", shape: []int64{3, 0}, want: 0},
		{name: "negative", shape: []int64{-1}, wantErr: true},
		{name: "overflow", shape: []int64{math.MaxInt64, 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := shapeElementCount(tt.shape)
			if (err != nil) != tt.wantErr {
				t.Fatalf("shapeElementCount(%v) error = %v, wantErr %v", tt.shape, err, tt.wantErr)
			}

			if !tt.wantErr && got != tt.want {
				t.Fatalf("shapeElementCount(%v) = %d; want %d", tt.shape, got, tt.want)
			}
		})
	}
}

func TestEqualShape(t *testing.T) {
	tests := []struct {
		name string
		a, b []int64
		want bool
	}{
		{name: "both nil", a: nil, b: nil, want: true},
		{name: "equal 2d", a: []int64{2, 3}, b: []int64{2, 3}, want: true},
		{name: "different lengths", a: []int64{2, 3}, b: []int64{2}, want: false},
		{name: "different values", a: []int64{2, 3}, b: []int64{2, 4}, want: false},
		{name: "nil vs empty", a: nil, b: []int64{}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := equalShape(tt.a, tt.b)
			if got != tt.want {
				t.Fatalf("equalShape(%v, %v) = %v; want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSummarizeNames(t *testing.T) {
	if got := summarizeNames(nil); got != "none" {
		t.Fatalf("summarizeNames(nil) = %q; want none", got)
	}

	names := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
	if got := summarizeNames(names); got != "a, b, c, d, e, f, g, h, ..." {
		t.Fatalf("summarizeNames = %q", got)
	}
}
