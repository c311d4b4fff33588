package quant

import (
	"fmt"

	"github.com/example/go-inwhale/internal/runtime/tensor"
)

// Scheme names a quantization scheme.
type Scheme string

const (
	SchemeSymmetric   Scheme = "symmetric"
	SchemeAsymmetric  Scheme = "asymmetric"
	SchemePerChannel  Scheme = "per-channel"
	SchemeLogarithmic Scheme = "logarithmic"
)

const (
	// MinBits and MaxBits bound the supported bit widths. Codes up to 16 bits
	// are exactly representable in the float32 tensors that carry them.
	MinBits = 1
	MaxBits = 16

	// Eps floors ranges and magnitudes that would otherwise divide by zero or
	// take log2(0).
	Eps = 1e-8

	// PerTensor is the Axis of per-tensor ranges and parameters.
	PerTensor = -1
)

// IntRange returns the representable integer bounds for bits:
// signed → [-2^(bits-1), 2^(bits-1)-1], unsigned → [0, 2^bits-1].
func IntRange(bits int, signed bool) (qmin, qmax int64) {
	if signed {
		return -(int64(1) << (bits - 1)), (int64(1) << (bits - 1)) - 1
	}

	return 0, (int64(1) << bits) - 1
}

func validateBits(bits int) error {
	if bits < MinBits || bits > MaxBits {
		return fmt.Errorf("%w: bits %d outside [%d, %d]", ErrConfiguration, bits, MinBits, MaxBits)
	}

	return nil
}

// Params are the numeric parameters derived by one Quantize call.
//
// Uniform schemes fill Scale and ZeroPoint (length 1 per-tensor, one entry per
// channel along Axis otherwise) and QMin/QMax. The logarithmic scheme fills
// ExpMin/ExpMax instead.
type Params struct {
	Scheme Scheme
	Bits   int
	Signed bool

	QMin, QMax int64

	// Axis is PerTensor or the normalized channel axis.
	Axis      int
	Scale     []float64
	ZeroPoint []int64

	ExpMin, ExpMax int

	// Degenerate marks channels whose observed range was narrower than Eps.
	Degenerate []bool
}

func (p Params) PerChannel() bool { return p.Axis != PerTensor }

// Channels returns the number of scale/zero-point entries.
func (p Params) Channels() int { return len(p.Scale) }

// DegenerateCount returns how many channels fell back to the Eps floor.
func (p Params) DegenerateCount() int {
	n := 0
	for _, d := range p.Degenerate {
		if d {
			n++
		}
	}

	return n
}

// ScaleTensor returns the scale as a rank-0 tensor for per-tensor params and
// as a rank-1 tensor of length Channels() for per-channel params.
func (p Params) ScaleTensor() *tensor.Tensor {
	vals := make([]float32, len(p.Scale))
	for i, s := range p.Scale {
		vals[i] = float32(s)
	}

	return p.shaped(vals)
}

// ZeroPointTensor is ScaleTensor for the zero-point.
func (p Params) ZeroPointTensor() *tensor.Tensor {
	vals := make([]float32, len(p.ZeroPoint))
	for i, z := range p.ZeroPoint {
		vals[i] = float32(z)
	}

	return p.shaped(vals)
}

func (p Params) shaped(vals []float32) *tensor.Tensor {
	if !p.PerChannel() && len(vals) == 1 {
		return tensor.Scalar(vals[0])
	}

	return tensor.Vector(vals)
}

// broadcastable returns the scale and zero-point reshaped to broadcast
// against a tensor of the given rank.
func (p Params) broadcastable(rank int) (scale, zeroPoint *tensor.Tensor, err error) {
	scale, zeroPoint = p.ScaleTensor(), p.ZeroPointTensor()
	if !p.PerChannel() {
		return scale, zeroPoint, nil
	}

	scale, err = tensor.AlignToAxis(scale, rank, p.Axis)
	if err != nil {
		return nil, nil, err
	}

	zeroPoint, err = tensor.AlignToAxis(zeroPoint, rank, p.Axis)
	if err != nil {
		return nil, nil, err
	}

	return scale, zeroPoint, nil
}

func (p Params) clone() Params {
	out := p
	out.Scale = append([]float64(nil), p.Scale...)
	out.ZeroPoint = append([]int64(nil), p.ZeroPoint...)
	out.Degenerate = append([]bool(nil), p.Degenerate...)

	return out
}

// Quantized couples quantized values with the parameters that produced them.
type Quantized struct {
	// Values holds integer codes for uniform schemes and signed powers of two
	// for the logarithmic scheme. Same shape as the quantized input.
	Values *tensor.Tensor
	Params Params
}
