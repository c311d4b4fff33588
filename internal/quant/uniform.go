package quant

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/go-inwhale/internal/metrics"
	"github.com/example/go-inwhale/internal/runtime/tensor"
)

// Quantizer maps tensors to a reduced-precision representation and back.
type Quantizer interface {
	// Quantize observes x, derives parameters from the observed range and
	// returns the quantized values together with those parameters.
	Quantize(x *tensor.Tensor) (*Quantized, error)
	// Dequantize reconstructs an approximation of the original tensor from
	// q using the parameters carried by q.
	Dequantize(q *Quantized) (*tensor.Tensor, error)
	// LastParams returns the parameters of the most recent successful
	// Quantize call.
	LastParams() (Params, bool)
	Scheme() Scheme
}

// UniformConfig configures the integer grid of the uniform quantizers.
type UniformConfig struct {
	Bits   int
	Signed bool
}

// uniform holds what the uniform quantizers share: the integer grid, the
// injected observer and rounding strategy, and the last derived parameters.
type uniform struct {
	scheme     Scheme
	bits       int
	signed     bool
	qmin, qmax int64
	axis       int

	observer Observer
	rounding RoundingStrategy
	derive   func(r Range) Params

	mu      sync.Mutex
	last    Params
	hasLast bool
}

func newUniform(scheme Scheme, cfg UniformConfig, obs Observer, r RoundingStrategy) (*uniform, error) {
	if err := validateBits(cfg.Bits); err != nil {
		return nil, err
	}

	if obs == nil {
		return nil, fmt.Errorf("%w: nil observer", ErrConfiguration)
	}

	if r == nil {
		return nil, fmt.Errorf("%w: nil rounding strategy", ErrConfiguration)
	}

	qmin, qmax := IntRange(cfg.Bits, cfg.Signed)

	return &uniform{
		scheme:   scheme,
		bits:     cfg.Bits,
		signed:   cfg.Signed,
		qmin:     qmin,
		qmax:     qmax,
		axis:     PerTensor,
		observer: obs,
		rounding: r,
	}, nil
}

func (u *uniform) Scheme() Scheme { return u.scheme }

// QRange returns the representable integer bounds.
func (u *uniform) QRange() (qmin, qmax int64) { return u.qmin, u.qmax }

func (u *uniform) LastParams() (Params, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.last.clone(), u.hasLast
}

func (u *uniform) Quantize(x *tensor.Tensor) (*Quantized, error) {
	start := time.Now()

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.axis != PerTensor && x != nil && u.axis >= x.Rank() {
		return nil, fmt.Errorf("%w: axis %d out of range for shape %v", ErrInvalidInput, u.axis, x.Shape())
	}

	if err := u.observer.Observe(x); err != nil {
		return nil, err
	}

	rng, err := u.observer.Range()
	if err != nil {
		return nil, err
	}

	if err := u.checkRange(rng, x); err != nil {
		return nil, err
	}

	p := u.derive(rng)

	values, clamped, err := quantizeUniform(x, p, u.rounding)
	if err != nil {
		return nil, err
	}

	u.last = p
	u.hasLast = true

	scheme := string(u.scheme)
	if n := p.DegenerateCount(); n > 0 {
		slog.Debug("degenerate range", "scheme", scheme, "channels", n)
		metrics.RecordDegenerate(scheme, n)
	}

	if clamped > 0 {
		slog.Debug("codes clamped", "scheme", scheme, "elements", clamped)
		metrics.RecordClamped(scheme, clamped)
	}

	metrics.RecordQuantize(scheme, time.Since(start))

	return &Quantized{Values: values, Params: p.clone()}, nil
}

func (u *uniform) checkRange(rng Range, x *tensor.Tensor) error {
	if u.axis == PerTensor {
		if rng.PerChannel() {
			return fmt.Errorf("%w: %s quantizer needs a per-tensor observer, got a range along axis %d",
				ErrConfiguration, u.scheme, rng.Axis)
		}

		return nil
	}

	if !rng.PerChannel() || rng.Axis != u.axis {
		return fmt.Errorf("%w: observer range axis %d does not match quantizer axis %d",
			ErrConfiguration, rng.Axis, u.axis)
	}

	dim, _ := x.Dim(u.axis)
	if int64(rng.Len()) != dim {
		return fmt.Errorf("%w: observer reported %d channels, axis %d has %d",
			ErrInvalidInput, rng.Len(), u.axis, dim)
	}

	return nil
}

// quantizeUniform computes clamp(round(x/scale) + zero_point, qmin, qmax) and
// reports how many codes needed clamping.
func quantizeUniform(x *tensor.Tensor, p Params, r RoundingStrategy) (*tensor.Tensor, int, error) {
	scale, zeroPoint, err := p.broadcastable(x.Rank())
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	scaled, err := tensor.BroadcastDiv(x, scale)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	shifted, err := tensor.BroadcastAdd(r.Round(scaled), zeroPoint)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	lo, hi := float64(p.QMin), float64(p.QMax)
	clamped := tensor.CountOutside(shifted, lo, hi)

	codes, err := tensor.Clamp(shifted, lo, hi)
	if err != nil {
		return nil, 0, err
	}

	return codes, clamped, nil
}

func (u *uniform) Dequantize(q *Quantized) (*tensor.Tensor, error) {
	if err := checkQuantized(q, u.scheme); err != nil {
		return nil, err
	}

	p := q.Params
	if len(p.Scale) == 0 || len(p.Scale) != len(p.ZeroPoint) {
		return nil, fmt.Errorf("%w: %d scales for %d zero-points", ErrInvalidInput, len(p.Scale), len(p.ZeroPoint))
	}

	if p.PerChannel() {
		dim, err := q.Values.Dim(p.Axis)
		if err != nil || dim != int64(p.Channels()) {
			return nil, fmt.Errorf("%w: %d channel params do not fit axis %d of shape %v",
				ErrInvalidInput, p.Channels(), p.Axis, q.Values.Shape())
		}
	} else if p.Channels() != 1 {
		return nil, fmt.Errorf("%w: per-tensor params carry %d scales", ErrInvalidInput, p.Channels())
	}

	scale, zeroPoint, err := p.broadcastable(q.Values.Rank())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	centered, err := tensor.BroadcastSub(q.Values, zeroPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	out, err := tensor.BroadcastMul(centered, scale)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return out, nil
}

func checkQuantized(q *Quantized, scheme Scheme) error {
	if q == nil || q.Values == nil {
		return fmt.Errorf("%w: nil quantized value", ErrInvalidInput)
	}

	if q.Params.Scheme != scheme {
		return fmt.Errorf("%w: %s params passed to %s quantizer", ErrInvalidInput, q.Params.Scheme, scheme)
	}

	return nil
}

// asymmetricParams derives scale and zero-point per channel. The range is
// widened to contain zero so the clamped zero-point never shifts
// representable values.
func asymmetricParams(rng Range, qmin, qmax int64) (scale []float64, zeroPoint []int64, degenerate []bool) {
	n := rng.Len()
	scale = make([]float64, n)
	zeroPoint = make([]int64, n)
	degenerate = make([]bool, n)
	levels := float64(qmax - qmin)

	for i := range n {
		degenerate[i] = rng.Max[i]-rng.Min[i] < Eps

		lo, hi := min(rng.Min[i], 0), max(rng.Max[i], 0)
		scale[i] = max(hi-lo, Eps) / levels

		zp := math.RoundToEven(float64(qmin) - lo/scale[i])
		zeroPoint[i] = int64(min(max(zp, float64(qmin)), float64(qmax)))
	}

	return scale, zeroPoint, degenerate
}

func (u *uniform) baseParams(rng Range) Params {
	return Params{
		Scheme: u.scheme,
		Bits:   u.bits,
		Signed: u.signed,
		QMin:   u.qmin,
		QMax:   u.qmax,
		Axis:   rng.Axis,
	}
}

// SymmetricUniformQuantizer quantizes onto a signed grid centred on zero:
// zero_point is 0 and scale = max|x| / ((qmax-qmin)/2).
type SymmetricUniformQuantizer struct {
	*uniform
}

// NewSymmetricUniformQuantizer requires cfg.Signed.
func NewSymmetricUniformQuantizer(cfg UniformConfig, obs Observer, r RoundingStrategy) (*SymmetricUniformQuantizer, error) {
	if !cfg.Signed {
		return nil, fmt.Errorf("%w: symmetric quantization requires a signed integer range", ErrConfiguration)
	}

	u, err := newUniform(SchemeSymmetric, cfg, obs, r)
	if err != nil {
		return nil, err
	}

	q := &SymmetricUniformQuantizer{uniform: u}
	q.derive = func(rng Range) Params {
		p := q.baseParams(rng)
		p.Scale = []float64{max(rng.MaxAbs(0), Eps) / (float64(p.QMax-p.QMin) / 2)}
		p.ZeroPoint = []int64{0}
		p.Degenerate = []bool{rng.Max[0]-rng.Min[0] < Eps}

		return p
	}

	return q, nil
}

// AsymmetricUniformQuantizer quantizes with one scale and zero-point for the
// whole tensor.
type AsymmetricUniformQuantizer struct {
	*uniform
}

func NewAsymmetricUniformQuantizer(cfg UniformConfig, obs Observer, r RoundingStrategy) (*AsymmetricUniformQuantizer, error) {
	u, err := newUniform(SchemeAsymmetric, cfg, obs, r)
	if err != nil {
		return nil, err
	}

	q := &AsymmetricUniformQuantizer{uniform: u}
	q.derive = func(rng Range) Params {
		p := q.baseParams(rng)
		p.Scale, p.ZeroPoint, p.Degenerate = asymmetricParams(rng, p.QMin, p.QMax)

		return p
	}

	return q, nil
}

// PerChannelAsymmetricUniformQuantizer derives one scale and zero-point per
// index along Axis. Its observer must report per-channel ranges along the
// same axis, e.g. NewMinMaxObserver(WithAxis(axis)).
type PerChannelAsymmetricUniformQuantizer struct {
	*uniform
}

func NewPerChannelAsymmetricUniformQuantizer(cfg UniformConfig, axis int, obs Observer, r RoundingStrategy) (*PerChannelAsymmetricUniformQuantizer, error) {
	if axis < 0 {
		return nil, fmt.Errorf("%w: per-channel axis must be non-negative, got %d", ErrConfiguration, axis)
	}

	if mm, ok := obs.(*MinMaxObserver); ok && mm != nil {
		if _, perAxis := mm.Axis(); !perAxis {
			return nil, fmt.Errorf("%w: per-channel quantizer needs an observer configured with an axis", ErrConfiguration)
		}
	}

	u, err := newUniform(SchemePerChannel, cfg, obs, r)
	if err != nil {
		return nil, err
	}

	u.axis = axis

	q := &PerChannelAsymmetricUniformQuantizer{uniform: u}
	q.derive = func(rng Range) Params {
		p := q.baseParams(rng)
		p.Scale, p.ZeroPoint, p.Degenerate = asymmetricParams(rng, p.QMin, p.QMax)

		return p
	}

	return q, nil
}

func (q *PerChannelAsymmetricUniformQuantizer) Axis() int { return q.axis }
