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

// Exponents outside this window are not finite non-zero float32 values.
const (
	minFloat32Exp = -149
	maxFloat32Exp = 127
)

// LogarithmicQuantizer snaps each value to a signed power of two,
// sign(x) * 2^k with k in [exp_min, exp_max]. Zero stays zero.
type LogarithmicQuantizer struct {
	bits       int
	emin, emax int

	observer Observer
	rounding RoundingStrategy

	mu      sync.Mutex
	last    Params
	hasLast bool
}

func NewLogarithmicQuantizer(bits int, obs Observer, r RoundingStrategy) (*LogarithmicQuantizer, error) {
	if err := validateBits(bits); err != nil {
		return nil, err
	}

	if obs == nil {
		return nil, fmt.Errorf("%w: nil observer", ErrConfiguration)
	}

	if r == nil {
		return nil, fmt.Errorf("%w: nil rounding strategy", ErrConfiguration)
	}

	emin, emax := IntRange(bits, true)

	return &LogarithmicQuantizer{
		bits:     bits,
		emin:     int(emin),
		emax:     int(emax),
		observer: obs,
		rounding: r,
	}, nil
}

func (q *LogarithmicQuantizer) Scheme() Scheme { return SchemeLogarithmic }

// EMin is the smallest exponent representable with the configured bits.
func (q *LogarithmicQuantizer) EMin() int { return q.emin }

// EMax is the largest exponent representable with the configured bits.
func (q *LogarithmicQuantizer) EMax() int { return q.emax }

func (q *LogarithmicQuantizer) LastParams() (Params, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.last.clone(), q.hasLast
}

func (q *LogarithmicQuantizer) Quantize(x *tensor.Tensor) (*Quantized, error) {
	start := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.observer.Observe(x); err != nil {
		return nil, err
	}

	rng, err := q.observer.Range()
	if err != nil {
		return nil, err
	}

	p := q.params(rng)

	values, err := q.snap(x, p)
	if err != nil {
		return nil, err
	}

	q.last = p
	q.hasLast = true

	if p.DegenerateCount() > 0 {
		slog.Debug("degenerate range", "scheme", SchemeLogarithmic, "exp_max", p.ExpMax)
		metrics.RecordDegenerate(string(SchemeLogarithmic), 1)
	}

	metrics.RecordQuantize(string(SchemeLogarithmic), time.Since(start))

	return &Quantized{Values: values, Params: p.clone()}, nil
}

// params derives the exponent window from the largest observed magnitude.
// A per-channel range is reduced to its overall maximum.
func (q *LogarithmicQuantizer) params(rng Range) Params {
	maxAbs := 0.0
	for i := range rng.Len() {
		maxAbs = max(maxAbs, rng.MaxAbs(i))
	}

	expMax := int(math.RoundToEven(math.Log2(max(maxAbs, Eps))))
	expMax = min(max(expMax, q.emin), q.emax)
	expMax = min(max(expMax, minFloat32Exp), maxFloat32Exp)
	expMin := max(q.emin, minFloat32Exp)

	return Params{
		Scheme:     SchemeLogarithmic,
		Bits:       q.bits,
		Signed:     true,
		Axis:       PerTensor,
		ExpMin:     expMin,
		ExpMax:     expMax,
		Degenerate: []bool{maxAbs < Eps},
	}
}

func (q *LogarithmicQuantizer) snap(x *tensor.Tensor, p Params) (*tensor.Tensor, error) {
	// log2(0) is -Inf and clamps to exp_min; sign(0) keeps those elements
	// at zero.
	exps := q.rounding.Round(tensor.Log2(tensor.Abs(x)))

	exps, err := tensor.Clamp(exps, float64(p.ExpMin), float64(p.ExpMax))
	if err != nil {
		return nil, err
	}

	out, err := tensor.BroadcastMul(tensor.Sign(x), tensor.Exp2(exps))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return out, nil
}

// Dequantize returns a copy of the quantized values; they already are the
// reconstructed powers of two.
func (q *LogarithmicQuantizer) Dequantize(qv *Quantized) (*tensor.Tensor, error) {
	if err := checkQuantized(qv, SchemeLogarithmic); err != nil {
		return nil, err
	}

	return qv.Values.Clone(), nil
}
