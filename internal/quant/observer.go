package quant

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/example/go-inwhale/internal/metrics"
	"github.com/example/go-inwhale/internal/runtime/tensor"
)

// Observer collects range statistics from tensors.
type Observer interface {
	// Observe updates the stored range from x. On error the previous range is
	// kept.
	Observe(x *tensor.Tensor) error
	// Range returns the stored range or ErrNotObserved.
	Range() (Range, error)
}

// Range is an observed value range. Per-tensor ranges have Axis PerTensor and
// one Min/Max entry; per-channel ranges have one entry per index along Axis.
type Range struct {
	Axis     int
	Min, Max []float64
}

func (r Range) Len() int { return len(r.Min) }

func (r Range) PerChannel() bool { return r.Axis != PerTensor }

// MaxAbs returns max(|min|, |max|) for channel i.
func (r Range) MaxAbs(i int) float64 {
	return max(math.Abs(r.Min[i]), math.Abs(r.Max[i]))
}

func (r Range) clone() Range {
	return Range{Axis: r.Axis, Min: slices.Clone(r.Min), Max: slices.Clone(r.Max)}
}

// union widens r to cover other. Shapes must agree.
func (r Range) union(other Range) (Range, bool) {
	if r.Axis != other.Axis || r.Len() != other.Len() {
		return Range{}, false
	}

	out := r.clone()
	for i := range out.Min {
		out.Min[i] = min(out.Min[i], other.Min[i])
		out.Max[i] = max(out.Max[i], other.Max[i])
	}

	return out, true
}

// validateInput rejects tensors an observer cannot take statistics of.
func validateInput(kind string, x *tensor.Tensor) error {
	if x == nil {
		metrics.RecordObserveError(kind, "nil")
		return fmt.Errorf("%w: nil tensor", ErrInvalidInput)
	}

	if x.ElemCount() == 0 {
		metrics.RecordObserveError(kind, "empty")
		return fmt.Errorf("%w: empty tensor with shape %v", ErrInvalidInput, x.Shape())
	}

	if i := tensor.FirstNonFinite(x); i >= 0 {
		metrics.RecordObserveError(kind, "non_finite")
		return fmt.Errorf("%w: non-finite value %v at flat index %d", ErrInvalidInput, x.RawData()[i], i)
	}

	return nil
}

// MinMaxOption configures a MinMaxObserver.
type MinMaxOption func(*MinMaxObserver)

// WithAxis makes the observer reduce per index along axis. Negative axes count
// from the last dimension.
func WithAxis(axis int) MinMaxOption {
	return func(o *MinMaxObserver) {
		o.axis = axis
		o.perAxis = true
	}
}

// MinMaxObserver records the minimum and maximum of the last observed tensor,
// either over the whole tensor or per channel along an axis.
type MinMaxObserver struct {
	mu       sync.Mutex
	axis     int
	perAxis  bool
	rng      Range
	observed bool
}

func NewMinMaxObserver(opts ...MinMaxOption) *MinMaxObserver {
	o := &MinMaxObserver{axis: PerTensor}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Axis reports the configured reduction axis and whether one was set.
func (o *MinMaxObserver) Axis() (int, bool) { return o.axis, o.perAxis }

func (o *MinMaxObserver) Observe(x *tensor.Tensor) error {
	if err := validateInput("minmax", x); err != nil {
		return err
	}

	var next Range

	if o.perAxis {
		axis, err := tensor.NormalizeAxis(o.axis, x.Rank())
		if err != nil {
			metrics.RecordObserveError("minmax", "axis")
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}

		mins, maxs, err := tensor.MinMaxAlong(x, axis)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}

		next = Range{Axis: axis, Min: mins, Max: maxs}
	} else {
		lo, hi, err := tensor.MinMax(x)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}

		next = Range{Axis: PerTensor, Min: []float64{lo}, Max: []float64{hi}}
	}

	o.mu.Lock()
	o.rng = next
	o.observed = true
	o.mu.Unlock()

	slog.Debug("minmax observed", "axis", next.Axis, "channels", next.Len())

	return nil
}

func (o *MinMaxObserver) Range() (Range, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.observed {
		return Range{}, ErrNotObserved
	}

	return o.rng.clone(), nil
}
