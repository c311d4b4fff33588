package quant

import (
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/example/go-inwhale/internal/runtime/tensor"
)

const (
	DefaultLowerQuantile = 0.001
	DefaultUpperQuantile = 0.999
)

// Interpolation selects the quantile estimator of a PercentileObserver.
type Interpolation string

const (
	// InterpolateLinear interpolates linearly between the two closest ranks,
	// h = (n-1)q.
	InterpolateLinear Interpolation = "linear"
	// InterpolateEmpirical returns the empirical quantile without
	// interpolation (gonum stat.Empirical).
	InterpolateEmpirical Interpolation = "empirical"
	// InterpolateLinInterp interpolates the empirical CDF (gonum stat.LinInterp).
	InterpolateLinInterp Interpolation = "lininterp"
)

// UpdatePolicy selects how a PercentileObserver combines successive batches.
type UpdatePolicy string

const (
	// ReplacePolicy keeps only the last batch's quantiles.
	ReplacePolicy UpdatePolicy = "replace"
	// RunningPolicy widens the stored range to the union over all batches.
	RunningPolicy UpdatePolicy = "running"
)

// ParseInterpolation accepts the Interpolation names; "" selects linear.
func ParseInterpolation(s string) (Interpolation, error) {
	switch Interpolation(s) {
	case "", InterpolateLinear:
		return InterpolateLinear, nil
	case InterpolateEmpirical, InterpolateLinInterp:
		return Interpolation(s), nil
	default:
		return "", fmt.Errorf("%w: unknown interpolation %q", ErrConfiguration, s)
	}
}

// ParseUpdatePolicy accepts the UpdatePolicy names; "" selects replace.
func ParseUpdatePolicy(s string) (UpdatePolicy, error) {
	switch UpdatePolicy(s) {
	case "", ReplacePolicy:
		return ReplacePolicy, nil
	case RunningPolicy:
		return RunningPolicy, nil
	default:
		return "", fmt.Errorf("%w: unknown update policy %q", ErrConfiguration, s)
	}
}

// PercentileOption configures a PercentileObserver.
type PercentileOption func(*PercentileObserver)

func WithInterpolation(i Interpolation) PercentileOption {
	return func(o *PercentileObserver) { o.interp = i }
}

func WithUpdatePolicy(p UpdatePolicy) PercentileOption {
	return func(o *PercentileObserver) { o.policy = p }
}

// PercentileObserver records the lower and upper quantiles of the flattened
// input, clipping outliers out of the range.
type PercentileObserver struct {
	lower, upper float64
	interp       Interpolation
	policy       UpdatePolicy

	mu       sync.Mutex
	rng      Range
	observed bool
}

// NewPercentileObserver requires 0 <= lower < upper <= 1.
func NewPercentileObserver(lower, upper float64, opts ...PercentileOption) (*PercentileObserver, error) {
	if !(lower >= 0 && lower < upper && upper <= 1) {
		return nil, fmt.Errorf("%w: percentile bounds must satisfy 0 <= lower < upper <= 1, got lower=%g upper=%g",
			ErrConfiguration, lower, upper)
	}

	o := &PercentileObserver{
		lower:  lower,
		upper:  upper,
		interp: InterpolateLinear,
		policy: ReplacePolicy,
	}
	for _, opt := range opts {
		opt(o)
	}

	if _, err := ParseInterpolation(string(o.interp)); err != nil {
		return nil, err
	}

	if _, err := ParseUpdatePolicy(string(o.policy)); err != nil {
		return nil, err
	}

	return o, nil
}

// DefaultPercentileObserver clips the outer 0.1% on each side.
func DefaultPercentileObserver() *PercentileObserver {
	o, _ := NewPercentileObserver(DefaultLowerQuantile, DefaultUpperQuantile)
	return o
}

func (o *PercentileObserver) Bounds() (lower, upper float64) { return o.lower, o.upper }

func (o *PercentileObserver) Observe(x *tensor.Tensor) error {
	if err := validateInput("percentile", x); err != nil {
		return err
	}

	sorted := tensor.Sorted(x)

	lo, err := o.quantile(sorted, o.lower)
	if err != nil {
		return err
	}

	hi, err := o.quantile(sorted, o.upper)
	if err != nil {
		return err
	}

	next := Range{Axis: PerTensor, Min: []float64{lo}, Max: []float64{hi}}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.observed && o.policy == RunningPolicy {
		if merged, ok := o.rng.union(next); ok {
			next = merged
		}
	}

	o.rng = next
	o.observed = true

	slog.Debug("percentile observed", "lower", next.Min[0], "upper", next.Max[0], "policy", o.policy)

	return nil
}

func (o *PercentileObserver) quantile(sorted []float64, q float64) (float64, error) {
	switch o.interp {
	case InterpolateEmpirical:
		return stat.Quantile(q, stat.Empirical, sorted, nil), nil
	case InterpolateLinInterp:
		return stat.Quantile(q, stat.LinInterp, sorted, nil), nil
	default:
		v, err := tensor.QuantileSorted(sorted, q)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}

		return v, nil
	}
}

func (o *PercentileObserver) Range() (Range, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.observed {
		return Range{}, ErrNotObserved
	}

	return o.rng.clone(), nil
}
