package quant

import "fmt"

// ObserverKind names an Observer implementation.
type ObserverKind string

const (
	ObserverMinMax     ObserverKind = "minmax"
	ObserverPercentile ObserverKind = "percentile"
)

// RoundingKind names a RoundingStrategy implementation.
type RoundingKind string

const (
	RoundingNearest    RoundingKind = "nearest"
	RoundingStochastic RoundingKind = "stochastic"
)

// ObserverSpec describes an observer. Lower and Upper apply to percentile
// observers; zero values select the defaults.
type ObserverSpec struct {
	Kind          ObserverKind
	Lower, Upper  float64
	Interpolation Interpolation
	Policy        UpdatePolicy
}

// RoundingSpec describes a rounding strategy. Seed applies to stochastic
// rounding; nil means unseeded.
type RoundingSpec struct {
	Kind RoundingKind
	Ties TieMode
	Seed *uint64
}

// Spec describes a complete quantizer. Axis is used by the per-channel
// scheme only.
type Spec struct {
	Scheme   Scheme
	Bits     int
	Signed   bool
	Axis     int
	Observer ObserverSpec
	Rounding RoundingSpec
}

// DefaultSpec is 8-bit signed symmetric quantization with a min/max observer
// and nearest rounding.
func DefaultSpec() Spec {
	return Spec{
		Scheme:   SchemeSymmetric,
		Bits:     8,
		Signed:   true,
		Observer: ObserverSpec{Kind: ObserverMinMax},
		Rounding: RoundingSpec{Kind: RoundingNearest, Ties: TiesToEven},
	}
}

// Build constructs the quantizer described by spec.
func Build(spec Spec) (Quantizer, error) {
	axis := PerTensor
	if spec.Scheme == SchemePerChannel {
		axis = spec.Axis
	}

	obs, err := BuildObserver(spec.Observer, axis)
	if err != nil {
		return nil, err
	}

	r, err := BuildRounding(spec.Rounding)
	if err != nil {
		return nil, err
	}

	cfg := UniformConfig{Bits: spec.Bits, Signed: spec.Signed}

	switch spec.Scheme {
	case SchemeSymmetric:
		return nonNil(NewSymmetricUniformQuantizer(cfg, obs, r))
	case SchemeAsymmetric:
		return nonNil(NewAsymmetricUniformQuantizer(cfg, obs, r))
	case SchemePerChannel:
		return nonNil(NewPerChannelAsymmetricUniformQuantizer(cfg, spec.Axis, obs, r))
	case SchemeLogarithmic:
		return nonNil(NewLogarithmicQuantizer(spec.Bits, obs, r))
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrConfiguration, spec.Scheme)
	}
}

// nonNil keeps a failed constructor's typed nil pointer out of the
// Quantizer interface.
func nonNil[T Quantizer](q T, err error) (Quantizer, error) {
	if err != nil {
		return nil, err
	}

	return q, nil
}

// BuildObserver constructs an observer. axis is PerTensor or the channel axis
// of a per-channel quantizer; percentile observers are per-tensor only.
func BuildObserver(spec ObserverSpec, axis int) (Observer, error) {
	switch spec.Kind {
	case "", ObserverMinMax:
		if axis == PerTensor {
			return NewMinMaxObserver(), nil
		}

		return NewMinMaxObserver(WithAxis(axis)), nil
	case ObserverPercentile:
		if axis != PerTensor {
			return nil, fmt.Errorf("%w: percentile observer does not support per-channel ranges", ErrConfiguration)
		}

		interp, err := ParseInterpolation(string(spec.Interpolation))
		if err != nil {
			return nil, err
		}

		policy, err := ParseUpdatePolicy(string(spec.Policy))
		if err != nil {
			return nil, err
		}

		lower, upper := spec.Lower, spec.Upper
		if lower == 0 && upper == 0 {
			lower, upper = DefaultLowerQuantile, DefaultUpperQuantile
		}

		return NewPercentileObserver(lower, upper, WithInterpolation(interp), WithUpdatePolicy(policy))
	default:
		return nil, fmt.Errorf("%w: unknown observer %q", ErrConfiguration, spec.Kind)
	}
}

// BuildRounding constructs a rounding strategy.
func BuildRounding(spec RoundingSpec) (RoundingStrategy, error) {
	switch spec.Kind {
	case "", RoundingNearest:
		ties, err := ParseTieMode(string(spec.Ties))
		if err != nil {
			return nil, err
		}

		return NearestRounding{Ties: ties}, nil
	case RoundingStochastic:
		return NewStochasticRounding(spec.Seed), nil
	default:
		return nil, fmt.Errorf("%w: unknown rounding %q", ErrConfiguration, spec.Kind)
	}
}

// ParseScheme accepts the Scheme names.
func ParseScheme(s string) (Scheme, error) {
	switch sc := Scheme(s); sc {
	case SchemeSymmetric, SchemeAsymmetric, SchemePerChannel, SchemeLogarithmic:
		return sc, nil
	default:
		return "", fmt.Errorf("%w: unknown scheme %q", ErrConfiguration, s)
	}
}
