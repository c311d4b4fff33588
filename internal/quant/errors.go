// Package quant implements the quantization engine: range observers,
// rounding strategies and the uniform and logarithmic quantizers built
// from them.
package quant

import "errors"

var (
	// ErrConfiguration is returned by constructors for invalid arguments.
	ErrConfiguration = errors.New("quant: invalid configuration")

	// ErrInvalidInput is returned when a tensor cannot be observed or
	// quantized: nil, empty, non-finite, or shaped inconsistently with its
	// parameters.
	ErrInvalidInput = errors.New("quant: invalid input")

	// ErrNotObserved is returned by Observer.Range before the first
	// successful Observe.
	ErrNotObserved = errors.New("quant: range queried before any observation")
)
