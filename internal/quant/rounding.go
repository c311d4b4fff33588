package quant

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mrand "math/rand/v2"
	"sync"

	"github.com/example/go-inwhale/internal/runtime/tensor"
)

// RoundingStrategy maps real values to integers elementwise. Round returns a
// new tensor of the same shape and never modifies x.
type RoundingStrategy interface {
	Round(x *tensor.Tensor) *tensor.Tensor
}

// TieMode selects how NearestRounding resolves exact halves.
type TieMode string

const (
	TiesToEven       TieMode = "even"
	TiesAwayFromZero TieMode = "away"
)

// ParseTieMode accepts "even" (or "") and "away".
func ParseTieMode(s string) (TieMode, error) {
	switch TieMode(s) {
	case "", TiesToEven:
		return TiesToEven, nil
	case TiesAwayFromZero:
		return TiesAwayFromZero, nil
	default:
		return "", fmt.Errorf("%w: unknown tie mode %q", ErrConfiguration, s)
	}
}

// NearestRounding rounds to the nearest integer. The zero value rounds ties
// to even.
type NearestRounding struct {
	Ties TieMode
}

func (r NearestRounding) Round(x *tensor.Tensor) *tensor.Tensor {
	if r.Ties == TiesAwayFromZero {
		return tensor.RoundHalfAway(x)
	}

	return tensor.RoundHalfEven(x)
}

// StochasticRounding rounds each element up with probability equal to its
// fractional part, which makes the expected output equal the input.
//
// Uniform draws are consumed one per element in row-major order. The
// generator is locked per Round call so a single instance can be shared.
type StochasticRounding struct {
	mu   sync.Mutex
	rng  *mrand.Rand
	seed uint64
}

// NewStochasticRounding returns a stochastic rounder. With a non-nil seed the
// output sequence is reproducible; with nil the seed is drawn from the
// system entropy source.
func NewStochasticRounding(seed *uint64) *StochasticRounding {
	var s uint64
	if seed != nil {
		s = *seed
	} else {
		var buf [8]byte
		_, _ = rand.Read(buf[:])
		s = binary.LittleEndian.Uint64(buf[:])
	}

	return &StochasticRounding{rng: mrand.New(mrand.NewChaCha8(chachaSeed(s))), seed: s}
}

// Seed returns the seed the generator was created with.
func (r *StochasticRounding) Seed() uint64 { return r.seed }

func (r *StochasticRounding) Round(x *tensor.Tensor) *tensor.Tensor {
	if x == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Draw serially, one per element, so the sequence depends only on the
	// seed and element order.
	src := x.RawData()
	out := make([]float32, len(src))

	for i, v := range src {
		f := math.Floor(float64(v))
		if r.rng.Float64() < float64(v)-f {
			f++
		}

		out[i] = float32(f)
	}

	t, _ := tensor.New(out, x.Shape())

	return t
}

func chachaSeed(s uint64) [32]byte {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], s)
	copy(key[8:], "inwhale stochastic rnd\x00\x00")

	return key
}
