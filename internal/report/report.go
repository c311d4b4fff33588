// Package report measures how closely dequantized tensors reconstruct their
// originals and renders the results for the inwhale CLI.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/example/go-inwhale/internal/quant"
	"github.com/example/go-inwhale/internal/runtime/tensor"
)

// boundSlack absorbs float32 rounding in the |deq - x| <= scale check.
const boundSlack = 1e-5

// ---------------------------------------------------------------------------
// Round-trip statistics
// ---------------------------------------------------------------------------

// Stats describes the reconstruction error of one quantized tensor.
type Stats struct {
	Name     string
	Scheme   quant.Scheme
	Bits     int
	Shape    []int64
	Elements int
	Duration time.Duration

	MSE          float64
	MaxAbsError  float64
	MeanAbsError float64
	// SQNR is the signal-to-quantization-noise ratio in dB; +Inf for an exact
	// reconstruction.
	SQNR float64

	// ChannelMaxError holds the max absolute error per channel for
	// per-channel params and is nil otherwise.
	ChannelMaxError []float64
	Degenerate      int

	// BoundChecked is true for uniform schemes, where every element must
	// reconstruct within its channel's scale. WithinBound reports the result.
	BoundChecked bool
	WithinBound  bool
}

// Compute compares the original x with its reconstruction deq.
func Compute(name string, x, deq *tensor.Tensor, p quant.Params) (Stats, error) {
	if x == nil || deq == nil {
		return Stats{}, errors.New("report: nil tensor")
	}

	if !slices.Equal(x.Shape(), deq.Shape()) {
		return Stats{}, fmt.Errorf("report: shape mismatch %v vs %v", x.Shape(), deq.Shape())
	}

	if x.ElemCount() == 0 {
		return Stats{}, errors.New("report: empty tensor")
	}

	orig := toFloat64(x.RawData())
	diff := toFloat64(deq.RawData())
	floats.Sub(diff, orig)

	s := Stats{
		Name:       name,
		Scheme:     p.Scheme,
		Bits:       p.Bits,
		Shape:      x.Shape(),
		Elements:   x.ElemCount(),
		Degenerate: p.DegenerateCount(),
	}

	n := float64(len(diff))
	s.MSE = floats.Dot(diff, diff) / n
	s.SQNR = sqnr(floats.Dot(orig, orig)/n, s.MSE)

	abs := make([]float64, len(diff))
	for i, d := range diff {
		abs[i] = math.Abs(d)
	}

	s.MaxAbsError = floats.Max(abs)
	s.MeanAbsError = stat.Mean(abs, nil)

	if p.PerChannel() {
		errs, err := channelMaxError(x, deq, p.Axis)
		if err != nil {
			return Stats{}, err
		}

		s.ChannelMaxError = errs
	}

	if len(p.Scale) > 0 {
		s.BoundChecked = true
		s.WithinBound = withinBound(x.Shape(), abs, p)
	}

	return s, nil
}

func sqnr(signal, noise float64) float64 {
	if noise == 0 {
		return math.Inf(1)
	}

	return 10 * math.Log10(signal/noise)
}

func channelMaxError(x, deq *tensor.Tensor, axis int) ([]float64, error) {
	channels, err := x.Dim(axis)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	out := make([]float64, channels)

	for c := range channels {
		xc, err := x.Narrow(axis, c, 1)
		if err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}

		dc, err := deq.Narrow(axis, c, 1)
		if err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}

		d := toFloat64(dc.RawData())
		floats.Sub(d, toFloat64(xc.RawData()))

		out[c] = max(math.Abs(floats.Max(d)), math.Abs(floats.Min(d)))
	}

	return out, nil
}

func withinBound(shape []int64, abs []float64, p quant.Params) bool {
	inner := int64(1)
	if p.PerChannel() {
		for _, d := range shape[p.Axis+1:] {
			inner *= d
		}
	}

	for i, e := range abs {
		scale := p.Scale[0]
		if p.PerChannel() {
			scale = p.Scale[(int64(i)/inner)%shape[p.Axis]]
		}

		if e > scale*(1+boundSlack) {
			return false
		}
	}

	return true
}

// ---------------------------------------------------------------------------
// Timing
// ---------------------------------------------------------------------------

// Timing holds aggregate quantize timings across tensors.
type Timing struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeTiming calculates min, max and mean over the durations of stats.
func ComputeTiming(stats []Stats) Timing {
	if len(stats) == 0 {
		return Timing{}
	}

	mn, mx := stats[0].Duration, stats[0].Duration

	var sum time.Duration
	for _, s := range stats {
		mn = min(mn, s.Duration)
		mx = max(mx, s.Duration)
		sum += s.Duration
	}

	return Timing{Min: mn, Max: mx, Mean: sum / time.Duration(len(stats))}
}

// CheckSQNRFloor returns an error naming the first tensor whose SQNR is below
// floor dB. A floor of 0 disables the gate.
func CheckSQNRFloor(stats []Stats, floor float64) error {
	if floor <= 0 {
		return nil
	}

	for _, s := range stats {
		if s.SQNR < floor {
			return fmt.Errorf("tensor %q SQNR %.2f dB below floor %.2f dB", s.Name, s.SQNR, floor)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable table of round-trip statistics to w.
func FormatTable(stats []Stats, w io.Writer) {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []string{
			s.Name,
			string(s.Scheme),
			strconv.Itoa(s.Bits),
			fmt.Sprint(s.Shape),
			formatFloat(s.MSE),
			formatFloat(s.MaxAbsError),
			formatFloat(s.MeanAbsError),
			formatDB(s.SQNR),
			boundLabel(s),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"TENSOR", "SCHEME", "BITS", "SHAPE", "MSE", "MAX ERR", "MEAN ERR", "SQNR", "BOUND"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 4, 64)
}

func formatDB(v float64) string {
	if math.IsInf(v, 0) {
		return "inf"
	}

	return strconv.FormatFloat(v, 'f', 2, 64) + " dB"
}

func boundLabel(s Stats) string {
	switch {
	case !s.BoundChecked:
		return "n/a"
	case s.WithinBound:
		return "ok"
	default:
		return "exceeded"
	}
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Tensors []jsonTensor `json:"tensors"`
	Timing  jsonTiming   `json:"timing"`
}

type jsonTensor struct {
	Name            string    `json:"name"`
	Scheme          string    `json:"scheme"`
	Bits            int       `json:"bits"`
	Shape           []int64   `json:"shape"`
	Elements        int       `json:"elements"`
	MSE             float64   `json:"mse"`
	MaxAbsError     float64   `json:"max_abs_error"`
	MeanAbsError    float64   `json:"mean_abs_error"`
	SQNR            *float64  `json:"sqnr_db"`
	ChannelMaxError []float64 `json:"channel_max_error,omitempty"`
	Degenerate      int       `json:"degenerate_channels"`
	WithinBound     *bool     `json:"within_bound,omitempty"`
	DurationMS      float64   `json:"duration_ms"`
}

type jsonTiming struct {
	MinMS  float64 `json:"min_ms"`
	MeanMS float64 `json:"mean_ms"`
	MaxMS  float64 `json:"max_ms"`
}

// FormatJSON writes a JSON report to w. An infinite SQNR is encoded as null.
func FormatJSON(stats []Stats, w io.Writer) error {
	timing := ComputeTiming(stats)
	jr := jsonReport{
		Tensors: make([]jsonTensor, len(stats)),
		Timing: jsonTiming{
			MinMS:  millis(timing.Min),
			MeanMS: millis(timing.Mean),
			MaxMS:  millis(timing.Max),
		},
	}

	for i, s := range stats {
		jt := jsonTensor{
			Name:            s.Name,
			Scheme:          string(s.Scheme),
			Bits:            s.Bits,
			Shape:           s.Shape,
			Elements:        s.Elements,
			MSE:             s.MSE,
			MaxAbsError:     s.MaxAbsError,
			MeanAbsError:    s.MeanAbsError,
			ChannelMaxError: s.ChannelMaxError,
			Degenerate:      s.Degenerate,
			DurationMS:      millis(s.Duration),
		}

		if !math.IsInf(s.SQNR, 0) && !math.IsNaN(s.SQNR) {
			v := s.SQNR
			jt.SQNR = &v
		}

		if s.BoundChecked {
			ok := s.WithinBound
			jt.WithinBound = &ok
		}

		jr.Tensors[i] = jt
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(jr)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func toFloat64(src []float32) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}

	return out
}
