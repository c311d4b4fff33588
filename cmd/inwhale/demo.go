package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-inwhale/internal/quant"
	"github.com/example/go-inwhale/internal/runtime/tensor"
)

func newDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a worked quantization example",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "per-channel",
		Short: "8-bit signed per-channel asymmetric quantization of a 2x4 tensor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPerChannelDemo(cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logarithmic",
		Short: "8-bit power-of-two quantization of a 6-vector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogarithmicDemo(cmd.OutOrStdout())
		},
	})

	return cmd
}

func runPerChannelDemo(w io.Writer) error {
	x, err := tensor.New([]float32{
		-1, 1, 0.5, -0.5,
		-10, 15, 8, -5,
	}, []int64{2, 4})
	if err != nil {
		return err
	}

	q, err := quant.NewPerChannelAsymmetricUniformQuantizer(
		quant.UniformConfig{Bits: 8, Signed: true},
		0,
		quant.NewMinMaxObserver(quant.WithAxis(0)),
		quant.NearestRounding{},
	)
	if err != nil {
		return err
	}

	qv, deq, err := roundTrip(q, x)
	if err != nil {
		return err
	}

	if err := writeRoundTrip(w, x, qv, deq, "Quantized (per-channel)"); err != nil {
		return err
	}

	p := qv.Params
	fmt.Fprintf(w, "Per-channel scales:\n  [%s]\n", joinFloats(p.Scale, 6))
	fmt.Fprintf(w, "Per-channel zero-points:\n  [%s]\n", joinInts(p.ZeroPoint))

	return nil
}

func runLogarithmicDemo(w io.Writer) error {
	x := tensor.Vector([]float32{1.013, 2.513, -3.264, 0.235, -0.251, 0.012})

	q, err := quant.NewLogarithmicQuantizer(8, quant.NewMinMaxObserver(), quant.NearestRounding{})
	if err != nil {
		return err
	}

	qv, deq, err := roundTrip(q, x)
	if err != nil {
		return err
	}

	if err := writeRoundTrip(w, x, qv, deq, "Quantized"); err != nil {
		return err
	}

	fmt.Fprintf(w, "Exponent range:\n  [%d, %d]\n", qv.Params.ExpMin, qv.Params.ExpMax)

	return nil
}

func roundTrip(q quant.Quantizer, x *tensor.Tensor) (*quant.Quantized, *tensor.Tensor, error) {
	qv, err := q.Quantize(x)
	if err != nil {
		return nil, nil, err
	}

	deq, err := q.Dequantize(qv)
	if err != nil {
		return nil, nil, err
	}

	return qv, deq, nil
}

func writeRoundTrip(w io.Writer, x *tensor.Tensor, qv *quant.Quantized, deq *tensor.Tensor, quantizedLabel string) error {
	diff, err := tensor.BroadcastSub(x, deq)
	if err != nil {
		return err
	}

	writeTensor(w, "Original", x)
	writeTensor(w, quantizedLabel, qv.Values)
	writeTensor(w, "Dequantized", deq)
	writeTensor(w, "Absolute error", tensor.Abs(diff))

	return nil
}

// writeTensor prints x one innermost row per line with four decimals.
func writeTensor(w io.Writer, label string, x *tensor.Tensor) {
	fmt.Fprintf(w, "%s:\n", label)

	data := x.RawData()
	cols := len(data)
	if shape := x.Shape(); len(shape) >= 2 {
		cols = int(shape[len(shape)-1])
	}

	if cols == 0 {
		fmt.Fprintln(w, "  []")
		return
	}

	for start := 0; start < len(data); start += cols {
		row := data[start : start+cols]
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = fmt.Sprintf("%9.4f", v)
		}
		fmt.Fprintf(w, "  [%s]\n", strings.Join(parts, " "))
	}
}

func joinFloats(vs []float64, prec int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'f', prec, 64)
	}

	return strings.Join(parts, " ")
}

func joinInts(vs []int64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatInt(v, 10)
	}

	return strings.Join(parts, " ")
}
