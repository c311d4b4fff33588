package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-inwhale/internal/quant"
	"github.com/example/go-inwhale/internal/report"
	"github.com/example/go-inwhale/internal/safetensors"
)

func newQuantizeCmd() *cobra.Command {
	var (
		input       string
		output      string
		format      string
		prefix      string
		outputDType string
		names       []string
		minSQNR     float64
	)

	cmd := &cobra.Command{
		Use:   "quantize",
		Short: "Fake-quantize tensors and report the round-trip error",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if strings.TrimSpace(input) == "" {
				return fmt.Errorf("--input is required for quantize")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			dtype := strings.ToUpper(outputDType)
			if dtype != "" && dtype != safetensors.DTypeF32 && dtype != safetensors.DTypeF16 {
				return fmt.Errorf("--output-dtype must be 'f32' or 'f16'")
			}

			spec := cfg.QuantSpec()

			// Fail on a bad configuration before reading the input.
			if _, err := quant.Build(spec); err != nil {
				return err
			}

			src, err := loadSource(input, prefix, names)
			if err != nil {
				return err
			}

			stats, outs, err := runQuantize(spec, src.tensors)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				if err := report.FormatJSON(stats, cmd.OutOrStdout()); err != nil {
					return err
				}
			default:
				report.FormatTable(stats, cmd.OutOrStdout())
			}

			if output != "" {
				if err := src.writeOutput(output, outs, spec, dtype); err != nil {
					return err
				}
				slog.Info("wrote dequantized tensors", "path", output, "tensors", len(outs))
			}

			return report.CheckSQNRFloor(stats, minSQNR)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Input .safetensors or .wav file (required)")
	cmd.Flags().StringVar(&output, "output", "", "Write dequantized tensors to this file (same container as input)")
	cmd.Flags().StringVar(&format, "format", "table", "Report format: table|json")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only quantize safetensors tensors under this name prefix (stripped)")
	cmd.Flags().StringSliceVar(&names, "tensor", nil, "Tensor name to quantize (repeatable; default all)")
	cmd.Flags().StringVar(&outputDType, "output-dtype", "", "Safetensors output dtype: f32|f16 (default: keep f16, else f32)")
	cmd.Flags().Float64Var(&minSQNR, "min-sqnr", 0, "Exit non-zero if any tensor's SQNR falls below this many dB (0 = disabled)")

	return cmd
}

// runQuantize quantizes each tensor with its own quantizer built from spec so
// that observer state never carries over between tensors.
func runQuantize(spec quant.Spec, tensors []namedTensor) ([]report.Stats, []namedTensor, error) {
	stats := make([]report.Stats, 0, len(tensors))
	outs := make([]namedTensor, 0, len(tensors))

	for _, nt := range tensors {
		q, err := quant.Build(spec)
		if err != nil {
			return nil, nil, err
		}

		start := time.Now()

		qv, err := q.Quantize(nt.X)
		if err != nil {
			return nil, nil, fmt.Errorf("quantize %s: %w", nt.Name, err)
		}

		deq, err := q.Dequantize(qv)
		if err != nil {
			return nil, nil, fmt.Errorf("dequantize %s: %w", nt.Name, err)
		}

		elapsed := time.Since(start)

		s, err := report.Compute(nt.Name, nt.X, deq, qv.Params)
		if err != nil {
			return nil, nil, fmt.Errorf("report %s: %w", nt.Name, err)
		}
		s.Duration = elapsed

		slog.Debug("quantized tensor",
			"tensor", nt.Name,
			"scheme", s.Scheme,
			"shape", s.Shape,
			"sqnr_db", s.SQNR,
			"elapsed", elapsed,
		)

		stats = append(stats, s)
		outs = append(outs, namedTensor{Name: nt.Name, X: deq})
	}

	return stats, outs, nil
}
