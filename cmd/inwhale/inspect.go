package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/example/go-inwhale/internal/audio"
	"github.com/example/go-inwhale/internal/quant"
)

func newInspectCmd() *cobra.Command {
	var (
		input  string
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List tensors with their shape and observed range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(input) == "" {
				return fmt.Errorf("--input is required for inspect")
			}

			src, err := loadSource(input, prefix, nil)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()

			if src.kind == sourceWAV {
				if err := writeWAVSummary(w, input, src); err != nil {
					return err
				}
			}

			if err := writeTensorList(w, src); err != nil {
				return err
			}

			writeMetadata(w, src.metadata)

			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Input .safetensors or .wav file (required)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list safetensors tensors under this name prefix (stripped)")

	return cmd
}

func writeWAVSummary(w io.Writer, path string, src *source) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	d, err := audio.Duration(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Format: %s, duration %s\n\n", src.format, d)

	return nil
}

// writeTensorList prints one row per tensor with the range a min/max observer
// records for it.
func writeTensorList(w io.Writer, src *source) error {
	rows := make([][]string, 0, len(src.tensors))

	for _, nt := range src.tensors {
		lo, hi := "n/a", "n/a"

		// Empty or non-finite tensors have no range; list them anyway.
		obs := quant.NewMinMaxObserver()
		if err := obs.Observe(nt.X); err == nil {
			rng, err := obs.Range()
			if err != nil {
				return fmt.Errorf("inspect %s: %w", nt.Name, err)
			}

			lo = strconv.FormatFloat(rng.Min[0], 'g', 6, 64)
			hi = strconv.FormatFloat(rng.Max[0], 'g', 6, 64)
		}

		dtype := src.dtypes[nt.Name]
		if dtype == "" {
			dtype = "PCM16"
		}

		rows = append(rows, []string{
			nt.Name,
			dtype,
			fmt.Sprint(nt.X.Shape()),
			strconv.Itoa(nt.X.ElemCount()),
			lo,
			hi,
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"TENSOR", "DTYPE", "SHAPE", "ELEMENTS", "MIN", "MAX"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()

	return nil
}

func writeMetadata(w io.Writer, md map[string]string) {
	if len(md) == 0 {
		return
	}

	fmt.Fprintln(w, "\nMetadata:")
	for _, k := range slices.Sorted(maps.Keys(md)) {
		fmt.Fprintf(w, "  %s: %s\n", k, md[k])
	}
}
