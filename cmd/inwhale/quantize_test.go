package main

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-inwhale/internal/audio"
	"github.com/example/go-inwhale/internal/safetensors"
)

// writeTestSafetensors writes a weight [2, 4] and bias [4] pair.
func writeTestSafetensors(t *testing.T, opts safetensors.WriteOptions) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "model.safetensors")
	tensors := []safetensors.Tensor{
		{Name: "encoder.weight", Shape: []int64{2, 4}, Data: []float32{-1, 1, 0.5, -0.5, -10, 15, 8, -5}},
		{Name: "encoder.bias", Shape: []int64{4}, Data: []float32{0.1, -0.2, 0.3, 0.05}},
	}

	if err := safetensors.WriteFile(path, tensors, opts); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

type jsonReport struct {
	Tensors []struct {
		Name        string   `json:"name"`
		Scheme      string   `json:"scheme"`
		Bits        int      `json:"bits"`
		Shape       []int64  `json:"shape"`
		WithinBound *bool    `json:"within_bound"`
		SQNR        *float64 `json:"sqnr_db"`
	} `json:"tensors"`
}

func TestQuantize_JSONReport(t *testing.T) {
	path := writeTestSafetensors(t, safetensors.WriteOptions{})

	out, _, err := runCLI(t, "quantize", "--input", path, "--format", "json")
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}

	var got jsonReport
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}

	if len(got.Tensors) != 2 {
		t.Fatalf("want 2 tensors, got %d", len(got.Tensors))
	}

	for _, tr := range got.Tensors {
		if tr.Scheme != "symmetric" || tr.Bits != 8 {
			t.Errorf("%s: scheme/bits = %s/%d, want symmetric/8", tr.Name, tr.Scheme, tr.Bits)
		}

		if tr.WithinBound == nil || !*tr.WithinBound {
			t.Errorf("%s: reconstruction not within one scale", tr.Name)
		}
	}
}

func TestQuantize_PerChannelTable(t *testing.T) {
	path := writeTestSafetensors(t, safetensors.WriteOptions{})

	out, _, err := runCLI(t, "quantize", "--input", path, "--tensor", "encoder.weight", "--scheme", "per-channel", "--axis", "1")
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}

	for _, want := range []string{"TENSOR", "encoder.weight", "per-channel", "ok"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}

	if strings.Contains(out, "encoder.bias") {
		t.Errorf("--tensor should limit the report to encoder.weight:\n%s", out)
	}
}

func TestQuantize_PrefixSelectsTensors(t *testing.T) {
	path := writeTestSafetensors(t, safetensors.WriteOptions{})

	out, _, err := runCLI(t, "quantize", "--input", path, "--prefix", "encoder.", "--tensor", "bias")
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}

	if !strings.Contains(out, "bias") || strings.Contains(out, "encoder.") {
		t.Errorf("prefix should be stripped from reported names:\n%s", out)
	}
}

func TestQuantize_WritesSafetensorsOutput(t *testing.T) {
	path := writeTestSafetensors(t, safetensors.WriteOptions{Metadata: map[string]string{"source": "unit"}})
	outPath := filepath.Join(t.TempDir(), "fake.safetensors")

	if _, _, err := runCLI(t, "quantize", "--input", path, "--output", outPath, "--scheme", "asymmetric", "--bits", "4"); err != nil {
		t.Fatalf("quantize: %v", err)
	}

	store, err := safetensors.OpenStore(outPath, safetensors.StoreOptions{})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	md := store.Metadata()
	if md["source"] != "unit" || md["inwhale.scheme"] != "asymmetric" || md["inwhale.bits"] != "4" {
		t.Errorf("metadata = %v", md)
	}

	if dt, _ := store.DType("encoder.weight"); dt != safetensors.DTypeF32 {
		t.Errorf("output dtype = %q, want F32", dt)
	}

	w, err := store.Tensor("encoder.weight")
	if err != nil {
		t.Fatalf("Tensor: %v", err)
	}

	// 4-bit asymmetric over [-10, 15]: one step is 25/15.
	orig := []float32{-1, 1, 0.5, -0.5, -10, 15, 8, -5}
	for i, v := range w.Data {
		if math.Abs(float64(v-orig[i])) > 25.0/15.0+1e-4 {
			t.Errorf("weight[%d] = %v, too far from %v", i, v, orig[i])
		}
	}
}

func TestQuantize_KeepsF16Output(t *testing.T) {
	path := writeTestSafetensors(t, safetensors.WriteOptions{DType: safetensors.DTypeF16})
	outPath := filepath.Join(t.TempDir(), "fake.safetensors")

	if _, _, err := runCLI(t, "quantize", "--input", path, "--output", outPath); err != nil {
		t.Fatalf("quantize: %v", err)
	}

	store, err := safetensors.OpenStore(outPath, safetensors.StoreOptions{})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if dt, _ := store.DType("encoder.bias"); dt != safetensors.DTypeF16 {
		t.Errorf("output dtype = %q, want F16", dt)
	}
}

func TestQuantize_WAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "tone.wav")
	outPath := filepath.Join(dir, "tone_q.wav")

	format := audio.Format{SampleRate: 8000, Channels: 2, BitDepth: audio.PCM16}
	samples := make([]float32, 400)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(float64(i)*0.05))
	}

	data, err := audio.EncodeWAV(samples, format)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out, _, err := runCLI(t, "quantize", "--input", in, "--output", outPath, "--scheme", "per-channel", "--axis", "1", "--bits", "6")
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}

	if !strings.Contains(out, "samples") || !strings.Contains(out, "[200 2]") {
		t.Errorf("report should list samples with shape [200 2]:\n%s", out)
	}

	written, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	got, gotFormat, err := audio.DecodeWAV(written)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}

	if gotFormat != format || len(got) != len(samples) {
		t.Fatalf("output = %d samples %v, want %d samples %v", len(got), gotFormat, len(samples), format)
	}

	// 6-bit over [-0.8, 0.8] has a step of 1.6/63; allow PCM rounding on top.
	for i, v := range got {
		if math.Abs(float64(v-samples[i])) > 1.6/63+1e-3 {
			t.Fatalf("sample %d = %v, want within one step of %v", i, v, samples[i])
		}
	}
}

func TestQuantize_SQNRFloor(t *testing.T) {
	path := writeTestSafetensors(t, safetensors.WriteOptions{})

	_, _, err := runCLI(t, "quantize", "--input", path, "--bits", "2", "--min-sqnr", "100")
	if err == nil || !strings.Contains(err.Error(), "below floor") {
		t.Fatalf("expected SQNR floor error, got %v", err)
	}
}

func TestQuantize_Errors(t *testing.T) {
	path := writeTestSafetensors(t, safetensors.WriteOptions{})
	txt := filepath.Join(t.TempDir(), "weights.txt")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing input", args: []string{"quantize"}, want: "--input"},
		{name: "bad format", args: []string{"quantize", "--input", path, "--format", "xml"}, want: "--format"},
		{name: "bad dtype", args: []string{"quantize", "--input", path, "--output-dtype", "bf16"}, want: "--output-dtype"},
		{name: "unknown scheme", args: []string{"quantize", "--input", path, "--scheme", "ternary"}, want: "configuration"},
		{name: "unsigned symmetric", args: []string{"quantize", "--input", path, "--signed=false"}, want: "configuration"},
		{name: "unsupported input", args: []string{"quantize", "--input", txt}, want: "unsupported input"},
		{name: "missing tensor", args: []string{"quantize", "--input", path, "--tensor", "decoder.weight"}, want: "not found"},
		{name: "axis out of range", args: []string{"quantize", "--input", path, "--scheme", "per-channel", "--axis", "1"}, want: "encoder.bias"},
		{
			name: "output container mismatch",
			args: []string{"quantize", "--input", path, "--output", filepath.Join(t.TempDir(), "out.wav")},
			want: "must be a safetensors file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCLI(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}

			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}
