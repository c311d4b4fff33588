package main

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/example/go-inwhale/internal/audio"
	"github.com/example/go-inwhale/internal/quant"
	"github.com/example/go-inwhale/internal/runtime/tensor"
	"github.com/example/go-inwhale/internal/safetensors"
)

type sourceKind string

const (
	sourceSafetensors sourceKind = "safetensors"
	sourceWAV         sourceKind = "wav"
)

// wavTensorName labels the single tensor read from a WAV input.
const wavTensorName = "samples"

type namedTensor struct {
	Name string
	X    *tensor.Tensor
}

// source is a loaded input file: its tensors plus what is needed to write
// results back in the same container.
type source struct {
	kind     sourceKind
	tensors  []namedTensor
	format   audio.Format
	dtypes   map[string]string
	metadata map[string]string
}

func sourceKindOf(path string) (sourceKind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return sourceSafetensors, nil
	case ".wav":
		return sourceWAV, nil
	default:
		return "", fmt.Errorf("unsupported input %q (want .safetensors or .wav)", path)
	}
}

// loadSource reads path. prefix and names select safetensors tensors and are
// rejected for WAV input.
func loadSource(path, prefix string, names []string) (*source, error) {
	kind, err := sourceKindOf(path)
	if err != nil {
		return nil, err
	}

	switch kind {
	case sourceWAV:
		if prefix != "" || len(names) > 0 {
			return nil, errors.New("--prefix and --tensor apply to safetensors input only")
		}

		return loadWAVSource(path)
	default:
		return loadSafetensorsSource(path, prefix, names)
	}
}

func loadSafetensorsSource(path, prefix string, names []string) (*source, error) {
	opts := safetensors.StoreOptions{}
	if prefix != "" {
		opts.KeyMapper = safetensors.PrefixMapper(prefix)
	}

	store, err := safetensors.OpenStore(path, opts)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if len(names) == 0 {
		names = store.Names()
	}

	src := &source{
		kind:     sourceSafetensors,
		dtypes:   make(map[string]string, len(names)),
		metadata: store.Metadata(),
	}

	for _, name := range names {
		st, err := store.Tensor(name)
		if err != nil {
			return nil, err
		}

		x, err := st.ToTensor()
		if err != nil {
			return nil, err
		}

		dtype, _ := store.DType(name)
		src.dtypes[name] = dtype
		src.tensors = append(src.tensors, namedTensor{Name: name, X: x})
	}

	return src, nil
}

func loadWAVSource(path string) (*source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	samples, format, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	x, err := audio.SamplesTensor(samples, format)
	if err != nil {
		return nil, err
	}

	return &source{
		kind:    sourceWAV,
		tensors: []namedTensor{{Name: wavTensorName, X: x}},
		format:  format,
	}, nil
}

// writeOutput stores dequantized tensors at path in the source's container.
// dtype applies to safetensors output; an empty dtype keeps F16 tensors as F16
// and writes everything else as F32.
func (s *source) writeOutput(path string, outs []namedTensor, spec quant.Spec, dtype string) error {
	kind, err := sourceKindOf(path)
	if err != nil {
		return err
	}

	if kind != s.kind {
		return fmt.Errorf("output %q must be a %s file like the input", path, s.kind)
	}

	if kind == sourceWAV {
		samples, err := audio.TensorSamples(outs[0].X, s.format)
		if err != nil {
			return err
		}

		data, err := audio.EncodeWAV(samples, s.format)
		if err != nil {
			return err
		}

		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}

		return nil
	}

	if dtype == "" {
		dtype = safetensors.DTypeF32
		if s.allF16() {
			dtype = safetensors.DTypeF16
		}
	}

	tensors := make([]safetensors.Tensor, len(outs))
	for i, o := range outs {
		tensors[i] = safetensors.FromTensor(o.Name, o.X)
	}

	return safetensors.WriteFile(path, tensors, safetensors.WriteOptions{
		DType:    dtype,
		Metadata: outputMetadata(s.metadata, spec),
	})
}

func (s *source) allF16() bool {
	if len(s.dtypes) == 0 {
		return false
	}

	for _, dt := range s.dtypes {
		if dt != safetensors.DTypeF16 {
			return false
		}
	}

	return true
}

// outputMetadata keeps the input's metadata and records how the tensors were
// fake-quantized.
func outputMetadata(in map[string]string, spec quant.Spec) map[string]string {
	md := make(map[string]string, len(in)+4)
	maps.Copy(md, in)

	md["inwhale.scheme"] = string(spec.Scheme)
	md["inwhale.bits"] = strconv.Itoa(spec.Bits)
	md["inwhale.signed"] = strconv.FormatBool(spec.Signed)
	if spec.Scheme == quant.SchemePerChannel {
		md["inwhale.axis"] = strconv.Itoa(spec.Axis)
	}

	return md
}
