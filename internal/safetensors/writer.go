package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/x448/float16"
)

// WriteOptions controls how tensors are serialized.
type WriteOptions struct {
	// DType is DTypeF32 (default) or DTypeF16.
	DType string
	// Metadata is stored under the __metadata__ header key.
	Metadata map[string]string
}

// EncodeTensors serializes float32 tensors into safetensors format.
func EncodeTensors(tensors []Tensor, opts WriteOptions) ([]byte, error) {
	if len(tensors) == 0 {
		return nil, errors.New("safetensors: no tensors to encode")
	}

	dtype := strings.ToUpper(opts.DType)
	if dtype == "" {
		dtype = DTypeF32
	}

	if dtype != DTypeF32 && dtype != DTypeF16 {
		return nil, fmt.Errorf("safetensors: cannot encode dtype %q", opts.DType)
	}

	elemBytes, _ := dtypeBytes(dtype)

	sorted := make([]Tensor, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	header := make(map[string]any, len(sorted)+1)
	raw := make([]byte, 0, estimateTensorBytes(sorted, elemBytes))

	if len(opts.Metadata) > 0 {
		header["__metadata__"] = opts.Metadata
	}

	for _, tensor := range sorted {
		name := strings.TrimSpace(tensor.Name)
		if name == "" {
			return nil, errors.New("safetensors: tensor name must not be empty")
		}

		if name == "__metadata__" {
			return nil, errors.New("safetensors: tensor name __metadata__ is reserved")
		}

		if _, exists := header[name]; exists {
			return nil, fmt.Errorf("safetensors: duplicate tensor name %q", name)
		}

		elemCount, err := shapeElementCount(tensor.Shape)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}

		if int64(len(tensor.Data)) != elemCount {
			return nil, fmt.Errorf(
				"safetensors: tensor %q shape %v expects %d elements, got %d",
				name,
				tensor.Shape,
				elemCount,
				len(tensor.Data),
			)
		}

		start := len(raw)

		raw = append(raw, make([]byte, len(tensor.Data)*elemBytes)...)
		for i, v := range tensor.Data {
			if dtype == DTypeF16 {
				binary.LittleEndian.PutUint16(raw[start+i*2:], float16.Fromfloat32(v).Bits())
			} else {
				binary.LittleEndian.PutUint32(raw[start+i*4:], math.Float32bits(v))
			}
		}

		end := len(raw)

		shape := tensor.Shape
		if shape == nil {
			shape = []int64{}
		}

		header[name] = storeHeaderEntry{
			DType:   dtype,
			Shape:   append([]int64{}, shape...),
			Offsets: [2]int{start, end},
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("safetensors: encode header: %w", err)
	}

	out := make([]byte, 0, 8+len(headerJSON)+len(raw))
	lenPrefix := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenPrefix, uint64(len(headerJSON)))
	out = append(out, lenPrefix...)
	out = append(out, headerJSON...)
	out = append(out, raw...)

	return out, nil
}

// WriteFile writes tensors into a .safetensors file.
func WriteFile(path string, tensors []Tensor, opts WriteOptions) error {
	data, err := EncodeTensors(tensors, opts)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("safetensors: write %s: %w", path, err)
	}

	return nil
}

func estimateTensorBytes(tensors []Tensor, elemBytes int) int {
	total := 0
	for _, tensor := range tensors {
		total += len(tensor.Data) * elemBytes
	}

	return total
}
