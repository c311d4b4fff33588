package safetensors

import (
	"fmt"
	"slices"
	"strings"

	"github.com/example/go-inwhale/internal/runtime/tensor"
)

// Tensor holds a single tensor loaded from a safetensors file.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// ToTensor copies t into a runtime tensor.
func (t *Tensor) ToTensor() (*tensor.Tensor, error) {
	x, err := tensor.New(t.Data, t.Shape)
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q: %w", t.Name, err)
	}

	return x, nil
}

// FromTensor wraps a runtime tensor for encoding under name.
func FromTensor(name string, x *tensor.Tensor) Tensor {
	return Tensor{Name: name, Shape: x.Shape(), Data: x.Data()}
}

// Load reads tensors from a safetensors file in name order. With no names
// every tensor kept by opts is returned; otherwise each requested name must
// exist after remapping.
func Load(path string, opts StoreOptions, names ...string) ([]*Tensor, error) {
	store, err := OpenStore(path, opts)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return loadFrom(store, names)
}

// LoadFromBytes is Load for an in-memory payload.
func LoadFromBytes(data []byte, opts StoreOptions, names ...string) ([]*Tensor, error) {
	store, err := OpenStoreFromBytes(data, opts)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return loadFrom(store, names)
}

func loadFrom(store *Store, names []string) ([]*Tensor, error) {
	if len(names) == 0 {
		names = store.Names()
	} else {
		names = slices.Clone(names)
		slices.Sort(names)
		names = slices.Compact(names)
	}

	out := make([]*Tensor, 0, len(names))
	for _, name := range names {
		t, err := store.Tensor(name)
		if err != nil {
			return nil, err
		}

		out = append(out, t)
	}

	return out, nil
}

// PrefixMapper returns a KeyMapper that keeps only tensors under prefix and
// strips it from their names.
func PrefixMapper(prefix string) KeyMapper {
	return func(name string) (string, bool) {
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok || rest == "" {
			return "", false
		}

		return rest, true
	}
}
