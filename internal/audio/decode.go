package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"

	"github.com/example/go-inwhale/internal/runtime/tensor"
)

// DecodeWAV decodes 16-bit PCM WAV bytes into interleaved float32 samples in
// [-1, 1] and reports the stream format. Any sample rate and channel count is
// accepted.
func DecodeWAV(data []byte) ([]float32, Format, error) {
	if len(data) == 0 {
		return nil, Format{}, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, errors.New("invalid WAV file")
	}

	f := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if err := f.Validate(); err != nil {
		return nil, Format{}, err
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("reading PCM data: %w", err)
	}

	return buf.Data, f, nil
}

// SamplesTensor shapes interleaved samples as a tensor: rank 1 for mono,
// [frames, channels] otherwise.
func SamplesTensor(samples []float32, f Format) (*tensor.Tensor, error) {
	if f.Channels < 1 {
		return nil, fmt.Errorf("%w: channels %d", ErrFormatMismatch, f.Channels)
	}

	if f.Channels == 1 {
		return tensor.Vector(samples), nil
	}

	if len(samples)%f.Channels != 0 {
		return nil, fmt.Errorf("%d samples do not divide into %d channels", len(samples), f.Channels)
	}

	return tensor.New(samples, []int64{int64(len(samples) / f.Channels), int64(f.Channels)})
}

// TensorSamples flattens a tensor produced by SamplesTensor back to
// interleaved samples, checking its channel count against f.
func TensorSamples(x *tensor.Tensor, f Format) ([]float32, error) {
	switch {
	case x.Rank() == 1 && f.Channels == 1:
	case x.Rank() == 2 && x.Shape()[1] == int64(f.Channels):
	default:
		return nil, fmt.Errorf("%w: tensor shape %v does not hold %d channels", ErrFormatMismatch, x.Shape(), f.Channels)
	}

	return x.Data(), nil
}
