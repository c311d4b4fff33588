// Package audio converts 16-bit PCM WAV files to and from sample tensors so
// the quantizers can be run over recorded signals.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// PCM16 is the only sample depth the package reads and writes.
const PCM16 = 16

// ErrFormatMismatch is returned when a WAV file is not 16-bit PCM.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// Format describes the layout of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Validate reports whether f can be encoded.
func (f Format) Validate() error {
	if f.SampleRate < 1 {
		return fmt.Errorf("%w: sample rate %d", ErrFormatMismatch, f.SampleRate)
	}

	if f.Channels < 1 {
		return fmt.Errorf("%w: channels %d", ErrFormatMismatch, f.Channels)
	}

	if f.BitDepth != PCM16 {
		return fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, f.BitDepth, PCM16)
	}

	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d-bit", f.SampleRate, f.Channels, f.BitDepth)
}

// Duration returns the playback duration of a WAV file from its RIFF header.
func Duration(wav []byte) (time.Duration, error) {
	// Minimal RIFF/WAV header is 44 bytes.
	if len(wav) < 44 {
		return 0, fmt.Errorf("wav too short (%d bytes)", len(wav))
	}

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return 0, errors.New("not a RIFF/WAVE file")
	}

	// "fmt " is not always the first chunk.
	pos := 12
	for pos+8 <= len(wav) {
		chunkID := string(wav[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))

		if chunkID == "fmt " {
			if pos+8+16 > len(wav) {
				return 0, errors.New("fmt chunk too short")
			}

			sampleRate := int64(binary.LittleEndian.Uint32(wav[pos+8+4 : pos+8+8]))
			blockAlign := int64(binary.LittleEndian.Uint16(wav[pos+8+12 : pos+8+14]))

			if sampleRate == 0 || blockAlign == 0 {
				return 0, fmt.Errorf("invalid fmt chunk: sampleRate=%d blockAlign=%d", sampleRate, blockAlign)
			}

			dataSize, err := findDataChunkSize(wav)
			if err != nil {
				return 0, err
			}

			frames := dataSize / blockAlign

			return time.Duration(frames * int64(time.Second) / sampleRate), nil
		}

		pos += 8 + chunkSize
		if chunkSize%2 != 0 {
			pos++ // RIFF pad byte
		}
	}

	return 0, errors.New("fmt chunk not found")
}

func findDataChunkSize(wav []byte) (int64, error) {
	pos := 12
	for pos+8 <= len(wav) {
		chunkID := string(wav[pos : pos+4])
		chunkSize := int64(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))

		if chunkID == "data" {
			return chunkSize, nil
		}

		pos += 8 + int(chunkSize)
		if chunkSize%2 != 0 {
			pos++
		}
	}

	return 0, errors.New("data chunk not found")
}
