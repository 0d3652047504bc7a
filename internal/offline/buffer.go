package offline

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/cbegin/tickwork/internal/errs"
)

// Buffer is the interleaved result of an offline render.
type Buffer struct {
	Data       []float32
	Channels   int
	SampleRate int
}

func (b *Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Data) / b.Channels
}

// Duration returns the rendered length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Channel returns a copy of channel i.
func (b *Buffer) Channel(i int) []float32 {
	if i < 0 || i >= b.Channels {
		return nil
	}
	out := make([]float32, b.Frames())
	for f := range out {
		out[f] = b.Data[f*b.Channels+i]
	}
	return out
}

// Hash returns the hex sha256 of the layout and the raw float32 samples. Two
// renders hash equal only when they are bit-identical.
func (b *Buffer) Hash() string {
	h := sha256.New()
	_ = binary.Write(h, binary.LittleEndian, [2]uint32{uint32(b.Channels), uint32(b.SampleRate)})
	_ = binary.Write(h, binary.LittleEndian, b.Data)
	return hex.EncodeToString(h.Sum(nil))
}

const (
	wavPCM   = 1
	wavFloat = 3
)

// WriteWAV encodes the buffer at bitDepth: 16 or 24 is integer PCM with
// samples outside [-1, 1] clipped, 32 is IEEE float written unchanged.
func (b *Buffer) WriteWAV(w io.WriteSeeker, bitDepth int) error {
	format := wavPCM
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: b.Channels,
			SampleRate:  b.SampleRate,
		},
		Data:           make([]int, len(b.Data)),
		SourceBitDepth: bitDepth,
	}
	switch bitDepth {
	case 16, 24:
		scale := float64(int(1)<<(bitDepth-1) - 1)
		for i, s := range b.Data {
			v := min(max(float64(s), -1), 1)
			buf.Data[i] = int(math.Round(v * scale))
		}
	case 32:
		// the encoder writes 32-bit samples as int32, so pass the float bits through
		format = wavFloat
		for i, s := range b.Data {
			buf.Data[i] = int(int32(math.Float32bits(s)))
		}
	default:
		return fmt.Errorf("%w: bit depth %d", errs.ErrInvalidRange, bitDepth)
	}
	enc := wav.NewEncoder(w, b.SampleRate, bitDepth, b.Channels, format)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finish wav: %w", err)
	}
	return nil
}
