// Package audio plays an audio context through a realtime backend. The
// backend pulls frames from a StreamReader, and every pull advances the
// context clock, so the hardware sets the pace of the audio timeline.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/cbegin/tickwork/internal/errs"
)

// SampleSource fills interleaved frames. audioctx.Context implements it.
type SampleSource interface {
	Process(dst []float32)
}

// StreamReader adapts a SampleSource to an io.Reader of interleaved float32
// little-endian frames.
type StreamReader struct {
	mu       sync.Mutex
	source   SampleSource
	channels int
	buf      []float32
	closed   bool
}

func NewStreamReader(source SampleSource, channels int) *StreamReader {
	return &StreamReader{source: source, channels: channels}
}

// Read fills whole frames only; a trailing partial frame in p is left
// untouched.
func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.EOF
	}

	frameBytes := 4 * r.channels
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}
	need := frames * r.channels
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i, v := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	return frames * frameBytes, nil
}

// Close makes further reads return io.EOF.
func (r *StreamReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Player is a realtime output stream.
type Player interface {
	Play()
	Pause()
	IsPlaying() bool
	Close() error
}

const (
	DriverEbiten = "ebiten"
	DriverOto    = "oto"
)

// DefaultBufferSize keeps the device buffer well inside the default 100ms
// scheduling look-ahead.
const DefaultBufferSize = 40 * time.Millisecond

// Option configures a Player.
type Option func(*config)

type config struct {
	bufferSize time.Duration
}

// WithBufferSize sets the device buffer length.
func WithBufferSize(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.bufferSize = d
		}
	}
}

// Open creates a player for driver pulling stereo frames from source.
func Open(driver string, sampleRate, channels int, source SampleSource, opts ...Option) (Player, error) {
	cfg := config{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if channels != 2 {
		return nil, fmt.Errorf("%w: realtime output needs 2 channels, got %d", errs.ErrInvalidRange, channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", errs.ErrInvalidRange, sampleRate)
	}
	switch driver {
	case DriverEbiten, "":
		return newEbitenPlayer(sampleRate, source, cfg)
	case DriverOto:
		return newOtoPlayer(sampleRate, channels, source, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown audio driver %q", errs.ErrInvalidState, driver)
	}
}
