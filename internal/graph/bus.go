package graph

import (
	"sync"

	"github.com/viterin/vek/vek32"
)

// Voice renders mono frames at an absolute frame position.
type Voice interface {
	RenderMono(dst []float32, start int64, sampleRate int)
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithSampleTap installs a callback invoked with each rendered interleaved
// buffer. It runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) BusOption {
	return func(b *Bus) {
		b.tap = tap
	}
}

// Bus mixes its voices and copies the mono mix to every output channel. It
// implements audioctx.Renderer.
type Bus struct {
	Gain *Param

	sampleRate int
	tap        func([]float32)

	mu     sync.Mutex
	voices []Voice
	mix    []float32
	tmp    []float32
}

func NewBus(sampleRate int, opts ...BusOption) *Bus {
	b := &Bus{Gain: NewParam(1, 0, 4), sampleRate: sampleRate}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add connects v to the bus.
func (b *Bus) Add(v Voice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.voices = append(b.voices, v)
}

// Remove disconnects v and reports whether it was connected.
func (b *Bus) Remove(v Voice) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.voices {
		if cur == v {
			b.voices = append(b.voices[:i], b.voices[i+1:]...)
			return true
		}
	}
	return false
}

// Clear disconnects every voice.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.voices)
	b.voices = b.voices[:0]
}

// Len returns the number of connected voices.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.voices)
}

func (b *Bus) Render(dst []float32, channels int, start int64) {
	if channels <= 0 {
		return
	}
	frames := len(dst) / channels
	b.mu.Lock()
	if cap(b.mix) < frames {
		b.mix = make([]float32, frames)
		b.tmp = make([]float32, frames)
	}
	mix, tmp := b.mix[:frames], b.tmp[:frames]
	clear(mix)
	for _, v := range b.voices {
		v.RenderMono(tmp, start, b.sampleRate)
		vek32.Add_Inplace(mix, tmp)
	}
	b.mu.Unlock()

	// gain is block-rate; sample-accurate gain belongs on the voices
	t := float64(start) / float64(b.sampleRate)
	if g := float32(b.Gain.ValueAt(t)); g != 1 {
		vek32.MulNumber_Inplace(mix, g)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			dst[i*channels+ch] = mix[i]
		}
	}
	if b.tap != nil {
		b.tap(dst[:frames*channels])
	}
}
