package audio

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

type otoPlayer struct {
	player *oto.Player
	reader *StreamReader
}

var (
	otoOnce       sync.Once
	otoContext    *oto.Context
	otoErr        error
	otoSampleRate int
)

func sharedOtoContext(sampleRate, channels int, cfg config) (*oto.Context, error) {
	otoOnce.Do(func() {
		otoSampleRate = sampleRate
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   cfg.bufferSize,
		})
		if err != nil {
			otoErr = fmt.Errorf("cannot create oto context: %w", err)
			return
		}
		<-ready
		otoContext = ctx
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", otoSampleRate, sampleRate)
	}
	return otoContext, nil
}

func newOtoPlayer(sampleRate, channels int, source SampleSource, cfg config) (*otoPlayer, error) {
	ctx, err := sharedOtoContext(sampleRate, channels, cfg)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source, channels)
	pl := ctx.NewPlayer(reader)
	// bytes: float32 samples for every channel
	pl.SetBufferSize(int(cfg.bufferSize.Seconds()*float64(sampleRate)) * channels * 4)
	return &otoPlayer{player: pl, reader: reader}, nil
}

func (p *otoPlayer) Play()           { p.player.Play() }
func (p *otoPlayer) Pause()          { p.player.Pause() }
func (p *otoPlayer) IsPlaying() bool { return p.player.IsPlaying() }

func (p *otoPlayer) Close() error {
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return p.reader.Close()
}
