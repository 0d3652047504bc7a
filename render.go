package tickwork

import (
	"context"

	"github.com/cbegin/tickwork/internal/audioctx"
	"github.com/cbegin/tickwork/internal/graph"
	"github.com/cbegin/tickwork/internal/offline"
	"github.com/cbegin/tickwork/internal/timeexpr"
	"github.com/cbegin/tickwork/internal/transport"
)

// BuildFunc programs a fresh offline context and transport before a render.
type BuildFunc = offline.BuildFunc

var defaultCoordinator = offline.NewCoordinator(nil)

// Render runs build against an offline context and renders seconds of
// audio as fast as the CPU allows.
func Render(ctx context.Context, build BuildFunc, seconds float64, channels, sampleRate int) (*Buffer, error) {
	return defaultCoordinator.Render(ctx, build, seconds, channels, sampleRate)
}

// RenderProgram renders p for seconds, or for one pass of its loop region
// when seconds is zero.
func RenderProgram(ctx context.Context, p *Program, seconds float64, channels, sampleRate int) (*Buffer, error) {
	c := offline.NewCoordinator(nil, offline.WithTransportOptions(p.TransportOptions()...))
	if seconds == 0 {
		seconds = p.Length()
	}
	return c.Render(ctx, programBuild(p), seconds, channels, sampleRate)
}

func programBuild(p *Program) BuildFunc {
	return func(ac *audioctx.Context, tr *transport.Transport) error {
		bus := graph.NewBus(ac.SampleRate())
		ac.SetDestination(bus)
		if err := p.Apply(tr, bus); err != nil {
			return err
		}
		return tr.Start(timeexpr.Seconds(0), nil)
	}
}
