package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cbegin/tickwork"
	"github.com/cbegin/tickwork/internal/draw"
	"github.com/cbegin/tickwork/internal/midisync"
)

func main() {
	var (
		path       = flag.String("file", "", "path to a program YAML file")
		driver     = flag.String("driver", tickwork.DriverEbiten, "audio driver: ebiten|oto")
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		volume     = flag.Float64("volume", 1.0, "master volume scalar")
		loops      = flag.Int("loops", 0, "stop after N loops (0 = play until interrupted)")
		midiPort   = flag.String("midi", "", "send MIDI clock to the output port whose name contains this")
		useTUI     = flag.Bool("tui", false, "show the terminal UI")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()
	initLogger(*verbose, *useTUI)

	if *path == "" {
		log.Fatal("-file is required")
	}
	prog, err := tickwork.LoadProgram(*path)
	if err != nil {
		log.Fatal(err)
	}
	pl, err := tickwork.NewPlayer(
		tickwork.WithDriver(*driver),
		tickwork.WithSampleRate(*sampleRate),
		tickwork.WithLogger(slog.Default()),
		tickwork.WithTransportOptions(prog.TransportOptions()...),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer pl.Close()
	pl.SetMasterVolume(*volume)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *midiPort != "" {
		send, closeDriver, err := openMIDI(*midiPort)
		if err != nil {
			log.Fatal(err)
		}
		defer closeDriver()
		mc, err := midisync.New(pl.Transport(), send, midisync.WithLogger(slog.Default()))
		if err != nil {
			log.Fatal(err)
		}
		defer mc.Close()
		go func() {
			if err := mc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("midi clock stopped", "err", err)
			}
		}()
	}

	if *useTUI {
		sched := draw.New(pl.Context(), draw.WithLogger(slog.Default()))
		m, err := newModel(pl, filepath.Base(*path), sched)
		if err != nil {
			log.Fatal(err)
		}
		if err := pl.Play(ctx, prog); err != nil {
			log.Fatal(err)
		}
		if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.Fatal(err)
		}
		return
	}

	events := pl.Watch()
	if err := pl.Play(ctx, prog); err != nil {
		log.Fatal(err)
	}
	loopCount := 0
	for {
		select {
		case <-ctx.Done():
			_ = pl.Stop()
			return
		case err := <-pl.Errors():
			slog.Warn("callback failed", "err", err)
		case ev := <-events:
			switch ev.Kind {
			case tickwork.EventLoop:
				loopCount++
				fmt.Printf("loop %d completed\n", loopCount)
				if *loops > 0 && loopCount >= *loops {
					_ = pl.Stop()
				}
			case tickwork.EventStop:
				fmt.Println("playback stopped")
				return
			default:
				fmt.Printf("%s at %.3fs\n", ev.Kind, ev.Time)
			}
		}
	}
}

// initLogger sends logs to stderr, or discards info logs while the TUI owns
// the terminal.
func initLogger(verbose, tui bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if tui && !verbose {
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
