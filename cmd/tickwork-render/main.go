package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/cbegin/tickwork"
	"github.com/cbegin/tickwork/internal/timeexpr"
)

func main() {
	var (
		path       = flag.String("file", "", "path to a program YAML file")
		out        = flag.String("out", "out.wav", "output WAV path")
		seconds    = flag.Float64("seconds", 0, "render length in seconds (0 = loop end or four measures)")
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		channels   = flag.Int("channels", 2, "output channels")
		bits       = flag.Int("bits", 16, "PCM bit depth: 16|24, or 32 for float")
		smfPath    = flag.String("smf", "", "also export the program as a standard MIDI file")
		ppq        = flag.Int("ppq", 480, "MIDI file resolution")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()
	initLogger(*verbose)

	if *path == "" {
		log.Fatal("-file is required")
	}
	prog, err := tickwork.LoadProgram(*path)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	buf, err := tickwork.RenderProgram(ctx, prog, *seconds, *channels, *sampleRate)
	if err != nil {
		log.Fatal(err)
	}
	if err := writeWAV(*out, buf, *bits); err != nil {
		log.Fatal(err)
	}
	slog.Info("rendered", "file", *out, "seconds", buf.Duration(), "frames", buf.Frames(), "sha256", buf.Hash())

	if *smfPath != "" {
		if err := writeSMF(*smfPath, prog, *ppq, buf.Duration()); err != nil {
			log.Fatal(err)
		}
		slog.Info("exported midi", "file", *smfPath, "ppq", *ppq)
	}
}

func initLogger(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func writeWAV(path string, buf *tickwork.Buffer, bits int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = buf.WriteWAV(f, bits)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeSMF(path string, prog *tickwork.Program, ppq int, seconds float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	// the MIDI file covers the rendered length at the initial tempo
	length := timeexpr.Notation{Quarters: seconds * prog.BPM / 60}
	err = prog.WriteSMF(f, ppq, length)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
