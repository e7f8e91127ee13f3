// Command remux converts a raw H.264 Annex B elementary stream into a
// length-prefixed sample file, driving the conversion pipeline with a
// passthrough decoder standing in for decode hardware. Input comes from a
// local file or a remote SRT listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/remux/internal/annexb"
	"github.com/zsiec/remux/internal/captions"
	"github.com/zsiec/remux/internal/decode"
	"github.com/zsiec/remux/internal/ingest"
	"github.com/zsiec/remux/internal/media"
	"github.com/zsiec/remux/internal/pipeline"
	"github.com/zsiec/remux/internal/sink"
)

var version = "dev"

func main() {
	inFlag := flag.String("i", "", "Input: Annex B file path or srt://host:port[?streamid=...]")
	outFlag := flag.String("o", "", "Output sample file path")
	rateFlag := flag.Int("rate", 30, "Frame rate (timestamp denominator)")
	widthFlag := flag.Int("width", 1920, "Expected frame width")
	heightFlag := flag.Int("height", 1080, "Expected frame height")
	captionsFlag := flag.Bool("captions", false, "Log CEA-608 captions found in SEI packets")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *inFlag == "" || *outFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: remux -i <input> -o <output> [-rate N] [-width N] [-height N] [-captions]")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("remux starting", "version", version, "input", *inFlag, "output", *outFlag)

	input, err := ingest.Open(ctx, *inFlag, slog.Default())
	if err != nil {
		slog.Error("failed to open input", "error", err)
		os.Exit(1)
	}
	defer input.Close()

	cfg := pipeline.Config{
		Destination: *outFlag,
		FrameRate:   *rateFlag,
		Width:       *widthFlag,
		Height:      *heightFlag,
	}
	if *captionsFlag {
		extractor := captions.NewExtractor(func(f captions.Frame) {
			slog.Info("caption", "time_s", f.Time.Seconds(), "channel", f.Channel, "text", f.Text)
		})
		cfg.OnSupplementalInfo = func(payload []byte, at media.Time) {
			extractor.ProcessSEI(payload, at)
		}
	}

	orc, err := pipeline.New(
		cfg,
		annexb.NewFramer(input),
		decode.NewPassthrough(),
		sink.NewAVCCFile(slog.Default()),
		slog.Default(),
	)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)
	var output string
	g.Go(func() error {
		var runErr error
		output, runErr = orc.Run(ctx)
		return runErr
	})

	if err := g.Wait(); err != nil {
		slog.Error("conversion failed", "error", err)
		os.Exit(1)
	}
	slog.Info("conversion complete", "output", output)
}
