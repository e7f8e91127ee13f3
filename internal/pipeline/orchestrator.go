// Package pipeline orchestrates the conversion of an H.264 Annex B
// elementary stream into a finalized sink artifact: it frames the stream
// into packets, derives the decoder configuration record, drives the
// external decoder one packet at a time, and paces decoded frames into the
// sink in presentation order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/remux/internal/avcc"
	"github.com/zsiec/remux/internal/decode"
	"github.com/zsiec/remux/internal/media"
	"github.com/zsiec/remux/internal/sink"
)

// PacketSource produces Annex B packets one at a time, returning io.EOF when
// the stream is exhausted. Accepting an interface here decouples the
// orchestrator from the concrete framer, making it testable with stubs.
type PacketSource interface {
	ParseNext() (media.Packet, error)
}

// Config carries the conversion parameters.
type Config struct {
	// Destination is the sink output locator, reported back on success.
	Destination string

	// FrameRate is the presentation timestamp denominator. Must be positive.
	FrameRate int

	// Width and Height are the expected frame dimensions, forwarded
	// opaquely to the decoder and sink.
	Width  int
	Height int

	// OnSupplementalInfo, if set, observes each SEI packet's payload as it
	// is seen, stamped with the next frame's presentation time. SEI packets
	// are otherwise discarded.
	OnSupplementalInfo func(payload []byte, at media.Time)
}

type state int

const (
	stateAwaitingConfig state = iota
	stateDecoding
	stateDraining
	stateFinished
	stateFailed
)

// pendingFrame is a decoded frame queued for delivery. Its buffer stays
// pinned from enqueue until exactly one release, via drain or teardown.
type pendingFrame struct {
	buf      media.FrameBuffer
	released bool
}

func (pf *pendingFrame) release() {
	if !pf.released {
		pf.released = true
		pf.buf.Release()
	}
}

// Orchestrator is the conversion state machine. All mutable state below the
// started guard is owned by the single goroutine running Run; decoder
// results and sink readiness are marshaled onto it through channels.
type Orchestrator struct {
	log  *slog.Logger
	cfg  Config
	src  PacketSource
	dec  decode.Decoder
	sink sink.Writer

	started atomic.Bool

	state           state
	frameIndex      int64
	inFlight        int
	parserExhausted bool
	pending         []*pendingFrame
	sps             []byte
	pps             []byte
}

// New creates an Orchestrator. If log is nil, slog.Default() is used.
func New(cfg Config, src PacketSource, dec decode.Decoder, w sink.Writer, log *slog.Logger) (*Orchestrator, error) {
	if cfg.FrameRate <= 0 {
		return nil, fmt.Errorf("pipeline: frame rate must be positive, got %d", cfg.FrameRate)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("pipeline: dimensions must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		log:  log.With("component", "pipeline"),
		cfg:  cfg,
		src:  src,
		dec:  dec,
		sink: w,
	}, nil
}

// Run performs the conversion and blocks until it reaches a terminal state,
// returning the destination locator on success. An Orchestrator runs at most
// once: a second call returns ErrAlreadyStarted and leaves the original run
// untouched.
func (o *Orchestrator) Run(ctx context.Context) (string, error) {
	if !o.started.CompareAndSwap(false, true) {
		return "", ErrAlreadyStarted
	}

	if err := o.awaitConfig(ctx); err != nil {
		return "", err
	}
	if err := o.decodeLoop(ctx); err != nil {
		return "", err
	}
	return o.cfg.Destination, nil
}

// awaitConfig consumes packets until both parameter sets have been seen,
// then builds the configuration record, opens the sink, and sets up the
// decoder. Everything else arriving before configuration is discarded.
func (o *Orchestrator) awaitConfig(ctx context.Context) error {
	for o.sps == nil || o.pps == nil {
		if err := ctx.Err(); err != nil {
			return o.fail(err)
		}

		pkt, err := o.src.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return o.fail(ErrWrongStream)
			}
			return o.fail(fmt.Errorf("%w: %v", ErrWrongStream, err))
		}

		switch pkt.Kind {
		case media.KindSequenceParameterSet:
			o.sps = pkt.Payload
		case media.KindPictureParameterSet:
			o.pps = pkt.Payload
		case media.KindSupplementalInfo:
			o.observeSEI(pkt)
		}
	}

	record, err := avcc.BuildDecoderConfig(o.sps, o.pps)
	if err != nil {
		return o.fail(fmt.Errorf("%w: %v", ErrConfigRecord, err))
	}

	if err := o.sink.Open(o.cfg.Destination, sink.Config{
		Record:    record,
		FrameRate: o.cfg.FrameRate,
		Width:     o.cfg.Width,
		Height:    o.cfg.Height,
	}); err != nil {
		return o.fail(fmt.Errorf("%w: %v", ErrStartWriting, err))
	}

	if err := o.dec.Setup(decode.Config{
		Record: record,
		Width:  o.cfg.Width,
		Height: o.cfg.Height,
	}); err != nil {
		return o.fail(fmt.Errorf("%w: %v", ErrDecoder, err))
	}

	o.log.Debug("configured", "record_len", len(record))
	o.state = stateDecoding
	return nil
}

// decodeLoop is the serial event loop for the Decoding state. Each pass runs
// one drive step (drain + pull), then waits for a decoder result or a sink
// readiness wakeup.
func (o *Orchestrator) decodeLoop(ctx context.Context) error {
	results := o.dec.Results()
	ready := o.sink.Ready()

	for {
		if err := o.drive(); err != nil {
			return err
		}
		if o.state == stateDraining {
			return o.finish()
		}

		select {
		case <-ctx.Done():
			return o.fail(ctx.Err())
		case res := <-results:
			if err := o.onDecodeResult(res); err != nil {
				return err
			}
		case <-ready:
		}
	}
}

// drive runs one drain-then-pull pass and the completion check.
func (o *Orchestrator) drive() error {
	// Drain: deliver decoded frames oldest-first while the sink has
	// capacity. Each delivered frame advances the presentation clock by
	// exactly 1/frameRate.
	for len(o.pending) > 0 && o.sink.CanAcceptMoreInput() {
		pf := o.pending[0]
		at := media.Time{Value: o.frameIndex, Scale: int32(o.cfg.FrameRate)}
		if !o.sink.Append(pf.buf.Bytes(), at) {
			return o.fail(fmt.Errorf("%w: %v", ErrSink, o.sink.Err()))
		}
		o.pending = o.pending[1:]
		o.frameIndex++
		pf.release()
	}

	// Pull: request at most one more packet per pass, submitting it to the
	// decoder without waiting for its result.
	if !o.parserExhausted {
		pkt, err := o.src.ParseNext()
		switch {
		case err == nil:
			if pkt.Kind == media.KindSupplementalInfo {
				o.observeSEI(pkt)
			}
			o.inFlight++
			o.dec.Submit(pkt)
		case errors.Is(err, io.EOF):
			o.parserExhausted = true
		default:
			// A failing source ends packet production; frames already
			// decoded still drain.
			o.log.Warn("packet source failed, treating as end of stream", "error", err)
			o.parserExhausted = true
		}
	}

	if o.parserExhausted && o.inFlight == 0 && len(o.pending) == 0 {
		o.state = stateDraining
	}
	return nil
}

// onDecodeResult handles one asynchronous decoder outcome. Successful frames
// arrive already pinned and are queued for the next drain; the pendingFrame
// entry tracks the single release they are owed.
func (o *Orchestrator) onDecodeResult(res decode.Result) error {
	if res.Err != nil {
		return o.fail(fmt.Errorf("%w: %v", ErrDecoder, res.Err))
	}

	o.inFlight--
	if o.inFlight < 0 {
		panic("pipeline: in-flight decode count went negative")
	}
	o.pending = append(o.pending, &pendingFrame{buf: res.Frame})
	return nil
}

// finish drives the Draining to Finished transition: close out the sink's
// input, invalidate the decoder, end the session at the final timestamp, and
// wait for the sink to finalize the artifact.
func (o *Orchestrator) finish() error {
	if len(o.pending) != 0 {
		panic("pipeline: pending frames remain at finish")
	}

	if o.sink.Status() != sink.StatusWriting {
		return o.fail(fmt.Errorf("%w: %v", ErrWriterState, o.sink.Status()))
	}

	o.sink.MarkInputFinished()
	o.dec.Invalidate()

	end := media.Time{Value: o.frameIndex, Scale: int32(o.cfg.FrameRate)}
	o.sink.EndSession(end)

	if err := <-o.sink.Finalize(); err != nil {
		return o.fail(fmt.Errorf("%w: %v", ErrSink, err))
	}

	o.state = stateFinished
	o.log.Info("conversion finished",
		"destination", o.cfg.Destination,
		"frames", o.frameIndex,
		"duration_s", end.Seconds(),
	)
	return nil
}

// fail moves to the terminal Failed state and tears down held resources:
// the decoder is invalidated, every queued buffer is released exactly once,
// and the sink input is closed if it is still accepting the signal.
func (o *Orchestrator) fail(reason error) error {
	o.state = stateFailed
	o.dec.Invalidate()
	for _, pf := range o.pending {
		pf.release()
	}
	o.pending = nil
	if o.sink.Status() == sink.StatusWriting {
		o.sink.MarkInputFinished()
	}
	o.log.Error("conversion failed", "error", reason)
	return reason
}

func (o *Orchestrator) observeSEI(pkt media.Packet) {
	if o.cfg.OnSupplementalInfo != nil {
		at := media.Time{Value: o.frameIndex, Scale: int32(o.cfg.FrameRate)}
		o.cfg.OnSupplementalInfo(pkt.Payload, at)
	}
}
