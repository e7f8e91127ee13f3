package sink

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/zsiec/remux/internal/avcc"
	"github.com/zsiec/remux/internal/media"
)

// AVCCFile is a Writer that produces a flat length-prefixed sample file: a
// 2-byte big-endian length followed by the decoder configuration record,
// then each frame as a 4-byte big-endian length followed by its bytes. It
// has no buffering limit, so it is always ready while writing.
type AVCCFile struct {
	log    *slog.Logger
	f      *os.File
	w      *bufio.Writer
	status Status
	err    error
	ready  chan struct{}
	frames int64
	end    media.Time
}

// NewAVCCFile creates an AVCCFile sink. If log is nil, slog.Default() is used.
func NewAVCCFile(log *slog.Logger) *AVCCFile {
	if log == nil {
		log = slog.Default()
	}
	return &AVCCFile{
		log:   log.With("component", "avcc-sink"),
		ready: make(chan struct{}, 1),
	}
}

// Open creates the output file and writes the configuration record header.
func (s *AVCCFile) Open(dest string, cfg Config) error {
	if s.status != StatusIdle {
		return fmt.Errorf("sink: open in state %v", s.status)
	}
	if len(cfg.Record) == 0 {
		return fmt.Errorf("sink: missing decoder configuration record")
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("sink: create %s: %w", dest, err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)

	header := []byte{byte(len(cfg.Record) >> 8), byte(len(cfg.Record))}
	if _, err := s.w.Write(header); err != nil {
		return s.setFailed(err)
	}
	if _, err := s.w.Write(cfg.Record); err != nil {
		return s.setFailed(err)
	}

	s.status = StatusWriting
	s.signalReady()
	s.log.Debug("opened", "dest", dest, "record_len", len(cfg.Record),
		"frame_rate", cfg.FrameRate, "width", cfg.Width, "height", cfg.Height)
	return nil
}

// CanAcceptMoreInput reports whether the writer can take another frame.
func (s *AVCCFile) CanAcceptMoreInput() bool {
	return s.status == StatusWriting
}

// Ready returns the readiness wakeup channel.
func (s *AVCCFile) Ready() <-chan struct{} {
	return s.ready
}

// Append writes one length-prefixed frame.
func (s *AVCCFile) Append(frame []byte, at media.Time) bool {
	if s.status != StatusWriting {
		s.err = fmt.Errorf("sink: append in state %v", s.status)
		return false
	}
	if _, err := s.w.Write(avcc.LengthPrefix(frame)); err != nil {
		s.setFailed(err)
		return false
	}
	s.frames++
	s.signalReady()
	return true
}

// Err returns the first internal fault, if any.
func (s *AVCCFile) Err() error {
	return s.err
}

// Status returns the writer's lifecycle state.
func (s *AVCCFile) Status() Status {
	return s.status
}

// MarkInputFinished declares the frame sequence complete.
func (s *AVCCFile) MarkInputFinished() {
	if s.status == StatusWriting {
		s.status = StatusFinishing
	}
}

// EndSession records the session end timestamp.
func (s *AVCCFile) EndSession(at media.Time) {
	s.end = at
}

// Finalize flushes and closes the output file.
func (s *AVCCFile) Finalize() <-chan error {
	done := make(chan error, 1)
	if s.status != StatusFinishing {
		done <- fmt.Errorf("sink: finalize in state %v", s.status)
		return done
	}

	err := s.w.Flush()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.setFailed(err)
		done <- s.err
		return done
	}

	s.status = StatusDone
	s.log.Info("finalized", "frames", s.frames, "duration_s", s.end.Seconds())
	done <- nil
	return done
}

func (s *AVCCFile) setFailed(err error) error {
	s.status = StatusFailed
	s.err = fmt.Errorf("sink: %w", err)
	return s.err
}

func (s *AVCCFile) signalReady() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
