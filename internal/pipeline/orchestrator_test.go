package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/zsiec/remux/internal/annexb"
	"github.com/zsiec/remux/internal/avcc"
	"github.com/zsiec/remux/internal/decode"
	"github.com/zsiec/remux/internal/media"
	"github.com/zsiec/remux/internal/sink"
)

var testStartCode = []byte{0x00, 0x00, 0x00, 0x01}

var (
	testSPS = []byte{0x67, 0x42, 0xE0, 0x1E, 0xA9}
	testPPS = []byte{0x68, 0xCE, 0x38}
)

// buildStream concatenates payloads with a 4-byte start code before each.
func buildStream(payloads ...[]byte) []byte {
	var out []byte
	for _, p := range payloads {
		out = append(out, testStartCode...)
		out = append(out, p...)
	}
	return out
}

// slicePayloads returns n distinct coded-slice payloads.
func slicePayloads(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{0x41, 0x9A, byte(i)}
	}
	return out
}

// testBuffer is a FrameBuffer that counts releases.
type testBuffer struct {
	data     []byte
	releases int
}

func (b *testBuffer) Bytes() []byte { return b.data }
func (b *testBuffer) Release()      { b.releases++ }

// stubDecoder yields one testBuffer per submitted packet, switching to
// errors after failAfter successes (negative failAfter means never fail).
type stubDecoder struct {
	results     chan decode.Result
	setupCfg    *decode.Config
	setupErr    error
	failAfter   int
	submitted   int
	invalidated int
	buffers     []*testBuffer
}

func newStubDecoder() *stubDecoder {
	return &stubDecoder{
		results:   make(chan decode.Result, 64),
		failAfter: -1,
	}
}

func (d *stubDecoder) Setup(cfg decode.Config) error {
	d.setupCfg = &cfg
	return d.setupErr
}

func (d *stubDecoder) Submit(pkt media.Packet) {
	d.submitted++
	if d.failAfter >= 0 && d.submitted > d.failAfter {
		d.results <- decode.Result{Err: errors.New("hardware decode fault")}
		return
	}
	buf := &testBuffer{data: append([]byte(nil), pkt.Payload...)}
	d.buffers = append(d.buffers, buf)
	d.results <- decode.Result{Frame: buf}
}

func (d *stubDecoder) Results() <-chan decode.Result { return d.results }
func (d *stubDecoder) Invalidate()                   { d.invalidated++ }

type appendRec struct {
	data []byte
	at   media.Time
}

// stubSink records appends. acceptLimit, when non-negative, caps how many
// appends CanAcceptMoreInput will allow; failAppendAt, when non-negative,
// makes that append (0-based) fail.
type stubSink struct {
	status       sink.Status
	ready        chan struct{}
	cfg          sink.Config
	dest         string
	appends      []appendRec
	acceptLimit  int
	failAppendAt int
	openErr      error
	finalizeErr  error
	err          error
	finished     bool
	ended        *media.Time
}

func newStubSink() *stubSink {
	return &stubSink{
		ready:        make(chan struct{}, 1),
		acceptLimit:  -1,
		failAppendAt: -1,
	}
}

func (s *stubSink) Open(dest string, cfg sink.Config) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.dest = dest
	s.cfg = cfg
	s.status = sink.StatusWriting
	s.signalReady()
	return nil
}

func (s *stubSink) CanAcceptMoreInput() bool {
	if s.status != sink.StatusWriting {
		return false
	}
	return s.acceptLimit < 0 || len(s.appends) < s.acceptLimit
}

func (s *stubSink) Ready() <-chan struct{} { return s.ready }

func (s *stubSink) Append(frame []byte, at media.Time) bool {
	if s.failAppendAt >= 0 && len(s.appends) == s.failAppendAt {
		s.status = sink.StatusFailed
		s.err = errors.New("container write fault")
		return false
	}
	s.appends = append(s.appends, appendRec{data: append([]byte(nil), frame...), at: at})
	s.signalReady()
	return true
}

func (s *stubSink) Err() error          { return s.err }
func (s *stubSink) Status() sink.Status { return s.status }

func (s *stubSink) MarkInputFinished() {
	s.finished = true
	if s.status == sink.StatusWriting {
		s.status = sink.StatusFinishing
	}
}

func (s *stubSink) EndSession(at media.Time) { s.ended = &at }

func (s *stubSink) Finalize() <-chan error {
	done := make(chan error, 1)
	if s.finalizeErr != nil {
		done <- s.finalizeErr
		return done
	}
	s.status = sink.StatusDone
	done <- nil
	return done
}

func (s *stubSink) signalReady() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, src PacketSource, dec decode.Decoder, w sink.Writer) *Orchestrator {
	t.Helper()
	o, err := New(cfg, src, dec, w, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func defaultConfig() Config {
	return Config{Destination: "out.avcc", FrameRate: 15, Width: 640, Height: 480}
}

func TestOrchestrator_ScenarioA_FullConversion(t *testing.T) {
	t.Parallel()

	slices := slicePayloads(10)
	stream := buildStream(append([][]byte{testSPS, testPPS}, slices...)...)

	dec := newStubDecoder()
	snk := newStubSink()
	o := newTestOrchestrator(t, defaultConfig(), annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	out, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "out.avcc" {
		t.Errorf("output locator = %q, want %q", out, "out.avcc")
	}

	if len(snk.appends) != 10 {
		t.Fatalf("appended %d frames, want 10", len(snk.appends))
	}
	for i, rec := range snk.appends {
		want := media.Time{Value: int64(i), Scale: 15}
		if rec.at != want {
			t.Errorf("frame %d timestamp = %v, want %v", i, rec.at, want)
		}
		if !bytes.Equal(rec.data, slices[i]) {
			t.Errorf("frame %d data = % X, want % X", i, rec.data, slices[i])
		}
	}

	wantRecord, err := avcc.BuildDecoderConfig(testSPS, testPPS)
	if err != nil {
		t.Fatalf("BuildDecoderConfig: %v", err)
	}
	if dec.setupCfg == nil {
		t.Fatal("decoder was never configured")
	}
	if !bytes.Equal(dec.setupCfg.Record, wantRecord) {
		t.Errorf("decoder record = % X, want % X", dec.setupCfg.Record, wantRecord)
	}
	if !bytes.Equal(snk.cfg.Record, wantRecord) {
		t.Errorf("sink record = % X, want % X", snk.cfg.Record, wantRecord)
	}

	if dec.invalidated == 0 {
		t.Error("decoder was not invalidated at finish")
	}
	if !snk.finished {
		t.Error("sink input was not marked finished")
	}
	if snk.ended == nil || *snk.ended != (media.Time{Value: 10, Scale: 15}) {
		t.Errorf("session end = %v, want 10/15", snk.ended)
	}
	for i, buf := range dec.buffers {
		if buf.releases != 1 {
			t.Errorf("buffer %d released %d times, want exactly once", i, buf.releases)
		}
	}
}

func TestOrchestrator_ScenarioB_MissingPPS(t *testing.T) {
	t.Parallel()

	stream := buildStream(append([][]byte{testSPS}, slicePayloads(4)...)...)

	dec := newStubDecoder()
	snk := newStubSink()
	o := newTestOrchestrator(t, defaultConfig(), annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	_, err := o.Run(context.Background())
	if !errors.Is(err, ErrWrongStream) {
		t.Fatalf("err = %v, want ErrWrongStream", err)
	}

	if dec.setupCfg != nil {
		t.Error("decoder was configured despite missing PPS")
	}
	if len(snk.appends) != 0 {
		t.Errorf("appended %d frames, want 0", len(snk.appends))
	}
	if snk.status != sink.StatusIdle {
		t.Errorf("sink status = %v, want %v", snk.status, sink.StatusIdle)
	}
}

func TestOrchestrator_ScenarioC_DecoderErrorMidStream(t *testing.T) {
	t.Parallel()

	stream := buildStream(append([][]byte{testSPS, testPPS}, slicePayloads(10)...)...)

	dec := newStubDecoder()
	dec.failAfter = 6
	snk := newStubSink()
	snk.acceptLimit = 3 // frames 4..6 queue up behind a full sink
	o := newTestOrchestrator(t, defaultConfig(), annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	_, err := o.Run(context.Background())
	if !errors.Is(err, ErrDecoder) {
		t.Fatalf("err = %v, want ErrDecoder", err)
	}

	if len(snk.appends) != 3 {
		t.Fatalf("appended %d frames, want exactly 3", len(snk.appends))
	}
	for i, rec := range snk.appends {
		want := media.Time{Value: int64(i), Scale: 15}
		if rec.at != want {
			t.Errorf("frame %d timestamp = %v, want %v", i, rec.at, want)
		}
	}

	// Every decoded buffer, written or queued, is released exactly once.
	if len(dec.buffers) != 6 {
		t.Fatalf("decoder produced %d buffers, want 6", len(dec.buffers))
	}
	for i, buf := range dec.buffers {
		if buf.releases != 1 {
			t.Errorf("buffer %d released %d times, want exactly once", i, buf.releases)
		}
	}
	if dec.invalidated == 0 {
		t.Error("decoder was not invalidated on failure")
	}
}

func TestOrchestrator_SinkAppendFailure(t *testing.T) {
	t.Parallel()

	stream := buildStream(append([][]byte{testSPS, testPPS}, slicePayloads(5)...)...)

	dec := newStubDecoder()
	snk := newStubSink()
	snk.failAppendAt = 2
	o := newTestOrchestrator(t, defaultConfig(), annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	_, err := o.Run(context.Background())
	if !errors.Is(err, ErrSink) {
		t.Fatalf("err = %v, want ErrSink", err)
	}
	if len(snk.appends) != 2 {
		t.Errorf("appended %d frames, want 2", len(snk.appends))
	}
	// Written frames are released exactly once; frames still inside the
	// decoder's delivery queue at failure time stay with the decoder.
	for i, buf := range dec.buffers {
		if i < len(snk.appends) && buf.releases != 1 {
			t.Errorf("written buffer %d released %d times, want exactly once", i, buf.releases)
		}
		if buf.releases > 1 {
			t.Errorf("buffer %d released %d times", i, buf.releases)
		}
	}
}

func TestOrchestrator_FinalizeFailure(t *testing.T) {
	t.Parallel()

	stream := buildStream(testSPS, testPPS, []byte{0x41, 0x9A, 0x00})

	dec := newStubDecoder()
	snk := newStubSink()
	snk.finalizeErr = errors.New("container fault")
	o := newTestOrchestrator(t, defaultConfig(), annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	_, err := o.Run(context.Background())
	if !errors.Is(err, ErrSink) {
		t.Fatalf("err = %v, want ErrSink", err)
	}
}

func TestOrchestrator_SinkOpenFailure(t *testing.T) {
	t.Parallel()

	stream := buildStream(testSPS, testPPS, []byte{0x41, 0x9A, 0x00})

	dec := newStubDecoder()
	snk := newStubSink()
	snk.openErr = errors.New("destination unwritable")
	o := newTestOrchestrator(t, defaultConfig(), annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	_, err := o.Run(context.Background())
	if !errors.Is(err, ErrStartWriting) {
		t.Fatalf("err = %v, want ErrStartWriting", err)
	}
}

func TestOrchestrator_DecoderSetupFailure(t *testing.T) {
	t.Parallel()

	stream := buildStream(testSPS, testPPS, []byte{0x41, 0x9A, 0x00})

	dec := newStubDecoder()
	dec.setupErr = errors.New("no decode sessions available")
	snk := newStubSink()
	o := newTestOrchestrator(t, defaultConfig(), annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	_, err := o.Run(context.Background())
	if !errors.Is(err, ErrDecoder) {
		t.Fatalf("err = %v, want ErrDecoder", err)
	}
	if dec.invalidated == 0 {
		t.Error("decoder was not invalidated after setup failure")
	}
}

func TestOrchestrator_BadParameterSets(t *testing.T) {
	t.Parallel()

	// SPS too short to source profile/compat/level bytes.
	stream := buildStream([]byte{0x67, 0x42}, testPPS, []byte{0x41, 0x9A, 0x00})

	dec := newStubDecoder()
	snk := newStubSink()
	o := newTestOrchestrator(t, defaultConfig(), annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	_, err := o.Run(context.Background())
	if !errors.Is(err, ErrConfigRecord) {
		t.Fatalf("err = %v, want ErrConfigRecord", err)
	}
}

func TestOrchestrator_LatestParameterSetWins(t *testing.T) {
	t.Parallel()

	staleSPS := []byte{0x67, 0x00, 0x00, 0x00, 0x00}
	stream := buildStream(staleSPS, testSPS, testPPS, []byte{0x41, 0x9A, 0x00})

	dec := newStubDecoder()
	snk := newStubSink()
	o := newTestOrchestrator(t, defaultConfig(), annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantRecord, _ := avcc.BuildDecoderConfig(testSPS, testPPS)
	if !bytes.Equal(dec.setupCfg.Record, wantRecord) {
		t.Errorf("decoder record built from stale SPS")
	}
}

func TestOrchestrator_RunOnce(t *testing.T) {
	t.Parallel()

	stream := buildStream(testSPS, testPPS, []byte{0x41, 0x9A, 0x00})

	dec := newStubDecoder()
	snk := newStubSink()
	o := newTestOrchestrator(t, defaultConfig(), annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstAppends := len(snk.appends)

	if _, err := o.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Run err = %v, want ErrAlreadyStarted", err)
	}
	if len(snk.appends) != firstAppends {
		t.Error("second Run disturbed the completed conversion")
	}
}

func TestOrchestrator_ObservesSEI(t *testing.T) {
	t.Parallel()

	sei := []byte{0x06, 0x05, 0x04, 0xAA}
	stream := buildStream(sei, testSPS, testPPS, []byte{0x41, 0x9A, 0x00}, sei)

	var observed [][]byte
	cfg := defaultConfig()
	cfg.OnSupplementalInfo = func(payload []byte, at media.Time) {
		observed = append(observed, append([]byte(nil), payload...))
	}

	dec := newStubDecoder()
	snk := newStubSink()
	o := newTestOrchestrator(t, cfg, annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(observed) != 2 {
		t.Fatalf("observed %d SEI payloads, want 2", len(observed))
	}
	for i, p := range observed {
		if !bytes.Equal(p, sei) {
			t.Errorf("SEI %d = % X, want % X", i, p, sei)
		}
	}
}

func TestOrchestrator_ContextCancelled(t *testing.T) {
	t.Parallel()

	stream := buildStream(testSPS, testPPS, []byte{0x41, 0x9A, 0x00})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dec := newStubDecoder()
	snk := newStubSink()
	o := newTestOrchestrator(t, defaultConfig(), annexb.NewFramer(bytes.NewReader(stream)), dec, snk)

	if _, err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	dec := newStubDecoder()
	snk := newStubSink()
	src := annexb.NewFramer(bytes.NewReader(nil))

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero frame rate", Config{Destination: "x", FrameRate: 0, Width: 1, Height: 1}},
		{"negative frame rate", Config{Destination: "x", FrameRate: -5, Width: 1, Height: 1}},
		{"zero width", Config{Destination: "x", FrameRate: 15, Width: 0, Height: 1}},
		{"zero height", Config{Destination: "x", FrameRate: 15, Width: 1, Height: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, src, dec, snk, nil); err == nil {
				t.Error("New accepted invalid config")
			}
		})
	}
}

// errorSource fails mid-stream after delivering its packets.
type errorSource struct {
	packets []media.Packet
	err     error
}

func (s *errorSource) ParseNext() (media.Packet, error) {
	if len(s.packets) == 0 {
		return media.Packet{}, s.err
	}
	pkt := s.packets[0]
	s.packets = s.packets[1:]
	return pkt, nil
}

func TestOrchestrator_SourceErrorMidDecodeEndsStream(t *testing.T) {
	t.Parallel()

	src := &errorSource{
		packets: []media.Packet{
			media.NewPacket(testSPS),
			media.NewPacket(testPPS),
			media.NewPacket([]byte{0x41, 0x9A, 0x00}),
			media.NewPacket([]byte{0x41, 0x9A, 0x01}),
		},
		err: fmt.Errorf("transport reset"),
	}

	dec := newStubDecoder()
	snk := newStubSink()
	o := newTestOrchestrator(t, defaultConfig(), src, dec, snk)

	// Frames decoded before the source failure still drain and the
	// conversion completes.
	out, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "out.avcc" {
		t.Errorf("output = %q, want out.avcc", out)
	}
	if len(snk.appends) != 2 {
		t.Errorf("appended %d frames, want 2", len(snk.appends))
	}
}
