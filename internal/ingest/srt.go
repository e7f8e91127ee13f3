package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	srtgo "github.com/zsiec/srtgo"
)

// srtReadBufferSize is the read buffer for SRT socket reads, sized for the
// standard SRT payload of 1316 bytes.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// openSRT dials a remote SRT listener and pumps its payload into a pipe,
// so the framer sees an ordinary byte stream.
func openSRT(ctx context.Context, source string, log *slog.Logger) (io.ReadCloser, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse %s: %w", source, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("ingest: %s: missing host", source)
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if id := u.Query().Get("streamid"); id != "" {
		cfg.StreamID = id
	}

	conn, err := srtgo.Dial(u.Host, cfg)
	if err != nil {
		return nil, fmt.Errorf("ingest: SRT dial %s: %w", u.Host, err)
	}
	log = log.With("component", "srt-ingest")
	log.Info("connected", "address", u.Host)

	pr, pw := io.Pipe()
	go func() {
		defer conn.Close()
		buf := make([]byte, srtReadBufferSize)
		for {
			if ctx.Err() != nil {
				pw.CloseWithError(ctx.Err())
				return
			}
			n, err := conn.Read(buf)
			if n > 0 {
				if _, werr := pw.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					pw.Close()
				} else {
					log.Debug("read error", "error", err)
					pw.CloseWithError(err)
				}
				return
			}
		}
	}()
	return pr, nil
}
