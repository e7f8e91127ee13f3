// Package ingest opens conversion input sources, surfacing local files and
// remote SRT senders as plain byte streams.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Open returns the byte stream for source. Sources of the form
// srt://host:port[?streamid=...] are pulled from a remote SRT listener;
// anything else is treated as a local file path.
func Open(ctx context.Context, source string, log *slog.Logger) (io.ReadCloser, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.HasPrefix(source, "srt://") {
		return openSRT(ctx, source, log)
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", source, err)
	}
	return f, nil
}
