// Command flashmse bridges an FLV byte stream into a paced, chunked legacy
// sink through the source-buffer engine, logging delivery progress. It
// demonstrates the append lifecycle against a stand-in sink; the real
// integration embeds the session package directly.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/flashmse/internal/buffer"
	"github.com/zsiec/flashmse/internal/session"
	"github.com/zsiec/flashmse/internal/sink"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	inputPath := envOr("INPUT", "-")
	appendSize := 64 << 10

	input, err := openInput(inputPath)
	if err != nil {
		slog.Error("failed to open input", "path", inputPath, "error", err)
		os.Exit(1)
	}
	defer input.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("flashmse starting", "version", version, "input", inputPath)

	mgr := session.NewManager(nil)
	snk := sink.NewLogSink(nil, 500_000, nil)

	ms, ok := mgr.Create("bridge", snk)
	if !ok {
		slog.Error("session creation failed")
		os.Exit(1)
	}
	defer mgr.Remove("bridge")

	// The sink pulls chunk handles from the session's registry.
	snk.SetInvoker(ms.Registry())

	sb, err := ms.AddSourceBuffer(nil)
	if err != nil {
		slog.Error("failed to add source buffer", "error", err)
		os.Exit(1)
	}

	settled := make(chan struct{}, 1)
	sb.OnEvent(func(e buffer.Event) {
		if e == buffer.EventUpdateEnd {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ms.Run(ctx) })

	g.Go(func() error {
		defer cancel()
		return feed(ctx, sb, input, appendSize, settled)
	})

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				st := sb.Stats()
				slog.Info("delivery progress",
					"appends", st.Appends,
					"segments", st.Segments,
					"chunks_delivered", st.ChunksDelivered,
					"bytes_delivered", st.BytesDelivered,
					"queue_len", st.QueueLen,
					"buffered", sb.Buffered(),
				)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("bridge failed", "error", err)
		os.Exit(1)
	}
	slog.Info("bridge finished")
}

// feed reads the FLV stream and appends it one buffer at a time, waiting
// for each update to settle before the next append.
func feed(ctx context.Context, sb *buffer.SourceBuffer, r io.Reader, size int, settled chan struct{}) error {
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if appendErr := sb.AppendBuffer(buf[:n]); appendErr != nil {
				return appendErr
			}
			select {
			case <-settled:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Info("input drained")
				return nil
			}
			return err
		}
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
