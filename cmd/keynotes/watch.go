package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keynotes-rtc/keynotes/internal/config"
	"github.com/keynotes-rtc/keynotes/internal/document"
	"github.com/keynotes-rtc/keynotes/internal/feed"
	"github.com/keynotes-rtc/keynotes/internal/logging"
	"github.com/keynotes-rtc/keynotes/internal/registry"
	"github.com/keynotes-rtc/keynotes/internal/tracker"
	"github.com/keynotes-rtc/keynotes/internal/ui"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watch <document>...",
		GroupID: "tracking",
		Short:   "Keep documents' keynote tables in step with their keynote files",
		Long: `Open the given documents and track their keynote files until interrupted.

Every idle tick (--idle-interval) each document whose keynote file changed is
reloaded inside a "Reload keynote table" transaction. A reload that fails is
logged and retried on the next tick. When a document's keynote binding
changes, including through "keynotes bind" from another shell, tracking is
restarted on the new file.

With --feed-port, tracking events are broadcast as JSON over a WebSocket:
  ws://127.0.0.1:<port>/ws

Example usage:
  keynotes watch project.kdoc
  keynotes watch a.kdoc b.kdoc --idle-interval 1s --feed-port 7420`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args)
		},
	}

	f := cmd.Flags()
	f.Duration("idle-interval", registry.DefaultIdleInterval, "time between idle ticks")
	f.Int("feed-port", 0, "serve a WebSocket event feed on this local port (0 disables)")

	return cmd
}

func runWatch(cmd *cobra.Command, paths []string) error {
	cfg := config.FromContext(cmd.Context())
	logger := logging.FromContext(cmd.Context())
	out := cmd.OutOrStdout()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var reg *registry.Registry
	trackerOpts := []tracker.Option{tracker.WithTranslator(document.Translator)}

	var server *feed.Server
	if cfg.FeedPort > 0 {
		server = feed.NewServer(feed.Config{
			Addr:   fmt.Sprintf("127.0.0.1:%d", cfg.FeedPort),
			Status: func() []registry.Status { return reg.Snapshot() },
			Logger: logger,
		})
		trackerOpts = append(trackerOpts, tracker.WithObserver(server))
	}

	docs := make([]*document.Document, 0, len(paths))
	defer func() {
		for _, doc := range docs {
			if err := doc.Close(); err != nil {
				logger.Warn("failed to close document",
					slog.String("document", doc.Path()),
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	for _, p := range paths {
		doc, err := document.OpenContext(ctx, p, document.WithLogger(logger))
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	reg = registry.New(
		registry.WithLogger(logger),
		registry.WithTrackerOptions(trackerOpts...),
		registry.WithIdleHook(func(ctx context.Context) {
			for _, doc := range docs {
				if _, err := doc.Poll(ctx); err != nil {
					logger.Warn("failed to poll document",
						slog.String("document", doc.Path()),
						slog.String("error", err.Error()),
					)
				}
			}
		}),
	)

	if server != nil {
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Stop()
	}

	for _, doc := range docs {
		t := reg.Opened(doc)
		unsubscribe := doc.OnChanged(func(id int64, names []string) {
			reg.Changed(id, names)
		})
		defer unsubscribe()
		defer reg.Closing(doc.ID())

		if t.State() == tracker.Watching {
			fmt.Fprintf(out, "%s %s %s %s\n", ui.RenderPass("✓"), doc.Path(), ui.RenderMuted("→"), t.KeynotePath())
		} else {
			fmt.Fprintf(out, "%s %s: %v\n", ui.RenderWarn("⚠"), doc.Path(), t.LastError())
		}
	}

	if server != nil {
		fmt.Fprintf(out, "%s Event feed on ws://%s/ws\n", ui.RenderAccent("●"), server.Addr())
	}
	fmt.Fprintf(out, "\nWatching %d document(s). Press Ctrl+C to stop.\n", len(docs))

	start := time.Now()
	if err := reg.Run(ctx, cfg.IdleInterval); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nStopped after %s\n", time.Since(start).Round(time.Second))
	return nil
}
