package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/FauxFaux/facto-exporter/pkg/collector"
	"github.com/FauxFaux/facto-exporter/pkg/collector/promexport"
)

type opts struct {
	listen     string
	archiveDir string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "collector",
		Short: "Accept, archive and serve crafting observations from one or more extractors",
		Long: `The collector listens for pushed observations on its ingest endpoint,
keeps them in memory for querying, and answers the query/last/long/
bulk-status API the web UI and Prometheus scraping both read from.

On startup it replays every archive file in its archive directory so a
restart doesn't lose history an extractor already wrote to disk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().StringVar(&o.listen, "listen", "127.0.0.1:9429", "address to listen on")
	root.Flags().StringVar(&o.archiveDir, "archive-dir", ".", "directory to scan for archives on startup")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	history := collector.NewHistory()

	if err := collector.LoadArchives(o.archiveDir, history, slog.Default()); err != nil {
		return fmt.Errorf("load archives: %w", err)
	}
	slog.Info("loaded archives", "dir", o.archiveDir, "observations", history.Len())

	server := collector.NewServer(history, slog.Default())

	reg := prometheus.NewRegistry()
	reg.MustRegister(promexport.New(history))

	mux := http.NewServeMux()
	mux.Handle("/", server.Router())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:    o.listen,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", o.listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}
