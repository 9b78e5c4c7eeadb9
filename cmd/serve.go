/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blacktop/xpostd/internal/config"
	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/publish"
	"github.com/blacktop/xpostd/internal/server"
	"github.com/blacktop/xpostd/internal/status"
)

const shutdownTimeout = 30 * time.Second

var (
	serveAddr   string
	serveDryRun bool
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the publishing HTTP service",
		Long: "serve starts the HTTP API. Settings come from XPOSTD_* environment variables; " +
			"platform credentials are passed per request or read from the XPOST_* variables of each platform.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides XPOSTD_HTTP_ADDR)")
	cmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "Simulate every request (overrides XPOSTD_DRY_RUN)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := applyLogConfig(cmd, cfg.App); err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}
	if serveDryRun {
		cfg.Publish.DryRun = true
	}

	events := status.NewBroadcaster(cfg.Status.BroadcastRate)
	sinks := []status.Sink{status.LogSink{}, events}
	var kafka *status.KafkaSink
	if cfg.KafkaEnabled() {
		kafka = status.NewKafkaSink(cfg.StatusKafkaConfig())
		sinks = append(sinks, kafka)
	}

	registry := publish.NewRegistry(cfg.PublishConfig(), platformFactories(), status.Multi(sinks...))
	handler := server.New(registry, events, server.Options{
		APIKey:          cfg.HTTP.APIKey,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		SubscriberQueue: cfg.Status.SubscriberQueue,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	httpServer.RegisterOnShutdown(handler.Close)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	log := logutil.Logger()
	log.Info("xpostd listening",
		"addr", cfg.HTTP.Addr,
		"platforms", platformList(),
		"publish_limit", cfg.Queue.PublishLimit,
		"publish_window", cfg.Queue.PublishWindow,
		"general_concurrency", cfg.Queue.GeneralConcurrency,
		"dry_run", cfg.Publish.DryRun,
		"kafka", cfg.KafkaEnabled(),
		"auth", cfg.HTTP.APIKey != "",
	)

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "err", err)
	}
	registry.Close()
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			log.Error("kafka sink close failed", "err", err)
		}
	}
	if dropped := events.Dropped(); dropped > 0 {
		log.Warn("status events dropped for slow subscribers", "count", dropped)
	}
	return serveErr
}

// applyLogConfig uses the environment's log settings unless a flag set them.
func applyLogConfig(cmd *cobra.Command, app config.AppConfig) error {
	flags := cmd.Flags()
	if !flags.Changed("log-format") && app.LogFormat != "" {
		if err := logutil.SetFormat(app.LogFormat); err != nil {
			return err
		}
	}
	if !flags.Changed("log-level") && !flags.Changed("verbose") && app.LogLevel != "" {
		if err := logutil.SetLevel(app.LogLevel); err != nil {
			return err
		}
	}
	return nil
}
