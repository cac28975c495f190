package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rokid/voiceclient/internal/config"
	"github.com/rokid/voiceclient/internal/errorreporter"
	"github.com/rokid/voiceclient/internal/opctl"
	"github.com/rokid/voiceclient/internal/speechengine"
	"github.com/rokid/voiceclient/internal/telemetry"
	"github.com/rokid/voiceclient/internal/transport"
	"github.com/rokid/voiceclient/internal/voiceservice"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// STEP 1: Load configuration.
	cfg, err := config.Loader{}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting voiceclient",
		"transport_url", cfg.TransportURL,
		"default_lang", cfg.DefaultLang,
		"default_codec", cfg.DefaultCodec,
		"cloud_vad_enabled", cfg.CloudVADEnabled,
	)

	// STEP 2: Error reporting and metrics, both optional and nil-safe.
	reporter, err := errorreporter.New(cfg.SentryDSN, cfg.SentryEnv)
	if err != nil {
		logger.Warn("sentry init failed, continuing without error reporting", "error", err)
		reporter = nil
	}
	defer reporter.Flush(2 * time.Second)

	metrics := telemetry.NewNoop()
	if cfg.OTelEndpoint != "" {
		provider, err := telemetry.NewPrometheusProvider()
		if err != nil {
			logger.Warn("prometheus exporter init failed, continuing without metrics", "error", err)
		} else {
			metrics, err = telemetry.New(provider)
			if err != nil {
				logger.Warn("metrics counter init failed, continuing without metrics", "error", err)
				metrics = telemetry.NewNoop()
			} else {
				serveMetrics(cfg.OTelEndpoint, logger)
				defer provider.Shutdown(context.Background())
			}
		}
	}

	// STEP 3: Build the transport factory. Each Prepare() call opens a
	// fresh WebSocket connection through it; neither this factory nor the
	// engine reconnects a broken connection on its own.
	newTransport := func() (transport.Transport, error) {
		header := http.Header{}
		if cfg.AuthToken != "" {
			header.Set("Authorization", "Bearer "+cfg.AuthToken)
		}
		return transport.Dial(cfg.TransportURL, header, cfg.OperationTimeout)
	}

	// STEP 4: Prepare the engine.
	engine := speechengine.New(newTransport, logger,
		speechengine.WithSendTimeout(cfg.SendTimeout),
		speechengine.WithErrorReporter(reporter),
		speechengine.WithMetrics(metrics),
	)
	engine.Config("lang", cfg.DefaultLang)
	engine.Config("codec", cfg.DefaultCodec)

	if !engine.Prepare() {
		logger.Error("engine failed to prepare, exiting")
		os.Exit(1)
	}
	logger.Info("engine ready")

	// STEP 5: Start the dispatcher on top of the prepared engine.
	cb := &loggingCallback{log: logger}
	dispatcher := voiceservice.New(engine, cb, cfg.CloudVADEnabled, logger, metrics)
	dispatcher.Start()
	logger.Info("dispatcher ready, waiting for front-end events")

	// STEP 6: Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutdown requested")

	// STEP 7: Graceful shutdown with a bounded grace period.
	shutdownDone := make(chan struct{})
	go func() {
		engine.Release()
		dispatcher.Close()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(5 * time.Second):
		logger.Warn("shutdown timed out, exiting anyway")
	}

	logger.Info("voiceclient stopped")
}

// serveMetrics exposes the default Prometheus registry on addr. Errors
// after startup are logged, not fatal; the metrics surface is
// best-effort.
func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("metrics server listening", "addr", addr)
}

// loggingCallback is the default application sink: it logs every
// dispatcher callback instead of driving a real front-end. A real
// integration replaces this with its own voiceservice.Callback.
type loggingCallback struct {
	log *slog.Logger
}

func (c *loggingCallback) VoiceEvent(id int64, kind voiceservice.EventKind, sl int32) {
	c.log.Info("voice event", "id", id, "kind", kind.String(), "sl", sl)
}

func (c *loggingCallback) IntermediateResult(id int64, resultType speechengine.ResultType, asr string) {
	c.log.Info("intermediate result", "id", id, "asr", asr)
}

func (c *loggingCallback) VoiceCommand(id int64, asr, nlp, action string) {
	c.log.Info("voice command", "id", id, "asr", asr, "nlp", nlp, "action", action)
}

func (c *loggingCallback) SpeechError(id int64, err opctl.ErrorKind) {
	c.log.Warn("speech error", "id", id, "error", err.String())
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
