// Package runtime wires the exam platform together: telemetry, store, bus,
// the speech-detection pipeline, and the HTTP surface, with ordered startup
// and graceful shutdown.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigilabs/vigil-core/internal/api"
	"github.com/vigilabs/vigil-core/internal/bus"
	"github.com/vigilabs/vigil-core/internal/config"
	"github.com/vigilabs/vigil-core/internal/natsserver"
	"github.com/vigilabs/vigil-core/internal/pipeline"
	"github.com/vigilabs/vigil-core/internal/protocol"
	"github.com/vigilabs/vigil-core/internal/store"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the platform up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := st.EnsureDefaultAdmin(ctx, r.cfg.Auth.DefaultAdminUsername, r.cfg.Auth.DefaultAdminPassword); err != nil {
		return fmt.Errorf("failed to seed default admin: %w", err)
	}

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded nats server: %w", err)
		}
		if embedded != nil {
			defer embedded.Shutdown()
		}
		busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			// proctoring verdicts still work without the bus
			r.logger.Warn("bus connect failed, events disabled", slog.String("error", err.Error()))
			busClient = nil
		} else {
			defer busClient.Close()
		}
	}

	segmenter := r.buildSegmenter(busClient)
	pipe, err := pipeline.New(r.cfg.Pipeline, r.logger, segmenter)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer pipe.Close()

	apiServer := api.NewServer(r.cfg, r.logger, st, pipe, busClient, metricsHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.readyHandler(pipe))
	mux.Handle("/", apiServer.Handler())

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.Bool("pipeline_available", pipe.Available()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildSegmenter loads the Silero detector pool. A load failure is not
// fatal: the pipeline runs in an unavailable state where every detection
// call fails loudly, and operators are alerted over the bus.
func (r *Runtime) buildSegmenter(busClient *bus.Client) pipeline.Segmenter {
	segmenter, err := pipeline.NewSileroSegmenter(r.cfg.Pipeline)
	if err != nil {
		r.logger.Error("voice-activity model load failed, detection unavailable",
			slog.String("model_path", r.cfg.Pipeline.VAD.ModelPath),
			slog.String("error", err.Error()))
		if busClient != nil {
			busClient.PublishAlert(protocol.OperatorAlert{
				Severity:  "critical",
				Component: "pipeline",
				Message:   fmt.Sprintf("voice-activity model load failed: %v", err),
				Timestamp: time.Now().UTC(),
			})
		}
		return nil
	}
	return segmenter
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) readyHandler(pipe *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if r.ready.Load() && pipe.Available() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	}
}
