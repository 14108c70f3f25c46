// Package app wires all Parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems from config, Run serves the observability endpoints until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithDevice, WithRegistry, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/failover"
	"github.com/parley-ai/parley/internal/health"
	"github.com/parley-ai/parley/internal/listen"
	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/orchestrator"
	"github.com/parley-ai/parley/pkg/audio"
	"github.com/parley-ai/parley/pkg/audio/device"
	"github.com/parley-ai/parley/pkg/provider/vad"
	"github.com/parley-ai/parley/pkg/provider/vad/energy"
	"github.com/parley-ai/parley/pkg/provider/vad/webrtc"

	sttcompat "github.com/parley-ai/parley/pkg/provider/stt/openaicompat"
	ttscompat "github.com/parley-ai/parley/pkg/provider/tts/openaicompat"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	secrets *config.Secrets

	device   device.Duplex
	registry *failover.Registry
	vadEng   vad.Engine
	metrics  *observe.Metrics
	orch     *orchestrator.Orchestrator

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects an audio device instead of opening the system default.
func WithDevice(d device.Duplex) Option {
	return func(a *App) { a.device = d }
}

// WithRegistry injects an endpoint registry instead of building one from
// config.
func WithRegistry(r *failover.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithVADEngine injects a voice-activity engine instead of selecting one from
// config.
func WithVADEngine(e vad.Engine) Option {
	return func(a *App) { a.vadEng = e }
}

// WithMetrics injects a metrics instance instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: the endpoint registry
// from config, the duplex audio device, the voice-activity engine, and the
// conversation orchestrator. Use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, secrets *config.Secrets, opts ...Option) (*App, error) {
	if secrets == nil {
		secrets = &config.Secrets{}
	}
	a := &App{cfg: cfg, secrets: secrets}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.vadEng == nil {
		switch cfg.VAD.Engine {
		case config.VADWebRTC:
			a.vadEng = webrtc.New()
		default:
			a.vadEng = energy.New()
		}
	}

	if a.registry == nil {
		reg, err := a.buildRegistry()
		if err != nil {
			return nil, fmt.Errorf("app: build registry: %w", err)
		}
		a.registry = reg
	}

	if a.device == nil {
		dev, err := device.Open(device.Config{
			SampleRate:    cfg.Audio.SampleRate,
			Channels:      cfg.Audio.Channels,
			FrameDuration: time.Duration(cfg.Audio.FrameDurationMs) * time.Millisecond,
			CaptureBuffer: cfg.Audio.CaptureBuffer,
		})
		if err != nil {
			return nil, fmt.Errorf("app: open audio device: %w", err)
		}
		a.device = dev
		a.closers = append(a.closers, dev.Close)
	}

	vadFormat := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1}
	executor := failover.NewExecutor(a.registry, vadFormat)

	orch, err := orchestrator.New(orchestrator.Options{
		Device:   a.device,
		Executor: executor,
		VAD:      a.vadEng,
		ListenVAD: vad.Config{
			SampleRate:     cfg.Audio.SampleRate,
			FrameMs:        cfg.Audio.FrameDurationMs,
			Aggressiveness: *cfg.VAD.Aggressiveness,
		},
		Listen: listen.Config{
			SilenceThreshold:        time.Duration(cfg.Listen.SilenceThresholdMs) * time.Millisecond,
			MinDuration:             time.Duration(cfg.Listen.MinDurationMs) * time.Millisecond,
			MaxDuration:             time.Duration(cfg.Listen.MaxDurationMs) * time.Millisecond,
			GracePeriod:             time.Duration(cfg.Listen.GracePeriodMs) * time.Millisecond,
			DisableSilenceDetection: cfg.Listen.DisableSilenceDetection,
		},
		BargeIn: orchestrator.BargeInConfig{
			Enabled:        *cfg.BargeIn.Enabled,
			Aggressiveness: *cfg.BargeIn.Aggressiveness,
			MinSpeech:      time.Duration(cfg.BargeIn.MinSpeechMs) * time.Millisecond,
		},
		Cue: orchestrator.CueConfig{
			Enabled: *cfg.Cue.Enabled,
			Lead:    time.Duration(cfg.Cue.LeadMs) * time.Millisecond,
			Trail:   time.Duration(cfg.Cue.TrailMs) * time.Millisecond,
		},
		DeviceFormat: audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels},
		Metrics:      a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: build orchestrator: %w", err)
	}
	a.orch = orch

	slog.Info("app wired",
		"tts_endpoints", len(a.registry.Endpoints(failover.KindTTS)),
		"stt_endpoints", len(a.registry.Endpoints(failover.KindSTT)),
		"vad_engine", cfg.VAD.Engine,
		"barge_in", *cfg.BargeIn.Enabled)
	return a, nil
}

// buildRegistry constructs the endpoint registry from config, in failover
// priority order. Endpoints without an explicit api_key fall back to the
// OPENAI_API_KEY environment value.
func (a *App) buildRegistry() (*failover.Registry, error) {
	var eps []*failover.Endpoint

	for _, ec := range config.SortedEndpoints(a.cfg.TTS) {
		client, err := ttscompat.New(ec.URL, a.apiKey(ec),
			ttscompat.WithTimeout(ec.Timeout()),
		)
		if err != nil {
			return nil, fmt.Errorf("tts endpoint %q: %w", ec.Name, err)
		}
		eps = append(eps, failover.NewTTS(ec.Name, client, endpointOptions(ec)...))
	}

	for _, ec := range config.SortedEndpoints(a.cfg.STT) {
		client, err := sttcompat.New(ec.URL, a.apiKey(ec),
			sttcompat.WithTimeout(ec.Timeout()),
		)
		if err != nil {
			return nil, fmt.Errorf("stt endpoint %q: %w", ec.Name, err)
		}
		eps = append(eps, failover.NewSTT(ec.Name, client, endpointOptions(ec)...))
	}

	return failover.NewRegistry(eps...)
}

func (a *App) apiKey(ec config.EndpointConfig) string {
	if ec.APIKey != "" {
		return ec.APIKey
	}
	return a.secrets.OpenAIAPIKey
}

func endpointOptions(ec config.EndpointConfig) []failover.EndpointOption {
	opts := []failover.EndpointOption{
		failover.WithBaseURL(ec.URL),
		failover.WithTimeout(ec.Timeout()),
	}
	if ec.Local {
		opts = append(opts, failover.AsLocal())
	}
	if ec.Model != "" {
		opts = append(opts, failover.WithModel(ec.Model))
	}
	if ec.Voice != "" {
		opts = append(opts, failover.WithVoice(ec.Voice))
	}
	if ec.Language != "" {
		opts = append(opts, failover.WithLanguage(ec.Language))
	}
	if ec.Format != "" {
		opts = append(opts, failover.WithEncoding(ec.Format))
	}
	return opts
}

// Converse runs one conversation round. See [orchestrator.Orchestrator.Converse].
func (a *App) Converse(ctx context.Context, req orchestrator.Request) (*orchestrator.Exchange, error) {
	return a.orch.Converse(ctx, req)
}

// Registry exposes the endpoint registry, mainly for health checks and tests.
func (a *App) Registry() *failover.Registry { return a.registry }

// Run serves the observability endpoints (/metrics, /healthz, /readyz) until
// ctx is cancelled. When no listen address is configured, Run just blocks on
// ctx.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.EndpointsChecker("tts_endpoints", a.registry, failover.KindTTS),
		health.EndpointsChecker("stt_endpoints", a.registry, failover.KindSTT),
	).Register(mux)

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("observability server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: observability server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("observability server shutdown error", "err", err)
	}
	return ctx.Err()
}

// Shutdown tears down all subsystems in order. Safe to call more than once.
func (a *App) Shutdown() error {
	var firstErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	})
	return firstErr
}
