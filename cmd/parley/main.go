// Command parley is the main entry point for the Parley voice conversation
// engine. It speaks prompts read from stdin (or a single -text flag), listens
// for the spoken reply, and prints the transcript.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/internal/app"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/orchestrator"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	text := flag.String("text", "", "speak this line, capture one reply, and exit")
	speakOnly := flag.Bool("speak-only", false, "do not wait for a spoken reply after playback")
	voice := flag.String("voice", "", "override the TTS endpoint's default voice")
	language := flag.String("language", "", "language hint for transcription")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "parley: load .env: %v\n", err)
		return 1
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "parley"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, secrets)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		if err := application.Shutdown(); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return application.Run(gctx)
	})
	g.Go(func() error {
		defer stop()
		if *text != "" {
			return converseOnce(gctx, application, *text, *voice, *language, *speakOnly)
		}
		return converseLoop(gctx, application, *voice, *language, *speakOnly)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// converseOnce runs a single round and prints the outcome.
func converseOnce(ctx context.Context, application *app.App, text, voice, language string, speakOnly bool) error {
	ex, err := application.Converse(ctx, orchestrator.Request{
		Text:      text,
		SpeakOnly: speakOnly,
		Voice:     voice,
		Language:  language,
	})
	if err != nil {
		return err
	}
	printExchange(ex)
	return nil
}

// converseLoop reads prompt lines from stdin and runs one round per line. An
// empty line listens without speaking first.
func converseLoop(ctx context.Context, application *app.App, voice, language string, speakOnly bool) error {
	fmt.Println("parley ready — type a line to speak it and listen for the reply (Ctrl+D to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ex, err := application.Converse(ctx, orchestrator.Request{
			Text:      strings.TrimSpace(scanner.Text()),
			SpeakOnly: speakOnly,
			Voice:     voice,
			Language:  language,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			slog.Error("conversation round failed", "err", err)
			continue
		}
		printExchange(ex)
	}
}

func printExchange(ex *orchestrator.Exchange) {
	switch {
	case ex.Transcript != nil:
		fmt.Printf("[%s] %s\n", ex.Reason, ex.Transcript.Text)
	case ex.RawAudio != nil:
		fmt.Printf("[%s] transcript unavailable (%d bytes of audio retained)\n", ex.Reason, len(ex.RawAudio))
	default:
		fmt.Printf("[%s]\n", ex.Reason)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
