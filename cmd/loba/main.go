// Command loba captions live microphone (or Discord voice) audio onto an OBS
// browser-source overlay: speech → whisper.cpp → optional translation →
// WebSocket subtitles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lobacast/loba/internal/app"
	"github.com/lobacast/loba/internal/config"
	"github.com/lobacast/loba/internal/observe"
)

// version is stamped by the build; "dev" otherwise.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "loba.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "loba: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "loba: %v\n", err)
		}
		return 1
	}

	// Logs go to stderr; stdin may be carrying the PCM capture stream.
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("loba starting",
		"version", version,
		"config", *configPath,
		"addr", cfg.Server.Addr(),
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "loba",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Engines ───────────────────────────────────────────────────────────────
	reg := config.DefaultRegistry()

	transcriber, err := reg.CreateSTT(cfg.Whisper)
	if err != nil {
		slog.Error("failed to create transcription engine", "mode", cfg.Whisper.Mode, "err", err)
		return 1
	}
	slog.Info("transcription engine ready", "mode", cfg.Whisper.Mode, "language", cfg.Whisper.Language)

	translator, err := reg.CreateTranslator(cfg.Translate)
	if err != nil {
		slog.Error("failed to create translation engine", "engine", cfg.Translate.Engine, "err", err)
		return 1
	}
	if translator != nil {
		slog.Info("translation engine ready",
			"engine", cfg.Translate.Engine,
			"model", cfg.Translate.Model,
			"target", cfg.Translate.TargetLanguage)
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, app.Providers{
		Transcriber: transcriber,
		Translator:  translator,
	})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("overlay ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		shutdown(application)
		return 1
	}

	if err := shutdown(application); err != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// shutdown tears the application down under a deadline.
func shutdown(application *app.App) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return err
	}
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	out := os.Stderr
	fmt.Fprintln(out, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(out, "║           Loba — startup summary      ║")
	fmt.Fprintln(out, "╠═══════════════════════════════════════╣")
	printRow(out, "Whisper", string(cfg.Whisper.Mode))
	printRow(out, "Translate", translateSummary(cfg))
	printRow(out, "Capture", captureSummary(cfg))
	printRow(out, "Toggle key", cfg.Trigger.ToggleKey)
	printRow(out, "Overlay", "http://"+cfg.Server.Addr()+"/overlay")
	printRow(out, "Control", "http://"+cfg.Server.Addr()+"/control")
	fmt.Fprintln(out, "╚═══════════════════════════════════════╝")
}

func printRow(out *os.File, kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Fprintf(out, "║  %-14s : %-19s ║\n", kind, value)
}

func translateSummary(cfg *config.Config) string {
	if cfg.Translate.Engine == "none" {
		return "(disabled)"
	}
	return cfg.Translate.Engine + " / " + cfg.Translate.Model
}

func captureSummary(cfg *config.Config) string {
	switch {
	case cfg.Discord.Enabled:
		return "discord voice"
	case len(cfg.Audio.CaptureCommand) > 0:
		return cfg.Audio.CaptureCommand[0]
	default:
		return "stdin pcm"
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
