// Command speechwire streams an audio file to a streaming speech service
// and prints recognition results as they arrive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cadenhq/speechwire/internal/config"
	"github.com/cadenhq/speechwire/internal/observe"
	"github.com/cadenhq/speechwire/pkg/audio"
	"github.com/cadenhq/speechwire/pkg/auth"
	"github.com/cadenhq/speechwire/pkg/recognizer"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	input := flag.String("input", "", "audio file to stream (overrides audio.input; \"-\" reads stdin)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "speechwire: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "speechwire: %v\n", err)
		}
		return 1
	}
	if *input != "" {
		cfg.Audio.Input = *input
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("speechwire starting",
		"config", *configPath,
		"input", cfg.Audio.Input,
		"region", cfg.Service.Region,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: "1.0.0",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
		}()
		return recognize(ctx, cfg)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// recognize runs one recognition pass over the configured audio input.
func recognize(ctx context.Context, cfg *config.Config) error {
	in, err := openInput(cfg.Audio.Input)
	if err != nil {
		return err
	}
	defer in.Close()

	sourceOpts := []audio.ReaderOption{}
	if cfg.Audio.SampleRate > 0 {
		sourceOpts = append(sourceOpts, audio.WithFormat(audio.Format{
			SampleRate:    cfg.Audio.SampleRate,
			BitsPerSample: orDefault(cfg.Audio.BitsPerSample, 16),
			Channels:      orDefault(cfg.Audio.Channels, 1),
		}))
	}
	source, err := audio.NewReaderSource(in, sourceOpts...)
	if err != nil {
		return err
	}

	authProvider, err := buildAuthProvider(cfg)
	if err != nil {
		return err
	}

	bridge := observe.NewBridge(nil)
	factory := &recognizer.WebSocketFactory{Observer: bridge.Listen}
	if _, err := source.Events().Attach(bridge.Listen); err != nil {
		return err
	}

	rec, err := buildRecognizer(cfg, authProvider, factory, source)
	if err != nil {
		return err
	}
	defer rec.Close()
	if _, err := rec.Events().Attach(bridge.Listen); err != nil {
		return err
	}

	ctx, span := observe.StartSpan(ctx, "recognize-turn")
	defer span.End()
	log := observe.Logger(ctx)

	result, err := rec.Recognize(ctx, "").Wait(ctx)
	if err != nil {
		return err
	}
	if result.Status != recognizer.StatusSuccess {
		return fmt.Errorf("recognition ended with status %s: %s", result.Status, result.ErrorDetails)
	}
	log.Info("recognition complete", "status", result.Status.String())
	return nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening audio input: %w", err)
	}
	return f, nil
}

func buildAuthProvider(cfg *config.Config) (auth.Provider, error) {
	if cfg.Auth.TokenEndpoint != "" {
		return auth.NewTokenProvider(cfg.Auth.TokenEndpoint, cfg.Auth.SubscriptionKey)
	}
	return auth.NewKeyProvider(cfg.Auth.SubscriptionKey)
}

// buildRecognizer picks the variant the config asks for and wires its
// callbacks to stdout.
func buildRecognizer(cfg *config.Config, authProvider auth.Provider, factory recognizer.ConnectionFactory, source audio.Source) (*recognizer.Recognizer, error) {
	rc := cfg.RecognizerConfig()

	switch {
	case len(rc.TargetLanguages) > 0:
		tr, err := recognizer.NewTranslationRecognizer(authProvider, factory, source, rc)
		if err != nil {
			return nil, err
		}
		tr.OnRecognizing(func(res recognizer.TranslationResult) {
			fmt.Printf("… %s\n", res.Text)
		})
		tr.OnRecognized(func(res recognizer.TranslationResult) {
			fmt.Printf("RECOGNIZED: %s\n", res.Text)
			for lang, text := range res.Translations {
				fmt.Printf("  [%s] %s\n", lang, text)
			}
		})
		tr.OnSynthesizing(func(res recognizer.SynthesisResult) {
			slog.Debug("synthesis audio", "bytes", len(res.Audio))
		})
		tr.OnCanceled(printCancellation)
		return tr.Recognizer, nil

	case rc.AppID != "":
		ir, err := recognizer.NewIntentRecognizer(authProvider, factory, source, rc)
		if err != nil {
			return nil, err
		}
		ir.OnRecognizing(func(res recognizer.SpeechResult) {
			fmt.Printf("… %s\n", res.Text)
		})
		ir.OnRecognized(func(res recognizer.IntentResult) {
			fmt.Printf("RECOGNIZED: %s\n", res.Text)
			if res.IntentJSON != "" {
				fmt.Printf("  intent: %s\n", res.IntentJSON)
			}
		})
		ir.OnCanceled(printCancellation)
		return ir.Recognizer, nil

	default:
		sr, err := recognizer.NewSpeechRecognizer(authProvider, factory, source, rc)
		if err != nil {
			return nil, err
		}
		sr.OnRecognizing(func(res recognizer.SpeechResult) {
			fmt.Printf("… %s\n", res.Text)
		})
		sr.OnRecognized(func(res recognizer.SpeechResult) {
			fmt.Printf("RECOGNIZED: %s\n", res.Text)
		})
		sr.OnCanceled(printCancellation)
		return sr.Recognizer, nil
	}
}

func printCancellation(c recognizer.Cancellation) {
	fmt.Printf("CANCELED: %s (%s): %s\n", c.Reason, c.Code, c.ErrorDetails)
}

func orDefault(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
