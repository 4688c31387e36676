package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Service
	if cfg.Service.Region == "" && cfg.Service.Endpoint == "" {
		errs = append(errs, errors.New("service.region is required unless service.endpoint is set"))
	}
	if cfg.Service.Mode != "" && !cfg.Service.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("service.mode %q is invalid; valid values: interactive, conversation, dictation", cfg.Service.Mode))
	}
	if cfg.Service.Format != "" && !cfg.Service.Format.IsValid() {
		errs = append(errs, fmt.Errorf("service.format %q is invalid; valid values: simple, detailed", cfg.Service.Format))
	}

	// Auth
	if cfg.Auth.SubscriptionKey == "" {
		errs = append(errs, errors.New("auth.subscription_key is required"))
	}

	// Audio
	if cfg.Audio.Input == "" {
		errs = append(errs, errors.New("audio.input is required"))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BitsPerSample != 0 && cfg.Audio.BitsPerSample != 8 && cfg.Audio.BitsPerSample != 16 {
		errs = append(errs, fmt.Errorf("audio.bits_per_sample %d is invalid; valid values: 8, 16", cfg.Audio.BitsPerSample))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [0, 2]", cfg.Audio.Channels))
	}

	// Mode cross-validation — soft warnings for combinations the service
	// will accept but probably aren't what the user meant.
	if cfg.Translation.Voice != "" && len(cfg.Translation.To) == 0 {
		slog.Warn("translation.voice is set but translation.to is empty; synthesis needs a target language")
	}
	if len(cfg.Translation.To) > 0 && cfg.Intent.AppID != "" {
		errs = append(errs, errors.New("translation.to and intent.app_id are mutually exclusive"))
	}
	if cfg.Intent.AppID != "" && cfg.Service.Mode != "" && cfg.Service.Mode != ModeInteractive {
		slog.Warn("intent recognition normally runs in interactive mode",
			"mode", string(cfg.Service.Mode))
	}

	return errors.Join(errs...)
}
