// Package config provides the configuration schema and loader for the
// speechwire command-line client.
package config

import (
	"log/slog"

	"github.com/cadenhq/speechwire/pkg/recognizer"
)

// LogLevel controls log verbosity for the speechwire CLI.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto the slog level, defaulting to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Mode selects the service-side recognition behavior.
type Mode string

const (
	ModeInteractive  Mode = "interactive"
	ModeConversation Mode = "conversation"
	ModeDictation    Mode = "dictation"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeInteractive, ModeConversation, ModeDictation:
		return true
	}
	return false
}

func (m Mode) recognitionMode() recognizer.RecognitionMode {
	switch m {
	case ModeConversation:
		return recognizer.ModeConversation
	case ModeDictation:
		return recognizer.ModeDictation
	}
	return recognizer.ModeInteractive
}

// Format selects between the compact and the N-best result payloads.
type Format string

const (
	FormatSimple   Format = "simple"
	FormatDetailed Format = "detailed"
)

// IsValid reports whether f is a recognised output format.
func (f Format) IsValid() bool {
	return f == FormatSimple || f == FormatDetailed
}

func (f Format) outputFormat() recognizer.OutputFormat {
	if f == FormatDetailed {
		return recognizer.FormatDetailed
	}
	return recognizer.FormatSimple
}

// Config is the root configuration structure for the speechwire CLI.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving the Prometheus /metrics
	// endpoint (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	Service     ServiceConfig     `yaml:"service"`
	Auth        AuthConfig        `yaml:"auth"`
	Audio       AudioConfig       `yaml:"audio"`
	Translation TranslationConfig `yaml:"translation"`
	Intent      IntentConfig      `yaml:"intent"`
}

// ServiceConfig selects the recognition service and result shape.
type ServiceConfig struct {
	// Region is the service region (e.g., "westus"). Required unless
	// Endpoint is set.
	Region string `yaml:"region"`

	// Endpoint overrides the derived websocket URL entirely.
	Endpoint string `yaml:"endpoint"`

	// Language is the BCP-47 recognition language. Defaults to "en-US".
	Language string `yaml:"language"`

	Mode   Mode   `yaml:"mode"`
	Format Format `yaml:"format"`

	// Continuous keeps per-phrase telemetry flowing for long sessions.
	Continuous bool `yaml:"continuous"`
}

// AuthConfig holds the service credential. The subscription key is used
// directly unless a token endpoint is configured, in which case the key is
// exchanged for short-lived bearer tokens.
type AuthConfig struct {
	// SubscriptionKey is the service subscription key.
	SubscriptionKey string `yaml:"subscription_key"`

	// TokenEndpoint, when set, is the issueToken URL used to exchange the
	// subscription key for bearer tokens.
	TokenEndpoint string `yaml:"token_endpoint"`
}

// AudioConfig describes the audio input.
type AudioConfig struct {
	// Input is the path of the audio file to stream. "-" reads stdin.
	Input string `yaml:"input"`

	// SampleRate is the PCM sample rate in Hz. Defaults to 16000. Ignored
	// for WAV input, whose header wins.
	SampleRate int `yaml:"sample_rate"`

	// BitsPerSample is the PCM sample width. Defaults to 16.
	BitsPerSample int `yaml:"bits_per_sample"`

	// Channels is the PCM channel count. Defaults to 1.
	Channels int `yaml:"channels"`
}

// TranslationConfig switches the CLI into translation mode when target
// languages are configured.
type TranslationConfig struct {
	// To lists target translation languages.
	To []string `yaml:"to"`

	// Voice asks the service to synthesize translated audio with the
	// given voice.
	Voice string `yaml:"voice"`
}

// IntentConfig switches the CLI into intent mode when an application id
// is configured.
type IntentConfig struct {
	// AppID is the language-understanding application id.
	AppID string `yaml:"app_id"`
}

// RecognizerConfig converts the CLI schema into the SDK's config.
func (c *Config) RecognizerConfig() recognizer.Config {
	return recognizer.Config{
		Region:          c.Service.Region,
		Endpoint:        c.Service.Endpoint,
		Language:        c.Service.Language,
		Mode:            c.Service.Mode.recognitionMode(),
		Format:          c.Service.Format.outputFormat(),
		Continuous:      c.Service.Continuous,
		TargetLanguages: c.Translation.To,
		SynthesisVoice:  c.Translation.Voice,
		AppID:           c.Intent.AppID,
	}
}
