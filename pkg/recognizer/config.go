package recognizer

import (
	"fmt"
	"runtime"

	"github.com/goccy/go-json"
)

// RecognitionMode selects the service-side recognition behavior and the
// URL path segment the connection factory dials.
type RecognitionMode int

const (
	// ModeInteractive is tuned for short command-style utterances.
	ModeInteractive RecognitionMode = iota

	// ModeConversation is tuned for free-form multi-party speech.
	ModeConversation

	// ModeDictation is tuned for long-form dictated text.
	ModeDictation
)

func (m RecognitionMode) String() string {
	switch m {
	case ModeConversation:
		return "conversation"
	case ModeDictation:
		return "dictation"
	}
	return "interactive"
}

// OutputFormat selects between the compact and the N-best phrase payloads.
type OutputFormat int

const (
	FormatSimple OutputFormat = iota
	FormatDetailed
)

func (f OutputFormat) String() string {
	if f == FormatDetailed {
		return "detailed"
	}
	return "simple"
}

// Config carries everything a recognizer needs to reach the service and
// shape its results.
type Config struct {
	// Region is the service region, e.g. "westus". Required unless
	// Endpoint is set.
	Region string

	// Endpoint overrides the derived websocket URL entirely.
	Endpoint string

	// Language is the BCP-47 recognition language. Defaults to "en-US".
	Language string

	Mode   RecognitionMode
	Format OutputFormat

	// Continuous keeps per-phrase telemetry flowing for long sessions.
	Continuous bool

	// TargetLanguages switches the recognizer into translation mode when
	// non-empty.
	TargetLanguages []string

	// SynthesisVoice, when set alongside TargetLanguages, asks the
	// service to synthesize translated audio.
	SynthesisVoice string

	// AppID identifies the language-understanding application for intent
	// recognition.
	AppID string
}

func (c *Config) applyDefaults() {
	if c.Language == "" {
		c.Language = "en-US"
	}
}

func (c *Config) validate() error {
	if c.Region == "" && c.Endpoint == "" {
		return fmt.Errorf("recognizer: config requires a region or an explicit endpoint")
	}
	return nil
}

// systemContext mirrors the client context block sent once per connection
// on the configuration path.
type systemContext struct {
	System struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Build   string `json:"build"`
		Lang    string `json:"lang"`
	} `json:"system"`
	OS struct {
		Platform string `json:"platform"`
		Name     string `json:"name"`
		Version  string `json:"version"`
	} `json:"os"`
}

const clientVersion = "1.0.0"

func (c Config) platformConfigJSON() string {
	var ctx systemContext
	ctx.System.Name = "speechwire"
	ctx.System.Version = clientVersion
	ctx.System.Build = "go"
	ctx.System.Lang = "go"
	ctx.OS.Platform = runtime.GOOS
	ctx.OS.Name = runtime.GOOS
	ctx.OS.Version = runtime.Version()

	payload := struct {
		Context systemContext `json:"context"`
	}{Context: ctx}
	b, err := json.Marshal(payload)
	if err != nil {
		// The payload is a fixed struct of strings; marshaling cannot fail.
		return `{"context":{}}`
	}
	return string(b)
}
