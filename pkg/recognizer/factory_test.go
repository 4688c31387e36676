package recognizer

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestServiceEndpoint_Speech(t *testing.T) {
	t.Parallel()
	got, err := serviceEndpoint(Config{Region: "westus", Mode: ModeConversation})
	if err != nil {
		t.Fatalf("serviceEndpoint: %v", err)
	}
	u := mustParse(t, got)
	if u.Host != "westus.stt.speech.microsoft.com" {
		t.Errorf("host = %q", u.Host)
	}
	if u.Path != "/speech/recognition/conversation/cognitiveservices/v1" {
		t.Errorf("path = %q", u.Path)
	}
	q := u.Query()
	if q.Get("language") != "en-US" {
		t.Errorf("language = %q", q.Get("language"))
	}
	if q.Get("format") != "simple" {
		t.Errorf("format = %q", q.Get("format"))
	}
}

func TestServiceEndpoint_Translation(t *testing.T) {
	t.Parallel()
	got, err := serviceEndpoint(Config{
		Region:          "eastus",
		Language:        "de-DE",
		TargetLanguages: []string{"en", "fr"},
		SynthesisVoice:  "en-US-JennyNeural",
		Format:          FormatDetailed,
	})
	if err != nil {
		t.Fatalf("serviceEndpoint: %v", err)
	}
	u := mustParse(t, got)
	if u.Host != "eastus.s2s.speech.microsoft.com" {
		t.Errorf("host = %q", u.Host)
	}
	if u.Path != "/speech/translation/cognitiveservices/v1" {
		t.Errorf("path = %q", u.Path)
	}
	q := u.Query()
	if q.Get("from") != "de-DE" {
		t.Errorf("from = %q", q.Get("from"))
	}
	if q.Get("to") != "en,fr" {
		t.Errorf("to = %q", q.Get("to"))
	}
	if q.Get("voice") != "en-US-JennyNeural" || q.Get("features") != "texttospeech" {
		t.Errorf("voice = %q, features = %q", q.Get("voice"), q.Get("features"))
	}
	if q.Get("format") != "detailed" {
		t.Errorf("format = %q", q.Get("format"))
	}
}

func TestServiceEndpoint_ExplicitEndpointWins(t *testing.T) {
	t.Parallel()
	got, err := serviceEndpoint(Config{
		Endpoint: "wss://speech.internal.example.com/custom/path",
		Language: "ja-JP",
	})
	if err != nil {
		t.Fatalf("serviceEndpoint: %v", err)
	}
	u := mustParse(t, got)
	if u.Host != "speech.internal.example.com" || u.Path != "/custom/path" {
		t.Errorf("url = %q", got)
	}
	if u.Query().Get("language") != "ja-JP" {
		t.Errorf("language = %q, want query params appended to the override", u.Query().Get("language"))
	}
}

func TestServiceEndpoint_RequiresRegionOrEndpoint(t *testing.T) {
	t.Parallel()
	if _, err := serviceEndpoint(Config{}); err == nil {
		t.Error("empty config should fail")
	}
}

func TestParseSpeechMessage_RequiresProtocolHeaders(t *testing.T) {
	t.Parallel()
	if _, err := ParseSpeechMessage(newSpeechTextMessage("turn.start", "REQ1", "{}")); err != nil {
		t.Errorf("well-formed message rejected: %v", err)
	}

	noPath := newSpeechTextMessage("", "REQ1", "{}")
	if _, err := ParseSpeechMessage(noPath); err == nil {
		t.Error("message without a path should be rejected")
	}
	noRequest := newSpeechTextMessage("turn.start", "", "{}")
	if _, err := ParseSpeechMessage(noRequest); err == nil {
		t.Error("message without a request id should be rejected")
	}
}
