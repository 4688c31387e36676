package recognizer

import (
	"bytes"
	"sync"
	"testing"
)

func translationRecognizer(t *testing.T, svc *fakeService, cfg Config, opts ...Option) *TranslationRecognizer {
	t.Helper()
	dialer := &scriptedDialer{outcomes: []dialOutcome{{svc: svc}}}
	tr, err := NewTranslationRecognizer(&countingAuth{}, &WebSocketFactory{Dialer: dialer.dial}, audioSource(t, 3200), cfg, opts...)
	if err != nil {
		t.Fatalf("NewTranslationRecognizer: %v", err)
	}
	t.Cleanup(tr.Close)
	return tr
}

func TestTranslationRecognizer_Turn(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	svc.endOfAudio = func(sendText func(path, body string), _ func(string, []byte)) {
		sendText("translation.hypothesis", `{"Text":"guten","Offset":1000000,"Duration":2000000,`+
			`"Translation":{"TranslationStatus":"Success","Translations":[{"Language":"en","Text":"good"}]}}`)
		sendText("translation.phrase", `{"RecognitionStatus":"Success","Text":"guten tag","Offset":1000000,"Duration":8000000,`+
			`"Translation":{"TranslationStatus":"Success","Translations":[{"Language":"en","Text":"good day"},{"Language":"fr","Text":"bonjour"}]}}`)
		sendText("turn.end", "{}")
	}
	tr := translationRecognizer(t, svc, Config{
		Region:          "westus",
		Language:        "de-DE",
		TargetLanguages: []string{"en", "fr"},
	})

	var mu sync.Mutex
	var interim, finals []TranslationResult
	tr.OnRecognizing(func(r TranslationResult) { mu.Lock(); interim = append(interim, r); mu.Unlock() })
	tr.OnRecognized(func(r TranslationResult) { mu.Lock(); finals = append(finals, r); mu.Unlock() })

	result, err := tr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v (%s)", result.Status, result.ErrorDetails)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(interim) != 1 {
		t.Fatalf("interim results = %+v", interim)
	}
	if interim[0].Reason != ReasonTranslatingSpeech || interim[0].Translations["en"] != "good" {
		t.Errorf("interim result = %+v", interim[0])
	}
	if len(finals) != 1 {
		t.Fatalf("final results = %+v", finals)
	}
	final := finals[0]
	if final.Reason != ReasonTranslatedSpeech {
		t.Errorf("final reason = %v", final.Reason)
	}
	if final.Text != "guten tag" {
		t.Errorf("final text = %q", final.Text)
	}
	if final.Translations["en"] != "good day" || final.Translations["fr"] != "bonjour" {
		t.Errorf("translations = %v", final.Translations)
	}
}

func TestTranslationRecognizer_TranslationStageFailure(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	svc.endOfAudio = func(sendText func(path, body string), _ func(string, []byte)) {
		sendText("translation.phrase", `{"RecognitionStatus":"Success","Text":"guten tag","Offset":0,"Duration":0,`+
			`"Translation":{"TranslationStatus":"Error","FailureReason":"language pair unsupported"}}`)
		sendText("turn.end", "{}")
	}
	tr := translationRecognizer(t, svc, Config{Region: "westus", TargetLanguages: []string{"xx"}})

	var mu sync.Mutex
	var finals []TranslationResult
	tr.OnRecognized(func(r TranslationResult) { mu.Lock(); finals = append(finals, r); mu.Unlock() })

	if _, err := tr.Recognize(testCtx(t), "").Wait(testCtx(t)); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(finals) != 1 {
		t.Fatalf("final results = %+v", finals)
	}
	// Recognition succeeded; only the translation stage failed.
	if finals[0].Reason != ReasonRecognizedSpeech {
		t.Errorf("reason = %v", finals[0].Reason)
	}
	if finals[0].FailureReason != "language pair unsupported" {
		t.Errorf("failure reason = %q", finals[0].FailureReason)
	}
}

func TestTranslationRecognizer_Synthesis(t *testing.T) {
	t.Parallel()
	audioChunk := []byte{0x01, 0x02, 0x03, 0x04}
	svc := newFakeService(t)
	svc.endOfAudio = func(sendText func(path, body string), sendBinary func(string, []byte)) {
		sendText("translation.phrase", `{"RecognitionStatus":"Success","Text":"hallo","Offset":0,"Duration":0,`+
			`"Translation":{"TranslationStatus":"Success","Translations":[{"Language":"en","Text":"hello"}]}}`)
		sendBinary("translation.synthesis", audioChunk)
		sendText("translation.synthesis.end", `{"SynthesisStatus":"Success"}`)
		sendText("turn.end", "{}")
	}
	tr := translationRecognizer(t, svc, Config{
		Region:          "westus",
		TargetLanguages: []string{"en"},
		SynthesisVoice:  "en-US-JennyNeural",
	})

	var mu sync.Mutex
	var synth []SynthesisResult
	tr.OnSynthesizing(func(r SynthesisResult) { mu.Lock(); synth = append(synth, r); mu.Unlock() })

	result, err := tr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v (%s)", result.Status, result.ErrorDetails)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(synth) != 2 {
		t.Fatalf("synthesis results = %+v", synth)
	}
	if synth[0].Reason != ReasonSynthesizingAudio || !bytes.Equal(synth[0].Audio, audioChunk) {
		t.Errorf("first synthesis result = %+v", synth[0])
	}
	if synth[1].Reason != ReasonSynthesizingAudioCompleted || len(synth[1].Audio) != 0 {
		t.Errorf("final synthesis result = %+v", synth[1])
	}
}

func TestTranslationRecognizer_SynthesisError(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	svc.endOfAudio = func(sendText func(path, body string), _ func(string, []byte)) {
		sendText("translation.synthesis.end", `{"SynthesisStatus":"Error","FailureReason":"voice unavailable"}`)
		sendText("turn.end", "{}")
	}
	tr := translationRecognizer(t, svc, Config{Region: "westus", TargetLanguages: []string{"en"}})

	var mu sync.Mutex
	var cancellations []Cancellation
	tr.OnCanceled(func(c Cancellation) { mu.Lock(); cancellations = append(cancellations, c); mu.Unlock() })

	if _, err := tr.Recognize(testCtx(t), "").Wait(testCtx(t)); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(cancellations) != 1 || cancellations[0].ErrorDetails != "voice unavailable" {
		t.Errorf("cancellations = %+v", cancellations)
	}
}

func TestTranslationRecognizer_ContinuousFlushesTelemetryPerPhrase(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	svc.endOfAudio = func(sendText func(path, body string), _ func(string, []byte)) {
		sendText("translation.phrase", `{"RecognitionStatus":"Success","Text":"guten tag","Offset":1000000,"Duration":4000000,`+
			`"Translation":{"TranslationStatus":"Success","Translations":[{"Language":"en","Text":"good day"}]}}`)
		sendText("translation.phrase", `{"RecognitionStatus":"Success","Text":"auf wiedersehen","Offset":6000000,"Duration":4000000,`+
			`"Translation":{"TranslationStatus":"Success","Translations":[{"Language":"en","Text":"goodbye"}]}}`)
		sendText("turn.end", "{}")
	}

	var mu sync.Mutex
	var frames int
	hook := WithTelemetryHook(func(_, _ string) { mu.Lock(); frames++; mu.Unlock() })
	tr := translationRecognizer(t, svc, Config{
		Region:          "westus",
		Language:        "de-DE",
		TargetLanguages: []string{"en"},
		Continuous:      true,
	}, hook)

	result, err := tr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v (%s)", result.Status, result.ErrorDetails)
	}
	mu.Lock()
	defer mu.Unlock()
	if frames != 3 {
		t.Errorf("telemetry frames = %d, want one per phrase plus the closing frame", frames)
	}
}

func TestNewTranslationRecognizer_RequiresTargetLanguage(t *testing.T) {
	t.Parallel()
	_, err := NewTranslationRecognizer(&countingAuth{}, &WebSocketFactory{}, audioSource(t, 0), Config{Region: "westus"})
	if err == nil {
		t.Error("config without target languages should fail")
	}
}
