package recognizer

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// RecognitionStatus is the per-phrase status reported by the service.
type RecognitionStatus string

const (
	RecognitionSuccess               RecognitionStatus = "Success"
	RecognitionNoMatch               RecognitionStatus = "NoMatch"
	RecognitionInitialSilenceTimeout RecognitionStatus = "InitialSilenceTimeout"
	RecognitionBabbleTimeout         RecognitionStatus = "BabbleTimeout"
	RecognitionError                 RecognitionStatus = "Error"
	RecognitionEndOfDictation        RecognitionStatus = "EndOfDictation"
)

// TranslationStatus is the per-phrase status of the translation stage.
type TranslationStatus string

const (
	TranslationSuccess TranslationStatus = "Success"
	TranslationError   TranslationStatus = "Error"
)

// Service offsets and durations are expressed in 100-nanosecond ticks.
func ticksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * 100 * time.Nanosecond
}

// ── Service payloads ──

type speechDetectedPayload struct {
	Offset int64 `json:"Offset"`
}

type turnStartPayload struct {
	Context struct {
		ServiceTag string `json:"serviceTag"`
	} `json:"context"`
}

type speechHypothesisPayload struct {
	Text     string `json:"Text"`
	Offset   int64  `json:"Offset"`
	Duration int64  `json:"Duration"`
}

type simplePhrasePayload struct {
	RecognitionStatus RecognitionStatus `json:"RecognitionStatus"`
	DisplayText       string            `json:"DisplayText"`
	Offset            int64             `json:"Offset"`
	Duration          int64             `json:"Duration"`
}

type detailedPhrasePayload struct {
	RecognitionStatus RecognitionStatus   `json:"RecognitionStatus"`
	Offset            int64               `json:"Offset"`
	Duration          int64               `json:"Duration"`
	NBest             []PhraseAlternative `json:"NBest"`
}

// PhraseAlternative is one N-best entry of a detailed phrase result.
type PhraseAlternative struct {
	Confidence float64 `json:"Confidence"`
	Lexical    string  `json:"Lexical"`
	ITN        string  `json:"ITN"`
	MaskedITN  string  `json:"MaskedITN"`
	Display    string  `json:"Display"`
}

type translationPayload struct {
	TranslationStatus TranslationStatus `json:"TranslationStatus"`
	Translations      []struct {
		Language string `json:"Language"`
		Text     string `json:"Text"`
	} `json:"Translations"`
	FailureReason string `json:"FailureReason"`
}

type translationHypothesisPayload struct {
	Text        string             `json:"Text"`
	Offset      int64              `json:"Offset"`
	Duration    int64              `json:"Duration"`
	Translation translationPayload `json:"Translation"`
}

type translationPhrasePayload struct {
	RecognitionStatus RecognitionStatus  `json:"RecognitionStatus"`
	Text              string             `json:"Text"`
	Offset            int64              `json:"Offset"`
	Duration          int64              `json:"Duration"`
	Translation       translationPayload `json:"Translation"`
}

type synthesisEndPayload struct {
	SynthesisStatus string `json:"SynthesisStatus"`
	FailureReason   string `json:"FailureReason"`
}

func decodePayload(body string, v any) error {
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("recognizer: decoding service payload: %w", err)
	}
	return nil
}

// ── Public result types ──

// ResultReason classifies a result delivered to a callback.
type ResultReason int

const (
	ReasonNoMatch ResultReason = iota
	ReasonCanceled
	ReasonRecognizingSpeech
	ReasonRecognizedSpeech
	ReasonRecognizedIntent
	ReasonTranslatingSpeech
	ReasonTranslatedSpeech
	ReasonSynthesizingAudio
	ReasonSynthesizingAudioCompleted
)

// reasonForStatus maps the service phrase status onto the callback reason
// used for final results.
func reasonForStatus(status RecognitionStatus) ResultReason {
	switch status {
	case RecognitionSuccess:
		return ReasonRecognizedSpeech
	case RecognitionError:
		return ReasonCanceled
	}
	return ReasonNoMatch
}

// SpeechResult is a hypothesis or final phrase surfaced to the caller.
type SpeechResult struct {
	SessionID string
	RequestID string
	Reason    ResultReason
	Status    RecognitionStatus
	Text      string
	Offset    time.Duration
	Duration  time.Duration

	// Alternatives is populated for detailed-format final results.
	Alternatives []PhraseAlternative

	// Raw is the untouched service JSON for callers that need more than
	// the decoded fields.
	Raw string
}

// TranslationResult extends a speech result with per-language translations.
type TranslationResult struct {
	SpeechResult
	TranslationStatus TranslationStatus
	Translations      map[string]string
	FailureReason     string
}

// SynthesisResult carries one chunk of synthesized translation audio. An
// empty Audio slice with ReasonSynthesizingAudioCompleted marks the end.
type SynthesisResult struct {
	SessionID string
	RequestID string
	Reason    ResultReason
	Audio     []byte
}

// IntentResult carries the raw language-understanding response alongside
// the speech result that triggered it.
type IntentResult struct {
	SpeechResult
	IntentJSON string
}

// Cancellation describes why recognition stopped before a final result.
type Cancellation struct {
	SessionID    string
	RequestID    string
	Reason       CancellationReason
	Code         CancellationCode
	ErrorDetails string
}

// SessionInfo accompanies session start and stop callbacks.
type SessionInfo struct {
	SessionID string
}

// Boundary marks a detected start or end of speech within the audio.
type Boundary struct {
	SessionID string
	Offset    time.Duration
}
