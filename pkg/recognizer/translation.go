package recognizer

import (
	"errors"
	"sync"

	"github.com/cadenhq/speechwire/pkg/audio"
	"github.com/cadenhq/speechwire/pkg/auth"
)

// TranslationRecognizer converts speech to text and translates it into
// the configured target languages, optionally synthesizing translated
// audio.
type TranslationRecognizer struct {
	*Recognizer

	mu           sync.Mutex
	recognizing  func(TranslationResult)
	recognized   func(TranslationResult)
	synthesizing func(SynthesisResult)
	canceled     func(Cancellation)
}

// NewTranslationRecognizer builds a speech translation recognizer. The
// config must name at least one target language.
func NewTranslationRecognizer(authProvider auth.Provider, factory ConnectionFactory, source audio.Source, cfg Config, opts ...Option) (*TranslationRecognizer, error) {
	if len(cfg.TargetLanguages) == 0 {
		return nil, errors.New("recognizer: translation requires at least one target language")
	}
	tr := &TranslationRecognizer{}
	base, err := newRecognizer(authProvider, factory, source, cfg, (*translationModality)(tr), opts...)
	if err != nil {
		return nil, err
	}
	tr.Recognizer = base
	return tr, nil
}

// OnRecognizing registers the callback for interim translations.
func (r *TranslationRecognizer) OnRecognizing(fn func(TranslationResult)) {
	r.mu.Lock()
	r.recognizing = fn
	r.mu.Unlock()
}

// OnRecognized registers the callback for final translated phrases.
func (r *TranslationRecognizer) OnRecognized(fn func(TranslationResult)) {
	r.mu.Lock()
	r.recognized = fn
	r.mu.Unlock()
}

// OnSynthesizing registers the callback for synthesized audio chunks.
func (r *TranslationRecognizer) OnSynthesizing(fn func(SynthesisResult)) {
	r.mu.Lock()
	r.synthesizing = fn
	r.mu.Unlock()
}

// OnCanceled registers the callback for error cancellations.
func (r *TranslationRecognizer) OnCanceled(fn func(Cancellation)) {
	r.mu.Lock()
	r.canceled = fn
	r.mu.Unlock()
}

func (r *TranslationRecognizer) fireRecognizing(res TranslationResult) {
	r.mu.Lock()
	fn := r.recognizing
	r.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

func (r *TranslationRecognizer) fireRecognized(res TranslationResult) {
	r.mu.Lock()
	fn := r.recognized
	r.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

func (r *TranslationRecognizer) fireSynthesizing(res SynthesisResult) {
	r.mu.Lock()
	fn := r.synthesizing
	r.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

func (r *TranslationRecognizer) fireCanceled(c Cancellation) {
	r.mu.Lock()
	fn := r.canceled
	r.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func translationsByLanguage(payload translationPayload) map[string]string {
	out := make(map[string]string, len(payload.Translations))
	for _, t := range payload.Translations {
		out[t.Language] = t.Text
	}
	return out
}

// translationModality routes translation traffic, including the binary
// synthesis frames, into the translation recognizer callbacks.
type translationModality TranslationRecognizer

var _ modality = (*translationModality)(nil)

func (m *translationModality) recognizer() *TranslationRecognizer {
	return (*TranslationRecognizer)(m)
}

func (m *translationModality) processMessage(base *Recognizer, session *requestSession, msg *SpeechMessage) {
	tr := m.recognizer()
	switch msg.route {
	case pathTranslationHypothesis:
		var payload translationHypothesisPayload
		if err := decodePayload(msg.TextBody(), &payload); err != nil {
			base.logger.Warn("recognizer: bad translation hypothesis payload", "error", err)
			return
		}
		tr.fireRecognizing(TranslationResult{
			SpeechResult: SpeechResult{
				SessionID: session.sessionID,
				RequestID: session.requestID,
				Reason:    ReasonTranslatingSpeech,
				Text:      payload.Text,
				Offset:    ticksToDuration(payload.Offset),
				Duration:  ticksToDuration(payload.Duration),
				Raw:       msg.TextBody(),
			},
			TranslationStatus: payload.Translation.TranslationStatus,
			Translations:      translationsByLanguage(payload.Translation),
			FailureReason:     payload.Translation.FailureReason,
		})
	case pathTranslationPhrase:
		base.flushPhraseTelemetry(session)
		var payload translationPhrasePayload
		if err := decodePayload(msg.TextBody(), &payload); err != nil {
			base.logger.Warn("recognizer: bad translation phrase payload", "error", err)
			return
		}
		m.handlePhrase(base, session, msg, payload)
	case pathTranslationSynthesis:
		tr.fireSynthesizing(SynthesisResult{
			SessionID: session.sessionID,
			RequestID: session.requestID,
			Reason:    ReasonSynthesizingAudio,
			Audio:     msg.BinaryBody(),
		})
	case pathTranslationSynthesisEnd:
		var payload synthesisEndPayload
		if err := decodePayload(msg.TextBody(), &payload); err != nil {
			base.logger.Warn("recognizer: bad synthesis end payload", "error", err)
		}
		if payload.SynthesisStatus == "Error" {
			tr.fireCanceled(Cancellation{
				SessionID:    session.sessionID,
				RequestID:    session.requestID,
				Reason:       CancelledError,
				Code:         CancellationServiceError,
				ErrorDetails: payload.FailureReason,
			})
			return
		}
		tr.fireSynthesizing(SynthesisResult{
			SessionID: session.sessionID,
			RequestID: session.requestID,
			Reason:    ReasonSynthesizingAudioCompleted,
		})
	default:
		base.logger.Debug("recognizer: ignoring path for translation modality", "path", msg.Path)
	}
}

func (m *translationModality) handlePhrase(base *Recognizer, session *requestSession, msg *SpeechMessage, payload translationPhrasePayload) {
	tr := m.recognizer()
	if payload.RecognitionStatus == RecognitionError {
		tr.fireCanceled(Cancellation{
			SessionID:    session.sessionID,
			RequestID:    session.requestID,
			Reason:       CancelledError,
			Code:         CancellationServiceError,
			ErrorDetails: msg.TextBody(),
		})
		return
	}

	reason := ReasonTranslatedSpeech
	if payload.RecognitionStatus != RecognitionSuccess {
		reason = ReasonNoMatch
	} else if payload.Translation.TranslationStatus != TranslationSuccess {
		// Recognized fine but the translation stage failed; surface the
		// recognition with the failure reason attached.
		reason = ReasonRecognizedSpeech
	}

	tr.fireRecognized(TranslationResult{
		SpeechResult: SpeechResult{
			SessionID: session.sessionID,
			RequestID: session.requestID,
			Reason:    reason,
			Status:    payload.RecognitionStatus,
			Text:      payload.Text,
			Offset:    ticksToDuration(payload.Offset),
			Duration:  ticksToDuration(payload.Duration),
			Raw:       msg.TextBody(),
		},
		TranslationStatus: payload.Translation.TranslationStatus,
		Translations:      translationsByLanguage(payload.Translation),
		FailureReason:     payload.Translation.FailureReason,
	})
}

func (m *translationModality) connectionError(session *requestSession, err error) {
	m.recognizer().fireCanceled(Cancellation{
		SessionID:    session.sessionID,
		RequestID:    session.requestID,
		Reason:       CancelledError,
		Code:         CancellationConnectionFailure,
		ErrorDetails: err.Error(),
	})
}
