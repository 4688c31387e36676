package recognizer

import (
	"sync"

	"github.com/cadenhq/speechwire/pkg/audio"
	"github.com/cadenhq/speechwire/pkg/auth"
)

// SpeechRecognizer converts speech to text.
type SpeechRecognizer struct {
	*Recognizer

	mu          sync.Mutex
	recognizing func(SpeechResult)
	recognized  func(SpeechResult)
	canceled    func(Cancellation)
}

// NewSpeechRecognizer builds a speech-to-text recognizer.
func NewSpeechRecognizer(authProvider auth.Provider, factory ConnectionFactory, source audio.Source, cfg Config, opts ...Option) (*SpeechRecognizer, error) {
	sr := &SpeechRecognizer{}
	base, err := newRecognizer(authProvider, factory, source, cfg, (*speechModality)(sr), opts...)
	if err != nil {
		return nil, err
	}
	sr.Recognizer = base
	return sr, nil
}

// OnRecognizing registers the callback for interim hypotheses.
func (r *SpeechRecognizer) OnRecognizing(fn func(SpeechResult)) {
	r.mu.Lock()
	r.recognizing = fn
	r.mu.Unlock()
}

// OnRecognized registers the callback for final phrase results.
func (r *SpeechRecognizer) OnRecognized(fn func(SpeechResult)) {
	r.mu.Lock()
	r.recognized = fn
	r.mu.Unlock()
}

// OnCanceled registers the callback for error cancellations.
func (r *SpeechRecognizer) OnCanceled(fn func(Cancellation)) {
	r.mu.Lock()
	r.canceled = fn
	r.mu.Unlock()
}

func (r *SpeechRecognizer) fireRecognizing(res SpeechResult) {
	r.mu.Lock()
	fn := r.recognizing
	r.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

func (r *SpeechRecognizer) fireRecognized(res SpeechResult) {
	r.mu.Lock()
	fn := r.recognized
	r.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

func (r *SpeechRecognizer) fireCanceled(c Cancellation) {
	r.mu.Lock()
	fn := r.canceled
	r.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// speechModality routes hypothesis, fragment and phrase frames into the
// speech recognizer callbacks.
type speechModality SpeechRecognizer

var _ modality = (*speechModality)(nil)

func (m *speechModality) recognizer() *SpeechRecognizer { return (*SpeechRecognizer)(m) }

func (m *speechModality) processMessage(base *Recognizer, session *requestSession, msg *SpeechMessage) {
	sr := m.recognizer()
	switch msg.route {
	case pathSpeechHypothesis, pathSpeechFragment:
		var payload speechHypothesisPayload
		if err := decodePayload(msg.TextBody(), &payload); err != nil {
			base.logger.Warn("recognizer: bad hypothesis payload", "path", msg.Path, "error", err)
			return
		}
		sr.fireRecognizing(SpeechResult{
			SessionID: session.sessionID,
			RequestID: session.requestID,
			Reason:    ReasonRecognizingSpeech,
			Text:      payload.Text,
			Offset:    ticksToDuration(payload.Offset),
			Duration:  ticksToDuration(payload.Duration),
			Raw:       msg.TextBody(),
		})
	case pathSpeechPhrase:
		base.flushPhraseTelemetry(session)
		sr.handlePhrase(base, session, msg)
	default:
		base.logger.Debug("recognizer: ignoring path for speech modality", "path", msg.Path)
	}
}

func (r *SpeechRecognizer) handlePhrase(base *Recognizer, session *requestSession, msg *SpeechMessage) {
	result := SpeechResult{
		SessionID: session.sessionID,
		RequestID: session.requestID,
		Raw:       msg.TextBody(),
	}

	if base.cfg.Format == FormatDetailed {
		var payload detailedPhrasePayload
		if err := decodePayload(msg.TextBody(), &payload); err != nil {
			base.logger.Warn("recognizer: bad detailed phrase payload", "error", err)
			return
		}
		result.Status = payload.RecognitionStatus
		result.Offset = ticksToDuration(payload.Offset)
		result.Duration = ticksToDuration(payload.Duration)
		result.Alternatives = payload.NBest
		if len(payload.NBest) > 0 {
			result.Text = payload.NBest[0].Display
		}
	} else {
		var payload simplePhrasePayload
		if err := decodePayload(msg.TextBody(), &payload); err != nil {
			base.logger.Warn("recognizer: bad phrase payload", "error", err)
			return
		}
		result.Status = payload.RecognitionStatus
		result.Text = payload.DisplayText
		result.Offset = ticksToDuration(payload.Offset)
		result.Duration = ticksToDuration(payload.Duration)
	}

	result.Reason = reasonForStatus(result.Status)
	if result.Reason == ReasonCanceled {
		r.fireCanceled(Cancellation{
			SessionID:    session.sessionID,
			RequestID:    session.requestID,
			Reason:       CancelledError,
			Code:         CancellationServiceError,
			ErrorDetails: msg.TextBody(),
		})
		return
	}
	r.fireRecognized(result)
}

func (m *speechModality) connectionError(session *requestSession, err error) {
	m.recognizer().fireCanceled(Cancellation{
		SessionID:    session.sessionID,
		RequestID:    session.requestID,
		Reason:       CancelledError,
		Code:         CancellationConnectionFailure,
		ErrorDetails: err.Error(),
	})
}
