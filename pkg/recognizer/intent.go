package recognizer

import (
	"sync"

	"github.com/cadenhq/speechwire/pkg/audio"
	"github.com/cadenhq/speechwire/pkg/auth"
)

// IntentRecognizer converts speech to text and forwards it through a
// language-understanding model, surfacing the model's response alongside
// the recognized phrase.
type IntentRecognizer struct {
	*Recognizer

	mu          sync.Mutex
	recognizing func(SpeechResult)
	recognized  func(IntentResult)
	canceled    func(Cancellation)

	pendingMu     sync.Mutex
	pendingPhrase *IntentResult
}

// NewIntentRecognizer builds an intent recognizer.
func NewIntentRecognizer(authProvider auth.Provider, factory ConnectionFactory, source audio.Source, cfg Config, opts ...Option) (*IntentRecognizer, error) {
	ir := &IntentRecognizer{}
	base, err := newRecognizer(authProvider, factory, source, cfg, (*intentModality)(ir), opts...)
	if err != nil {
		return nil, err
	}
	ir.Recognizer = base
	return ir, nil
}

// OnRecognizing registers the callback for interim hypotheses.
func (r *IntentRecognizer) OnRecognizing(fn func(SpeechResult)) {
	r.mu.Lock()
	r.recognizing = fn
	r.mu.Unlock()
}

// OnRecognized registers the callback for final intent results.
func (r *IntentRecognizer) OnRecognized(fn func(IntentResult)) {
	r.mu.Lock()
	r.recognized = fn
	r.mu.Unlock()
}

// OnCanceled registers the callback for error cancellations.
func (r *IntentRecognizer) OnCanceled(fn func(Cancellation)) {
	r.mu.Lock()
	r.canceled = fn
	r.mu.Unlock()
}

func (r *IntentRecognizer) fireRecognizing(res SpeechResult) {
	r.mu.Lock()
	fn := r.recognizing
	r.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

func (r *IntentRecognizer) fireRecognized(res IntentResult) {
	r.mu.Lock()
	fn := r.recognized
	r.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

func (r *IntentRecognizer) fireCanceled(c Cancellation) {
	r.mu.Lock()
	fn := r.canceled
	r.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// intentModality holds the final phrase until the language-understanding
// response arrives on the response path, then surfaces both together.
type intentModality IntentRecognizer

var _ modality = (*intentModality)(nil)

func (m *intentModality) recognizer() *IntentRecognizer { return (*IntentRecognizer)(m) }

func (m *intentModality) processMessage(base *Recognizer, session *requestSession, msg *SpeechMessage) {
	ir := m.recognizer()
	switch msg.route {
	case pathSpeechHypothesis, pathSpeechFragment:
		var payload speechHypothesisPayload
		if err := decodePayload(msg.TextBody(), &payload); err != nil {
			base.logger.Warn("recognizer: bad hypothesis payload", "path", msg.Path, "error", err)
			return
		}
		ir.fireRecognizing(SpeechResult{
			SessionID: session.sessionID,
			RequestID: session.requestID,
			Reason:    ReasonRecognizingSpeech,
			Text:      payload.Text,
			Offset:    ticksToDuration(payload.Offset),
			Duration:  ticksToDuration(payload.Duration),
			Raw:       msg.TextBody(),
		})
	case pathSpeechPhrase:
		var payload simplePhrasePayload
		if err := decodePayload(msg.TextBody(), &payload); err != nil {
			base.logger.Warn("recognizer: bad phrase payload", "error", err)
			return
		}
		result := IntentResult{
			SpeechResult: SpeechResult{
				SessionID: session.sessionID,
				RequestID: session.requestID,
				Reason:    reasonForStatus(payload.RecognitionStatus),
				Status:    payload.RecognitionStatus,
				Text:      payload.DisplayText,
				Offset:    ticksToDuration(payload.Offset),
				Duration:  ticksToDuration(payload.Duration),
				Raw:       msg.TextBody(),
			},
		}
		if result.Reason == ReasonCanceled {
			ir.fireCanceled(Cancellation{
				SessionID:    session.sessionID,
				RequestID:    session.requestID,
				Reason:       CancelledError,
				Code:         CancellationServiceError,
				ErrorDetails: msg.TextBody(),
			})
			return
		}
		if result.Reason == ReasonRecognizedSpeech {
			result.Reason = ReasonRecognizedIntent
		}
		// Hold the phrase: the understanding response follows on its own
		// path and completes it.
		ir.pendingMu.Lock()
		ir.pendingPhrase = &result
		ir.pendingMu.Unlock()
	case pathResponse:
		ir.pendingMu.Lock()
		pending := ir.pendingPhrase
		ir.pendingPhrase = nil
		ir.pendingMu.Unlock()
		if pending == nil {
			base.logger.Debug("recognizer: understanding response without a pending phrase")
			return
		}
		pending.IntentJSON = msg.TextBody()
		ir.fireRecognized(*pending)
	default:
		base.logger.Debug("recognizer: ignoring path for intent modality", "path", msg.Path)
	}
}

// turnEnded flushes a held phrase that never got an understanding
// response, e.g. when no application id was configured.
func (m *intentModality) turnEnded(base *Recognizer, session *requestSession) {
	ir := m.recognizer()
	ir.pendingMu.Lock()
	pending := ir.pendingPhrase
	ir.pendingPhrase = nil
	ir.pendingMu.Unlock()
	if pending != nil {
		ir.fireRecognized(*pending)
	}
}

func (m *intentModality) connectionError(session *requestSession, err error) {
	m.recognizer().fireCanceled(Cancellation{
		SessionID:    session.sessionID,
		RequestID:    session.requestID,
		Reason:       CancelledError,
		Code:         CancellationConnectionFailure,
		ErrorDetails: err.Error(),
	})
}
