package recognizer

import (
	"fmt"
	"sync"

	"github.com/cadenhq/speechwire/pkg/async"
	"github.com/cadenhq/speechwire/pkg/audio"
	"github.com/cadenhq/speechwire/pkg/events"
)

// requestSession tracks the identifiers, flags and telemetry of a single
// recognition turn. Its flags are monotonic: once speech has ended or the
// session has completed, that never reverts.
type requestSession struct {
	requestID     string
	audioNodeID   string
	audioSourceID string

	mu               sync.Mutex
	sessionID        string
	connectionID     string
	authFetchEventID string
	serviceTag       string
	speechEnded      bool
	completed        bool

	audioNode audio.StreamNode
	detachers []func()

	completion *async.Deferred[CompletionResult]
	telemetry  *telemetryRecorder
}

func newRequestSession(audioSourceID string) *requestSession {
	return &requestSession{
		requestID:     events.NoDashUUID(),
		audioNodeID:   events.NoDashUUID(),
		audioSourceID: audioSourceID,
		completion:    async.NewDeferred[CompletionResult](),
		telemetry:     newTelemetryRecorder(),
	}
}

func (s *requestSession) completionPromise() *async.Promise[CompletionResult] {
	return s.completion.Promise()
}

// listenForTelemetry folds a diagnostic source into the session's
// telemetry frame until the session is disposed.
func (s *requestSession) listenForTelemetry(src *events.Source) {
	detach, err := src.Attach(s.telemetry.listener)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.detachers = append(s.detachers, detach)
	s.mu.Unlock()
}

func (s *requestSession) onAudioSourceAttachCompleted(node audio.StreamNode) {
	s.mu.Lock()
	s.audioNode = node
	s.mu.Unlock()
}

// onPreConnectionStart records the identifiers of the connection attempt.
// The session id is the connection id: both name one websocket lifetime.
func (s *requestSession) onPreConnectionStart(authFetchEventID, connectionID string) {
	s.mu.Lock()
	s.authFetchEventID = authFetchEventID
	s.connectionID = connectionID
	s.sessionID = connectionID
	s.mu.Unlock()
}

func (s *requestSession) onAuthFetchStart() {
	s.telemetry.phaseStart(metricAuthTokenFetch, "")
}

func (s *requestSession) onAuthCompleted(errText string) {
	s.telemetry.phaseEnd(metricAuthTokenFetch, errText)
	if errText != "" {
		s.onComplete(StatusAuthTokenFetchError, errText)
	}
}

func (s *requestSession) onConnectionEstablishCompleted(statusCode int, reason string) {
	switch {
	case statusCode == 200:
	case statusCode == 403:
		s.onComplete(StatusUnAuthorized, reason)
	default:
		s.onComplete(StatusConnectError, fmt.Sprintf("status %d: %s", statusCode, reason))
	}
}

func (s *requestSession) onServiceTurnStart(serviceTag string) {
	s.mu.Lock()
	s.serviceTag = serviceTag
	s.mu.Unlock()
}

func (s *requestSession) onSpeechEnded() {
	s.mu.Lock()
	s.speechEnded = true
	s.mu.Unlock()
}

func (s *requestSession) isSpeechEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speechEnded
}

func (s *requestSession) isCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// onComplete settles the session exactly once. Later calls are dropped so
// the first observed outcome wins.
func (s *requestSession) onComplete(status CompletionStatus, errText string) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	s.mu.Unlock()
	s.completion.Resolve(CompletionResult{Status: status, ErrorDetails: errText})
}

// dispose detaches telemetry listeners and the audio node. Safe to call
// more than once.
func (s *requestSession) dispose() {
	s.mu.Lock()
	detachers := s.detachers
	s.detachers = nil
	node := s.audioNode
	s.audioNode = nil
	s.mu.Unlock()
	for _, detach := range detachers {
		detach()
	}
	if node != nil {
		node.Detach()
	}
}

func (s *requestSession) telemetryJSON() string {
	return s.telemetry.serialize()
}
