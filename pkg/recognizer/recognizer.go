package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cadenhq/speechwire/pkg/async"
	"github.com/cadenhq/speechwire/pkg/audio"
	"github.com/cadenhq/speechwire/pkg/auth"
	"github.com/cadenhq/speechwire/pkg/connection"
	"github.com/cadenhq/speechwire/pkg/events"
)

// Protocol paths of the outbound frames.
const (
	pathSpeechConfig  = "speech.config"
	pathSpeechContext = "speech.context"
	pathAudio         = "audio"
	pathTelemetry     = "telemetry"
)

// modality handles the service frames the base orchestrator does not:
// hypothesis, phrase and translation traffic. Each recognizer variant
// plugs its own in.
type modality interface {
	processMessage(r *Recognizer, session *requestSession, msg *SpeechMessage)
	connectionError(session *requestSession, err error)
}

// turnEndObserver lets a modality flush held state when the service ends
// the turn.
type turnEndObserver interface {
	turnEnded(r *Recognizer, session *requestSession)
}

// Recognizer is the turn orchestrator shared by all variants: it owns the
// connection lifecycle, the per-turn request session, and the three
// concurrent loops (receive, configure-then-stream, completion).
type Recognizer struct {
	authProvider auth.Provider
	factory      ConnectionFactory
	source       audio.Source
	cfg          Config
	modality     modality
	logger       *slog.Logger
	diagnostics  *events.Source

	mu                  sync.Mutex
	conn                *connection.Connection
	connFetch           *async.Promise[*connection.Connection]
	connectionID        string
	authFetchEventID    string
	configSentForConnID string
	disposed            bool

	handlersMu          sync.Mutex
	sessionStarted      func(SessionInfo)
	sessionStopped      func(SessionInfo)
	speechStartDetected func(Boundary)
	speechEndDetected   func(Boundary)
	telemetryHook       func(requestID, payload string)
}

// Option configures the base orchestrator.
type Option func(*Recognizer)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recognizer) { r.logger = l }
}

// WithTelemetryHook observes each telemetry frame as it is sent.
func WithTelemetryHook(fn func(requestID, payload string)) Option {
	return func(r *Recognizer) { r.telemetryHook = fn }
}

func newRecognizer(authProvider auth.Provider, factory ConnectionFactory, source audio.Source, cfg Config, m modality, opts ...Option) (*Recognizer, error) {
	if authProvider == nil {
		return nil, errors.New("recognizer: authentication provider must not be nil")
	}
	if factory == nil {
		return nil, errors.New("recognizer: connection factory must not be nil")
	}
	if source == nil {
		return nil, errors.New("recognizer: audio source must not be nil")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Recognizer{
		authProvider: authProvider,
		factory:      factory,
		source:       source,
		cfg:          cfg,
		modality:     m,
		logger:       slog.Default(),
		diagnostics:  events.NewSource(nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Events exposes the recognizer's diagnostic event source. Metrics
// bridges and loggers attach here.
func (r *Recognizer) Events() *events.Source { return r.diagnostics }

// Config returns a copy of the effective configuration.
func (r *Recognizer) Config() Config { return r.cfg }

// OnSessionStarted registers the turn-start callback.
func (r *Recognizer) OnSessionStarted(fn func(SessionInfo)) {
	r.handlersMu.Lock()
	r.sessionStarted = fn
	r.handlersMu.Unlock()
}

// OnSessionStopped registers the turn-end callback.
func (r *Recognizer) OnSessionStopped(fn func(SessionInfo)) {
	r.handlersMu.Lock()
	r.sessionStopped = fn
	r.handlersMu.Unlock()
}

// OnSpeechStartDetected registers the start-of-speech callback.
func (r *Recognizer) OnSpeechStartDetected(fn func(Boundary)) {
	r.handlersMu.Lock()
	r.speechStartDetected = fn
	r.handlersMu.Unlock()
}

// OnSpeechEndDetected registers the end-of-speech callback.
func (r *Recognizer) OnSpeechEndDetected(fn func(Boundary)) {
	r.handlersMu.Lock()
	r.speechEndDetected = fn
	r.handlersMu.Unlock()
}

func (r *Recognizer) isDisposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

// Close disposes the recognizer and its cached connection. Recognize
// calls after Close settle with an error result.
func (r *Recognizer) Close() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	conn := r.conn
	r.conn = nil
	r.connFetch = nil
	r.mu.Unlock()
	if conn != nil {
		conn.Dispose("recognizer closed")
	}
	r.diagnostics.Dispose()
}

// Recognize runs one recognition turn against the service: attach audio,
// fetch (or reuse) a connection, then stream audio while consuming
// results until the service signals the end of the turn. The returned
// promise always resolves with a CompletionResult; failures surface as a
// non-success status rather than a rejection.
func (r *Recognizer) Recognize(ctx context.Context, speechContextJSON string) *async.Promise[CompletionResult] {
	if r.isDisposed() {
		return async.FromResult(CompletionResult{
			Status:       StatusUnknownError,
			ErrorDetails: "recognizer is closed",
		})
	}

	session := newRequestSession(r.source.ID())
	session.listenForTelemetry(r.source.Events())
	r.emit(events.KindRecognitionTriggered, func(e *events.Event) {
		e.RequestID = session.requestID
		e.AudioNodeID = session.audioNodeID
	})

	r.source.Attach(session.audioNodeID).On(func(node audio.StreamNode) {
		session.onAudioSourceAttachCompleted(node)
		r.runTurn(ctx, session, node, speechContextJSON)
	}, func(err error) {
		session.onComplete(StatusAudioSourceError, err.Error())
		r.modality.connectionError(session, err)
	})

	completion := session.completionPromise()
	completion.Finally(func() {
		// Emitted on settle rather than on turn.end so sessions that
		// die during auth, connect or streaming still report an end.
		r.emit(events.KindRecognitionEnded, func(e *events.Event) {
			e.SessionID = session.sessionID
			e.RequestID = session.requestID
		})
		session.dispose()
	})
	return completion
}

// runTurn drives one turn after the audio node has attached.
func (r *Recognizer) runTurn(ctx context.Context, session *requestSession, node audio.StreamNode, speechContextJSON string) {
	r.fetchConnection(ctx, session, false).On(func(conn *connection.Connection) {
		receive := r.receiveLoop(ctx, conn, session)
		send := async.ThenPromise(r.sendSpeechConfig(conn, session), func(bool) *async.Promise[bool] {
			return async.ThenPromise(r.sendSpeechContext(conn, session, speechContextJSON), func(bool) *async.Promise[bool] {
				return r.sendAudio(ctx, conn, session, node)
			})
		})
		async.WhenAll(receive, send).On(func(bool) {
			r.finishTurn(session, conn)
		}, func(err error) {
			session.onComplete(StatusUnknownError, err.Error())
			r.modality.connectionError(session, err)
			r.finishTurn(session, conn)
		})
	}, func(err error) {
		// The session already carries the precise status from the auth
		// or connect stage; the callback surfaces the error text.
		session.onComplete(StatusConnectError, err.Error())
		r.modality.connectionError(session, err)
	})
}

// finishTurn ships the telemetry frame and releases per-turn resources.
func (r *Recognizer) finishTurn(session *requestSession, conn *connection.Connection) {
	r.sendTelemetry(conn, session)
	session.dispose()
}

// fetchConnection returns the cached connection when it is still usable,
// otherwise authenticates and dials a fresh one. A 403 on connect forces
// one credential refresh and a single retry.
func (r *Recognizer) fetchConnection(ctx context.Context, session *requestSession, isUnauthorized bool) *async.Promise[*connection.Connection] {
	r.mu.Lock()
	if r.connFetch != nil {
		conn, err, settled := r.connFetch.Result()
		if settled && (err != nil || conn.State() == connection.StateDisconnected) {
			r.connFetch = nil
			r.conn = nil
			r.connectionID = ""
			r.mu.Unlock()
			return r.fetchConnection(ctx, session, isUnauthorized)
		}
		cached := r.connFetch
		authID, connID := r.authFetchEventID, r.connectionID
		r.mu.Unlock()

		session.onPreConnectionStart(authID, connID)
		cached.On(func(conn *connection.Connection) {
			session.listenForTelemetry(conn.Events())
		}, nil)
		return cached
	}

	authID := events.NoDashUUID()
	connID := events.NoDashUUID()
	r.authFetchEventID = authID
	r.connectionID = connID

	d := async.NewDeferred[*connection.Connection]()
	r.connFetch = d.Promise()
	r.mu.Unlock()

	session.onPreConnectionStart(authID, connID)
	session.onAuthFetchStart()

	var authPromise *async.Promise[auth.Info]
	if isUnauthorized {
		authPromise = r.authProvider.FetchOnExpiry(ctx, authID)
	} else {
		authPromise = r.authProvider.Fetch(ctx, authID)
	}

	authPromise.On(func(info auth.Info) {
		session.onAuthCompleted("")
		r.openConnection(ctx, session, info, connID, isUnauthorized, d)
	}, func(err error) {
		session.onAuthCompleted(err.Error())
		r.clearConnectionFetch(d)
		d.Reject(fmt.Errorf("recognizer: fetching auth token: %w", err))
	})
	return d.Promise()
}

func (r *Recognizer) openConnection(ctx context.Context, session *requestSession, info auth.Info, connID string, isUnauthorized bool, d *async.Deferred[*connection.Connection]) {
	conn, err := r.factory.Create(r.cfg, info, connID)
	if err != nil {
		r.clearConnectionFetch(d)
		d.Reject(err)
		return
	}

	r.mu.Lock()
	old := r.conn
	r.conn = conn
	r.mu.Unlock()
	if old != nil {
		old.Dispose("superseded by new connection")
	}

	session.listenForTelemetry(conn.Events())

	conn.Open(ctx).On(func(resp connection.OpenResponse) {
		switch {
		case resp.StatusCode == 200:
			session.onConnectionEstablishCompleted(200, "")
			d.Resolve(conn)
		case resp.StatusCode == 403 && !isUnauthorized:
			conn.Dispose("retrying with a fresh auth token")
			r.clearConnectionFetch(d)
			r.fetchConnection(ctx, session, true).On(func(retried *connection.Connection) {
				d.Resolve(retried)
			}, func(err error) {
				d.Reject(err)
			})
		default:
			session.onConnectionEstablishCompleted(resp.StatusCode, resp.Reason)
			r.clearConnectionFetch(d)
			d.Reject(fmt.Errorf("recognizer: unable to contact server: status code %d, reason %s", resp.StatusCode, resp.Reason))
		}
	}, func(err error) {
		r.clearConnectionFetch(d)
		d.Reject(err)
	})
}

// clearConnectionFetch drops the cached fetch promise, but only when it
// still refers to the attempt that failed.
func (r *Recognizer) clearConnectionFetch(d *async.Deferred[*connection.Connection]) {
	r.mu.Lock()
	if r.connFetch == d.Promise() {
		r.connFetch = nil
		r.conn = nil
		r.connectionID = ""
	}
	r.mu.Unlock()
}

// receiveLoop consumes service frames for this turn until turn.end.
// Frames for other request ids are skipped; unknown paths are logged and
// dropped; modality paths are handed to the variant.
func (r *Recognizer) receiveLoop(ctx context.Context, conn *connection.Connection, session *requestSession) *async.Promise[bool] {
	d := async.NewDeferred[bool]()
	go func() {
		for {
			msg, err := conn.Read().Wait(ctx)
			if err != nil {
				if session.isCompleted() || session.isSpeechEnded() {
					d.Resolve(true)
				} else {
					d.Reject(err)
				}
				return
			}
			if msg == nil {
				d.Resolve(true)
				return
			}

			sm, err := ParseSpeechMessage(msg)
			if err != nil {
				r.logger.Warn("recognizer: dropping malformed frame", "error", err)
				continue
			}
			if !strings.EqualFold(sm.RequestID, session.requestID) {
				r.logger.Debug("recognizer: skipping frame for another request",
					"path", sm.Path, "requestId", sm.RequestID)
				continue
			}

			switch sm.route {
			case pathTurnStart:
				var payload turnStartPayload
				if err := decodePayload(sm.TextBody(), &payload); err == nil {
					session.onServiceTurnStart(payload.Context.ServiceTag)
				}
				r.emit(events.KindRecognitionStarted, func(e *events.Event) {
					e.SessionID = session.sessionID
					e.RequestID = session.requestID
				})
				r.fireSessionStarted(session)
			case pathSpeechStartDetected:
				var payload speechDetectedPayload
				if err := decodePayload(sm.TextBody(), &payload); err != nil {
					r.logger.Warn("recognizer: bad speech.startdetected payload", "error", err)
					continue
				}
				r.fireSpeechStart(session, ticksToDuration(payload.Offset))
			case pathSpeechEndDetected:
				// The service may send an empty body here; treat it as
				// offset zero.
				var payload speechDetectedPayload
				if body := sm.TextBody(); body != "" {
					if err := decodePayload(body, &payload); err != nil {
						r.logger.Warn("recognizer: bad speech.enddetected payload", "error", err)
					}
				}
				session.onSpeechEnded()
				r.fireSpeechEnd(session, ticksToDuration(payload.Offset))
			case pathTurnEnd:
				if f, ok := r.modality.(turnEndObserver); ok {
					f.turnEnded(r, session)
				}
				r.fireSessionStopped(session)
				session.onComplete(StatusSuccess, "")
				d.Resolve(true)
				return
			case pathUnknown:
				r.logger.Debug("recognizer: ignoring unknown path", "path", sm.Path)
			default:
				r.modality.processMessage(r, session, sm)
			}
		}
	}()
	return d.Promise()
}

// sendSpeechConfig sends the client context once per connection. A new
// connection id means a reconnect happened and the config goes out again.
func (r *Recognizer) sendSpeechConfig(conn *connection.Connection, session *requestSession) *async.Promise[bool] {
	r.mu.Lock()
	if r.configSentForConnID == conn.ID() {
		r.mu.Unlock()
		return async.FromResult(true)
	}
	r.configSentForConnID = conn.ID()
	r.mu.Unlock()
	return conn.Send(newSpeechTextMessage(pathSpeechConfig, session.requestID, r.cfg.platformConfigJSON()))
}

func (r *Recognizer) sendSpeechContext(conn *connection.Connection, session *requestSession, contextJSON string) *async.Promise[bool] {
	if contextJSON == "" {
		contextJSON = "{}"
	}
	return conn.Send(newSpeechTextMessage(pathSpeechContext, session.requestID, contextJSON))
}

// sendAudio streams chunks at twice real time: after each upload the loop
// waits until half the chunk's wall-clock duration has passed since the
// previous send. The loop stops quietly once the service has detected the
// end of speech or the session completed.
func (r *Recognizer) sendAudio(ctx context.Context, conn *connection.Connection, session *requestSession, node audio.StreamNode) *async.Promise[bool] {
	d := async.NewDeferred[bool]()
	format := r.source.Format()
	go func() {
		var lastSend time.Time
		for {
			if r.isDisposed() || session.isCompleted() || session.isSpeechEnded() {
				d.Resolve(true)
				return
			}

			chunk, err := node.Read().Wait(ctx)
			if err != nil {
				if session.isSpeechEnded() || session.isCompleted() {
					d.Resolve(true)
				} else {
					d.Reject(err)
				}
				return
			}
			if session.isSpeechEnded() {
				d.Resolve(true)
				return
			}

			if chunk.IsEnd {
				// An empty audio frame tells the service the stream is over.
				conn.Send(newSpeechBinaryMessage(pathAudio, session.requestID, nil))
				d.Resolve(true)
				return
			}

			upload := conn.Send(newSpeechBinaryMessage(pathAudio, session.requestID, chunk.Buffer))
			if _, err := upload.Wait(ctx); err != nil {
				if session.isSpeechEnded() || session.isCompleted() {
					d.Resolve(true)
				} else {
					d.Reject(err)
				}
				return
			}

			minSendTime := time.Duration(float64(len(chunk.Buffer)) / float64(format.AvgBytesPerSec()) / 2 * float64(time.Second))
			if wait := time.Until(lastSend.Add(minSendTime)); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					d.Reject(ctx.Err())
					return
				}
			}
			lastSend = time.Now()
		}
	}()
	return d.Promise()
}

// flushPhraseTelemetry ships an interim telemetry frame after a final
// phrase. Continuous sessions can run for a long time, so a crash then
// loses at most one phrase's worth.
func (r *Recognizer) flushPhraseTelemetry(session *requestSession) {
	if !r.cfg.Continuous {
		return
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		r.sendTelemetry(conn, session)
	}
}

// sendTelemetry ships the session's telemetry frame. Failures are logged,
// never surfaced: telemetry must not fail a completed turn.
func (r *Recognizer) sendTelemetry(conn *connection.Connection, session *requestSession) {
	payload := session.telemetryJSON()
	r.handlersMu.Lock()
	hook := r.telemetryHook
	r.handlersMu.Unlock()
	if hook != nil {
		hook(session.requestID, payload)
	}
	conn.Send(newSpeechTextMessage(pathTelemetry, session.requestID, payload)).On(nil, func(err error) {
		r.logger.Debug("recognizer: telemetry send failed", "error", err)
	})
}

func (r *Recognizer) emit(kind events.Kind, fill func(*events.Event)) {
	e := events.New(kind, events.LevelInfo)
	if fill != nil {
		fill(&e)
	}
	if err := r.diagnostics.OnEvent(e); err != nil {
		r.logger.Debug("recognizer: dropping diagnostic event", "kind", string(kind), "error", err)
	}
}

func (r *Recognizer) fireSessionStarted(session *requestSession) {
	r.handlersMu.Lock()
	fn := r.sessionStarted
	r.handlersMu.Unlock()
	if fn != nil {
		fn(SessionInfo{SessionID: session.sessionID})
	}
}

func (r *Recognizer) fireSessionStopped(session *requestSession) {
	r.handlersMu.Lock()
	fn := r.sessionStopped
	r.handlersMu.Unlock()
	if fn != nil {
		fn(SessionInfo{SessionID: session.sessionID})
	}
}

func (r *Recognizer) fireSpeechStart(session *requestSession, offset time.Duration) {
	r.handlersMu.Lock()
	fn := r.speechStartDetected
	r.handlersMu.Unlock()
	if fn != nil {
		fn(Boundary{SessionID: session.sessionID, Offset: offset})
	}
}

func (r *Recognizer) fireSpeechEnd(session *requestSession, offset time.Duration) {
	r.handlersMu.Lock()
	fn := r.speechEndDetected
	r.handlersMu.Unlock()
	if fn != nil {
		fn(Boundary{SessionID: session.sessionID, Offset: offset})
	}
}
