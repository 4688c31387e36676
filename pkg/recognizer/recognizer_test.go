package recognizer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/cadenhq/speechwire/pkg/async"
	"github.com/cadenhq/speechwire/pkg/audio"
	"github.com/cadenhq/speechwire/pkg/auth"
	"github.com/cadenhq/speechwire/pkg/connection"
	"github.com/cadenhq/speechwire/pkg/events"
	"github.com/cadenhq/speechwire/pkg/message"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ── Fake service ──

// fakeService scripts the server side of one or more websocket lifetimes.
// Client frames arrive decoded on written; the turn script runs once the
// client signals end of audio.
type fakeService struct {
	t *testing.T

	// endOfAudio acts out the service's side of a turn. sendText and
	// sendBinary push frames carrying the turn's request id.
	endOfAudio func(sendText func(path, body string), sendBinary func(path string, payload []byte))

	// afterAudioChunk, when set, runs after each non-empty audio frame
	// with the 1-based chunk count.
	afterAudioChunk func(n int, sendText func(path, body string))

	mu          sync.Mutex
	configCount int
	audioTimes  []time.Time

	inbound chan *message.Raw
	closed  chan struct{}
	once    sync.Once
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	svc := &fakeService{
		t:       t,
		inbound: make(chan *message.Raw, 64),
		closed:  make(chan struct{}),
	}
	svc.endOfAudio = func(sendText func(path, body string), _ func(string, []byte)) {
		sendText("speech.hypothesis", `{"Text":"hello wor","Offset":1000000,"Duration":5000000}`)
		sendText("speech.enddetected", "")
		sendText("speech.phrase", `{"RecognitionStatus":"Success","DisplayText":"hello world.","Offset":1000000,"Duration":9000000}`)
		sendText("turn.end", "{}")
	}
	t.Cleanup(svc.close)
	return svc
}

func (svc *fakeService) close() {
	svc.once.Do(func() { close(svc.closed) })
}

func (svc *fakeService) sendText(path, requestID, body string) {
	frame := "Path: " + path + "\r\nX-RequestId: " + requestID +
		"\r\nContent-Type: application/json\r\n\r\n" + body
	select {
	case svc.inbound <- message.NewRawText(frame):
	case <-svc.closed:
	}
}

func (svc *fakeService) sendBinary(path, requestID string, payload []byte) {
	msg := newSpeechBinaryMessage(path, requestID, payload)
	raw, err := message.Encode(msg)
	if err != nil {
		svc.t.Errorf("encode binary service frame: %v", err)
		return
	}
	select {
	case svc.inbound <- raw:
	case <-svc.closed:
	}
}

func (svc *fakeService) configSends() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.configCount
}

func (svc *fakeService) audioArrivals() []time.Time {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]time.Time(nil), svc.audioTimes...)
}

// handle reacts to one client frame.
func (svc *fakeService) handle(m *message.ConnectionMessage) {
	requestID := m.Header(headerRequestID)
	switch m.Header(headerPath) {
	case pathSpeechConfig:
		svc.mu.Lock()
		svc.configCount++
		svc.mu.Unlock()
	case pathSpeechContext:
		svc.sendText("turn.start", requestID, `{"context":{"serviceTag":"svc-tag-1"}}`)
		svc.sendText("speech.startdetected", requestID, `{"Offset":1000000}`)
	case pathAudio:
		if len(m.BinaryBody()) > 0 {
			svc.mu.Lock()
			svc.audioTimes = append(svc.audioTimes, time.Now())
			n := len(svc.audioTimes)
			hook := svc.afterAudioChunk
			svc.mu.Unlock()
			if hook != nil {
				hook(n, func(path, body string) { svc.sendText(path, requestID, body) })
			}
			return
		}
		svc.endOfAudio(func(path, body string) {
			svc.sendText(path, requestID, body)
		}, func(path string, payload []byte) {
			svc.sendBinary(path, requestID, payload)
		})
	case pathTelemetry:
	}
}

// serviceSocket adapts the fake service to the Socket interface.
type serviceSocket struct {
	svc *fakeService
}

func (s *serviceSocket) ReadFrame(ctx context.Context) (*message.Raw, error) {
	select {
	case raw := <-s.svc.inbound:
		return raw, nil
	case <-s.svc.closed:
		return nil, &connection.CloseError{Code: 1000, Reason: "service closed"}
	case <-ctx.Done():
		return nil, &connection.CloseError{Code: 1006, Reason: ctx.Err().Error()}
	}
}

func (s *serviceSocket) WriteFrame(_ context.Context, frame *message.Raw) error {
	select {
	case <-s.svc.closed:
		return &connection.CloseError{Code: 1000, Reason: "service closed"}
	default:
	}
	m, err := message.Decode(frame)
	if err != nil {
		return err
	}
	s.svc.handle(m)
	return nil
}

func (s *serviceSocket) Close(string) error {
	s.svc.close()
	return nil
}

// scriptedDialer yields one outcome per dial attempt: either a handshake
// failure with the given status or a socket into the fake service.
type scriptedDialer struct {
	mu       sync.Mutex
	outcomes []dialOutcome
	dials    int
}

type dialOutcome struct {
	failStatus int
	svc        *fakeService
}

func (d *scriptedDialer) dial(_ context.Context, _ string, _ http.Header) (connection.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dials >= len(d.outcomes) {
		return nil, &connection.DialError{StatusCode: 500, Err: errors.New("no scripted outcome left")}
	}
	outcome := d.outcomes[d.dials]
	d.dials++
	if outcome.failStatus != 0 {
		return nil, &connection.DialError{StatusCode: outcome.failStatus, Err: errors.New("handshake rejected")}
	}
	return &serviceSocket{svc: outcome.svc}, nil
}

func (d *scriptedDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// countingAuth is an in-memory credential provider tracking fetch calls.
type countingAuth struct {
	fetches  atomic.Int64
	expiries atomic.Int64
	fetchErr error
}

func (a *countingAuth) Fetch(context.Context, string) *async.Promise[auth.Info] {
	a.fetches.Add(1)
	if a.fetchErr != nil {
		return async.FromError[auth.Info](a.fetchErr)
	}
	return async.FromResult(auth.Info{HeaderName: auth.AuthorizationHeader, Token: "Bearer live-token"})
}

func (a *countingAuth) FetchOnExpiry(context.Context, string) *async.Promise[auth.Info] {
	a.expiries.Add(1)
	return async.FromResult(auth.Info{HeaderName: auth.AuthorizationHeader, Token: "Bearer fresh-token"})
}

func audioSource(t *testing.T, pcmBytes int, opts ...audio.ReaderOption) *audio.ReaderSource {
	t.Helper()
	src, err := audio.NewReaderSource(bytes.NewReader(make([]byte, pcmBytes)), opts...)
	if err != nil {
		t.Fatalf("NewReaderSource: %v", err)
	}
	return src
}

func speechRecognizer(t *testing.T, dialer *scriptedDialer, src audio.Source, cfg Config, opts ...Option) *SpeechRecognizer {
	t.Helper()
	provider := &countingAuth{}
	sr, err := NewSpeechRecognizer(provider, &WebSocketFactory{Dialer: dialer.dial}, src, cfg, opts...)
	if err != nil {
		t.Fatalf("NewSpeechRecognizer: %v", err)
	}
	t.Cleanup(sr.Close)
	return sr
}

// ── Tests ──

func TestSpeechRecognizer_RecognizeTurn(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	dialer := &scriptedDialer{outcomes: []dialOutcome{{svc: svc}}}
	sr := speechRecognizer(t, dialer, audioSource(t, 3200), Config{Region: "westus"})

	var mu sync.Mutex
	var interim, finals []SpeechResult
	var started, stopped []SessionInfo
	var boundaries []Boundary
	sr.OnRecognizing(func(r SpeechResult) { mu.Lock(); interim = append(interim, r); mu.Unlock() })
	sr.OnRecognized(func(r SpeechResult) { mu.Lock(); finals = append(finals, r); mu.Unlock() })
	sr.OnSessionStarted(func(s SessionInfo) { mu.Lock(); started = append(started, s); mu.Unlock() })
	sr.OnSessionStopped(func(s SessionInfo) { mu.Lock(); stopped = append(stopped, s); mu.Unlock() })
	sr.OnSpeechStartDetected(func(b Boundary) { mu.Lock(); boundaries = append(boundaries, b); mu.Unlock() })

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v (%s), want success", result.Status, result.ErrorDetails)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(interim) != 1 {
		t.Fatalf("interim results = %+v", interim)
	}
	if interim[0].Text != "hello wor" || interim[0].Reason != ReasonRecognizingSpeech {
		t.Errorf("interim result = %+v", interim[0])
	}
	if len(finals) != 1 {
		t.Fatalf("final results = %+v", finals)
	}
	if finals[0].Text != "hello world." {
		t.Errorf("final text = %q", finals[0].Text)
	}
	if finals[0].Reason != ReasonRecognizedSpeech {
		t.Errorf("final reason = %v", finals[0].Reason)
	}
	if finals[0].Offset != 100*time.Millisecond {
		t.Errorf("offset = %v, want 100ms", finals[0].Offset)
	}
	if len(started) != 1 {
		t.Fatalf("session started = %+v", started)
	}
	if len(started[0].SessionID) != 32 {
		t.Errorf("session id = %q", started[0].SessionID)
	}
	if len(stopped) != 1 || stopped[0].SessionID != started[0].SessionID {
		t.Errorf("session stopped = %+v", stopped)
	}
	if len(boundaries) != 1 || boundaries[0].Offset != 100*time.Millisecond {
		t.Errorf("speech start boundaries = %+v", boundaries)
	}
	if got := svc.configSends(); got != 1 {
		t.Errorf("config frames = %d, want 1", got)
	}
}

func TestSpeechRecognizer_DetailedFormat(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	svc.endOfAudio = func(sendText func(path, body string), _ func(string, []byte)) {
		sendText("speech.phrase", `{"RecognitionStatus":"Success","Offset":0,"Duration":0,"NBest":[`+
			`{"Confidence":0.97,"Lexical":"hello world","ITN":"hello world","MaskedITN":"hello world","Display":"Hello, world."},`+
			`{"Confidence":0.41,"Lexical":"hollow world","ITN":"hollow world","MaskedITN":"hollow world","Display":"Hollow world."}]}`)
		sendText("turn.end", "{}")
	}
	dialer := &scriptedDialer{outcomes: []dialOutcome{{svc: svc}}}
	sr := speechRecognizer(t, dialer, audioSource(t, 3200), Config{Region: "westus", Format: FormatDetailed})

	var mu sync.Mutex
	var finals []SpeechResult
	sr.OnRecognized(func(r SpeechResult) { mu.Lock(); finals = append(finals, r); mu.Unlock() })

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v (%s)", result.Status, result.ErrorDetails)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(finals) != 1 {
		t.Fatalf("final results = %+v", finals)
	}
	if finals[0].Text != "Hello, world." {
		t.Errorf("text = %q, want the top alternative's display", finals[0].Text)
	}
	if len(finals[0].Alternatives) != 2 || finals[0].Alternatives[0].Confidence != 0.97 {
		t.Errorf("alternatives = %+v", finals[0].Alternatives)
	}
}

func TestSpeechRecognizer_NoMatchPhrase(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	svc.endOfAudio = func(sendText func(path, body string), _ func(string, []byte)) {
		sendText("speech.phrase", `{"RecognitionStatus":"InitialSilenceTimeout","DisplayText":"","Offset":0,"Duration":0}`)
		sendText("turn.end", "{}")
	}
	dialer := &scriptedDialer{outcomes: []dialOutcome{{svc: svc}}}
	sr := speechRecognizer(t, dialer, audioSource(t, 3200), Config{Region: "westus"})

	var mu sync.Mutex
	var finals []SpeechResult
	sr.OnRecognized(func(r SpeechResult) { mu.Lock(); finals = append(finals, r); mu.Unlock() })

	if _, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t)); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(finals) != 1 || finals[0].Reason != ReasonNoMatch {
		t.Errorf("final results = %+v, want one no-match", finals)
	}
}

func TestSpeechRecognizer_ServiceErrorFiresCanceled(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	svc.endOfAudio = func(sendText func(path, body string), _ func(string, []byte)) {
		sendText("speech.phrase", `{"RecognitionStatus":"Error","DisplayText":"","Offset":0,"Duration":0}`)
		sendText("turn.end", "{}")
	}
	dialer := &scriptedDialer{outcomes: []dialOutcome{{svc: svc}}}
	sr := speechRecognizer(t, dialer, audioSource(t, 3200), Config{Region: "westus"})

	var mu sync.Mutex
	var cancellations []Cancellation
	sr.OnCanceled(func(c Cancellation) { mu.Lock(); cancellations = append(cancellations, c); mu.Unlock() })

	if _, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t)); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(cancellations) != 1 {
		t.Fatalf("cancellations = %+v", cancellations)
	}
	if cancellations[0].Code != CancellationServiceError {
		t.Errorf("cancellation code = %v", cancellations[0].Code)
	}
}

func TestRecognizer_ReusesConnectionAcrossTurns(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	dialer := &scriptedDialer{outcomes: []dialOutcome{{svc: svc}}}
	sr := speechRecognizer(t, dialer, audioSource(t, 3200), Config{Region: "westus"})

	for turn := range 2 {
		result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
		if err != nil {
			t.Fatalf("turn %d: %v", turn, err)
		}
		if result.Status != StatusSuccess {
			t.Fatalf("turn %d status = %v (%s)", turn, result.Status, result.ErrorDetails)
		}
	}

	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want the second turn to reuse the connection", got)
	}
	if got := svc.configSends(); got != 1 {
		t.Errorf("config frames = %d, want once per connection", got)
	}
}

func TestRecognizer_RetriesOnceOn403(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	dialer := &scriptedDialer{outcomes: []dialOutcome{{failStatus: 403}, {svc: svc}}}
	provider := &countingAuth{}
	sr, err := NewSpeechRecognizer(provider, &WebSocketFactory{Dialer: dialer.dial}, audioSource(t, 3200), Config{Region: "westus"})
	if err != nil {
		t.Fatalf("NewSpeechRecognizer: %v", err)
	}
	t.Cleanup(sr.Close)

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v (%s), want success after the retry", result.Status, result.ErrorDetails)
	}
	if got := provider.expiries.Load(); got != 1 {
		t.Errorf("FetchOnExpiry calls = %d, want 1", got)
	}
	if got := dialer.dialCount(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

func TestRecognizer_UnauthorizedAfterFailedRetry(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{outcomes: []dialOutcome{{failStatus: 403}, {failStatus: 403}}}
	provider := &countingAuth{}
	sr, err := NewSpeechRecognizer(provider, &WebSocketFactory{Dialer: dialer.dial}, audioSource(t, 3200), Config{Region: "westus"})
	if err != nil {
		t.Fatalf("NewSpeechRecognizer: %v", err)
	}
	t.Cleanup(sr.Close)

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusUnAuthorized {
		t.Errorf("status = %v (%s), want unauthorized", result.Status, result.ErrorDetails)
	}
	if got := provider.expiries.Load(); got != 1 {
		t.Errorf("FetchOnExpiry calls = %d, want exactly one retry", got)
	}
}

func TestRecognizer_AuthFetchFailure(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{}
	provider := &countingAuth{fetchErr: errors.New("token endpoint down")}
	sr, err := NewSpeechRecognizer(provider, &WebSocketFactory{Dialer: dialer.dial}, audioSource(t, 3200), Config{Region: "westus"})
	if err != nil {
		t.Fatalf("NewSpeechRecognizer: %v", err)
	}
	t.Cleanup(sr.Close)

	var mu sync.Mutex
	var cancellations []Cancellation
	sr.OnCanceled(func(c Cancellation) { mu.Lock(); cancellations = append(cancellations, c); mu.Unlock() })

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusAuthTokenFetchError {
		t.Errorf("status = %v (%s)", result.Status, result.ErrorDetails)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(cancellations) != 1 || cancellations[0].Code != CancellationConnectionFailure {
		t.Errorf("cancellations = %+v", cancellations)
	}
}

func TestRecognizer_ConnectFailureStatus(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{outcomes: []dialOutcome{{failStatus: 503}}}
	sr := speechRecognizer(t, dialer, audioSource(t, 3200), Config{Region: "westus"})

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusConnectError {
		t.Errorf("status = %v (%s)", result.Status, result.ErrorDetails)
	}
}

func TestRecognizer_FailedTurnEmitsRecognitionEnded(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{outcomes: []dialOutcome{{failStatus: 503}}}
	sr := speechRecognizer(t, dialer, audioSource(t, 3200), Config{Region: "westus"})

	var mu sync.Mutex
	counts := make(map[events.Kind]int)
	if _, err := sr.Events().Attach(func(e events.Event) {
		mu.Lock()
		counts[e.Kind]++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusConnectError {
		t.Fatalf("status = %v (%s)", result.Status, result.ErrorDetails)
	}
	mu.Lock()
	defer mu.Unlock()
	if counts[events.KindRecognitionTriggered] != 1 || counts[events.KindRecognitionEnded] != 1 {
		t.Errorf("recognition events = %v, want a matched triggered/ended pair", counts)
	}
}

func TestRecognizer_RecognizeAfterClose(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{}
	sr := speechRecognizer(t, dialer, audioSource(t, 3200), Config{Region: "westus"})
	sr.Close()

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusUnknownError || result.ErrorDetails != "recognizer is closed" {
		t.Errorf("result = %+v", result)
	}
}

func TestRecognizer_PacesAudioUploads(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	dialer := &scriptedDialer{outcomes: []dialOutcome{{svc: svc}}}
	// Three 3200-byte chunks of 16 kHz 16-bit mono: 100 ms of audio each,
	// paced at twice realtime means 50 ms between sends.
	sr := speechRecognizer(t, dialer, audioSource(t, 9600, audio.WithChunkSize(3200)), Config{Region: "westus"})

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v (%s)", result.Status, result.ErrorDetails)
	}

	arrivals := svc.audioArrivals()
	if len(arrivals) != 3 {
		t.Fatalf("audio frames = %d, want 3", len(arrivals))
	}
	if elapsed := arrivals[2].Sub(arrivals[0]); elapsed < 80*time.Millisecond {
		t.Errorf("audio streamed in %v, want pacing to stretch it past 80ms", elapsed)
	}
}

func TestRecognizer_TelemetryFrame(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	dialer := &scriptedDialer{outcomes: []dialOutcome{{svc: svc}}}

	var mu sync.Mutex
	var payloads []string
	hook := WithTelemetryHook(func(_, payload string) {
		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()
	})
	sr := speechRecognizer(t, dialer, audioSource(t, 3200), Config{Region: "westus"}, hook)

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v (%s)", result.Status, result.ErrorDetails)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 1 {
		t.Fatalf("telemetry frames = %d, want 1", len(payloads))
	}
	var doc struct {
		ReceivedMessages map[string][]string `json:"ReceivedMessages"`
		Metrics          []telemetryMetric   `json:"Metrics"`
	}
	if err := json.Unmarshal([]byte(payloads[0]), &doc); err != nil {
		t.Fatalf("telemetry payload: %v", err)
	}
	if len(doc.ReceivedMessages["turn.start"]) != 1 {
		t.Errorf("ReceivedMessages = %v, want one turn.start timestamp", doc.ReceivedMessages)
	}
	var names []string
	for _, m := range doc.Metrics {
		names = append(names, m.Name)
	}
	for _, want := range []string{metricMicrophone, metricAuthTokenFetch, metricConnection} {
		found := false
		for _, name := range names {
			if name == want {
				found = true
			}
		}
		if !found {
			t.Errorf("metrics %v missing %s", names, want)
		}
	}
}

func TestRecognizer_ContinuousFlushesTelemetryPerPhrase(t *testing.T) {
	t.Parallel()
	svc := newFakeService(t)
	svc.endOfAudio = func(sendText func(path, body string), _ func(string, []byte)) {
		sendText("speech.phrase", `{"RecognitionStatus":"Success","DisplayText":"first phrase.","Offset":1000000,"Duration":4000000}`)
		sendText("speech.phrase", `{"RecognitionStatus":"Success","DisplayText":"second phrase.","Offset":6000000,"Duration":4000000}`)
		sendText("turn.end", "{}")
	}
	dialer := &scriptedDialer{outcomes: []dialOutcome{{svc: svc}}}

	var mu sync.Mutex
	var frames int
	hook := WithTelemetryHook(func(_, _ string) { mu.Lock(); frames++; mu.Unlock() })
	sr := speechRecognizer(t, dialer, audioSource(t, 3200), Config{Region: "westus", Continuous: true}, hook)

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
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

func TestRecognizer_EarlySpeechEndStopsUpload(t *testing.T) {
	t.Parallel()
	const chunks = 100
	svc := newFakeService(t)
	svc.afterAudioChunk = func(n int, sendText func(path, body string)) {
		if n != 1 {
			return
		}
		sendText("speech.enddetected", `{"Offset":2000000}`)
		sendText("speech.phrase", `{"RecognitionStatus":"Success","DisplayText":"brief.","Offset":1000000,"Duration":1000000}`)
		sendText("turn.end", "{}")
	}
	svc.endOfAudio = func(func(path, body string), func(string, []byte)) {
		t.Error("end-of-audio frame sent after the service already ended speech")
	}
	dialer := &scriptedDialer{outcomes: []dialOutcome{{svc: svc}}}
	sr := speechRecognizer(t, dialer, audioSource(t, chunks*3200), Config{Region: "westus"})

	var mu sync.Mutex
	var boundaries []Boundary
	sr.OnSpeechEndDetected(func(b Boundary) { mu.Lock(); boundaries = append(boundaries, b); mu.Unlock() })

	result, err := sr.Recognize(testCtx(t), "").Wait(testCtx(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %v (%s), want success despite unsent audio", result.Status, result.ErrorDetails)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(boundaries) != 1 || boundaries[0].Offset != 200*time.Millisecond {
		t.Errorf("speech end boundaries = %+v", boundaries)
	}
	if got := len(svc.audioArrivals()); got >= chunks {
		t.Errorf("audio chunks uploaded = %d, want the stream cut short", got)
	}
}

func TestNewSpeechRecognizer_Validation(t *testing.T) {
	t.Parallel()
	src := audioSource(t, 0)
	factory := &WebSocketFactory{}
	provider := &countingAuth{}

	if _, err := NewSpeechRecognizer(nil, factory, src, Config{Region: "westus"}); err == nil {
		t.Error("nil auth provider should fail")
	}
	if _, err := NewSpeechRecognizer(provider, nil, src, Config{Region: "westus"}); err == nil {
		t.Error("nil factory should fail")
	}
	if _, err := NewSpeechRecognizer(provider, factory, nil, Config{Region: "westus"}); err == nil {
		t.Error("nil audio source should fail")
	}
	if _, err := NewSpeechRecognizer(provider, factory, src, Config{}); err == nil {
		t.Error("config without region or endpoint should fail")
	}
}
