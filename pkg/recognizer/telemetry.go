package recognizer

import (
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/cadenhq/speechwire/pkg/events"
)

// telemetryMetric is one phase entry of the per-session telemetry frame.
type telemetryMetric struct {
	Name  string `json:"Name,omitempty"`
	ID    string `json:"Id,omitempty"`
	Start string `json:"Start,omitempty"`
	End   string `json:"End,omitempty"`
	Error string `json:"Error,omitempty"`
}

const (
	metricMicrophone       = "Microphone"
	metricConnection       = "Connection"
	metricAuthTokenFetch   = "AuthTokenFetch"
	metricListeningTrigger = "ListeningTrigger"
)

// telemetryRecorder accumulates diagnostic events into the JSON document
// sent on the telemetry path once the session completes.
type telemetryRecorder struct {
	mu       sync.Mutex
	received map[string][]string
	metrics  []telemetryMetric
	open     map[string]int
}

func newTelemetryRecorder() *telemetryRecorder {
	return &telemetryRecorder{
		received: make(map[string][]string),
		open:     make(map[string]int),
	}
}

func telemetryTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func (t *telemetryRecorder) phaseStart(name, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = append(t.metrics, telemetryMetric{Name: name, ID: id, Start: telemetryTimestamp()})
	t.open[name] = len(t.metrics) - 1
}

func (t *telemetryRecorder) phaseEnd(name, errText string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.open[name]
	if !ok {
		t.metrics = append(t.metrics, telemetryMetric{Name: name, End: telemetryTimestamp(), Error: errText})
		return
	}
	delete(t.open, name)
	t.metrics[i].End = telemetryTimestamp()
	t.metrics[i].Error = errText
}

func (t *telemetryRecorder) messageReceived(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received[path] = append(t.received[path], telemetryTimestamp())
}

// listener folds connection and audio diagnostics into the recorder.
func (t *telemetryRecorder) listener(e events.Event) {
	switch e.Kind {
	case events.KindAudioNodeAttaching:
		t.phaseStart(metricMicrophone, "")
	case events.KindAudioNodeAttached:
		t.phaseEnd(metricMicrophone, "")
	case events.KindAudioNodeError:
		t.phaseEnd(metricMicrophone, e.Error)
	case events.KindConnectionStart:
		t.phaseStart(metricConnection, e.ConnectionID)
	case events.KindConnectionEstablished:
		t.phaseEnd(metricConnection, "")
	case events.KindConnectionFailed:
		t.phaseEnd(metricConnection, e.Reason)
	case events.KindListeningStarted:
		t.phaseStart(metricListeningTrigger, "")
	case events.KindMessageReceived:
		if e.Path != "" {
			t.messageReceived(e.Path)
		}
	}
}

func (t *telemetryRecorder) serialize() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc := struct {
		ReceivedMessages map[string][]string `json:"ReceivedMessages"`
		Metrics          []telemetryMetric   `json:"Metrics"`
	}{
		ReceivedMessages: t.received,
		Metrics:          t.metrics,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return `{"ReceivedMessages":{},"Metrics":[]}`
	}
	return string(b)
}
