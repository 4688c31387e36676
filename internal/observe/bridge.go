package observe

import (
	"context"
	"sync"
	"time"

	"github.com/cadenhq/speechwire/pkg/events"
)

// Bridge translates SDK diagnostic events into metric instruments. Attach
// its Listen method to the event sources of connections, audio sources and
// recognizers.
type Bridge struct {
	metrics *Metrics

	mu            sync.Mutex
	connectStarts map[string]time.Time
	turnStarts    map[string]time.Time
}

// NewBridge creates a bridge recording into the given metrics. A nil
// metrics argument uses [DefaultMetrics].
func NewBridge(m *Metrics) *Bridge {
	if m == nil {
		m = DefaultMetrics()
	}
	return &Bridge{
		metrics:       m,
		connectStarts: make(map[string]time.Time),
		turnStarts:    make(map[string]time.Time),
	}
}

// Listen is an [events.Listener]; it maps each diagnostic event onto the
// matching instrument.
func (b *Bridge) Listen(e events.Event) {
	ctx := context.Background()
	switch e.Kind {
	case events.KindConnectionStart:
		b.mu.Lock()
		b.connectStarts[e.ConnectionID] = e.Time
		b.mu.Unlock()
	case events.KindConnectionEstablished:
		if d, ok := b.take(b.connectStarts, e.ConnectionID, e.Time); ok {
			b.metrics.ConnectDuration.Record(ctx, d.Seconds())
		}
		b.metrics.ActiveConnections.Add(ctx, 1)
	case events.KindConnectionFailed:
		b.take(b.connectStarts, e.ConnectionID, e.Time)
		b.metrics.RecordConnectionFailure(ctx, e.Reason)
	case events.KindConnectionClosed:
		b.metrics.ActiveConnections.Add(ctx, -1)
	case events.KindMessageSent:
		b.metrics.RecordFrameSent(ctx, e.Path)
	case events.KindMessageReceived:
		b.metrics.RecordFrameReceived(ctx, e.Path)
	case events.KindAudioSourceError, events.KindAudioNodeError:
		b.metrics.AudioSourceErrors.Add(ctx, 1)
	case events.KindRecognitionTriggered:
		b.mu.Lock()
		b.turnStarts[e.RequestID] = e.Time
		b.mu.Unlock()
		b.metrics.ActiveSessions.Add(ctx, 1)
	case events.KindRecognitionEnded:
		if d, ok := b.take(b.turnStarts, e.RequestID, e.Time); ok {
			b.metrics.TurnDuration.Record(ctx, d.Seconds())
		}
		b.metrics.ActiveSessions.Add(ctx, -1)
	}
}

// take removes the recorded start for key and returns the elapsed time.
func (b *Bridge) take(starts map[string]time.Time, key string, end time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start, ok := starts[key]
	if !ok {
		return 0, false
	}
	delete(starts, key)
	return end.Sub(start), true
}
