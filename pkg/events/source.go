package events

import (
	"errors"
	"sync"
)

// ErrSourceDisposed is returned when a disposed Source is used.
var ErrSourceDisposed = errors.New("events: source is disposed")

// Listener receives events published on a Source.
type Listener func(Event)

// Source is a synchronous publish/subscribe event source. Listeners are
// invoked in attach order on the publishing goroutine, with no isolation: a
// listener panic aborts delivery to later listeners. That matches the
// behaviour the telemetry recorders were written against; listeners are
// expected not to fail.
type Source struct {
	mu        sync.Mutex
	metadata  map[string]string
	listeners map[int]Listener
	order     []int
	nextID    int
	disposed  bool
}

// NewSource creates a source. metadata (may be nil) is stamped onto every
// published event's blank metadata fields.
func NewSource(metadata map[string]string) *Source {
	return &Source{
		metadata:  metadata,
		listeners: make(map[int]Listener),
	}
}

// Attach registers a listener and returns its detach handle.
func (s *Source) Attach(listener Listener) (detach func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrSourceDisposed
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.order = append(s.order, id)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}, nil
}

// OnEvent stamps the event's blank metadata fields with the source's own
// metadata and delivers it to every attached listener, in attach order.
func (s *Source) OnEvent(event Event) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrSourceDisposed
	}
	if len(s.metadata) > 0 {
		if event.Metadata == nil {
			event.Metadata = make(map[string]string, len(s.metadata))
		}
		for key, value := range s.metadata {
			if _, present := event.Metadata[key]; !present {
				event.Metadata[key] = value
			}
		}
	}
	listeners := make([]Listener, 0, len(s.listeners))
	for _, id := range s.order {
		if l, ok := s.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(event)
	}
	return nil
}

// IsDisposed reports whether the source has been disposed.
func (s *Source) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose poisons the source: further Attach and OnEvent calls fail.
func (s *Source) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.listeners = nil
	s.order = nil
}
