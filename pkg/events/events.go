// Package events provides the typed publish/subscribe bus used for
// diagnostics and internal protocol signaling (session lifecycle, connection
// lifecycle, audio source lifecycle).
//
// There is deliberately no process-wide default source: layers that emit
// events receive a *Source through their constructor, and callers that want
// ambient fan-out attach one listener that forwards wherever they like.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags an event variant. The envelope is shared; Kind tells a consumer
// which payload fields are meaningful.
type Kind string

const (
	// Connection lifecycle.
	KindConnectionStart       Kind = "ConnectionStart"
	KindConnectionEstablished Kind = "ConnectionEstablished"
	KindConnectionFailed      Kind = "ConnectionEstablishError"
	KindConnectionClosed      Kind = "ConnectionClosed"
	KindMessageSent           Kind = "ConnectionMessageSent"
	KindMessageReceived       Kind = "ConnectionMessageReceived"

	// Audio source lifecycle.
	KindAudioSourceInitializing Kind = "AudioSourceInitializing"
	KindAudioSourceReady        Kind = "AudioSourceReady"
	KindAudioSourceOff          Kind = "AudioSourceOff"
	KindAudioSourceError        Kind = "AudioSourceError"
	KindAudioNodeAttaching      Kind = "AudioStreamNodeAttaching"
	KindAudioNodeAttached       Kind = "AudioStreamNodeAttached"
	KindAudioNodeDetached       Kind = "AudioStreamNodeDetached"
	KindAudioNodeError          Kind = "AudioStreamNodeError"

	// Recognition lifecycle.
	KindRecognitionTriggered Kind = "RecognitionTriggered"
	KindListeningStarted     Kind = "ListeningStarted"
	KindConnectingToService  Kind = "ConnectingToService"
	KindRecognitionStarted   Kind = "RecognitionStarted"
	KindRecognitionEnded     Kind = "RecognitionEnded"
)

// Level classifies event severity for diagnostics consumers.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// Event is the common envelope for every bus event. Variant-specific data
// rides in the typed payload fields; unused fields are zero.
type Event struct {
	Kind  Kind
	ID    string
	Time  time.Time
	Level Level

	// Correlation ids, filled where known.
	SessionID    string
	ConnectionID string
	RequestID    string
	AudioNodeID  string

	// Variant payload.
	Path       string // message path for sent/received frames
	StatusCode int    // connect/close status
	Reason     string // close or failure reason
	Error      string // error detail for *Error kinds

	// Metadata carries free-form source annotations. Blank fields are
	// stamped from the emitting Source's own metadata.
	Metadata map[string]string
}

// New creates an event envelope with a fresh id and the current time.
func New(kind Kind, level Level) Event {
	return Event{
		Kind:  kind,
		ID:    NoDashUUID(),
		Time:  time.Now().UTC(),
		Level: level,
	}
}

// NoDashUUID returns a random UUID without dashes, the correlation-token
// format the speech service expects.
func NoDashUUID() string {
	u := uuid.New()
	buf := make([]byte, 0, 32)
	for _, b := range u {
		const hex = "0123456789ABCDEF"
		buf = append(buf, hex[b>>4], hex[b&0x0f])
	}
	return string(buf)
}
