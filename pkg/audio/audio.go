// Package audio defines the narrow interfaces through which the recognizer
// consumes audio capture backends, plus a ready-made Source that streams PCM
// from any io.Reader (a WAV file, a pipe, a network stream).
//
// Audio encoding itself is out of scope here: chunks are raw PCM bytes in
// the Format the source advertises.
package audio

import (
	"github.com/cadenhq/speechwire/pkg/async"
	"github.com/cadenhq/speechwire/pkg/events"
)

// Format describes the PCM layout of the audio a Source produces.
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// DefaultFormat is 16 kHz 16-bit mono, the format the service expects.
var DefaultFormat = Format{SampleRate: 16000, BitsPerSample: 16, Channels: 1}

// AvgBytesPerSec returns the byte rate of the format. The audio upload loop
// uses it to pace transmission at no more than twice realtime.
func (f Format) AvgBytesPerSec() int {
	return f.SampleRate * f.BitsPerSample / 8 * f.Channels
}

// StreamChunk is one read from a stream node. IsEnd marks end of stream; an
// end chunk carries no buffer.
type StreamChunk struct {
	Buffer []byte
	IsEnd  bool
}

// StreamNode is one attached consumer of a Source's audio.
type StreamNode interface {
	// ID returns the audio node correlation id the node was attached under.
	ID() string

	// Read returns a promise for the next chunk. After the final data chunk
	// it resolves a chunk with IsEnd set; reads on a detached node reject.
	Read() *async.Promise[StreamChunk]

	// Detach releases the node. Pending and subsequent reads reject.
	Detach()
}

// Source is an audio capture backend.
type Source interface {
	// ID returns the source's stable correlation id.
	ID() string

	// TurnOn prepares the backend for capture.
	TurnOn() *async.Promise[bool]

	// Attach registers a consumer under the given audio node id.
	Attach(audioNodeID string) *async.Promise[StreamNode]

	// Detach releases the consumer registered under the given id.
	Detach(audioNodeID string)

	// TurnOff releases the backend.
	TurnOff() *async.Promise[bool]

	// Format reports the PCM layout of produced chunks.
	Format() Format

	// Events is the source's diagnostic event source; session telemetry
	// recorders attach here.
	Events() *events.Source
}
