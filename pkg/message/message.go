// Package message defines the abstract connection message envelope and the
// framing codec that converts it to and from the service's wire format.
package message

import (
	"github.com/google/uuid"
)

// Type discriminates text frames from binary frames.
type Type int

const (
	// Text frames carry UTF-8 header lines and an optional string body.
	Text Type = iota

	// Binary frames carry a length-prefixed header block and a byte payload.
	Binary
)

func (t Type) String() string {
	if t == Binary {
		return "binary"
	}
	return "text"
}

// ConnectionMessage is the abstract envelope exchanged over a connection:
// a header map plus a text or binary body, matching the message type.
//
// Accessing TextBody on a binary message (or BinaryBody on a text message)
// is a programming error and panics.
type ConnectionMessage struct {
	messageType Type
	headers     map[string]string
	textBody    string
	binaryBody  []byte
	id          string
}

// NewText creates a text message. headers may be nil.
func NewText(headers map[string]string, body string) *ConnectionMessage {
	return &ConnectionMessage{
		messageType: Text,
		headers:     cloneHeaders(headers),
		textBody:    body,
		id:          uuid.NewString(),
	}
}

// NewBinary creates a binary message. headers may be nil; body may be empty
// (an empty payload is meaningful on the wire — it marks end of audio).
func NewBinary(headers map[string]string, body []byte) *ConnectionMessage {
	return &ConnectionMessage{
		messageType: Binary,
		headers:     cloneHeaders(headers),
		binaryBody:  body,
		id:          uuid.NewString(),
	}
}

// Type returns the message type.
func (m *ConnectionMessage) Type() Type { return m.messageType }

// ID returns the opaque correlation token assigned at construction.
func (m *ConnectionMessage) ID() string { return m.id }

// Headers returns the header map. Callers must not mutate it.
func (m *ConnectionMessage) Headers() map[string]string { return m.headers }

// Header returns the named header, or "" when absent.
func (m *ConnectionMessage) Header(name string) string { return m.headers[name] }

// TextBody returns the string body. Panics on a binary message.
func (m *ConnectionMessage) TextBody() string {
	if m.messageType != Text {
		panic("message: text body requested on a binary message")
	}
	return m.textBody
}

// BinaryBody returns the byte payload. Panics on a text message.
func (m *ConnectionMessage) BinaryBody() []byte {
	if m.messageType != Binary {
		panic("message: binary body requested on a text message")
	}
	return m.binaryBody
}

func cloneHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}

// Raw is the wire-level counterpart of ConnectionMessage: a frame as read
// from or written to the socket, with no structured headers. Only the codec
// produces and consumes it.
type Raw struct {
	messageType Type
	text        string
	binary      []byte
	id          string
}

// NewRawText wraps a text frame payload.
func NewRawText(payload string) *Raw {
	return &Raw{messageType: Text, text: payload, id: uuid.NewString()}
}

// NewRawBinary wraps a binary frame payload.
func NewRawBinary(payload []byte) *Raw {
	return &Raw{messageType: Binary, binary: payload, id: uuid.NewString()}
}

// Type returns the frame type.
func (r *Raw) Type() Type { return r.messageType }

// ID returns the frame's correlation token.
func (r *Raw) ID() string { return r.id }

// Text returns the text payload. Panics on a binary frame.
func (r *Raw) Text() string {
	if r.messageType != Text {
		panic("message: text payload requested on a binary frame")
	}
	return r.text
}

// Binary returns the byte payload. Panics on a text frame.
func (r *Raw) Binary() []byte {
	if r.messageType != Binary {
		panic("message: binary payload requested on a text frame")
	}
	return r.binary
}
