package recognizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/cadenhq/speechwire/pkg/message"
)

// Header names of the speech protocol layer on top of the generic
// connection message envelope.
const (
	headerPath        = "path"
	headerRequestID   = "x-requestid"
	headerTimestamp   = "x-timestamp"
	headerContentType = "content-type"
)

const contentTypeJSON = "application/json"

// servicePath is the closed set of message routes the service is known to
// emit. Unknown paths decode to pathUnknown and are logged and dropped at
// the dispatch boundary.
type servicePath int

const (
	pathUnknown servicePath = iota
	pathTurnStart
	pathTurnEnd
	pathSpeechStartDetected
	pathSpeechEndDetected
	pathSpeechHypothesis
	pathSpeechFragment
	pathSpeechPhrase
	pathTranslationHypothesis
	pathTranslationPhrase
	pathTranslationSynthesis
	pathTranslationSynthesisEnd
	pathResponse
)

func parseServicePath(raw string) servicePath {
	switch strings.ToLower(raw) {
	case "turn.start":
		return pathTurnStart
	case "turn.end":
		return pathTurnEnd
	case "speech.startdetected":
		return pathSpeechStartDetected
	case "speech.enddetected":
		return pathSpeechEndDetected
	case "speech.hypothesis":
		return pathSpeechHypothesis
	case "speech.fragment":
		return pathSpeechFragment
	case "speech.phrase":
		return pathSpeechPhrase
	case "translation.hypothesis":
		return pathTranslationHypothesis
	case "translation.phrase":
		return pathTranslationPhrase
	case "translation.synthesis":
		return pathTranslationSynthesis
	case "translation.synthesis.end":
		return pathTranslationSynthesisEnd
	case "response":
		return pathResponse
	}
	return pathUnknown
}

// SpeechMessage is a connection message with the speech protocol headers
// pulled out and validated.
type SpeechMessage struct {
	msg *message.ConnectionMessage

	Path        string
	RequestID   string
	ContentType string

	route servicePath
}

// ParseSpeechMessage validates the protocol headers of an inbound frame.
// A frame without a path or a request id is malformed and rejected.
func ParseSpeechMessage(m *message.ConnectionMessage) (*SpeechMessage, error) {
	path := m.Header(headerPath)
	if path == "" {
		return nil, fmt.Errorf("recognizer: message %s has no path header", m.ID())
	}
	requestID := m.Header(headerRequestID)
	if requestID == "" {
		return nil, fmt.Errorf("recognizer: message %s (%s) has no request id header", m.ID(), path)
	}
	return &SpeechMessage{
		msg:         m,
		Path:        path,
		RequestID:   requestID,
		ContentType: m.Header(headerContentType),
		route:       parseServicePath(path),
	}, nil
}

func (m *SpeechMessage) TextBody() string   { return m.msg.TextBody() }
func (m *SpeechMessage) BinaryBody() []byte { return m.msg.BinaryBody() }
func (m *SpeechMessage) Type() message.Type { return m.msg.Type() }

func protocolTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// newSpeechTextMessage builds an outbound JSON frame with the standard
// protocol headers stamped on.
func newSpeechTextMessage(path, requestID, body string) *message.ConnectionMessage {
	return message.NewText(map[string]string{
		headerPath:        path,
		headerRequestID:   requestID,
		headerTimestamp:   protocolTimestamp(),
		headerContentType: contentTypeJSON,
	}, body)
}

// newSpeechBinaryMessage builds an outbound audio frame. A nil body is
// valid and marks the end of the audio stream.
func newSpeechBinaryMessage(path, requestID string, body []byte) *message.ConnectionMessage {
	return message.NewBinary(map[string]string{
		headerPath:      path,
		headerRequestID: requestID,
		headerTimestamp: protocolTimestamp(),
	}, body)
}
