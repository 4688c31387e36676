package message

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Wire framing. This is a closed format spoken by a fixed remote service and
// must byte-match it:
//
//	text frame:    "Name: Value\r\n"... "\r\n" body
//	binary frame:  [0..2) big-endian uint16 header length L
//	               [2..2+L) header lines as in the text frame
//	               [2+L..) payload (may be empty)
//
// Header names are lower-cased on decode. The 2-byte length prefix is
// big-endian (network order) in both directions.

const (
	headerSeparator = ": "
	lineSeparator   = "\r\n"
)

// Encode converts a ConnectionMessage into its wire representation.
func Encode(m *ConnectionMessage) (*Raw, error) {
	if m == nil {
		return nil, fmt.Errorf("message: encode: nil message")
	}

	var headerBlock strings.Builder
	for name, value := range m.Headers() {
		headerBlock.WriteString(name)
		headerBlock.WriteString(headerSeparator)
		headerBlock.WriteString(value)
		headerBlock.WriteString(lineSeparator)
	}

	switch m.Type() {
	case Text:
		return NewRawText(headerBlock.String() + lineSeparator + m.TextBody()), nil
	case Binary:
		headerBytes := []byte(headerBlock.String())
		if len(headerBytes) > 0xffff {
			return nil, fmt.Errorf("message: encode: header block of %d bytes exceeds the 16-bit length prefix", len(headerBytes))
		}
		body := m.BinaryBody()
		frame := make([]byte, 2+len(headerBytes)+len(body))
		binary.BigEndian.PutUint16(frame[0:2], uint16(len(headerBytes)))
		copy(frame[2:], headerBytes)
		copy(frame[2+len(headerBytes):], body)
		return NewRawBinary(frame), nil
	default:
		return nil, fmt.Errorf("message: encode: unknown message type %d", m.Type())
	}
}

// Decode converts a wire frame into a ConnectionMessage.
func Decode(r *Raw) (*ConnectionMessage, error) {
	if r == nil {
		return nil, fmt.Errorf("message: decode: nil frame")
	}

	switch r.Type() {
	case Text:
		payload := r.Text()
		headerText := payload
		body := ""
		if idx := strings.Index(payload, lineSeparator+lineSeparator); idx >= 0 {
			headerText = payload[:idx]
			body = payload[idx+len(lineSeparator+lineSeparator):]
		}
		return NewText(parseHeaders(headerText), body), nil

	case Binary:
		payload := r.Binary()
		if len(payload) < 2 {
			return nil, fmt.Errorf("message: decode: binary frame of %d bytes is too short for the length prefix", len(payload))
		}
		headerLen := int(binary.BigEndian.Uint16(payload[0:2]))
		if len(payload) < 2+headerLen {
			return nil, fmt.Errorf("message: decode: header length %d exceeds frame size %d", headerLen, len(payload))
		}
		headers := parseHeaders(string(payload[2 : 2+headerLen]))
		var body []byte
		if len(payload) > 2+headerLen {
			body = payload[2+headerLen:]
		}
		return NewBinary(headers, body), nil

	default:
		return nil, fmt.Errorf("message: decode: unknown frame type %d", r.Type())
	}
}

// parseHeaders splits "Name: Value" lines. Names are lower-cased; malformed
// lines without a separator are skipped.
func parseHeaders(headerText string) map[string]string {
	headers := make(map[string]string)
	for _, line := range strings.Split(headerText, lineSeparator) {
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return headers
}
