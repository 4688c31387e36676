package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/cadenhq/speechwire/pkg/message"
)

// Socket is the minimal duplex frame transport a Connection drives. The
// production implementation wraps coder/websocket; tests substitute an
// in-memory pipe.
type Socket interface {
	// ReadFrame blocks until the next inbound frame arrives. It returns a
	// *CloseError (possibly wrapped) once the peer or the local side closes
	// the socket.
	ReadFrame(ctx context.Context) (*message.Raw, error)

	// WriteFrame transmits one frame.
	WriteFrame(ctx context.Context, frame *message.Raw) error

	// Close tears the socket down with a normal closure.
	Close(reason string) error
}

// Dialer establishes a Socket. A failed dial should return a *DialError so
// the connection can surface the HTTP-style status to its caller.
type Dialer func(ctx context.Context, uri string, headers http.Header) (Socket, error)

// DialError reports a failed connection attempt with the HTTP status of the
// handshake response, when one was received.
type DialError struct {
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("connection: dial failed (status %d): %v", e.StatusCode, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// CloseError reports a socket closure with the close code and reason.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection: closed (code %d): %s", e.Code, e.Reason)
}

// WebSocketDialer returns the production Dialer backed by coder/websocket.
func WebSocketDialer() Dialer {
	return func(ctx context.Context, uri string, headers http.Header) (Socket, error) {
		conn, resp, err := websocket.Dial(ctx, uri, &websocket.DialOptions{
			HTTPHeader: headers,
		})
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			return nil, &DialError{StatusCode: status, Err: err}
		}
		// Synthesis audio frames can be large; lift the default read limit.
		conn.SetReadLimit(1 << 24)
		return &wsSocket{conn: conn}, nil
	}
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) ReadFrame(ctx context.Context) (*message.Raw, error) {
	messageType, data, err := s.conn.Read(ctx)
	if err != nil {
		return nil, closeErrorFrom(err)
	}
	if messageType == websocket.MessageBinary {
		return message.NewRawBinary(data), nil
	}
	return message.NewRawText(string(data)), nil
}

func (s *wsSocket) WriteFrame(ctx context.Context, frame *message.Raw) error {
	if frame.Type() == message.Binary {
		return s.conn.Write(ctx, websocket.MessageBinary, frame.Binary())
	}
	return s.conn.Write(ctx, websocket.MessageText, []byte(frame.Text()))
}

func (s *wsSocket) Close(reason string) error {
	return s.conn.Close(websocket.StatusNormalClosure, reason)
}

// closeErrorFrom maps a websocket read error onto a CloseError, defaulting
// to the abnormal-closure code when the peer vanished without a close frame.
func closeErrorFrom(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: int(ce.Code), Reason: ce.Reason}
	}
	return &CloseError{Code: int(websocket.StatusAbnormalClosure), Reason: err.Error()}
}
