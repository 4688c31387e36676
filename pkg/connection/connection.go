// Package connection owns one socket to the speech service and the explicit
// connection state machine around it. Outbound sends are serialized through a
// FIFO send queue (one in-flight frame at a time, so frame boundaries on the
// wire never interleave); inbound frames are decoded and fanned into a FIFO
// receive queue that readers drain at their own pace.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/cadenhq/speechwire/pkg/async"
	"github.com/cadenhq/speechwire/pkg/events"
	"github.com/cadenhq/speechwire/pkg/message"
)

// State is the connection lifecycle state. It moves monotonically
// None → Connecting → Connected → Disconnected; a disconnected connection is
// never reused — callers construct a new one.
type State int

const (
	StateNone State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// OpenResponse is the HTTP-style outcome of an Open attempt. A mid-handshake
// close resolves (not rejects) with the close code here, so callers can tell
// "never connected" apart from a transport fault.
type OpenResponse struct {
	StatusCode int
	Reason     string
}

type sendItem struct {
	msg    *message.ConnectionMessage
	status *async.Deferred[bool]
}

// Connection is one socket to the service plus its send/receive queues and
// event source. Create one per connection attempt via New; a Connection that
// has reached StateDisconnected is spent.
type Connection struct {
	id      string
	uri     string
	headers http.Header
	dial    Dialer
	events  *events.Source

	mu           sync.Mutex
	state        State
	socket       Socket
	openDeferred *async.Deferred[OpenResponse]

	sendQueue    *async.Queue[*sendItem]
	receiveQueue *async.Queue[*message.ConnectionMessage]

	pumpCtx    context.Context
	pumpCancel context.CancelFunc
}

// Option configures a Connection.
type Option func(*Connection)

// WithDialer overrides the socket dialer. Tests use this to run against an
// in-memory transport.
func WithDialer(d Dialer) Option {
	return func(c *Connection) { c.dial = d }
}

// New creates a connection to uri, identified by connectionID for
// correlation. headers are sent with the websocket handshake (auth token,
// connection id).
func New(uri string, headers http.Header, connectionID string, opts ...Option) *Connection {
	if connectionID == "" {
		connectionID = events.NoDashUUID()
	}
	c := &Connection{
		id:           connectionID,
		uri:          uri,
		headers:      headers,
		dial:         WebSocketDialer(),
		events:       events.NewSource(map[string]string{"connectionId": connectionID}),
		state:        StateNone,
		sendQueue:    async.NewQueue[*sendItem](),
		receiveQueue: async.NewQueue[*message.ConnectionMessage](),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ID returns the connection correlation id.
func (c *Connection) ID() string { return c.id }

// Events returns the connection's event source. The session telemetry
// recorder attaches here.
func (c *Connection) Events() *events.Source { return c.events }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open starts (or joins) the connection attempt. Concurrent opens share one
// pending promise. Opening a disconnected connection rejects immediately.
func (c *Connection) Open(ctx context.Context) *async.Promise[OpenResponse] {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return async.FromError[OpenResponse](fmt.Errorf("connection %s: cannot open a disconnected connection", c.id))
	case StateConnecting, StateConnected:
		p := c.openDeferred.Promise()
		c.mu.Unlock()
		return p
	}
	c.state = StateConnecting
	c.openDeferred = async.NewDeferred[OpenResponse]()
	c.pumpCtx, c.pumpCancel = context.WithCancel(context.WithoutCancel(ctx))
	openDeferred := c.openDeferred
	c.mu.Unlock()

	c.emit(events.New(events.KindConnectionStart, events.LevelInfo), func(e *events.Event) {
		e.ConnectionID = c.id
	})

	go c.connect(ctx, openDeferred)
	return openDeferred.Promise()
}

func (c *Connection) connect(ctx context.Context, openDeferred *async.Deferred[OpenResponse]) {
	socket, err := c.dial(ctx, c.uri, c.headers)
	if err != nil {
		status, reason := connectFailure(err)
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()

		c.emit(events.New(events.KindConnectionFailed, events.LevelError), func(e *events.Event) {
			e.ConnectionID = c.id
			e.StatusCode = status
			e.Reason = reason
		})
		// Resolve, not reject: the status code tells the caller what happened.
		openDeferred.Resolve(OpenResponse{StatusCode: status, Reason: reason})
		return
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disposed while the dial was in flight.
		c.mu.Unlock()
		_ = socket.Close("connection disposed during open")
		openDeferred.Resolve(OpenResponse{StatusCode: http.StatusGone, Reason: "connection disposed during open"})
		return
	}
	c.state = StateConnected
	c.socket = socket
	pumpCtx := c.pumpCtx
	c.mu.Unlock()

	c.emit(events.New(events.KindConnectionEstablished, events.LevelInfo), func(e *events.Event) {
		e.ConnectionID = c.id
		e.StatusCode = http.StatusOK
	})

	go c.sendLoop(pumpCtx, socket)
	go c.receivePump(pumpCtx, socket)

	openDeferred.Resolve(OpenResponse{StatusCode: http.StatusOK})
}

// Send queues a message for transmission. Rejected unless the connection is
// Connected. The returned promise settles once the frame has been written to
// the socket (or the write failed).
func (c *Connection) Send(msg *message.ConnectionMessage) *async.Promise[bool] {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateConnected {
		return async.FromError[bool](fmt.Errorf("connection %s: cannot send in state %s", c.id, state))
	}

	item := &sendItem{msg: msg, status: async.NewDeferred[bool]()}
	if err := c.sendQueue.Enqueue(item); err != nil {
		return async.FromError[bool](err)
	}
	return item.status.Promise()
}

// Read returns a promise for the next inbound message. Rejected unless the
// connection is Connected. Frames are delivered in arrival order.
func (c *Connection) Read() *async.Promise[*message.ConnectionMessage] {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateConnected {
		return async.FromError[*message.ConnectionMessage](fmt.Errorf("connection %s: cannot read in state %s", c.id, state))
	}
	return c.receiveQueue.Dequeue()
}

// sendLoop serializes all outbound writes: one frame in flight at a time,
// each item's status deferred settled before the next is pulled.
func (c *Connection) sendLoop(ctx context.Context, socket Socket) {
	for {
		item, err := c.sendQueue.Dequeue().Wait(ctx)
		if err != nil {
			return
		}

		raw, err := message.Encode(item.msg)
		if err != nil {
			item.status.Reject(err)
			continue
		}

		if err := socket.WriteFrame(ctx, raw); err != nil {
			item.status.Reject(err)
			c.onTransportClosed(err)
			return
		}

		c.emit(events.New(events.KindMessageSent, events.LevelDebug), func(e *events.Event) {
			e.ConnectionID = c.id
			e.Path = item.msg.Header("path")
		})
		item.status.Resolve(true)
	}
}

// receivePump decodes every inbound frame and feeds the receive queue.
// Frames that fail decoding are staged as errored promises, which the queue
// drops (logged) rather than delivering.
func (c *Connection) receivePump(ctx context.Context, socket Socket) {
	for {
		raw, err := socket.ReadFrame(ctx)
		if err != nil {
			c.onTransportClosed(err)
			return
		}

		msg, err := message.Decode(raw)
		if err != nil {
			_ = c.receiveQueue.EnqueueFromPromise(async.FromError[*message.ConnectionMessage](err))
			continue
		}

		c.emit(events.New(events.KindMessageReceived, events.LevelDebug), func(e *events.Event) {
			e.ConnectionID = c.id
			e.Path = msg.Header("path")
		})
		_ = c.receiveQueue.Enqueue(msg)
	}
}

// onTransportClosed runs teardown exactly once: pending outbound sends are
// rejected with the close reason, unread inbound frames are discarded
// (logged, not delivered), and the state moves to Disconnected for good.
func (c *Connection) onTransportClosed(cause error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	cancel := c.pumpCancel
	c.mu.Unlock()

	code, reason := closeInfo(cause)
	c.emit(events.New(events.KindConnectionClosed, events.LevelInfo), func(e *events.Event) {
		e.ConnectionID = c.id
		e.StatusCode = code
		e.Reason = reason
	})

	closeErr := fmt.Errorf("connection %s: closed (code %d): %s", c.id, code, reason)
	c.receiveQueue.DrainAndDispose(func(m *message.ConnectionMessage) {
		slog.Debug("connection: discarding unread frame on close",
			"connection_id", c.id, "path", m.Header("path"))
	}, closeErr.Error())
	c.sendQueue.DrainAndDispose(func(item *sendItem) {
		item.status.Reject(closeErr)
	}, closeErr.Error())

	if cancel != nil {
		cancel()
	}
}

// Dispose tears the connection down from the client side.
func (c *Connection) Dispose(reason string) {
	if reason == "" {
		reason = "connection disposed by client"
	}
	c.mu.Lock()
	state := c.state
	socket := c.socket
	c.mu.Unlock()

	if state == StateDisconnected {
		return
	}
	if socket != nil {
		_ = socket.Close(reason)
	}
	c.onTransportClosed(&CloseError{Code: 1000, Reason: reason})
}

func (c *Connection) emit(event events.Event, fill func(*events.Event)) {
	if fill != nil {
		fill(&event)
	}
	if err := c.events.OnEvent(event); err != nil {
		slog.Debug("connection: dropped event on disposed source", "kind", event.Kind)
	}
}

func connectFailure(err error) (status int, reason string) {
	if de, ok := err.(*DialError); ok {
		status = de.StatusCode
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
		return status, de.Err.Error()
	}
	if ce, ok := err.(*CloseError); ok {
		return ce.Code, ce.Reason
	}
	return http.StatusServiceUnavailable, err.Error()
}

func closeInfo(err error) (code int, reason string) {
	if ce, ok := err.(*CloseError); ok {
		return ce.Code, ce.Reason
	}
	return 1006, err.Error()
}
