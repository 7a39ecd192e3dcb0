package jsonrpc2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// ReadinessFunc reports whether the connection is ready to carry a request
// deferred under tag. Arrival of any inbound message re-evaluates readiness
// for every deferred request.
type ReadinessFunc func(c *Connection, tag string) bool

// ShutdownFunc runs once, after the transport has closed and every pending
// continuation has been failed.
type ShutdownFunc func(c *Connection)

// EventKind classifies the diagnostics delivered to the event hook.
type EventKind int

const (
	// EventInbound and EventOutbound carry every decoded and sent message.
	EventInbound EventKind = iota
	EventOutbound
	// EventDeferred fires when an outbound request is postponed or its
	// deferred entry replaced.
	EventDeferred
	// EventDeferredDropped fires for entries discarded at teardown.
	EventDeferredDropped
	// EventTimeout fires when a pending or deferred request's timer expires.
	EventTimeout
	// EventClosed fires once when the connection shuts down.
	EventClosed
)

// Event is one diagnostics notice. Message is set for inbound/outbound
// events, Key for deferral events.
type Event struct {
	Kind    EventKind
	Message *Message
	Key     DeferredKey
	Err     error
}

// EventFunc receives every inbound and outbound message plus lifecycle
// notices. It is the integration point for pretty event buffers and similar
// diagnostics. It runs inline, for outbound messages under the write lock,
// so it must return quickly and must not send on the connection.
type EventFunc func(c *Connection, ev Event)

// ConnectionOptions holds the options for new connections.
type ConnectionOptions struct {
	// Codec converts between wire bodies and Messages. Defaults to JSON.
	Codec Codec
	// Handler receives inbound calls. If nil, calls are answered with
	// MethodNotFound.
	Handler RequestHandler
	// Notifier receives inbound notifications. If nil, they are logged and
	// dropped.
	Notifier NotificationHandler
	// Ready gates deferred sends. If nil, every deferred request is sent
	// immediately.
	Ready ReadinessFunc
	// OnEvent, if set, receives diagnostics for every message and lifecycle
	// change.
	OnEvent EventFunc
	// OnShutdown, if set, runs once after teardown completes.
	OnShutdown ShutdownFunc
	// Name labels the connection in logs. Defaults to a generated id.
	Name string
}

type replyScope struct {
	id      ID
	method  string
	replied bool
}

// Connection manages the jsonrpc2 protocol over one ordered byte stream,
// connecting responses back to their calls. Connection is bidirectional; it
// does not have a designated server or client end.
type Connection struct {
	name string
	log  zerolog.Logger

	ctx      context.Context
	conn     io.ReadWriteCloser
	codec    Codec
	framer   *Framer
	tracker  *tracker
	deferred *deferralQueue

	handler    RequestHandler
	notifier   NotificationHandler
	ready      ReadinessFunc
	onEvent    EventFunc
	onShutdown ShutdownFunc

	// writeMu serializes encode+write so outbound frames keep the order in
	// which sends were invoked.
	writeMu sync.Mutex

	// scope is the id currently awaiting a reply. Only the read loop sets
	// it, and Reply is only valid while a request handler runs on the read
	// loop, so no lock guards it.
	scope *replyScope

	statusMu sync.Mutex
	status   *Error

	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection attaches the engine to a transport and starts its read loop.
// The connection is torn down when the transport closes, when ctx is
// cancelled, or when Close is called.
func NewConnection(ctx context.Context, conn io.ReadWriteCloser, options ConnectionOptions, log zerolog.Logger) (*Connection, error) {
	if conn == nil {
		return nil, errors.New("jsonrpc2: nil transport")
	}
	name := options.Name
	if name == "" {
		name = xid.New().String()
	}
	codec := options.Codec
	if codec == nil {
		codec = DefaultCodec
	}
	connLog := log.With().Str("conn", name).Logger()
	c := &Connection{
		name:       name,
		log:        connLog,
		ctx:        ctx,
		conn:       conn,
		codec:      codec,
		framer:     NewFramer(codec, connLog),
		tracker:    newTracker(connLog),
		deferred:   newDeferralQueue(connLog),
		handler:    options.Handler,
		notifier:   options.Notifier,
		ready:      options.Ready,
		onEvent:    options.OnEvent,
		onShutdown: options.OnShutdown,
		done:       make(chan struct{}),
	}

	go c.readLoop()
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = c.Close()
			case <-c.done:
			}
		}()
	}
	return c, nil
}

// Name returns the connection's log label.
func (c *Connection) Name() string { return c.name }

// Done is closed when the connection has shut down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Status returns the last error envelope reported by the peer, if any. It is
// recorded for observability and cleared only by ClearStatus.
func (c *Connection) Status() *Error {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

func (c *Connection) ClearStatus() {
	c.statusMu.Lock()
	c.status = nil
	c.statusMu.Unlock()
}

func (c *Connection) setStatus(e *Error) {
	c.statusMu.Lock()
	c.status = e
	c.statusMu.Unlock()
}

func (c *Connection) event(ev Event) {
	if c.onEvent != nil {
		c.onEvent(c, ev)
	}
}

// readLoop pumps transport bytes through the framer and dispatches every
// decoded message in arrival order. Nothing dispatched here may terminate the
// loop; only transport errors do.
func (c *Connection) readLoop() {
	defer func() { _ = c.Close() }()
	buf := make([]byte, 8192)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, m := range c.framer.Feed(buf[:n]) {
				c.event(Event{Kind: EventInbound, Message: m})
				c.dispatch(m)
				// Any inbound message may change what "ready" means.
				c.deferred.flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				c.log.Debug().Err(err).Msg("transport read failed")
			}
			c.log.Trace().Msg("connection stopped")
			return
		}
	}
}

func (c *Connection) dispatch(m *Message) {
	switch m.Kind() {
	case KindResponse:
		if m.Error != nil {
			c.setStatus(m.Error)
		}
		c.tracker.resolve(*m.ID, m.Error, m.Result)
	case KindRequest:
		c.dispatchRequest(m)
	case KindNotification:
		c.dispatchNotification(m)
	}
}

func (c *Connection) dispatchRequest(m *Message) {
	scope := &replyScope{id: *m.ID, method: m.Method}
	c.scope = scope
	defer func() { c.scope = nil }()

	rerr := c.invokeHandler(m)
	switch {
	case scope.replied:
		if rerr != nil {
			c.log.Warn().Str("method", m.Method).Stringer("id", scope.id).
				Msg("handler both replied and returned an error, dropping the error")
		}
	case rerr != nil:
		if err := c.reply(scope, nil, rerr); err != nil {
			c.log.Error().Err(err).Stringer("id", scope.id).Msg("unable to write error reply")
		}
	default:
		c.log.Warn().Str("method", m.Method).Stringer("id", scope.id).
			Msg("handler returned without replying")
	}
}

// invokeHandler runs the request handler, converting a panic into an internal
// error reply so that nothing propagates into the read loop.
func (c *Connection) invokeHandler(m *Message) (rerr *Error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("method", m.Method).Interface("panic", r).Msg("request handler panicked")
			rerr = NewError(InternalError, fmt.Sprint(r))
		}
	}()
	if c.handler == nil {
		return NewError(MethodNotFound, m.Method)
	}
	return c.handler.Handle(c.ctx, c, m)
}

func (c *Connection) dispatchNotification(m *Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("method", m.Method).Interface("panic", r).Msg("notification handler panicked")
		}
	}()
	if c.notifier == nil {
		c.log.Debug().Str("method", m.Method).Msg("no notification handler registered")
		return
	}
	c.notifier.Notify(c.ctx, c, m)
}

// Reply answers the request currently being dispatched. Exactly one of result
// and rpcErr must be set. Valid only while a request handler is running.
func (c *Connection) Reply(result any, rpcErr *Error) error {
	scope := c.scope
	if scope == nil {
		return errors.New("jsonrpc2: no request is awaiting a reply")
	}
	if scope.replied {
		return fmt.Errorf("jsonrpc2: request %s already replied to", scope.id)
	}
	if (result == nil) == (rpcErr == nil) {
		return errors.New("jsonrpc2: reply needs exactly one of result and error")
	}
	return c.reply(scope, result, rpcErr)
}

func (c *Connection) reply(scope *replyScope, result any, rpcErr *Error) error {
	scope.replied = true
	m := &Message{Version: Version, ID: &scope.id, Error: rpcErr}
	if rpcErr == nil {
		raw, err := marshalPayload(result)
		if err != nil {
			return err
		}
		m.Result = raw
	}
	return c.writeMessage(m)
}

// writeMessage frames and writes one message. The lock spans encode, write
// and the outbound event, so concurrent senders cannot interleave frames and
// the event hook observes messages in wire order.
func (c *Connection) writeMessage(m *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	body, err := c.codec.Encode(m)
	if err != nil {
		return fmt.Errorf("unable to encode message: %w", err)
	}
	if _, err = c.conn.Write(appendFrame(nil, body)); err != nil {
		return fmt.Errorf("unable to write message: %w", err)
	}
	c.event(Event{Kind: EventOutbound, Message: m})
	return nil
}

// Close tears the connection down: the transport is closed, every pending
// continuation is failed with a connection-closed error, deferred entries are
// dropped, and the shutdown hook runs. Close is idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		c.tracker.failAll(NewError(ConnectionClosed, nil))
		for _, key := range c.deferred.dropAll() {
			c.event(Event{Kind: EventDeferredDropped, Key: key})
		}
		close(c.done)
		c.event(Event{Kind: EventClosed})
		if c.onShutdown != nil {
			c.onShutdown(c)
		}
	})
	return nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unable to encode payload: %w", err)
	}
	return raw, nil
}
