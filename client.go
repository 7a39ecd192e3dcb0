package jsonrpc2

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultTimeout bounds a request when the caller does not choose a timeout.
const DefaultTimeout = 10 * time.Second

// RequestOptions controls one outbound request.
type RequestOptions struct {
	// OnSuccess receives the raw result payload. OnError receives the error
	// envelope from the peer (or one synthesized at shutdown). OnTimeout runs
	// if the timer fires first; if nil, a timeout is logged only. Exactly one
	// of the three fires for any request.
	OnSuccess func(json.RawMessage)
	OnError   func(*Error)
	OnTimeout func()

	// Timeout bounds the request. Zero means DefaultTimeout; negative
	// disables the timer.
	Timeout time.Duration

	// Deferred, when non-empty, postpones the send until the connection's
	// readiness predicate accepts the tag. Scope distinguishes deferrals of
	// the same tag issued from different calling scopes; requests sharing
	// (Deferred, Scope) are deduplicated, last parameters win, first
	// deadline wins.
	Deferred string
	Scope    string
}

func (o RequestOptions) timeout() time.Duration {
	switch {
	case o.Timeout == 0:
		return DefaultTimeout
	case o.Timeout < 0:
		return 0
	}
	return o.Timeout
}

// Notify sends a one-way message. There is no id and therefore no reply.
func (c *Connection) Notify(method string, params any) error {
	raw, err := marshalPayload(params)
	if err != nil {
		return err
	}
	return c.writeMessage(&Message{Version: Version, Method: method, Params: raw})
}

// AsyncRequest sends (or defers) a request and returns the allocated id
// immediately. The id is useful for cancellation bookkeeping by the caller.
func (c *Connection) AsyncRequest(method string, params any, opts RequestOptions) (ID, error) {
	raw, err := marshalPayload(params)
	if err != nil {
		return ID{}, err
	}
	if opts.Deferred != "" {
		return c.sendOrDefer(method, raw, opts)
	}
	id := c.tracker.allocate()
	if err := c.send(id, method, raw, opts, opts.timeout()); err != nil {
		return ID{}, err
	}
	return id, nil
}

// send registers the continuation and writes the request. Registration comes
// first so a fast response cannot arrive orphaned; a failed write takes the
// registration back out.
func (c *Connection) send(id ID, method string, params json.RawMessage, opts RequestOptions, timeout time.Duration) error {
	onTimeout := func() {
		c.event(Event{Kind: EventTimeout, Err: NewError(RequestTimeout, nil)})
		if opts.OnTimeout != nil {
			opts.OnTimeout()
		} else {
			c.log.Warn().Stringer("id", id).Str("method", method).Msg("request timed out")
		}
	}
	c.tracker.register(id, opts.OnSuccess, opts.OnError, timeout, onTimeout)
	m := &Message{Version: Version, Method: method, ID: &id, Params: params}
	if err := c.writeMessage(m); err != nil {
		c.tracker.forget(id)
		return err
	}
	return nil
}

// sendOrDefer implements the deferred-request path. A deferred request that
// becomes ready reuses the id and deadline of its queue entry, so repeated
// deferrals never extend the original timeout.
func (c *Connection) sendOrDefer(method string, params json.RawMessage, opts RequestOptions) (ID, error) {
	key := DeferredKey{Tag: opts.Deferred, Scope: opts.Scope}
	if c.ready == nil || c.ready(c, opts.Deferred) {
		if e := c.deferred.take(key); e != nil {
			return e.id, c.sendTaken(e, method, params, opts)
		}
		id := c.tracker.allocate()
		if err := c.send(id, method, params, opts, opts.timeout()); err != nil {
			return ID{}, err
		}
		return id, nil
	}

	if id, ok := c.deferred.refresh(key, method, params, opts); ok {
		c.log.Trace().Str("tag", key.Tag).Str("scope", key.Scope).Msg("replacing deferred request")
		c.event(Event{Kind: EventDeferred, Key: key})
		return id, nil
	}

	e := &deferredEntry{
		id:     c.tracker.allocate(),
		method: method,
		params: params,
		opts:   opts,
	}
	// The retry claims the entry through takeExact before touching its
	// payload, so concurrent flushes run it at most once, a fired timer
	// wins over a late flush, and the payload sent is whatever the latest
	// refresh stored.
	e.retry = func() {
		if c.ready != nil && !c.ready(c, key.Tag) {
			return
		}
		if !c.deferred.takeExact(key, e) {
			return
		}
		if err := c.sendTaken(e, e.method, e.params, e.opts); err != nil {
			c.log.Error().Err(err).Str("tag", key.Tag).Str("scope", key.Scope).
				Msg("unable to send deferred request")
		}
	}
	if timeout := opts.timeout(); timeout > 0 {
		// The deadline is measured from now, not from the eventual send.
		e.deadline = time.Now().Add(timeout)
		e.timer = time.AfterFunc(timeout, func() {
			if !c.deferred.takeExact(key, e) {
				return
			}
			c.event(Event{Kind: EventTimeout, Key: key, Err: NewError(RequestTimeout, nil)})
			if e.opts.OnTimeout != nil {
				e.opts.OnTimeout()
			} else {
				c.log.Warn().Str("tag", key.Tag).Str("scope", key.Scope).Msg("deferred request timed out before becoming ready")
			}
		})
	}
	c.deferred.put(key, e)
	c.log.Trace().Str("tag", key.Tag).Str("scope", key.Scope).Stringer("id", e.id).Msg("deferring request")
	c.event(Event{Kind: EventDeferred, Key: key})
	return e.id, nil
}

// sendTaken sends an entry removed from the deferral queue, charging it the
// remainder of its original timeout budget.
func (c *Connection) sendTaken(e *deferredEntry, method string, params json.RawMessage, opts RequestOptions) error {
	if e.timer != nil {
		e.timer.Stop()
	}
	timeout := opts.timeout()
	if timeout > 0 && !e.deadline.IsZero() {
		timeout = time.Until(e.deadline)
		if timeout <= 0 {
			timeout = time.Millisecond
		}
	}
	return c.send(e.id, method, params, opts, timeout)
}

// FlushDeferred retries every deferred request. The read loop flushes after
// each inbound message; applications should flush after any state change
// that could satisfy readiness.
func (c *Connection) FlushDeferred() {
	c.deferred.flush()
}

// Request is the synchronous adapter over AsyncRequest: it suspends the
// caller until the request resolves, and returns the raw result payload. An
// error response surfaces as *Error; a timeout as *Error with code
// RequestTimeout. Cancelling ctx abandons the request and cleans up its
// pending and deferred state.
func (c *Connection) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.RequestWithOptions(ctx, method, params, RequestOptions{})
}

// RequestWithOptions is Request with explicit options. The callback fields of
// opts are owned by the adapter and must be left nil.
func (c *Connection) RequestWithOptions(ctx context.Context, method string, params any, opts RequestOptions) (json.RawMessage, error) {
	type outcome struct {
		result json.RawMessage
		err    *Error
	}
	done := make(chan outcome, 1)
	opts.OnSuccess = func(result json.RawMessage) { done <- outcome{result: result} }
	opts.OnError = func(rpcErr *Error) { done <- outcome{err: rpcErr} }
	opts.OnTimeout = func() { done <- outcome{err: NewError(RequestTimeout, nil)} }

	id, err := c.AsyncRequest(method, params, opts)
	if err != nil {
		return nil, err
	}
	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		return o.result, nil
	case <-ctx.Done():
		c.tracker.forget(id)
		if opts.Deferred != "" {
			c.deferred.forgetID(DeferredKey{Tag: opts.Deferred, Scope: opts.Scope}, id)
		}
		return nil, ctx.Err()
	}
}
