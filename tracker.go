package jsonrpc2

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// continuation resolves one pending outbound request. It is owned exclusively
// by the tracker's map entry for its id; whichever of response arrival, timer
// fire or shutdown removes the entry first gets to invoke exactly one of its
// callbacks.
type continuation struct {
	onSuccess func(json.RawMessage)
	onError   func(*Error)
	timer     *time.Timer
}

type tracker struct {
	log zerolog.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[ID]*continuation
}

func newTracker(log zerolog.Logger) *tracker {
	return &tracker{
		log:     log.With().Str("name", "tracker").Logger(),
		pending: map[ID]*continuation{},
	}
}

// allocate returns a fresh id, strictly increasing for the lifetime of the
// connection. Ids are never reused.
func (t *tracker) allocate() ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return NewIntID(t.nextID)
}

// register stores a continuation for id. If timeout is positive, a timer is
// started that removes the entry and runs onTimeout, unless the entry has
// resolved first.
func (t *tracker) register(id ID, onSuccess func(json.RawMessage), onError func(*Error), timeout time.Duration, onTimeout func()) {
	c := &continuation{onSuccess: onSuccess, onError: onError}
	t.mu.Lock()
	t.pending[id] = c
	if timeout > 0 {
		c.timer = time.AfterFunc(timeout, func() {
			if t.remove(id) == nil {
				// Lost the race against a response or shutdown.
				return
			}
			t.log.Debug().Stringer("id", id).Msg("request timed out")
			if onTimeout != nil {
				onTimeout()
			}
		})
	}
	t.mu.Unlock()
}

// remove takes the continuation for id out of the pending table. Removal is
// the atomic gate between timer fire, response arrival and shutdown.
func (t *tracker) remove(id ID) *continuation {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	return c
}

// forget removes and disarms the continuation for id without invoking any
// callback. Used when a write fails after registration and when the
// synchronous adapter's caller gives up.
func (t *tracker) forget(id ID) bool {
	c := t.remove(id)
	if c == nil {
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	return true
}

// resolve looks up and removes the continuation for id, then invokes exactly
// one of its callbacks. A response with no pending continuation is an orphan:
// logged, otherwise ignored.
func (t *tracker) resolve(id ID, rpcErr *Error, result json.RawMessage) bool {
	c := t.remove(id)
	if c == nil {
		t.log.Warn().Stringer("id", id).Msg("got a response without a matching request")
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	if rpcErr != nil {
		if c.onError != nil {
			c.onError(rpcErr)
		}
		return true
	}
	if c.onSuccess != nil {
		c.onSuccess(result)
	}
	return true
}

// failAll resolves every pending continuation with rpcErr and clears the
// table. Used on transport shutdown.
func (t *tracker) failAll(rpcErr *Error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = map[ID]*continuation{}
	t.mu.Unlock()

	for id, c := range pending {
		if c.timer != nil {
			c.timer.Stop()
		}
		t.log.Debug().Stringer("id", id).Msg("failing pending request on shutdown")
		if c.onError != nil {
			c.onError(rpcErr)
		}
	}
}
