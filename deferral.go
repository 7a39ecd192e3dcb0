package jsonrpc2

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DeferredKey identifies a deferred outbound request: the caller-chosen tag
// plus a context key naming the calling scope (for a language-server client,
// typically the current document). At most one deferred request is live per
// key.
type DeferredKey struct {
	Tag   string
	Scope string
}

// deferredEntry holds a postponed send. Re-deferring under the same key
// replaces the payload but keeps id, deadline and timer, so the timeout
// measured from the first deferral stays authoritative. The payload fields
// are guarded by the queue lock until the entry is claimed through take or
// takeExact; after a claim they belong to the claimer.
type deferredEntry struct {
	id       ID
	deadline time.Time
	timer    *time.Timer
	retry    func()

	method string
	params json.RawMessage
	opts   RequestOptions
}

type deferralQueue struct {
	log zerolog.Logger

	mu      sync.Mutex
	entries map[DeferredKey]*deferredEntry
}

func newDeferralQueue(log zerolog.Logger) *deferralQueue {
	return &deferralQueue{
		log:     log.With().Str("name", "deferrals").Logger(),
		entries: map[DeferredKey]*deferredEntry{},
	}
}

// take removes and returns the entry for key, if any. The caller owns the
// entry's timer afterwards.
func (q *deferralQueue) take(key DeferredKey) *deferredEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key]
	if !ok {
		return nil
	}
	delete(q.entries, key)
	return e
}

// takeExact removes the entry for key only if it still is e. Timer callbacks
// use this as their atomic gate against a concurrent send or replacement.
func (q *deferralQueue) takeExact(key DeferredKey, e *deferredEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.entries[key] != e {
		return false
	}
	delete(q.entries, key)
	return true
}

// refresh replaces the stored payload of an existing entry, preserving its
// id, deadline, timer and retry. Whichever flush or timer later claims the
// entry sends the payload of the latest refresh. Reports the entry's id and
// whether one existed.
func (q *deferralQueue) refresh(key DeferredKey, method string, params json.RawMessage, opts RequestOptions) (ID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key]
	if !ok {
		return ID{}, false
	}
	e.method = method
	e.params = params
	e.opts = opts
	return e.id, true
}

// forgetID removes the entry for key only if it still carries id, disarming
// its timer. Used when a synchronous caller abandons a deferred request.
func (q *deferralQueue) forgetID(key DeferredKey, id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key]
	if !ok || e.id != id {
		return false
	}
	delete(q.entries, key)
	if e.timer != nil {
		e.timer.Stop()
	}
	return true
}

func (q *deferralQueue) put(key DeferredKey, e *deferredEntry) {
	q.mu.Lock()
	q.entries[key] = e
	q.mu.Unlock()
}

// flush re-runs the retry callback of every stored entry. Retries re-evaluate
// readiness, so an entry may send itself, re-defer itself, or drop out.
func (q *deferralQueue) flush() {
	q.mu.Lock()
	retries := make([]func(), 0, len(q.entries))
	for _, e := range q.entries {
		retries = append(retries, e.retry)
	}
	q.mu.Unlock()

	for _, retry := range retries {
		retry()
	}
}

// dropAll cancels every timer and clears the queue, returning the dropped
// keys. Deferred entries were never sent, so they are not failed through
// their error callbacks.
func (q *deferralQueue) dropAll() []DeferredKey {
	q.mu.Lock()
	entries := q.entries
	q.entries = map[DeferredKey]*deferredEntry{}
	q.mu.Unlock()

	keys := make([]DeferredKey, 0, len(entries))
	for key, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		q.log.Debug().Str("tag", key.Tag).Str("scope", key.Scope).Msg("dropping deferred request on shutdown")
		keys = append(keys, key)
	}
	return keys
}
