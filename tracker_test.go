package jsonrpc2

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestTrackerAllocateIsStrictlyIncreasing(t *testing.T) {
	tr := newTracker(zerolog.Nop())
	last := int64(0)
	for i := 0; i < 100; i++ {
		id := tr.allocate()
		require.False(t, id.IsString())
		require.Greater(t, id.Number(), last)
		last = id.Number()
	}
}

func TestTrackerResolveSuccess(t *testing.T) {
	tr := newTracker(zerolog.Nop())
	id := tr.allocate()
	var got json.RawMessage
	tr.register(id, func(r json.RawMessage) { got = r }, nil, 0, nil)

	require.True(t, tr.resolve(id, nil, json.RawMessage(`3`)))
	require.JSONEq(t, `3`, string(got))

	// Second resolution for the same id is an orphan.
	require.False(t, tr.resolve(id, nil, json.RawMessage(`3`)))
}

func TestTrackerOrphanResponse(t *testing.T) {
	tr := newTracker(zerolog.Nop())
	require.False(t, tr.resolve(NewIntID(42), nil, nil))
	require.False(t, tr.resolve(NewStringID("nope"), NewError(InternalError, nil), nil))
}

func TestTrackerExactlyOnceUnderTimeoutRace(t *testing.T) {
	tr := newTracker(zerolog.Nop())
	for i := 0; i < 200; i++ {
		id := tr.allocate()
		var fired atomic.Int32
		var wg sync.WaitGroup
		wg.Add(1)
		tr.register(id,
			func(json.RawMessage) { fired.Add(1); wg.Done() },
			func(*Error) { fired.Add(1); wg.Done() },
			time.Millisecond,
			func() { fired.Add(1); wg.Done() },
		)
		time.Sleep(time.Duration(id.Number()%3) * 500 * time.Microsecond)
		tr.resolve(id, nil, nil)
		wg.Wait()
		// Give a late timer every chance to double-fire.
		time.Sleep(2 * time.Millisecond)
		require.Equal(t, int32(1), fired.Load())
	}
}

func TestTrackerFailAll(t *testing.T) {
	tr := newTracker(zerolog.Nop())
	var errs []*Error
	for i := 0; i < 5; i++ {
		id := tr.allocate()
		tr.register(id, nil, func(e *Error) { errs = append(errs, e) }, time.Minute, nil)
	}
	tr.failAll(NewError(ConnectionClosed, nil))
	require.Len(t, errs, 5)
	for _, e := range errs {
		require.Equal(t, ConnectionClosed, e.Code)
		require.Equal(t, "connection closed", e.Message)
	}
	// The table is empty afterwards.
	require.False(t, tr.resolve(NewIntID(1), nil, nil))
}

func TestTrackerForgetDisarmsTimer(t *testing.T) {
	tr := newTracker(zerolog.Nop())
	id := tr.allocate()
	var fired atomic.Int32
	tr.register(id, nil, nil, 5*time.Millisecond, func() { fired.Add(1) })
	require.True(t, tr.forget(id))
	require.False(t, tr.forget(id))
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}
