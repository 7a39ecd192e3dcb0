// Package ws adapts websocket connections to the byte-stream transport the
// engine consumes. Each websocket message carries an arbitrary slice of the
// framed stream; framing is still done by the engine, so peers that split or
// coalesce frames across websocket messages interoperate.
package ws

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Dial connects to a websocket URL and returns the transport for a
// connection. ctx bounds the handshake only.
func Dial(ctx context.Context, url string) (io.ReadWriteCloser, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return websocket.NetConn(context.WithoutCancel(ctx), c, websocket.MessageBinary), nil
}

// Upgrade hijacks an HTTP request into a transport. The returned transport
// outlives the handler; ctx bounds the transport's lifetime.
func Upgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) (io.ReadWriteCloser, error) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, err
	}
	return websocket.NetConn(ctx, c, websocket.MessageBinary), nil
}

// Listener feeds upgraded websocket transports to an accept loop. Mount it
// as an http.Handler and hand it to the engine's server.
type Listener struct {
	conns     chan io.ReadWriteCloser
	done      chan struct{}
	closeOnce sync.Once
}

func NewListener() *Listener {
	return &Listener{
		conns: make(chan io.ReadWriteCloser),
		done:  make(chan struct{}),
	}
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrade(context.WithoutCancel(r.Context()), w, r)
	if err != nil {
		return
	}
	select {
	case l.conns <- conn:
	case <-l.done:
		_ = conn.Close()
	}
}

// Accept blocks until a websocket client connects.
func (l *Listener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *Listener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}
