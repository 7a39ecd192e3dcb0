package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lspkit/jsonrpc2"
	"github.com/lspkit/jsonrpc2/transport/ws"
)

type echoParams struct {
	Text string `json:"text"`
}

func TestWebsocketRoundTrip(t *testing.T) {
	handler := jsonrpc2.HandleRequestFunc(func(ctx context.Context, c *jsonrpc2.Connection, m *jsonrpc2.Message) *jsonrpc2.Error {
		p, rpcErr := jsonrpc2.DecodeParams[echoParams](m.Params)
		if rpcErr != nil {
			return rpcErr
		}
		if err := c.Reply(echoParams{Text: p.Text}, nil); err != nil {
			return jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())
		}
		return nil
	})

	listener := ws.NewListener()
	t.Cleanup(func() { _ = listener.Close() })
	httpServer := httptest.NewServer(listener)
	t.Cleanup(httpServer.Close)

	log := zerolog.New(zerolog.NewTestWriter(t))
	serverConnDone := make(chan struct{})
	server, err := jsonrpc2.NewServer(listener, jsonrpc2.ConnectionOptions{
		Handler:    handler,
		OnShutdown: func(*jsonrpc2.Connection) { close(serverConnDone) },
	}, log)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = server.Run(ctx) }()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	transport, err := ws.Dial(dialCtx, url)
	require.NoError(t, err)

	clientConnDone := make(chan struct{})
	client, err := jsonrpc2.NewConnection(context.Background(), transport, jsonrpc2.ConnectionOptions{
		OnShutdown: func(*jsonrpc2.Connection) { close(clientConnDone) },
	}, log)
	require.NoError(t, err)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	result, err := client.Request(reqCtx, "echo", echoParams{Text: "over websocket"})
	require.NoError(t, err)
	require.JSONEq(t, `{"text":"over websocket"}`, string(result))

	// Closing the transport makes both read loops finish their logging on
	// their own goroutines before the shutdown hooks fire, so nothing logs
	// to t after the test returns.
	require.NoError(t, transport.Close())
	for _, done := range []<-chan struct{}{clientConnDone, serverConnDone} {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("connection did not shut down after transport close")
		}
	}
}

func TestListenerCloseUnblocksAccept(t *testing.T) {
	listener := ws.NewListener()
	errCh := make(chan error, 1)
	go func() {
		_, err := listener.Accept(context.Background())
		errCh <- err
	}()
	require.NoError(t, listener.Close())
	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("accept did not return after close")
	}
}

var _ http.Handler = (*ws.Listener)(nil)
var _ jsonrpc2.Listener = (*ws.Listener)(nil)
