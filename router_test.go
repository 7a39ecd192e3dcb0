package jsonrpc2_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lspkit/jsonrpc2"
)

func TestRouterRegistrationErrors(t *testing.T) {
	router := jsonrpc2.NewRouter()
	noopCall := func(ctx context.Context, c *jsonrpc2.Connection, params json.RawMessage) (any, *jsonrpc2.Error) {
		return nil, nil
	}
	noopNotify := func(ctx context.Context, c *jsonrpc2.Connection, params json.RawMessage) {}

	require.NoError(t, router.HandleCallFunc("workspace/symbol", noopCall))
	require.Error(t, router.HandleCallFunc("workspace/symbol", noopCall))
	require.Error(t, router.HandleNotificationFunc("workspace/symbol", noopNotify))

	require.Error(t, router.HandleCallFunc("work*/symbol", noopCall))
	require.NoError(t, router.HandleCallFunc("workspace/*", noopCall))

	router.Start()
	require.Error(t, router.HandleCallFunc("textDocument/hover", noopCall))
	require.Error(t, router.HandleNotificationFunc("textDocument/didOpen", noopNotify))
}

func TestRouterDispatch(t *testing.T) {
	router := jsonrpc2.NewRouter()
	require.NoError(t, router.HandleCallFunc("math/add", func(ctx context.Context, c *jsonrpc2.Connection, params json.RawMessage) (any, *jsonrpc2.Error) {
		p, rpcErr := jsonrpc2.DecodeParams[addParams](params)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return p.A + p.B, nil
	}))
	require.NoError(t, router.HandleCallFunc("math/*", func(ctx context.Context, c *jsonrpc2.Connection, params json.RawMessage) (any, *jsonrpc2.Error) {
		return "wildcard", nil
	}))
	require.NoError(t, router.HandleCallFunc("void", func(ctx context.Context, c *jsonrpc2.Connection, params json.RawMessage) (any, *jsonrpc2.Error) {
		return nil, nil
	}))
	notified := make(chan string, 1)
	require.NoError(t, router.HandleNotificationFunc("log/*", func(ctx context.Context, c *jsonrpc2.Connection, params json.RawMessage) {
		notified <- string(params)
	}))
	router.Start()

	client, _ := pipePair(t, jsonrpc2.ConnectionOptions{}, jsonrpc2.ConnectionOptions{
		Handler:  router,
		Notifier: router,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result, err := client.Request(ctx, "math/add", addParams{A: 4, B: 5})
	require.NoError(t, err)
	require.JSONEq(t, `9`, string(result))

	// Exact match loses to nothing; unmatched suffixes fall to the wildcard.
	result, err = client.Request(ctx, "math/mul", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"wildcard"`, string(result))

	// A nil result still fills the reply slot.
	result, err = client.Request(ctx, "void", nil)
	require.NoError(t, err)
	require.JSONEq(t, `null`, string(result))

	_, err = client.Request(ctx, "unrouted/method", nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, jsonrpc2.MethodNotFound, rpcErr.Code)

	require.NoError(t, client.Notify("log/info", map[string]string{"msg": "hello"}))
	select {
	case params := <-notified:
		require.JSONEq(t, `{"msg":"hello"}`, params)
	case <-time.After(time.Second):
		t.Fatal("routed notification never arrived")
	}

	// Unrouted notifications are dropped silently.
	require.NoError(t, client.Notify("other/thing", nil))
}

func TestRouterCallErrorBecomesReply(t *testing.T) {
	router := jsonrpc2.NewRouter()
	require.NoError(t, router.HandleCallFunc("fail", func(ctx context.Context, c *jsonrpc2.Connection, params json.RawMessage) (any, *jsonrpc2.Error) {
		return nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "bad input")
	}))
	router.Start()

	client, _ := pipePair(t, jsonrpc2.ConnectionOptions{}, jsonrpc2.ConnectionOptions{Handler: router})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.Request(ctx, "fail", nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, jsonrpc2.InvalidParams, rpcErr.Code)
	require.Equal(t, "bad input", rpcErr.Message)
}
