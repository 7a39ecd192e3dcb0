package jsonrpc2

import (
	"context"
)

// RequestHandler is the capability invoked for every inbound call. Before
// returning, the handler must either answer through Connection.Reply or
// return a non-nil *Error, which the connection sends back as the error
// envelope for the request. Returning nil without replying is a contract
// violation; it is logged and the peer is left waiting.
type RequestHandler interface {
	Handle(ctx context.Context, c *Connection, m *Message) *Error
}

type RequestHandlerFunc func(context.Context, *Connection, *Message) *Error

type requestHandlerFuncWrapper struct {
	handlerFunc RequestHandlerFunc
}

func (h *requestHandlerFuncWrapper) Handle(ctx context.Context, c *Connection, m *Message) *Error {
	return h.handlerFunc(ctx, c, m)
}

var _ RequestHandler = &requestHandlerFuncWrapper{}

// HandleRequestFunc adapts a plain function to the RequestHandler capability.
func HandleRequestFunc(f RequestHandlerFunc) RequestHandler {
	return &requestHandlerFuncWrapper{handlerFunc: f}
}

// NotificationHandler is the capability invoked for every inbound
// notification. There is no reply slot; errors must be handled locally.
type NotificationHandler interface {
	Notify(ctx context.Context, c *Connection, m *Message)
}

type NotificationHandlerFunc func(context.Context, *Connection, *Message)

type notificationHandlerFuncWrapper struct {
	handlerFunc NotificationHandlerFunc
}

func (h *notificationHandlerFuncWrapper) Notify(ctx context.Context, c *Connection, m *Message) {
	h.handlerFunc(ctx, c, m)
}

var _ NotificationHandler = &notificationHandlerFuncWrapper{}

// HandleNotificationFunc adapts a plain function to the NotificationHandler
// capability.
func HandleNotificationFunc(f NotificationHandlerFunc) NotificationHandler {
	return &notificationHandlerFuncWrapper{handlerFunc: f}
}
