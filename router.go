package jsonrpc2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CallHandler answers one routed method. The router sends the returned value
// (or error envelope) as the reply.
type CallHandler interface {
	Handle(ctx context.Context, c *Connection, params json.RawMessage) (any, *Error)
}

type CallHandlerFunc func(ctx context.Context, c *Connection, params json.RawMessage) (any, *Error)

type callHandlerFuncWrapper struct {
	handlerFunc CallHandlerFunc
}

func (h *callHandlerFuncWrapper) Handle(ctx context.Context, c *Connection, params json.RawMessage) (any, *Error) {
	return h.handlerFunc(ctx, c, params)
}

var _ CallHandler = &callHandlerFuncWrapper{}

// NotifyHandler consumes one routed notification.
type NotifyHandler interface {
	Notify(ctx context.Context, c *Connection, params json.RawMessage)
}

type NotifyHandlerFunc func(ctx context.Context, c *Connection, params json.RawMessage)

type notifyHandlerFuncWrapper struct {
	handlerFunc NotifyHandlerFunc
}

func (h *notifyHandlerFuncWrapper) Notify(ctx context.Context, c *Connection, params json.RawMessage) {
	h.handlerFunc(ctx, c, params)
}

var _ NotifyHandler = &notifyHandlerFuncWrapper{}

// Router maps method names to handlers and plugs into a connection as both
// its request and notification handler. Methods are matched exactly first,
// then against registrations with a trailing * (textDocument/* style).
type Router struct {
	callHandlers   map[string]CallHandler
	notifyHandlers map[string]NotifyHandler
	running        bool
}

func NewRouter() *Router {
	return &Router{
		callHandlers:   map[string]CallHandler{},
		notifyHandlers: map[string]NotifyHandler{},
	}
}

var (
	_ RequestHandler      = &Router{}
	_ NotificationHandler = &Router{}
)

// Start marks the router as serving; registrations are rejected afterwards.
func (r *Router) Start() {
	r.running = true
}

func findPartialPath(wantedPath, registeredPath string) bool {
	if registeredPath == "*" {
		return true
	}
	if !strings.HasSuffix(registeredPath, "*") {
		return false
	}
	return strings.HasPrefix(wantedPath, strings.TrimSuffix(registeredPath, "*"))
}

func verifyPartialPath(path string) error {
	if i := strings.Index(path, "*"); i >= 0 && i != len(path)-1 {
		return fmt.Errorf("can only handle partial paths with * at the end of a path")
	}
	return nil
}

func (r *Router) register(path string) error {
	if r.running {
		return errors.New("can not add handlers after the router has started")
	}
	if err := verifyPartialPath(path); err != nil {
		return err
	}
	_, haveCall := r.callHandlers[path]
	_, haveNotify := r.notifyHandlers[path]
	if haveCall || haveNotify {
		return fmt.Errorf("path: %s is already registered", path)
	}
	return nil
}

func (r *Router) HandleCall(path string, handler CallHandler) error {
	if err := r.register(path); err != nil {
		return err
	}
	r.callHandlers[path] = handler
	return nil
}

func (r *Router) HandleCallFunc(path string, handlerFunc CallHandlerFunc) error {
	return r.HandleCall(path, &callHandlerFuncWrapper{handlerFunc: handlerFunc})
}

func (r *Router) HandleNotification(path string, handler NotifyHandler) error {
	if err := r.register(path); err != nil {
		return err
	}
	r.notifyHandlers[path] = handler
	return nil
}

func (r *Router) HandleNotificationFunc(path string, handlerFunc NotifyHandlerFunc) error {
	return r.HandleNotification(path, &notifyHandlerFuncWrapper{handlerFunc: handlerFunc})
}

func (r *Router) routeCall(path string) CallHandler {
	if h, ok := r.callHandlers[path]; ok {
		return h
	}
	for p, h := range r.callHandlers {
		if findPartialPath(path, p) {
			return h
		}
	}
	return nil
}

func (r *Router) routeNotification(path string) NotifyHandler {
	if h, ok := r.notifyHandlers[path]; ok {
		return h
	}
	for p, h := range r.notifyHandlers {
		if findPartialPath(path, p) {
			return h
		}
	}
	return nil
}

// Handle implements RequestHandler.
func (r *Router) Handle(ctx context.Context, c *Connection, m *Message) *Error {
	h := r.routeCall(m.Method)
	if h == nil {
		return NewError(MethodNotFound, m.Method)
	}
	result, rerr := h.Handle(ctx, c, m.Params)
	if rerr != nil {
		return rerr
	}
	if result == nil {
		// A call with nothing to report still needs its reply slot filled.
		result = json.RawMessage("null")
	}
	if err := c.Reply(result, nil); err != nil {
		return NewError(InternalError, err.Error())
	}
	return nil
}

// Notify implements NotificationHandler.
func (r *Router) Notify(ctx context.Context, c *Connection, m *Message) {
	h := r.routeNotification(m.Method)
	if h == nil {
		return
	}
	h.Notify(ctx, c, m.Params)
}
