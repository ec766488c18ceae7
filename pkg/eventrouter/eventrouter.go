package eventrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrMissingType    = errors.New("event type is missing")
	ErrUnhandled      = errors.New("unhandled event type")
)

type envelope struct {
	Type string `json:"type"`
}

// HandlerFunc receives the whole raw event, including its type field.
type HandlerFunc func(ctx context.Context, raw json.RawMessage) error

type Middleware func(next HandlerFunc) HandlerFunc

// Router dispatches tagged JSON events to handlers by their "type" field.
type Router struct {
	routes      map[string]HandlerFunc
	middlewares []Middleware
	notFound    HandlerFunc
}

func New() *Router {
	return &Router{routes: make(map[string]HandlerFunc)}
}

// Use appends middlewares. The first one registered is the outermost.
func (r *Router) Use(mws ...Middleware) {
	r.middlewares = append(r.middlewares, mws...)
}

func (r *Router) Handle(eventType string, handler HandlerFunc) {
	r.routes[eventType] = handler
}

// NotFound sets the handler for event types without a route. Without it
// Dispatch returns ErrUnhandled.
func (r *Router) NotFound(handler HandlerFunc) {
	r.notFound = handler
}

func (r *Router) Dispatch(ctx context.Context, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	if env.Type == "" {
		return ErrMissingType
	}

	handler, ok := r.routes[env.Type]
	if !ok {
		if r.notFound == nil {
			return fmt.Errorf("%w: %s", ErrUnhandled, env.Type)
		}
		handler = r.notFound
	}

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	ctx = context.WithValue(ctx, eventTypeKey, env.Type)

	return handler(ctx, raw)
}

// Typed adapts a handler taking a decoded event struct.
func Typed[T any](fn func(ctx context.Context, event T) error) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) error {
		var event T
		if err := json.Unmarshal(raw, &event); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}

		return fn(ctx, event)
	}
}
