package eventrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
)

// PanicError is returned by Recoverer when a handler panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Recoverer turns handler panics into errors so one bad event cannot stop
// the dispatch loop.
func Recoverer() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, raw json.RawMessage) (err error) {
			defer func() {
				if v := recover(); v != nil {
					err = &PanicError{Value: v, Stack: debug.Stack()}
				}
			}()

			return next(ctx, raw)
		}
	}
}
