package eventrouter

import "context"

type ctxKey string

const (
	eventTypeKey ctxKey = "event_type"
)

// GetEventTypeFromCtx returns the discriminant of the event being routed,
// or an empty string outside of Dispatch.
func GetEventTypeFromCtx(ctx context.Context) string {
	eventType, ok := ctx.Value(eventTypeKey).(string)
	if !ok {
		return ""
	}

	return eventType
}
