package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SSEDecoder incrementally parses a text/event-stream body into JSON events.
type SSEDecoder struct {
	r *bufio.Reader
}

func NewSSEDecoder(r io.Reader) *SSEDecoder {
	return &SSEDecoder{r: bufio.NewReader(r)}
}

// Next returns the next complete event. A frame whose data is not a JSON
// object yields ErrMalformedEvent and the decoder stays usable. A partial
// frame at end of stream is dropped and io.EOF returned.
func (d *SSEDecoder) Next() ([]byte, error) {
	var (
		data      []string
		eventName string
	)

	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read event stream: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(data) == 0 {
				eventName = ""
				continue
			}
			return tagEvent(strings.Join(data, "\n"), eventName)
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
		case "event":
			eventName = value
		}
	}
}

func tagEvent(payload, eventName string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: event data is null", ErrMalformedEvent)
	}

	if _, ok := fields["type"]; ok || eventName == "" {
		return []byte(payload), nil
	}

	name, err := json.Marshal(eventName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	fields["type"] = name

	return json.Marshal(fields)
}
