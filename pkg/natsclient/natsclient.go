package natsclient

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type Config struct {
	URL  string
	Name string
}

func NewConn(cfg *Config) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}

	return nc, nil
}
