package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/decodebin/internal/version"
)

// ErrNotConnected is returned when the client has no connection.
var ErrNotConnected = errors.New("not connected to NATS")

// ControlClient talks to a running decodebin service over NATS.
type ControlClient struct {
	conn   *nats.Conn
	logger *slog.Logger
	mu     sync.Mutex
	subs   []*nats.Subscription
}

// NewControlClient connects to the NATS server at url.
func NewControlClient(url string, logger *slog.Logger) (*ControlClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name(version.ClientName("control")),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}

	return &ControlClient{
		conn:   conn,
		logger: logger.With("component", "nats-control"),
	}, nil
}

// Select asks the service to activate exactly ids and returns the sequence number of
// the selection.
func (c *ControlClient) Select(ctx context.Context, ids []string) (uint32, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}

	data, err := SelectRequest{Streams: ids}.Marshal()
	if err != nil {
		return 0, err
	}
	msg, err := conn.RequestWithContext(ctx, SubjectControlSelect, data)
	if err != nil {
		return 0, fmt.Errorf("select request failed: %w", err)
	}
	reply, err := UnmarshalSelectReply(msg.Data)
	if err != nil {
		return 0, fmt.Errorf("invalid select reply: %w", err)
	}
	if reply.Error != "" {
		return 0, errors.New(reply.Error)
	}
	c.logger.Debug("Selection accepted", "streams", ids, "seqnum", reply.Seqnum)
	return reply.Seqnum, nil
}

// SubscribeEvents calls handler with the kind and JSON payload of every engine
// notification published by the service.
func (c *ControlClient) SubscribeEvents(handler func(kind string, data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}

	prefix := SubjectEventsPrefix + "."
	sub, err := c.conn.Subscribe(prefix+">", func(msg *nats.Msg) {
		handler(strings.TrimPrefix(msg.Subject, prefix), msg.Data)
	})
	if err != nil {
		return err
	}
	c.subs = append(c.subs, sub)
	return c.conn.Flush()
}

// Close closes the connection.
func (c *ControlClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
