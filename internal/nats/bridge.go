package nats

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/decodebin/internal/decodebin"
	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/version"
)

// Selector applies a stream selection and returns its sequence number.
type Selector interface {
	SelectStreams(ids []string) (uint32, error)
}

// Bridge republishes engine notifications on NATS and serves selection requests.
type Bridge struct {
	url         string
	eventBus    *events.Bus
	selector    Selector
	conn        *nats.Conn
	sub         *nats.Subscription
	unsubscribe func()
	logger      *slog.Logger
	mu          sync.Mutex
}

// NewBridge creates a bridge between the event bus, the engine and NATS.
func NewBridge(url string, eventBus *events.Bus, selector Selector, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		url:      url,
		eventBus: eventBus,
		selector: selector,
		logger:   logger.With("component", "nats-bridge"),
	}
}

// Start connects to NATS, answers select requests and forwards bus events.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.url,
		nats.Name(version.ClientName("bridge")),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}

	b.conn = conn
	b.logger.Info("NATS bridge connected", "url", b.url)

	sub, err := conn.Subscribe(SubjectControlSelect, b.handleSelect)
	if err != nil {
		conn.Close()
		b.conn = nil
		return err
	}
	b.sub = sub

	b.unsubscribe = b.eventBus.SubscribeAll(b.forward)
	b.logger.Info("NATS bridge serving", "control", SubjectControlSelect, "events", SubjectEventsPrefix+".>")
	return nil
}

func (b *Bridge) handleSelect(msg *nats.Msg) {
	req, err := UnmarshalSelectRequest(msg.Data)
	var reply SelectReply
	if err != nil {
		b.logger.Warn("Failed to unmarshal select request", "error", err, "subject", msg.Subject)
		reply.Error = err.Error()
	} else {
		seqnum, err := b.selector.SelectStreams(req.Streams)
		if err != nil {
			reply.Error = err.Error()
			var de *decodebin.Error
			if errors.As(err, &de) {
				reply.Code = de.Code
			}
		} else {
			reply.Seqnum = seqnum
			b.logger.Info("Selection requested over NATS", "streams", req.Streams, "seqnum", seqnum)
		}
	}

	if msg.Reply == "" {
		return
	}
	data, err := reply.Marshal()
	if err != nil {
		b.logger.Warn("Failed to marshal select reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn("Failed to respond to select request", "error", err)
	}
}

func (b *Bridge) forward(ev events.Event) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("Failed to marshal event", "error", err)
		return
	}
	subject := SubjectEvent(events.Name(ev))
	if err := conn.Publish(subject, data); err != nil {
		b.logger.Debug("Failed to publish event", "subject", subject, "error", err)
	}
}

// Stop unsubscribes and closes the connection.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
	b.logger.Info("NATS bridge stopped")
}

func (b *Bridge) cleanup() {
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
		b.sub = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}
