package exporters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/metrics"
)

type mockEventBus struct {
	mu        sync.Mutex
	events    []events.Event
	published chan struct{}
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{
		events:    make([]events.Event, 0),
		published: make(chan struct{}, 100),
	}
}

func (m *mockEventBus) Publish(ev events.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.published <- struct{}{}:
	default:
	}
}

func (m *mockEventBus) getEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]events.Event, len(m.events))
	copy(result, m.events)
	return result
}

func TestSSEExporterPublishesMetrics(t *testing.T) {
	engine := "sse-test-engine"
	metrics.SetEngineStats(engine, metrics.EngineStats{Slots: 3, Outputs: 2, Active: 2, Requested: 1})
	defer metrics.DeleteEngineMetrics(engine)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	exporter.Start(ctx)

	select {
	case <-mock.published:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for metrics publish")
	}

	cancel()
	exporter.Stop()

	var found bool
	for _, ev := range mock.getEvents() {
		if em, ok := ev.(events.EngineMetricsEvent); ok && em.Engine == engine {
			found = true
			if em.Slots != "3" {
				t.Errorf("Slots = %q, want \"3\"", em.Slots)
			}
			if em.Requested != "1" {
				t.Errorf("Requested = %q, want \"1\"", em.Requested)
			}
			break
		}
	}
	if !found {
		t.Error("expected EngineMetricsEvent for test engine")
	}
}

func TestSSEExporterStopIdempotent(t *testing.T) {
	engine := "sse-idempotent-engine"
	metrics.SetEngineStats(engine, metrics.EngineStats{Slots: 1})
	defer metrics.DeleteEngineMetrics(engine)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	exporter.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	exporter.Stop()
	exporter.Stop()

	countAfterStop := len(mock.getEvents())
	time.Sleep(30 * time.Millisecond)
	if countAfterWait := len(mock.getEvents()); countAfterWait != countAfterStop {
		t.Errorf("events published after stop: got %d, want %d", countAfterWait, countAfterStop)
	}
}

func TestSSEExporterStopBeforeStart(t *testing.T) {
	engine := "sse-stop-before-start-engine"
	metrics.SetEngineStats(engine, metrics.EngineStats{Outputs: 1})
	defer metrics.DeleteEngineMetrics(engine)

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	// Stop before start should not panic
	exporter.Stop()

	exporter.Start(t.Context())
	time.Sleep(30 * time.Millisecond)
	exporter.Stop()

	if len(mock.getEvents()) == 0 {
		t.Error("expected events after Start(), got none")
	}
}
