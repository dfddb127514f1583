package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(OutputAddedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event dispatches on the static type, so switch to it first
	switch e := ev.(type) {
	case StreamCollectionEvent:
		event.Publish(b.dispatcher, e)
	case StreamsSelectedEvent:
		event.Publish(b.dispatcher, e)
	case OutputAddedEvent:
		event.Publish(b.dispatcher, e)
	case OutputRemovedEvent:
		event.Publish(b.dispatcher, e)
	case MissingElementEvent:
		event.Publish(b.dispatcher, e)
	case MissingDecoderEvent:
		event.Publish(b.dispatcher, e)
	case ElementErrorEvent:
		event.Publish(b.dispatcher, e)
	case DrainedEvent:
		event.Publish(b.dispatcher, e)
	case EngineMetricsEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e OutputAddedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(StreamCollectionEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamsSelectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OutputAddedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OutputRemovedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MissingElementEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MissingDecoderEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ElementErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DrainedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(EngineMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}

// SubscribeAll subscribes handler to every engine notification, excluding log entries and
// periodic metrics. Returns a function removing all subscriptions.
func (b *Bus) SubscribeAll(handler func(Event)) func() {
	unsubs := []func(){
		event.Subscribe(b.dispatcher, func(e StreamCollectionEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e StreamsSelectedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e OutputAddedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e OutputRemovedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e MissingElementEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e MissingDecoderEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e ElementErrorEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e DrainedEvent) { handler(e) }),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
