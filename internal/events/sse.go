package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges kelindar/event callback-based subscriptions to channels
// This is needed for SSE integration where Huma expects a channel-based select loop.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full (non-blocking)
		}
	})
}

// SSEEventTypes maps SSE event names to their payload types for the /api/events endpoint.
func SSEEventTypes() map[string]any {
	return map[string]any{
		"stream-collection": StreamCollectionEvent{},
		"streams-selected":  StreamsSelectedEvent{},
		"output-added":      OutputAddedEvent{},
		"output-removed":    OutputRemovedEvent{},
		"missing-element":   MissingElementEvent{},
		"missing-decoder":   MissingDecoderEvent{},
		"element-error":     ElementErrorEvent{},
		"drained":           DrainedEvent{},
		"engine-metrics":    EngineMetricsEvent{},
	}
}
