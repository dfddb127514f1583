package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/decodebin/internal/events"
)

// registerSSERoutes registers the engine notification stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time engine notifications. The current collection is sent first.",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, events.SSEEventTypes(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.StreamCollectionEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamsSelectedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.OutputAddedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.OutputRemovedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.MissingElementEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.MissingDecoderEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ElementErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DrainedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if s.engine != nil {
			if c, err := s.engine.Collection(); err == nil {
				data := collectionData(c)
				if err := send.Data(events.StreamCollectionEvent{
					Streams:   data.Streams,
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				}); err != nil {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
