package events

// Event type constants for kelindar/event.
const (
	TypeStreamCollection uint32 = iota + 1
	TypeStreamsSelected
	TypeOutputAdded
	TypeOutputRemoved
	TypeMissingElement
	TypeMissingDecoder
	TypeElementError
	TypeDrained
	TypeEngineMetrics
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StreamInfo describes one elementary stream in notifications.
type StreamInfo struct {
	ID   string `json:"id" example:"in0/1a2b3c4d" doc:"Stable stream identifier"`
	Type string `json:"type" example:"video" doc:"Stream type"`
	Caps string `json:"caps" example:"video/x-h264, stream-format=byte-stream" doc:"Stream caps"`
}

// StreamCollectionEvent is published whenever the merged stream collection changes.
type StreamCollectionEvent struct {
	Streams   []StreamInfo `json:"streams" doc:"Streams of all inputs in registration order"`
	Timestamp string       `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamCollectionEvent.
func (e StreamCollectionEvent) Type() uint32 { return TypeStreamCollection }

// StreamsSelectedEvent is published once each time the active selection converges.
type StreamsSelectedEvent struct {
	Seqnum    uint32       `json:"seqnum" example:"12" doc:"Sequence number of the selection being served"`
	Streams   []StreamInfo `json:"streams" doc:"Active streams in output order"`
	Timestamp string       `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamsSelectedEvent.
func (e StreamsSelectedEvent) Type() uint32 { return TypeStreamsSelected }

// OutputAddedEvent is published when an output pad is exposed.
type OutputAddedEvent struct {
	Pad       string `json:"pad" example:"video_0" doc:"Exposed pad name"`
	StreamID  string `json:"stream_id" example:"in0/1a2b3c4d" doc:"Stream feeding the pad"`
	Caps      string `json:"caps" example:"video/x-raw" doc:"Stream caps"`
	Decoder   string `json:"decoder,omitempty" example:"h264dec" doc:"Decoder in use, empty for raw passthrough"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for OutputAddedEvent.
func (e OutputAddedEvent) Type() uint32 { return TypeOutputAdded }

// OutputRemovedEvent is published when an output pad is removed.
type OutputRemovedEvent struct {
	Pad       string `json:"pad" example:"video_0" doc:"Removed pad name"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for OutputRemovedEvent.
func (e OutputRemovedEvent) Type() uint32 { return TypeOutputRemoved }

// MissingElementEvent reports an input whose parser could not be created.
type MissingElementEvent struct {
	Element   string `json:"element" example:"parsebin" doc:"Missing element"`
	Input     string `json:"input" example:"in0" doc:"Affected input"`
	Message   string `json:"message" doc:"Details"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for MissingElementEvent.
func (e MissingElementEvent) Type() uint32 { return TypeMissingElement }

// MissingDecoderEvent reports caps for which no decoder exists.
type MissingDecoderEvent struct {
	StreamID  string `json:"stream_id" example:"in0/1a2b3c4d" doc:"Stream without decoder"`
	Caps      string `json:"caps" example:"video/x-theora" doc:"Undecodable caps"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for MissingDecoderEvent.
func (e MissingDecoderEvent) Type() uint32 { return TypeMissingDecoder }

// ElementErrorEvent reports an engine error. Fatal errors stop data flow for the stream.
type ElementErrorEvent struct {
	Code      string `json:"code" example:"RESOURCE_EXHAUSTED" doc:"Error code"`
	Message   string `json:"message" doc:"Error message"`
	Fatal     bool   `json:"fatal" doc:"Whether the error is fatal"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ElementErrorEvent.
func (e ElementErrorEvent) Type() uint32 { return TypeElementError }

// DrainedEvent is published once when every input reached end of stream.
type DrainedEvent struct {
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DrainedEvent.
func (e DrainedEvent) Type() uint32 { return TypeDrained }

// EngineMetricsEvent is a periodic summary of the engine's resources.
type EngineMetricsEvent struct {
	EventType string `json:"type"`
	Engine    string `json:"engine"`
	Slots     string `json:"slots"`
	Outputs   string `json:"outputs"`
	Active    string `json:"active"`
	Requested string `json:"requested"`
}

// Type returns the event type identifier for EngineMetricsEvent.
func (e EngineMetricsEvent) Type() uint32 { return TypeEngineMetrics }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"decodebin" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

var eventNames = map[uint32]string{
	TypeStreamCollection: "stream-collection",
	TypeStreamsSelected:  "streams-selected",
	TypeOutputAdded:      "output-added",
	TypeOutputRemoved:    "output-removed",
	TypeMissingElement:   "missing-element",
	TypeMissingDecoder:   "missing-decoder",
	TypeElementError:     "element-error",
	TypeDrained:          "drained",
	TypeEngineMetrics:    "engine-metrics",
	TypeLogEntry:         "log-entry",
}

// Name returns the wire name of an event, used as SSE event name and NATS subject suffix.
func Name(ev Event) string {
	if name, ok := eventNames[ev.Type()]; ok {
		return name
	}
	return "unknown"
}
