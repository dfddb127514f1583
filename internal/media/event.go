package media

import (
	"sync/atomic"
	"time"
)

// Item is anything that travels downstream through a pad: a *Buffer or an *Event.
type Item interface {
	probeType() ProbeType
}

// BufferFlags describe a buffer's position in the stream.
type BufferFlags uint32

const (
	// BufferFlagDeltaUnit marks a buffer that cannot be decoded on its own.
	BufferFlagDeltaUnit BufferFlags = 1 << iota
	// BufferFlagHeader marks codec configuration data (SPS/PPS and similar).
	BufferFlagHeader
	// BufferFlagDiscont marks the first buffer after a gap.
	BufferFlagDiscont
)

// Buffer is one unit of media data.
type Buffer struct {
	Data  []byte
	PTS   time.Duration
	Flags BufferFlags
}

// HasFlags reports whether all flags in f are set.
func (b *Buffer) HasFlags(f BufferFlags) bool {
	return b.Flags&f == f
}

// IsKeyframe reports whether the buffer can start decoding.
func (b *Buffer) IsKeyframe() bool {
	return !b.HasFlags(BufferFlagDeltaUnit) || b.HasFlags(BufferFlagHeader)
}

func (b *Buffer) probeType() ProbeType { return ProbeTypeBuffer }

// EventType identifies an event.
type EventType int

const (
	EventStreamStart EventType = iota + 1
	EventCaps
	EventStreamCollection
	EventEOS
	EventCustomDownstream
	EventSelectStreams
)

var eventTypeNames = map[EventType]string{
	EventStreamStart:      "stream-start",
	EventCaps:             "caps",
	EventStreamCollection: "stream-collection",
	EventEOS:              "eos",
	EventCustomDownstream: "custom-downstream",
	EventSelectStreams:    "select-streams",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// SeqnumInvalid is never returned by NextSeqnum.
const SeqnumInvalid uint32 = 0

var seqnumCounter atomic.Uint32

// NextSeqnum returns a new sequence number. All events share one counter, which wraps
// after math.MaxUint32 and skips SeqnumInvalid; compare values in serial number arithmetic.
func NextSeqnum() uint32 {
	for {
		n := seqnumCounter.Add(1)
		if n != SeqnumInvalid {
			return n
		}
	}
}

// Event carries control information alongside the data flow.
type Event struct {
	Type       EventType
	Seqnum     uint32
	Stream     *Stream
	GroupID    uint32
	Caps       *Caps
	Collection *StreamCollection
	// Streams holds the ids of a select-streams event.
	Streams []string
	// Name identifies a custom event.
	Name string
}

func (e *Event) probeType() ProbeType {
	if e.Type == EventSelectStreams {
		return ProbeTypeEventUpstream
	}
	return ProbeTypeEventDownstream
}

// IsSticky reports whether the event is stored on the pad and replayed on relink.
func (e *Event) IsSticky() bool {
	switch e.Type {
	case EventStreamStart, EventCaps, EventStreamCollection:
		return true
	default:
		return false
	}
}

// NewStreamStartEvent announces the stream that subsequent data belongs to.
// The stream may be nil for upstreams that do not track stream objects.
func NewStreamStartEvent(s *Stream, groupID uint32) *Event {
	return &Event{Type: EventStreamStart, Seqnum: NextSeqnum(), Stream: s, GroupID: groupID}
}

// NewCapsEvent announces the format of subsequent buffers.
func NewCapsEvent(c *Caps) *Event {
	return &Event{Type: EventCaps, Seqnum: NextSeqnum(), Caps: c}
}

// NewStreamCollectionEvent carries a collection downstream.
func NewStreamCollectionEvent(c *StreamCollection) *Event {
	return &Event{Type: EventStreamCollection, Seqnum: NextSeqnum(), Collection: c}
}

// NewEOSEvent marks the end of a stream.
func NewEOSEvent() *Event {
	return &Event{Type: EventEOS, Seqnum: NextSeqnum()}
}

// NewCustomDownstreamEvent creates a named private downstream event.
func NewCustomDownstreamEvent(name string) *Event {
	return &Event{Type: EventCustomDownstream, Seqnum: NextSeqnum(), Name: name}
}

// NewSelectStreamsEvent requests that exactly the given streams be exposed.
func NewSelectStreamsEvent(ids []string) *Event {
	cp := make([]string, len(ids))
	copy(cp, ids)
	return &Event{Type: EventSelectStreams, Seqnum: NextSeqnum(), Streams: cp}
}

// QueryType identifies a query.
type QueryType int

const (
	QueryCaps QueryType = iota + 1
	QueryAcceptCaps
)

// Query asks a pad's peer about formats.
type Query struct {
	Type QueryType
	// Caps is the filter of a caps query, or the caps being checked by an accept-caps query.
	Caps *Caps
	// Result is the answer to a caps query.
	Result *Caps
	// Accepted is the answer to an accept-caps query.
	Accepted bool
}

// NewCapsQuery asks which caps the peer can handle, optionally filtered.
func NewCapsQuery(filter *Caps) *Query {
	return &Query{Type: QueryCaps, Caps: filter}
}

// NewAcceptCapsQuery asks whether the peer accepts c.
func NewAcceptCapsQuery(c *Caps) *Query {
	return &Query{Type: QueryAcceptCaps, Caps: c}
}
