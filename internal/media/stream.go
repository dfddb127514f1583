package media

import (
	"fmt"
	"strings"
)

// StreamType is a bitmask classifying an elementary stream.
type StreamType uint32

// Stream types. Values match the usual GStreamer bit assignment.
const (
	StreamTypeUnknown   StreamType = 1 << 0
	StreamTypeAudio     StreamType = 1 << 1
	StreamTypeVideo     StreamType = 1 << 2
	StreamTypeContainer StreamType = 1 << 3
	StreamTypeText      StreamType = 1 << 4
)

var streamTypeNames = []struct {
	t    StreamType
	name string
}{
	{StreamTypeUnknown, "unknown"},
	{StreamTypeAudio, "audio"},
	{StreamTypeVideo, "video"},
	{StreamTypeContainer, "container"},
	{StreamTypeText, "text"},
}

// String returns a "+" separated list of the type names set in t.
func (t StreamType) String() string {
	if t == 0 {
		return "none"
	}
	var names []string
	for _, n := range streamTypeNames {
		if t&n.t != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("0x%x", uint32(t))
	}
	return strings.Join(names, "+")
}

// ParseStreamType converts a name produced by String back to a StreamType.
func ParseStreamType(s string) (StreamType, error) {
	var t StreamType
	for _, part := range strings.Split(s, "+") {
		found := false
		for _, n := range streamTypeNames {
			if n.name == strings.TrimSpace(part) {
				t |= n.t
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown stream type %q", part)
		}
	}
	return t, nil
}

// StreamTypeFromCaps guesses the stream type from the media type of the first caps structure.
func StreamTypeFromCaps(c *Caps) StreamType {
	name := c.Name()
	switch {
	case strings.HasPrefix(name, "video/"), strings.HasPrefix(name, "image/"):
		return StreamTypeVideo
	case strings.HasPrefix(name, "audio/"):
		return StreamTypeAudio
	case strings.HasPrefix(name, "text/"), strings.HasPrefix(name, "subpicture/"),
		strings.HasPrefix(name, "subtitle/"), name == "application/x-subtitle":
		return StreamTypeText
	default:
		return StreamTypeUnknown
	}
}

// StreamFlags carry selection hints from upstream.
type StreamFlags uint32

const (
	StreamFlagSparse StreamFlags = 1 << iota
	StreamFlagSelect
	StreamFlagUnselect
)

// Stream describes one elementary stream. A Stream is immutable once published.
type Stream struct {
	ID    string
	Type  StreamType
	Caps  *Caps
	Tags  map[string]string
	Flags StreamFlags
}

// NewStream creates a stream. When typ is zero it is derived from caps.
func NewStream(id string, typ StreamType, caps *Caps, flags StreamFlags) *Stream {
	if typ == 0 {
		typ = StreamTypeFromCaps(caps)
	}
	return &Stream{ID: id, Type: typ, Caps: caps, Flags: flags, Tags: map[string]string{}}
}

// StreamID returns the id of s, tolerating nil.
func StreamID(s *Stream) string {
	if s == nil {
		return ""
	}
	return s.ID
}

// StreamCollection is an ordered, duplicate-free set of streams published by one upstream.
type StreamCollection struct {
	upstream string
	streams  []*Stream
}

// NewStreamCollection creates a collection from streams. Duplicated ids are rejected.
func NewStreamCollection(upstream string, streams ...*Stream) (*StreamCollection, error) {
	c := &StreamCollection{upstream: upstream}
	for _, s := range streams {
		if err := c.Add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add appends s to the collection.
func (c *StreamCollection) Add(s *Stream) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("stream without id")
	}
	if c.Find(s.ID) != nil {
		return fmt.Errorf("duplicate stream id %q", s.ID)
	}
	c.streams = append(c.streams, s)
	return nil
}

// Upstream returns the id of the source that published the collection.
func (c *StreamCollection) Upstream() string {
	if c == nil {
		return ""
	}
	return c.upstream
}

// Len returns the number of streams.
func (c *StreamCollection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.streams)
}

// Streams returns the streams in order.
func (c *StreamCollection) Streams() []*Stream {
	if c == nil {
		return nil
	}
	out := make([]*Stream, len(c.streams))
	copy(out, c.streams)
	return out
}

// Find returns the stream with the given id or nil.
func (c *StreamCollection) Find(id string) *Stream {
	if c == nil {
		return nil
	}
	for _, s := range c.streams {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// IDs returns the stream ids in order.
func (c *StreamCollection) IDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, len(c.streams))
	for i, s := range c.streams {
		ids[i] = s.ID
	}
	return ids
}
