package decodebin

import "github.com/smazurov/decodebin/internal/media"

// ParseBin splits one input into elementary stream pads.
type ParseBin interface {
	// SinkPad receives the input's data.
	SinkPad() *media.Pad
	Stop() error
}

// ParseBinListener receives a ParseBin's topology changes. Calls may come from any
// goroutine but must not be made while pushing on the pad they refer to.
type ParseBinListener interface {
	PadAdded(pad *media.Pad)
	PadRemoved(pad *media.Pad)
	CollectionChanged(c *media.StreamCollection)
}

// ParseBinFactory creates the parser of a new input.
type ParseBinFactory interface {
	NewParseBin(name string, listener ParseBinListener) (ParseBin, error)
}

// DecoderFactory creates decoders for coded streams.
type DecoderFactory interface {
	CreateDecoder(stream *media.Stream, caps *media.Caps) (media.Element, error)
	// SinkCaps is the union of all caps some decoder accepts.
	SinkCaps() *media.Caps
}

// OutputHandler is told about exposed output pads. OutputAdded is called before any data
// flows on the pad, so the handler can link it.
type OutputHandler interface {
	OutputAdded(pad *media.Pad, stream *media.Stream)
	OutputRemoved(pad *media.Pad)
}

// SelectStreamFunc hints the default selection for one stream of the merged collection:
// 1 selects the stream, 0 rejects it and -1 leaves the decision to the engine.
type SelectStreamFunc func(c *media.StreamCollection, s *media.Stream) int
