package decoders

import (
	"sync/atomic"

	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/metrics"
)

// carriedFields are copied from the coded caps to the raw output caps.
var carriedFields = []string{"width", "height", "framerate", "pixel-aspect-ratio", "rate", "channels", "format"}

type decoder struct {
	registry *Registry
	entry    Entry
	name     string
	sink     *media.Pad
	src      *media.Pad
	stopped  atomic.Bool
}

func newDecoder(r *Registry, entry Entry, name string) *decoder {
	d := &decoder{registry: r, entry: entry, name: name}
	d.src = media.NewSrcPad(name + ".src")
	d.sink = media.NewSinkPad(name+".sink", d.chain)
	d.sink.SetQueryFunc(d.query)
	return d
}

func (d *decoder) Name() string            { return d.name }
func (d *decoder) SinkPad() *media.Pad     { return d.sink }
func (d *decoder) SrcPad() *media.Pad      { return d.src }
func (d *decoder) Start() error            { return nil }
func (d *decoder) outputCaps() *media.Caps { return d.entry.OutputCaps }

// Stop releases the decoder. Data arriving afterwards is discarded.
func (d *decoder) Stop() error {
	if d.stopped.CompareAndSwap(false, true) {
		d.registry.destroyed.Add(1)
		metrics.IncDecoderDestroyed(d.entry.Name)
	}
	return nil
}

func (d *decoder) chain(_ *media.Pad, item media.Item) error {
	if d.stopped.Load() {
		return nil
	}
	switch it := item.(type) {
	case *media.Event:
		if it.Type == media.EventCaps {
			return d.src.Push(media.NewCapsEvent(d.relabel(it.Caps)))
		}
		return d.src.Push(it)
	case *media.Buffer:
		if it.HasFlags(media.BufferFlagHeader) && len(it.Data) == 0 {
			return nil
		}
		out := &media.Buffer{Data: it.Data, PTS: it.PTS, Flags: it.Flags &^ (media.BufferFlagDeltaUnit | media.BufferFlagHeader)}
		return d.src.Push(out)
	}
	return nil
}

func (d *decoder) query(_ *media.Pad, q *media.Query) bool {
	switch q.Type {
	case media.QueryAcceptCaps:
		q.Accepted = d.entry.SinkCaps.CanIntersect(q.Caps)
		return true
	case media.QueryCaps:
		q.Result = d.entry.SinkCaps
		return true
	}
	return false
}

// relabel builds the raw output caps, keeping the format properties of the coded stream.
func (d *decoder) relabel(in *media.Caps) *media.Caps {
	out := d.outputCaps().Structures()[0]
	for _, key := range carriedFields {
		if _, set := out.Fields[key]; set {
			continue
		}
		if v, ok := in.Field(key); ok {
			out.Fields[key] = v
		}
	}
	return media.NewCaps(out)
}
