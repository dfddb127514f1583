package decodebin

import (
	"fmt"
	"log/slog"

	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/media"
)

// customEOSName marks the private event that drains a slot whose input pad went away.
const customEOSName = "decodebin3-custom-eos"

// Input is one source of elementary streams, parsed by its own ParseBin.
type Input struct {
	engine   *Engine
	name     string
	parsebin ParseBin
	sink     *media.Pad
	logger   *slog.Logger

	// owned by the engine goroutine
	collection *media.StreamCollection
	streams    map[*media.Pad]*inputStream
	removed    bool
}

// Name returns the input name.
func (in *Input) Name() string { return in.name }

// SinkPad returns the pad receiving the input's data.
func (in *Input) SinkPad() *media.Pad { return in.sink }

// inputStream tracks one elementary stream pad of an input.
type inputStream struct {
	input   *Input
	pad     *media.Pad
	pending *media.Stream
	active  *media.Stream
	sawEOS  bool
	slot    SlotID
	probes  []media.ProbeID
}

// detach returns the effects unlinking the pad from the engine.
func (is *inputStream) detach() effects {
	pad, probes := is.pad, is.probes
	return effects{func() {
		for _, id := range probes {
			pad.RemoveProbe(id)
		}
		pad.Unlink()
	}}
}

func (is *inputStream) streamID() string {
	if is.active != nil {
		return is.active.ID
	}
	return media.StreamID(is.pending)
}

// AddInput registers an input and creates its ParseBin. When no ParseBin can be created a
// MissingElement notification is posted and the input discards its data.
func (e *Engine) AddInput(name string) (*Input, error) {
	in := &Input{
		engine:  e,
		name:    name,
		logger:  e.logger.With("input", name),
		streams: make(map[*media.Pad]*inputStream),
	}
	var dup, stopped bool
	err := e.exec(func(st *state) effects {
		stopped = st.stopped
		dup = st.hasInput(name)
		return nil
	})
	if err == nil && stopped {
		err = ErrStopped
	}
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, NewError(ErrCodeInputExists, fmt.Sprintf("input %q already exists", name), nil)
	}

	pb, perr := e.parsebins.NewParseBin(name, &inputListener{e: e, in: in})
	if perr != nil {
		in.sink = media.NewSinkPad(name+"_sink", func(*media.Pad, media.Item) error { return nil })
	} else {
		in.parsebin = pb
		in.sink = pb.SinkPad()
	}

	// in must be complete before Stop can see it
	err = e.exec(func(st *state) effects {
		switch {
		case st.stopped:
			stopped = true
		case st.hasInput(name):
			dup = true
		default:
			st.inputs = append(st.inputs, in)
		}
		return nil
	})
	if err == nil && stopped {
		err = ErrStopped
	}
	if err != nil || dup {
		if pb != nil {
			_ = pb.Stop()
		}
		if err != nil {
			return nil, err
		}
		return nil, NewError(ErrCodeInputExists, fmt.Sprintf("input %q already exists", name), nil)
	}

	if perr != nil {
		in.logger.Warn("No parser for input, discarding its data", "error", perr)
		if e.bus != nil {
			e.bus.Publish(events.MissingElementEvent{
				Element:   "parsebin",
				Input:     name,
				Message:   NewError(ErrCodeMissingElement, "cannot create parser", perr).Error(),
				Timestamp: timestamp(),
			})
		}
		return in, nil
	}
	in.logger.Info("Input added")
	return in, nil
}

// RemoveInput stops the input's ParseBin and treats all its pads as removed.
func (e *Engine) RemoveInput(in *Input) error {
	var known bool
	err := e.exec(func(st *state) effects {
		i := -1
		for n, other := range st.inputs {
			if other == in {
				i = n
			}
		}
		if i < 0 {
			return nil
		}
		known = true
		st.inputs = append(st.inputs[:i], st.inputs[i+1:]...)
		in.removed = true

		var fx effects
		for _, is := range in.streams {
			fx.merge(st.removeInputStream(is))
		}
		if in.collection != nil {
			in.collection = nil
			fx.merge(st.collectionUpdated())
		}
		return fx
	})
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("input %q is not part of this engine", in.name)
	}
	if in.parsebin != nil {
		if err := in.parsebin.Stop(); err != nil {
			return fmt.Errorf("failed to stop parser of input %s: %w", in.name, err)
		}
	}
	in.logger.Info("Input removed")
	return nil
}

type inputListener struct {
	e  *Engine
	in *Input
}

func (l *inputListener) PadAdded(pad *media.Pad) {
	in := l.in
	is := &inputStream{input: in, pad: pad}
	_ = l.e.exec(func(st *state) effects {
		if in.removed || st.stopped {
			return nil
		}
		in.streams[pad] = is
		is.probes = []media.ProbeID{
			pad.AddProbe(media.ProbeTypeEventDownstream, l.e.inputEventProbe(is)),
			pad.AddProbe(media.ProbeTypeQuery, l.e.inputQueryProbe),
		}
		in.logger.Debug("Elementary pad added", "pad", pad.Name())
		return nil
	})
}

func (l *inputListener) PadRemoved(pad *media.Pad) {
	in := l.in
	_ = l.e.exec(func(st *state) effects {
		is, ok := in.streams[pad]
		if !ok {
			return nil
		}
		in.logger.Debug("Elementary pad removed", "pad", pad.Name(), "stream_id", is.streamID())
		return st.removeInputStream(is)
	})
}

func (l *inputListener) CollectionChanged(c *media.StreamCollection) {
	in := l.in
	_ = l.e.exec(func(st *state) effects {
		if in.removed || st.stopped {
			return nil
		}
		return st.handleCollection(in, c)
	})
}

// inputEventProbe follows stream-start, caps and EOS on an elementary pad.
func (e *Engine) inputEventProbe(is *inputStream) media.ProbeFunc {
	return func(_ *media.Pad, info *media.ProbeInfo) media.ProbeReturn {
		ev := info.Event
		switch ev.Type {
		case media.EventStreamStart:
			_ = e.exec(func(st *state) effects {
				return st.inputStreamStart(is, ev)
			})
		case media.EventCaps:
			_ = e.exec(func(st *state) effects {
				if is.pending != nil {
					is.active = is.pending
				}
				return nil
			})
		case media.EventEOS:
			_ = e.exec(func(st *state) effects {
				if st.stopped {
					return nil
				}
				is.sawEOS = true
				is.input.logger.Debug("Elementary stream reached EOS", "stream_id", is.streamID())
				return st.checkInputsEOS()
			})
			return media.ProbeDrop
		}
		return media.ProbeOK
	}
}

// inputQueryProbe advertises everything the engine can expose.
func (e *Engine) inputQueryProbe(_ *media.Pad, info *media.ProbeInfo) media.ProbeReturn {
	q := info.Query
	switch q.Type {
	case media.QueryCaps:
		q.Result = e.acceptedCaps()
		return media.ProbeHandled
	case media.QueryAcceptCaps:
		q.Accepted = e.acceptedCaps().CanIntersect(q.Caps)
		return media.ProbeHandled
	}
	return media.ProbeOK
}

// inputStreamStart binds the elementary stream to a slot.
func (st *state) inputStreamStart(is *inputStream, ev *media.Event) effects {
	if st.stopped || is.input.removed {
		return nil
	}
	logger := is.input.logger
	stream := ev.Stream
	if stream == nil {
		logger.Warn("Ignoring stream-start without stream", "pad", is.pad.Name())
		return nil
	}

	var fx effects
	if s := st.slotForStream(stream.ID); s != nil && s.input != nil && s.input != is {
		logger.Error("Duplicate stream id across inputs, leaving pad unlinked",
			"stream_id", stream.ID, "slot", s.id)
		fx.merge(st.unlinkInputStream(is))
		st.e.publish(&fx, events.ElementErrorEvent{
			Code:      ErrCodeDuplicateStreamID,
			Message:   fmt.Sprintf("stream %q is already provided by another input", stream.ID),
			Timestamp: timestamp(),
		})
		return fx
	}

	is.pending = stream
	is.sawEOS = false
	st.eosForwarded = false
	fx.merge(st.acquireSlot(is))
	return fx
}

// unlinkInputStream detaches the stream from its slot and drains the slot with a custom
// EOS.
func (st *state) unlinkInputStream(is *inputStream) effects {
	s := st.slots[is.slot]
	is.slot = 0
	if s == nil {
		return nil
	}
	if s.input == is {
		s.input = nil
	}
	pad, sink := is.pad, s.pair.SinkPad()
	s.logger.Debug("Slot orphaned", "stream_id", is.streamID())
	return effects{func() {
		if pad.Peer() == sink {
			pad.Unlink()
		}
		_ = sink.Send(media.NewCustomDownstreamEvent(customEOSName))
	}}
}

func (st *state) removeInputStream(is *inputStream) effects {
	delete(is.input.streams, is.pad)
	fx := st.unlinkInputStream(is)
	fx.merge(is.detach())
	return fx
}

// checkInputsEOS forwards EOS once every elementary stream of every input has seen it.
func (st *state) checkInputsEOS() effects {
	if st.eosForwarded {
		return nil
	}
	seen := false
	for _, in := range st.inputs {
		for _, is := range in.streams {
			seen = true
			if !is.sawEOS {
				return nil
			}
		}
	}
	if !seen {
		return nil
	}
	st.eosForwarded = true
	st.logger.Info("All inputs drained")

	var fx effects
	for _, s := range st.orderedSlots() {
		if s.input != nil {
			fx.merge(st.post(s, msgForceEOS))
		}
	}
	st.e.publish(&fx, events.DrainedEvent{Timestamp: timestamp()})
	return fx
}
