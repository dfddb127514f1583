package decodebin

import (
	"log/slog"
	"sync"

	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/multiqueue"
)

// SlotID identifies a slot. Zero means none.
type SlotID int

type slotMsg int

const (
	msgReconfigure slotMsg = iota + 1
	msgUnassign
	msgForceEOS
)

func (m slotMsg) String() string {
	switch m {
	case msgReconfigure:
		return "reconfigure"
	case msgUnassign:
		return "unassign"
	case msgForceEOS:
		return "force-eos"
	}
	return "unknown"
}

// slot is one multi-queue pair carrying a single elementary stream at a time.
type slot struct {
	id     SlotID
	typ    media.StreamType
	pair   *multiqueue.Pair
	src    *media.Pad
	logger *slog.Logger

	// owned by the engine goroutine
	input   *inputStream
	pending *media.Stream
	active  *media.Stream
	output  OutputID
	drained bool
	// unassigning is set while an unassign message is queued; the output is promised.
	unassigning bool

	inboxMu sync.Mutex
	inbox   []slotMsg
}

// acquireSlot finds or creates the slot for the input stream's pending stream and links
// the stream's pad to it.
func (st *state) acquireSlot(is *inputStream) effects {
	var fx effects
	stream := is.pending

	var s *slot
	if old := st.slots[is.slot]; old != nil {
		if old.typ == stream.Type {
			s = old
		} else {
			is.input.logger.Info("Stream type changed, moving to a new slot",
				"stream_id", stream.ID, "from", old.typ.String(), "to", stream.Type.String())
			fx.merge(st.unlinkInputStream(is))
		}
	}

	if s == nil {
		for _, free := range st.orderedSlots() {
			if free.input != nil || free.typ != stream.Type {
				continue
			}
			if free.active != nil && free.active.ID == stream.ID {
				s = free
				break
			}
			if s == nil {
				s = free
			}
		}
	}

	if s == nil {
		pair, err := st.e.queue.RequestPair(stream.Type)
		if err != nil {
			cerr := NewError(ErrCodeResourceExhausted, "cannot create slot for "+stream.ID, err)
			is.input.logger.Error("Failed to acquire slot", "stream_id", stream.ID, "error", err)
			st.e.publish(&fx, events.ElementErrorEvent{
				Code:      ErrCodeResourceExhausted,
				Message:   cerr.Error(),
				Fatal:     true,
				Timestamp: timestamp(),
			})
			return fx
		}
		s = st.newSlot(pair, stream.Type)
	}

	s.input = is
	s.pending = stream
	is.slot = s.id
	st.bind(stream.ID, s)

	pad, sink := is.pad, s.pair.SinkPad()
	if pad.Peer() != sink {
		fx.add(func() {
			pad.Unlink()
			if err := media.Link(pad, sink); err != nil {
				s.logger.Warn("Failed to link input to slot", "pad", pad.Name(), "error", err)
			}
		})
	}
	s.logger.Debug("Slot assigned", "stream_id", stream.ID, "input", is.input.name)
	return fx
}

func (st *state) newSlot(pair *multiqueue.Pair, typ media.StreamType) *slot {
	st.nextSlot++
	s := &slot{
		id:   st.nextSlot,
		typ:  typ,
		pair: pair,
		src:  pair.SrcPad(),
	}
	s.logger = st.logger.With("slot", int(s.id))
	st.slots[s.id] = s

	s.src.AddProbe(media.ProbeTypeEventDownstream, st.e.slotEventProbe(s))
	s.src.AddProbe(media.ProbeTypeQuery, slotQueryProbe)
	s.logger.Debug("Slot created", "type", typ.String(), "pair", pair.ID())
	return s
}

// removeSlot forgets the slot and its output. The returned effects release the pair.
func (st *state) removeSlot(s *slot) effects {
	var fx effects
	if o := st.outputs[s.output]; o != nil {
		fx.merge(st.destroyOutput(o))
	}
	if s.active != nil {
		st.unbind(s.active.ID, s)
	}
	if s.pending != nil {
		st.unbind(s.pending.ID, s)
	}
	if s.input != nil {
		s.input.slot = 0
		s.input = nil
	}
	delete(st.slots, s.id)
	s.logger.Debug("Slot removed")
	pair := s.pair
	fx.add(pair.Release)
	return fx
}

func (st *state) alive(s *slot) bool {
	return !st.stopped && st.slots[s.id] == s
}

// post queues a control message for the slot. The effects drain the inbox on the slot's
// source pad once no item is in flight.
func (st *state) post(s *slot, msg slotMsg) effects {
	e := st.e
	return effects{func() {
		s.inboxMu.Lock()
		s.inbox = append(s.inbox, msg)
		s.inboxMu.Unlock()
		s.src.AddIdleProbe(func(*media.Pad) { e.drainInbox(s) })
	}}
}

func (e *Engine) drainInbox(s *slot) {
	s.inboxMu.Lock()
	msgs := s.inbox
	s.inbox = nil
	s.inboxMu.Unlock()

	for _, msg := range msgs {
		var forceEOS bool
		err := e.exec(func(st *state) effects {
			if !st.alive(s) {
				return nil
			}
			s.logger.Debug("Slot message", "message", msg.String())
			switch msg {
			case msgReconfigure:
				return st.reconfigureSlot(s, s.src.CurrentCaps())
			case msgUnassign:
				return st.reassignSlot(s)
			case msgForceEOS:
				forceEOS = s.input != nil
			}
			return nil
		})
		if err != nil {
			return
		}
		if forceEOS {
			if err := s.pair.SinkPad().Send(media.NewEOSEvent()); err != nil {
				s.logger.Debug("Failed to queue EOS", "error", err)
			}
		}
	}
}

// slotEventProbe runs on the slot's worker goroutine for every downstream event.
func (e *Engine) slotEventProbe(s *slot) media.ProbeFunc {
	return func(pad *media.Pad, info *media.ProbeInfo) media.ProbeReturn {
		ev := info.Event
		switch ev.Type {
		case media.EventStreamStart:
			_ = e.exec(func(st *state) effects {
				if st.alive(s) {
					st.slotStreamStart(s, ev.Stream)
				}
				return nil
			})
		case media.EventCaps:
			_ = e.exec(func(st *state) effects {
				if !st.alive(s) {
					return nil
				}
				return st.reconfigureSlot(s, ev.Caps)
			})
		case media.EventEOS:
			last := false
			_ = e.exec(func(st *state) effects {
				if !st.alive(s) {
					return nil
				}
				s.drained = true
				if s.input != nil {
					return nil
				}
				last = true
				s.logger.Debug("Last EOS, removing slot")
				fx := effects{forwardEOS(pad, ev)}
				fx.merge(st.removeSlot(s))
				return fx
			})
			if last {
				return media.ProbeDrop
			}
		case media.EventCustomDownstream:
			if ev.Name != customEOSName {
				return media.ProbeOK
			}
			_ = e.exec(func(st *state) effects {
				if !st.alive(s) {
					return nil
				}
				s.drained = true
				if s.input != nil {
					return nil
				}
				s.logger.Debug("Input gone, removing slot")
				fx := effects{forwardEOS(pad, media.NewEOSEvent())}
				fx.merge(st.removeSlot(s))
				return fx
			})
			return media.ProbeDrop
		}
		return media.ProbeOK
	}
}

func forwardEOS(pad *media.Pad, ev *media.Event) func() {
	return func() {
		if peer := pad.Peer(); peer != nil {
			_ = peer.Send(ev)
		}
	}
}

// slotQueryProbe accepts anything; a caps change is handled when the caps event arrives.
func slotQueryProbe(_ *media.Pad, info *media.ProbeInfo) media.ProbeReturn {
	q := info.Query
	switch q.Type {
	case media.QueryCaps:
		q.Result = media.NewAnyCaps()
		return media.ProbeHandled
	case media.QueryAcceptCaps:
		q.Accepted = true
		return media.ProbeHandled
	}
	return media.ProbeOK
}

func (st *state) slotStreamStart(s *slot, stream *media.Stream) {
	if stream == nil {
		s.logger.Warn("Ignoring stream-start without stream")
		return
	}
	old := s.active
	s.active = stream
	s.drained = false
	if old != nil && old.ID != stream.ID {
		st.unbind(old.ID, s)
		if s.output != 0 {
			st.active = replace(st.active, old.ID, stream.ID)
		}
		s.logger.Debug("Slot stream changed", "from", old.ID, "to", stream.ID)
	}
	st.bind(stream.ID, s)
}

// reconfigureSlot attaches an output to the slot if its stream should be exposed and
// configures it for caps.
func (st *state) reconfigureSlot(s *slot, caps *media.Caps) effects {
	o, fx := st.outputForSlot(s)
	if o != nil {
		fx.merge(st.reconfigureOutput(o, s, caps))
	}
	fx.merge(st.checkSelectionDone())
	return fx
}
