package decodebin

import (
	"fmt"

	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/metrics"
)

// OutputID identifies an output. Zero means none.
type OutputID int

// output is an exposed pad, fed by a slot either directly or through a decoder.
type output struct {
	id      OutputID
	typ     media.StreamType
	slot    SlotID
	decoder media.Element
	ghost   *media.GhostPad
	linked  bool
	exposed bool
	// gate is the keyframe probe on the slot source pad, zero when none.
	gate media.ProbeID
}

func padPrefix(t media.StreamType) string {
	switch {
	case t&media.StreamTypeVideo != 0:
		return "video"
	case t&media.StreamTypeAudio != 0:
		return "audio"
	case t&media.StreamTypeText != 0:
		return "text"
	}
	return "src"
}

func (st *state) createOutput(typ media.StreamType) *output {
	prefix := padPrefix(typ)
	name := fmt.Sprintf("%s_%d", prefix, st.padCounters[prefix])
	st.padCounters[prefix]++

	st.nextOutput++
	o := &output{id: st.nextOutput, typ: typ, ghost: media.NewGhostPad(name)}
	o.ghost.AddProbe(media.ProbeTypeEventUpstream, st.e.outputUpstreamProbe)
	st.outputs[o.id] = o
	st.outputOrder = append(st.outputOrder, o.id)
	st.logger.Debug("Output created", "pad", name, "type", typ.String())
	return o
}

// outputUpstreamProbe handles select-streams sent upstream from an exposed pad.
func (e *Engine) outputUpstreamProbe(_ *media.Pad, info *media.ProbeInfo) media.ProbeReturn {
	if info.Event.Type != media.EventSelectStreams {
		return media.ProbeOK
	}
	if err := e.handleSelectStreams(info.Event); err != nil {
		return media.ProbeDrop
	}
	return media.ProbeHandled
}

// destroyOutput detaches the output from its slot and removes it. The effects stop the
// decoder and remove the exposed pad.
func (st *state) destroyOutput(o *output) effects {
	var fx effects
	if s := st.slots[o.slot]; s != nil {
		fx.merge(st.detachOutput(o, s))
	}
	delete(st.outputs, o.id)
	for i, id := range st.outputOrder {
		if id == o.id {
			st.outputOrder = append(st.outputOrder[:i], st.outputOrder[i+1:]...)
			break
		}
	}

	dec, ghost, exposed := o.decoder, o.ghost, o.exposed
	handler := st.e.handler
	name := ghost.Name()
	fx.add(func() {
		if dec != nil {
			dec.SinkPad().Unlink()
			_ = dec.Stop()
		}
		_ = ghost.SetTarget(nil)
		if exposed && handler != nil {
			handler.OutputRemoved(ghost.Pad)
		}
	})
	if exposed {
		st.e.publish(&fx, events.OutputRemovedEvent{Pad: name, Timestamp: timestamp()})
	}
	st.logger.Debug("Output removed", "pad", name)
	return fx
}

// detachOutput breaks the slot/output binding. The effects unlink the slot source pad
// and remove its keyframe gate.
func (st *state) detachOutput(o *output, s *slot) effects {
	if s.active != nil {
		st.active = remove(st.active, s.active.ID)
	}
	s.output = 0
	o.slot = 0
	o.linked = false
	if s.active != nil {
		st.bind(s.active.ID, s)
	}
	src, gate := s.src, o.gate
	o.gate = 0
	return effects{func() {
		if gate != 0 {
			src.RemoveProbe(gate)
		}
		src.Unlink()
	}}
}

// outputForSlot returns the slot's output, creating one when the slot's stream is
// requested. When another output of the same type serves a stream that is no longer
// requested, that output is stolen instead and nil is returned until it arrives.
func (st *state) outputForSlot(s *slot) (*output, effects) {
	if o := st.outputs[s.output]; o != nil {
		return o, nil
	}
	if s.active == nil {
		return nil, nil
	}
	id := s.active.ID
	if !contains(st.requested, id) {
		return nil, nil
	}

	if donor := st.findFreeCompatibleOutput(s.active); donor != nil {
		if !contains(st.toActivate, id) {
			st.toActivate = append(st.toActivate, id)
		}
		st.requested = remove(st.requested, id)
		s.logger.Debug("Taking over output", "stream_id", id, "donor_slot", int(donor.id))
		donor.unassigning = true
		return nil, st.post(donor, msgUnassign)
	}

	o := st.createOutput(s.typ)
	o.slot = s.id
	s.output = o.id
	st.bind(id, s)
	st.active = append(st.active, id)
	return o, nil
}

// findFreeCompatibleOutput returns the slot of an output of the stream's type whose
// stream is no longer requested. Outputs already promised to another stream are skipped.
func (st *state) findFreeCompatibleOutput(stream *media.Stream) *slot {
	for _, o := range st.orderedOutputs() {
		if o.typ != stream.Type {
			continue
		}
		s := st.slots[o.slot]
		if s == nil || s.active == nil || s.unassigning {
			continue
		}
		if !contains(st.requested, s.active.ID) {
			return s
		}
	}
	return nil
}

// reconfigureOutput links the slot to the output for caps, reusing the current decoder
// when it still accepts them. It must run on behalf of the slot's own goroutine.
func (st *state) reconfigureOutput(o *output, s *slot, caps *media.Caps) effects {
	if caps == nil {
		return nil
	}
	var fx effects
	e := st.e
	needsDecoder := !caps.CanIntersect(e.RawCaps())
	relinked := false

	if o.decoder != nil {
		if needsDecoder && o.decoder.SinkPad().QueryAcceptCaps(caps) {
			if s.src.Peer() != o.decoder.SinkPad() {
				s.src.Unlink()
				o.decoder.SinkPad().Unlink()
				if err := media.Link(s.src, o.decoder.SinkPad()); err != nil {
					s.logger.Warn("Failed to relink decoder", "decoder", o.decoder.Name(), "error", err)
				}
				relinked = true
			}
			metrics.IncDecoderReused(e.name)
			s.logger.Debug("Reusing decoder", "decoder", o.decoder.Name(), "caps", caps.String())
		} else {
			s.logger.Debug("Replacing decoder", "decoder", o.decoder.Name(), "caps", caps.String())
			if s.src.Peer() == o.decoder.SinkPad() {
				s.src.Unlink()
			}
			_ = o.ghost.SetTarget(nil)
			_ = o.decoder.Stop()
			o.decoder = nil
			o.linked = false
		}
	}

	if needsDecoder && o.decoder == nil {
		stream := s.active
		if stream == nil {
			stream = s.pending
		}
		dec, err := e.createDecoder(stream, caps)
		if err != nil {
			return st.decoderFailed(o, s, caps, err)
		}
		s.src.Unlink()
		if err := o.ghost.SetTarget(dec.SrcPad()); err != nil {
			s.logger.Warn("Failed to target decoder", "decoder", dec.Name(), "error", err)
		}
		if err := media.Link(s.src, dec.SinkPad()); err != nil {
			s.logger.Warn("Failed to link decoder", "decoder", dec.Name(), "error", err)
		}
		if err := dec.Start(); err != nil {
			s.logger.Warn("Failed to start decoder", "decoder", dec.Name(), "error", err)
		}
		o.decoder = dec
		relinked = true
	}

	if !needsDecoder && (o.ghost.Target() != s.src || !s.src.IsLinked()) {
		s.src.Unlink()
		if err := o.ghost.SetTarget(s.src); err != nil {
			s.logger.Warn("Failed to target slot", "error", err)
		}
		relinked = true
	}
	o.linked = true

	if relinked && o.typ&media.StreamTypeVideo != 0 {
		if o.gate != 0 {
			s.src.RemoveProbe(o.gate)
		}
		o.gate = s.src.AddProbe(media.ProbeTypeBuffer, e.keyframeGate)
	}

	if !o.exposed {
		o.exposed = true
		fx.merge(st.exposeOutput(o, s, caps))
	}
	return fx
}

func (e *Engine) createDecoder(stream *media.Stream, caps *media.Caps) (media.Element, error) {
	if e.decoders == nil {
		return nil, fmt.Errorf("no decoder factory configured")
	}
	return e.decoders.CreateDecoder(stream, caps)
}

// decoderFailed drops the output. The stream stays requested so the next caps event
// retries.
func (st *state) decoderFailed(o *output, s *slot, caps *media.Caps, cause error) effects {
	id := media.StreamID(s.active)
	err := NewError(ErrCodeMissingDecoder, "no decoder for "+caps.String(), cause)
	s.logger.Warn("Missing decoder", "stream_id", id, "error", err)
	metrics.IncMissingDecoder(st.e.name)

	fx := st.destroyOutput(o)
	st.e.publish(&fx, events.MissingDecoderEvent{StreamID: id, Caps: caps.String(), Timestamp: timestamp()})
	if len(st.outputs) == 0 {
		st.e.publish(&fx, events.ElementErrorEvent{
			Code:      ErrCodeMissingDecoder,
			Message:   "no suitable decoders found",
			Timestamp: timestamp(),
		})
	}
	return fx
}

func (st *state) exposeOutput(o *output, s *slot, caps *media.Caps) effects {
	var fx effects
	stream := s.active
	decoder := ""
	if o.decoder != nil {
		decoder = o.decoder.Name()
	}
	pad, handler := o.ghost.Pad, st.e.handler
	if handler != nil {
		fx.add(func() { handler.OutputAdded(pad, stream) })
	}
	st.e.publish(&fx, events.OutputAddedEvent{
		Pad:       pad.Name(),
		StreamID:  media.StreamID(stream),
		Caps:      caps.String(),
		Decoder:   decoder,
		Timestamp: timestamp(),
	})
	s.logger.Info("Output exposed", "pad", pad.Name(), "stream_id", media.StreamID(stream), "decoder", decoder)
	return fx
}

// keyframeGate drops buffers until one that starts decoding passes, then removes itself.
func (e *Engine) keyframeGate(_ *media.Pad, info *media.ProbeInfo) media.ProbeReturn {
	if info.Buffer.IsKeyframe() {
		return media.ProbeRemove
	}
	metrics.IncKeyframeDrop(e.name)
	return media.ProbeDrop
}
