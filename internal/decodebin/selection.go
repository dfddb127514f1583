package decodebin

import (
	"slices"

	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/metrics"
)

// handleSelectStreams plans the switch to exactly ids. Outputs of streams leaving the
// selection are handed to same-type streams entering it where possible.
func (st *state) handleSelectStreams(ids []string, seqnum uint32) effects {
	if st.stopped {
		return nil
	}
	if !seqnumNewer(seqnum, st.seqnum) {
		metrics.IncStaleSelect(st.e.name)
		st.logger.Debug("Dropping stale select-streams", "seqnum", seqnum, "last", st.seqnum)
		return nil
	}
	st.seqnum = seqnum
	st.userSelected = true
	ids = dedupe(ids)
	st.logger.Info("Select streams", "streams", ids, "seqnum", seqnum)

	var toActivate []*slot
	var future, pending []string
	for _, id := range ids {
		s := st.slotForStream(id)
		switch {
		case s == nil && st.collection.Find(id) != nil:
			pending = append(pending, id)
		case s == nil:
			st.logger.Warn("Ignoring unknown stream in selection", "stream_id", id)
		case s.output == 0:
			toActivate = append(toActivate, s)
		default:
			future = append(future, id)
		}
	}

	var toDeactivate []*slot
	for _, s := range st.orderedSlots() {
		if s.output == 0 {
			continue
		}
		if s.active != nil && slices.Contains(ids, s.active.ID) {
			continue
		}
		if s.pending != nil && s.pending != s.active && slices.Contains(ids, s.pending.ID) {
			continue
		}
		toDeactivate = append(toDeactivate, s)
	}

	// pair each slot losing its output with the first same-type slot needing one
	var reassign []string
	var donors []*slot
	for _, d := range toDeactivate {
		for i, a := range toActivate {
			if a.typ == d.typ {
				reassign = append(reassign, slotStreamID(a))
				toActivate = slices.Delete(toActivate, i, i+1)
				break
			}
		}
		donors = append(donors, d)
	}

	var fx effects
	for _, a := range toActivate {
		if id := slotStreamID(a); id != "" {
			future = append(future, id)
			fx.merge(st.post(a, msgReconfigure))
		}
	}

	if len(toActivate) == 0 && len(pending) > 0 {
		// waiting for a future collection, keep the request as given
		st.requested = slices.Clone(ids)
	} else {
		st.requested = append(future, pending...)
	}
	st.toActivate = reassign
	st.selectionUpdated = true

	for _, d := range donors {
		d.unassigning = true
		fx.merge(st.post(d, msgUnassign))
	}
	fx.merge(st.checkSelectionDone())
	return fx
}

// seqnumNewer compares sequence numbers in serial number arithmetic so selections keep
// working after the shared event counter wraps. Anything is newer than the default
// selection's zero.
func seqnumNewer(seqnum, last uint32) bool {
	if last == media.SeqnumInvalid {
		return seqnum != media.SeqnumInvalid
	}
	return int32(seqnum-last) > 0
}

func slotStreamID(s *slot) string {
	if s.active != nil {
		return s.active.ID
	}
	return media.StreamID(s.pending)
}

// reassignSlot runs on the donor slot's goroutine. It releases the slot's output and
// hands it to a slot waiting for activation, or destroys it when none waits.
func (st *state) reassignSlot(s *slot) effects {
	s.unassigning = false
	o := st.outputs[s.output]
	if s.active == nil || o == nil {
		// the output is gone, waiting streams need their own
		fx := st.releaseWaiting(s.typ)
		fx.merge(st.checkSelectionDone())
		return fx
	}
	sid := s.active.ID

	var fx effects
	if contains(st.requested, sid) {
		s.logger.Debug("Stream requested again, keeping output", "stream_id", sid)
		fx.merge(st.releaseWaiting(o.typ))
		fx.merge(st.checkSelectionDone())
		return fx
	}

	s.logger.Debug("Unassigning output", "stream_id", sid, "pad", o.ghost.Name())
	fx.merge(st.detachOutput(o, s))

	var target *slot
	var tid string
	for _, id := range st.toActivate {
		t := st.slotForStream(id)
		if t != nil && t.typ == o.typ && t.output == 0 {
			target, tid = t, id
			break
		}
	}

	if target == nil {
		fx.merge(st.destroyOutput(o))
		fx.merge(st.checkSelectionDone())
		return fx
	}

	st.requested = append(st.requested, tid)
	st.toActivate = remove(st.toActivate, tid)
	target.output = o.id
	o.slot = target.id
	st.bind(tid, target)
	st.active = append(st.active, tid)
	target.logger.Debug("Output reassigned", "stream_id", tid, "pad", o.ghost.Name())
	fx.merge(st.post(target, msgReconfigure))
	return fx
}

// releaseWaiting moves streams of typ waiting for a donor output back to the requested
// selection and asks their slots to build an output of their own.
func (st *state) releaseWaiting(typ media.StreamType) effects {
	var fx effects
	for _, id := range slices.Clone(st.toActivate) {
		t := st.slotForStream(id)
		if t == nil || t.typ != typ || t.output != 0 {
			continue
		}
		st.toActivate = remove(st.toActivate, id)
		st.requested = append(st.requested, id)
		fx.merge(st.post(t, msgReconfigure))
	}
	return fx
}

// checkSelectionDone publishes StreamsSelected once the active selection matches the
// requested one.
func (st *state) checkSelectionDone() effects {
	if !st.selectionUpdated || len(st.toActivate) > 0 {
		return nil
	}
	for _, id := range st.requested {
		if !contains(st.active, id) {
			return nil
		}
	}
	for _, id := range st.active {
		if !contains(st.requested, id) {
			return nil
		}
	}
	st.selectionUpdated = false

	var streams []events.StreamInfo
	for _, o := range st.orderedOutputs() {
		if s := st.slots[o.slot]; s != nil && s.active != nil {
			streams = append(streams, streamInfo(s.active))
		}
	}
	metrics.IncStreamsSelected(st.e.name)
	st.logger.Info("Streams selected", "seqnum", st.seqnum, "streams", len(streams))

	var fx effects
	st.e.publish(&fx, events.StreamsSelectedEvent{
		Seqnum:    st.seqnum,
		Streams:   streams,
		Timestamp: timestamp(),
	})
	return fx
}

// updateRequestedSelection computes the default selection for the merged collection:
// streams already requested or active stay, then the first stream of each uncovered type
// is added unless the user selected explicitly.
func (st *state) updateRequestedSelection() effects {
	c := st.collection
	var selected []string
	var used media.StreamType
	hooked := map[string]int{}
	all := c.Len() > 0

	for _, s := range c.Streams() {
		req := -1
		if st.e.selectFn != nil {
			req = st.e.selectFn(c, s)
		}
		hooked[s.ID] = req
		if req != 1 {
			all = false
		}
		if req == 1 || (req == -1 && (contains(st.requested, s.ID) || contains(st.active, s.ID))) {
			selected = append(selected, s.ID)
			used |= s.Type
		}
	}

	if !st.userSelected && !all {
		for _, s := range c.Streams() {
			if s.Type == media.StreamTypeUnknown || hooked[s.ID] == 0 || used&s.Type != 0 {
				continue
			}
			selected = append(selected, s.ID)
			used |= s.Type
		}
	}

	if len(selected) == 0 || slices.Equal(selected, st.requested) {
		return nil
	}
	st.requested = selected
	st.selectionUpdated = true
	st.logger.Debug("Default selection updated", "streams", selected)

	var fx effects
	for _, s := range st.orderedSlots() {
		if s.output == 0 && s.active != nil && contains(st.requested, s.active.ID) {
			fx.merge(st.post(s, msgReconfigure))
		}
	}
	return fx
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
