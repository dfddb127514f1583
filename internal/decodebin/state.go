package decodebin

import (
	"log/slog"
	"slices"
	"sort"

	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/metrics"
)

type bindingKind int

const (
	bindUnbound bindingKind = iota
	bindSlot
	bindOutput
)

// binding tells where a stream currently lives.
type binding struct {
	kind   bindingKind
	slot   SlotID
	output OutputID
}

// state is owned by the engine goroutine.
type state struct {
	e      *Engine
	logger *slog.Logger

	inputs     []*Input
	collection *media.StreamCollection

	slots    map[SlotID]*slot
	nextSlot SlotID
	outputs  map[OutputID]*output
	// outputOrder lists outputs in creation order.
	outputOrder []OutputID
	nextOutput  OutputID
	padCounters map[string]int

	bindings map[string]binding

	requested  []string
	active     []string
	toActivate []string
	// selectionUpdated is set while a selection change awaits its notification.
	selectionUpdated bool
	seqnum           uint32
	userSelected     bool

	eosForwarded bool
	stopped      bool
}

func newState(e *Engine) *state {
	return &state{
		e:           e,
		logger:      e.logger,
		collection:  emptyCollection(),
		slots:       make(map[SlotID]*slot),
		outputs:     make(map[OutputID]*output),
		padCounters: make(map[string]int),
		bindings:    make(map[string]binding),
	}
}

func emptyCollection() *media.StreamCollection {
	c, _ := media.NewStreamCollection(DefaultName)
	return c
}

func (st *state) orderedSlots() []*slot {
	out := make([]*slot, 0, len(st.slots))
	for _, s := range st.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (st *state) orderedOutputs() []*output {
	out := make([]*output, 0, len(st.outputOrder))
	for _, id := range st.outputOrder {
		out = append(out, st.outputs[id])
	}
	return out
}

func (st *state) hasInput(name string) bool {
	for _, in := range st.inputs {
		if in.name == name {
			return true
		}
	}
	return false
}

// slotForStream resolves a stream id through the binding map.
func (st *state) slotForStream(id string) *slot {
	b, ok := st.bindings[id]
	if !ok {
		return nil
	}
	switch b.kind {
	case bindSlot:
		return st.slots[b.slot]
	case bindOutput:
		if o := st.outputs[b.output]; o != nil {
			return st.slots[o.slot]
		}
	}
	return nil
}

// bind records the slot, and the output if any, now carrying stream id.
func (st *state) bind(id string, s *slot) {
	if s.output != 0 {
		st.bindings[id] = binding{kind: bindOutput, slot: s.id, output: s.output}
		return
	}
	st.bindings[id] = binding{kind: bindSlot, slot: s.id}
}

// unbind forgets where id lives if it still points at s. Ids of the merged collection
// stay known as unbound.
func (st *state) unbind(id string, s *slot) {
	b, ok := st.bindings[id]
	if !ok || b.slot != s.id {
		return
	}
	if st.collection.Find(id) != nil {
		st.bindings[id] = binding{kind: bindUnbound}
		return
	}
	delete(st.bindings, id)
}

func (st *state) updateMetrics() {
	if st.stopped {
		return
	}
	metrics.SetEngineStats(st.e.name, metrics.EngineStats{
		Slots:     len(st.slots),
		Outputs:   len(st.outputs),
		Active:    len(st.active),
		Requested: len(st.requested),
	})
}

// teardown frees every output and slot. It is the last request the engine serves.
func (st *state) teardown() effects {
	var fx effects
	for _, o := range st.orderedOutputs() {
		fx.merge(st.destroyOutput(o))
	}
	for _, s := range st.orderedSlots() {
		fx.merge(st.removeSlot(s))
	}
	for _, in := range st.inputs {
		for _, is := range in.streams {
			fx.merge(is.detach())
		}
		in.streams = map[*media.Pad]*inputStream{}
	}
	st.requested, st.active, st.toActivate = nil, nil, nil
	st.stopped = true
	return fx
}

func contains(list []string, id string) bool {
	return slices.Contains(list, id)
}

func remove(list []string, id string) []string {
	if i := slices.Index(list, id); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return list
}

func replace(list []string, old, id string) []string {
	if i := slices.Index(list, old); i >= 0 {
		list[i] = id
	}
	return list
}
