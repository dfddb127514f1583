package decodebin

import (
	"slices"
	"sort"
)

// Snapshot is a consistent view of the engine's selection state.
type Snapshot struct {
	Requested    []string     `json:"requested"`
	Active       []string     `json:"active"`
	ToActivate   []string     `json:"to_activate"`
	Seqnum       uint32       `json:"seqnum"`
	UserSelected bool         `json:"user_selected"`
	Inputs       []InputInfo  `json:"inputs"`
	Slots        []SlotInfo   `json:"slots"`
	Outputs      []OutputInfo `json:"outputs"`
}

// InputInfo describes an input.
type InputInfo struct {
	Name    string   `json:"name"`
	Streams []string `json:"streams"`
	EOS     bool     `json:"eos"`
}

// SlotInfo describes a slot.
type SlotInfo struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	Input   string `json:"input,omitempty"`
	Stream  string `json:"stream,omitempty"`
	Pending string `json:"pending,omitempty"`
	Output  string `json:"output,omitempty"`
	Drained bool   `json:"drained"`
	Level   int    `json:"level"`
}

// OutputInfo describes an output.
type OutputInfo struct {
	ID      int    `json:"id"`
	Pad     string `json:"pad"`
	Type    string `json:"type"`
	Slot    int    `json:"slot,omitempty"`
	Stream  string `json:"stream,omitempty"`
	Decoder string `json:"decoder,omitempty"`
	Linked  bool   `json:"linked"`
	Exposed bool   `json:"exposed"`
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := e.exec(func(st *state) effects {
		snap = st.snapshot()
		return nil
	})
	return snap, err
}

func (st *state) snapshot() Snapshot {
	snap := Snapshot{
		Requested:    slices.Clone(st.requested),
		Active:       slices.Clone(st.active),
		ToActivate:   slices.Clone(st.toActivate),
		Seqnum:       st.seqnum,
		UserSelected: st.userSelected,
	}
	for _, in := range st.inputs {
		info := InputInfo{Name: in.name, EOS: len(in.streams) > 0}
		for _, is := range in.streams {
			if id := is.streamID(); id != "" {
				info.Streams = append(info.Streams, id)
			}
			info.EOS = info.EOS && is.sawEOS
		}
		sort.Strings(info.Streams)
		snap.Inputs = append(snap.Inputs, info)
	}
	for _, s := range st.orderedSlots() {
		info := SlotInfo{
			ID:      int(s.id),
			Type:    s.typ.String(),
			Drained: s.drained,
			Level:   s.pair.Level(),
		}
		if s.input != nil {
			info.Input = s.input.input.name
		}
		if s.active != nil {
			info.Stream = s.active.ID
		}
		if s.pending != nil {
			info.Pending = s.pending.ID
		}
		if o := st.outputs[s.output]; o != nil {
			info.Output = o.ghost.Name()
		}
		snap.Slots = append(snap.Slots, info)
	}
	for _, o := range st.orderedOutputs() {
		info := OutputInfo{
			ID:      int(o.id),
			Pad:     o.ghost.Name(),
			Type:    o.typ.String(),
			Slot:    int(o.slot),
			Linked:  o.linked,
			Exposed: o.exposed,
		}
		if s := st.slots[o.slot]; s != nil && s.active != nil {
			info.Stream = s.active.ID
		}
		if o.decoder != nil {
			info.Decoder = o.decoder.Name()
		}
		snap.Outputs = append(snap.Outputs, info)
	}
	return snap
}
