package decodebin

import (
	"fmt"

	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/media"
)

// handleCollection stores an input's new collection. A collection sharing a stream id
// with another input's collection is rejected.
func (st *state) handleCollection(in *Input, c *media.StreamCollection) effects {
	for _, other := range st.inputs {
		if other == in || other.collection == nil {
			continue
		}
		for _, id := range c.IDs() {
			if other.collection.Find(id) == nil {
				continue
			}
			err := NewError(ErrCodeDuplicateStreamID,
				fmt.Sprintf("stream %q of input %s is already provided by input %s", id, in.name, other.name), nil)
			in.logger.Error("Rejecting stream collection", "error", err)
			var fx effects
			st.e.publish(&fx, events.ElementErrorEvent{
				Code:      ErrCodeDuplicateStreamID,
				Message:   err.Error(),
				Timestamp: timestamp(),
			})
			return fx
		}
	}
	in.collection = c
	in.logger.Debug("Stream collection changed", "streams", c.IDs())
	return st.collectionUpdated()
}

// collectionUpdated rebuilds the merged collection, then refreshes the default selection
// and announces the collection.
func (st *state) collectionUpdated() effects {
	merged := emptyCollection()
	for _, in := range st.inputs {
		for _, s := range in.collection.Streams() {
			_ = merged.Add(s)
		}
	}
	st.collection = merged

	for id, b := range st.bindings {
		if b.kind == bindUnbound && merged.Find(id) == nil {
			delete(st.bindings, id)
		}
	}
	for _, id := range merged.IDs() {
		if _, ok := st.bindings[id]; !ok {
			st.bindings[id] = binding{kind: bindUnbound}
		}
	}

	fx := st.updateRequestedSelection()

	infos := make([]events.StreamInfo, 0, merged.Len())
	for _, s := range merged.Streams() {
		infos = append(infos, streamInfo(s))
	}
	st.e.publish(&fx, events.StreamCollectionEvent{Streams: infos, Timestamp: timestamp()})
	return fx
}
