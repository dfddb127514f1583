package media

import (
	"errors"
	"sync"
)

// PadDirection tells whether a pad produces or consumes data.
type PadDirection int

const (
	PadDirectionSrc PadDirection = iota
	PadDirectionSink
)

func (d PadDirection) String() string {
	if d == PadDirectionSrc {
		return "src"
	}
	return "sink"
}

// ProbeType selects which items a probe observes.
type ProbeType uint32

const (
	ProbeTypeBuffer ProbeType = 1 << iota
	ProbeTypeEventDownstream
	ProbeTypeEventUpstream
	ProbeTypeQuery
)

// ProbeTypeDataDownstream observes buffers and downstream events.
const ProbeTypeDataDownstream = ProbeTypeBuffer | ProbeTypeEventDownstream

// ProbeReturn is the verdict of a probe callback.
type ProbeReturn int

const (
	// ProbeOK lets the item pass.
	ProbeOK ProbeReturn = iota
	// ProbeDrop discards the item.
	ProbeDrop
	// ProbeRemove lets the item pass and removes the probe.
	ProbeRemove
	// ProbeHandled consumes the item; for queries it means the query was answered.
	ProbeHandled
)

// ProbeID identifies an installed probe.
type ProbeID uint64

// ProbeInfo describes the item a probe is called for.
type ProbeInfo struct {
	Type   ProbeType
	ID     ProbeID
	Buffer *Buffer
	Event  *Event
	Query  *Query
}

// ProbeFunc observes or intercepts items on a pad.
type ProbeFunc func(pad *Pad, info *ProbeInfo) ProbeReturn

// ChainFunc consumes items arriving on a sink pad.
type ChainFunc func(pad *Pad, item Item) error

// QueryFunc answers queries addressed to a pad. It returns false when the query is unhandled.
type QueryFunc func(pad *Pad, q *Query) bool

// EventFunc handles upstream events reaching a pad.
type EventFunc func(pad *Pad, ev *Event) bool

var (
	// ErrNotLinked is returned when pushing a buffer on a pad without peer.
	ErrNotLinked = errors.New("pad not linked")
	// ErrAlreadyLinked is returned by Link when either pad already has a peer.
	ErrAlreadyLinked = errors.New("pad already linked")
	// ErrWrongDirection is returned when a pad is used against its direction.
	ErrWrongDirection = errors.New("wrong pad direction")
)

type probe struct {
	id   ProbeID
	mask ProbeType
	fn   ProbeFunc
}

// Pad is a connection point between processing stages.
//
// Pushing on a source pad holds the pad's stream lock for the duration of the push, so at
// most one item is in flight per pad. Probes run with the stream lock held, before the peer
// is read, which lets a probe relink the pad for the item it is processing. Sticky events
// are stored on the pad and replayed to a new peer before the next item after a link.
type Pad struct {
	name      string
	direction PadDirection
	chain     ChainFunc

	stream sync.Mutex

	mu      sync.Mutex
	peer    *Pad
	probes  []probe
	nextID  ProbeID
	sticky  []*Event
	resend  bool
	idle    []func(*Pad)
	queryFn QueryFunc
	eventFn EventFunc
}

// NewSrcPad creates a source pad.
func NewSrcPad(name string) *Pad {
	return &Pad{name: name, direction: PadDirectionSrc}
}

// NewSinkPad creates a sink pad whose items are handled by chain.
func NewSinkPad(name string, chain ChainFunc) *Pad {
	return &Pad{name: name, direction: PadDirectionSink, chain: chain}
}

// Name returns the pad name.
func (p *Pad) Name() string { return p.name }

// Direction returns the pad direction.
func (p *Pad) Direction() PadDirection { return p.direction }

// SetQueryFunc installs the function answering queries addressed to this pad.
func (p *Pad) SetQueryFunc(fn QueryFunc) {
	p.mu.Lock()
	p.queryFn = fn
	p.mu.Unlock()
}

// SetEventFunc installs the function handling upstream events that no probe consumed.
func (p *Pad) SetEventFunc(fn EventFunc) {
	p.mu.Lock()
	p.eventFn = fn
	p.mu.Unlock()
}

// Link connects a source pad to a sink pad.
func Link(src, sink *Pad) error {
	if src.direction != PadDirectionSrc || sink.direction != PadDirectionSink {
		return ErrWrongDirection
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if src.peer != nil || sink.peer != nil {
		return ErrAlreadyLinked
	}
	src.peer = sink
	sink.peer = src
	src.resend = len(src.sticky) > 0
	return nil
}

// Unlink disconnects the pad from its peer. It is a no-op on unlinked pads.
func (p *Pad) Unlink() {
	peer := p.Peer()
	if peer == nil {
		return
	}
	src, sink := p, peer
	if p.direction == PadDirectionSink {
		src, sink = peer, p
	}
	src.mu.Lock()
	sink.mu.Lock()
	if src.peer == sink {
		src.peer = nil
		sink.peer = nil
	}
	sink.mu.Unlock()
	src.mu.Unlock()
}

// Peer returns the linked pad or nil.
func (p *Pad) Peer() *Pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

// IsLinked reports whether the pad has a peer.
func (p *Pad) IsLinked() bool {
	return p.Peer() != nil
}

// AddProbe installs fn for the item types in mask and returns its id.
func (p *Pad) AddProbe(mask ProbeType, fn ProbeFunc) ProbeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.probes = append(p.probes, probe{id: p.nextID, mask: mask, fn: fn})
	return p.nextID
}

// RemoveProbe removes a probe. Unknown ids are ignored.
func (p *Pad) RemoveProbe(id ProbeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pr := range p.probes {
		if pr.id == id {
			p.probes = append(p.probes[:i], p.probes[i+1:]...)
			return
		}
	}
}

// HasProbe reports whether the probe is still installed.
func (p *Pad) HasProbe(id ProbeID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pr := range p.probes {
		if pr.id == id {
			return true
		}
	}
	return false
}

// AddIdleProbe schedules fn to run on the pad when no item is in flight. If the pad is idle
// fn runs immediately on the calling goroutine, otherwise it runs on the pushing goroutine
// right after the current push completes. fn runs with the stream lock held and must not
// push on this pad.
func (p *Pad) AddIdleProbe(fn func(*Pad)) {
	p.mu.Lock()
	p.idle = append(p.idle, fn)
	p.mu.Unlock()
	if p.stream.TryLock() {
		p.releaseStream()
	}
}

// releaseStream runs pending idle callbacks and releases the stream lock. A callback queued
// between the last drain and the unlock is picked up by retrying the lock.
func (p *Pad) releaseStream() {
	for {
		for {
			p.mu.Lock()
			if len(p.idle) == 0 {
				p.mu.Unlock()
				break
			}
			fn := p.idle[0]
			p.idle = p.idle[1:]
			p.mu.Unlock()
			fn(p)
		}
		p.stream.Unlock()

		p.mu.Lock()
		pending := len(p.idle) > 0
		p.mu.Unlock()
		if !pending || !p.stream.TryLock() {
			return
		}
	}
}

// Push sends item downstream through a source pad.
// Events pushed on an unlinked pad are stored if sticky and otherwise discarded.
func (p *Pad) Push(item Item) error {
	if p.direction != PadDirectionSrc {
		return ErrWrongDirection
	}
	p.stream.Lock()
	defer p.releaseStream()
	return p.push(item)
}

func (p *Pad) push(item Item) error {
	info := &ProbeInfo{Type: item.probeType()}
	ev, isEvent := item.(*Event)
	if isEvent {
		info.Event = ev
	} else {
		info.Buffer = item.(*Buffer)
	}
	switch p.runProbes(info) {
	case ProbeDrop, ProbeHandled:
		return nil
	}

	sticky := isEvent && ev.IsSticky()
	p.mu.Lock()
	if sticky {
		p.storeStickyLocked(ev)
	}
	peer := p.peer
	var replay []*Event
	if peer != nil && p.resend {
		replay = append(replay, p.sticky...)
		p.resend = false
	}
	p.mu.Unlock()

	if peer == nil {
		if isEvent {
			return nil
		}
		return ErrNotLinked
	}
	for _, s := range replay {
		if err := peer.chainItem(s); err != nil {
			return err
		}
	}
	if sticky && len(replay) > 0 {
		return nil
	}
	return peer.chainItem(item)
}

// Send delivers item to a sink pad as if its peer had pushed it.
func (p *Pad) Send(item Item) error {
	if p.direction != PadDirectionSink {
		return ErrWrongDirection
	}
	return p.chainItem(item)
}

func (p *Pad) chainItem(item Item) error {
	if p.chain == nil {
		return nil
	}
	return p.chain(p, item)
}

// storeStickyLocked replaces the stored event of the same type. A new stream-start
// invalidates the caps of the previous stream.
func (p *Pad) storeStickyLocked(ev *Event) {
	if ev.Type == EventStreamStart {
		kept := p.sticky[:0]
		for _, s := range p.sticky {
			if s.Type != EventCaps {
				kept = append(kept, s)
			}
		}
		p.sticky = kept
	}
	for i, s := range p.sticky {
		if s.Type == ev.Type {
			p.sticky[i] = ev
			return
		}
	}
	p.sticky = append(p.sticky, ev)
}

// StickyEvent returns the stored sticky event of type t, or nil.
func (p *Pad) StickyEvent(t EventType) *Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sticky {
		if s.Type == t {
			return s
		}
	}
	return nil
}

// CurrentCaps returns the caps of the last caps event that passed the pad.
func (p *Pad) CurrentCaps() *Caps {
	if ev := p.StickyEvent(EventCaps); ev != nil {
		return ev.Caps
	}
	return nil
}

// SendUpstream delivers an upstream event to the pad. Upstream probes run first; if none
// consumes the event it goes to the pad's event function, or through a sink pad to its peer.
func (p *Pad) SendUpstream(ev *Event) bool {
	info := &ProbeInfo{Type: ProbeTypeEventUpstream, Event: ev}
	switch p.runProbes(info) {
	case ProbeHandled:
		return true
	case ProbeDrop:
		return false
	}
	p.mu.Lock()
	fn := p.eventFn
	peer := p.peer
	p.mu.Unlock()
	if fn != nil {
		return fn(p, ev)
	}
	if p.direction == PadDirectionSink && peer != nil {
		return peer.SendUpstream(ev)
	}
	return false
}

// PeerQuery runs the pad's query probes and, if none answers, forwards q to the peer.
func (p *Pad) PeerQuery(q *Query) bool {
	info := &ProbeInfo{Type: ProbeTypeQuery, Query: q}
	switch p.runProbes(info) {
	case ProbeHandled:
		return true
	case ProbeDrop:
		return false
	}
	peer := p.Peer()
	if peer == nil {
		return false
	}
	return peer.Query(q)
}

// Query answers q with the pad's own query function.
func (p *Pad) Query(q *Query) bool {
	p.mu.Lock()
	fn := p.queryFn
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	return fn(p, q)
}

// QueryAcceptCaps asks the pad itself whether it accepts c.
func (p *Pad) QueryAcceptCaps(c *Caps) bool {
	q := NewAcceptCapsQuery(c)
	return p.Query(q) && q.Accepted
}

func (p *Pad) runProbes(info *ProbeInfo) ProbeReturn {
	p.mu.Lock()
	matching := make([]probe, 0, len(p.probes))
	for _, pr := range p.probes {
		if pr.mask&info.Type != 0 {
			matching = append(matching, pr)
		}
	}
	p.mu.Unlock()

	for _, pr := range matching {
		if !p.HasProbe(pr.id) {
			continue
		}
		info.ID = pr.id
		switch ret := pr.fn(p, info); ret {
		case ProbeRemove:
			p.RemoveProbe(pr.id)
		case ProbeDrop, ProbeHandled:
			return ret
		}
	}
	return ProbeOK
}
