package media

import "sync"

// GhostPad is an exposed source pad that proxies data from an internal target pad.
// Retargeting swaps the internal pad without touching the exposed pad's downstream link.
type GhostPad struct {
	*Pad
	proxy *Pad

	mu     sync.Mutex
	target *Pad
}

// NewGhostPad creates an unlinked ghost pad without target.
func NewGhostPad(name string) *GhostPad {
	g := &GhostPad{Pad: NewSrcPad(name)}
	g.proxy = NewSinkPad(name+"-proxy", func(_ *Pad, item Item) error {
		return g.Pad.Push(item)
	})
	g.proxy.SetQueryFunc(func(_ *Pad, q *Query) bool {
		return g.Pad.PeerQuery(q)
	})
	g.Pad.SetEventFunc(func(_ *Pad, ev *Event) bool {
		t := g.Target()
		if t == nil {
			return false
		}
		return t.SendUpstream(ev)
	})
	return g
}

// SetTarget points the ghost pad at target, a source pad. A nil target detaches the ghost.
func (g *GhostPad) SetTarget(target *Pad) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if target != nil && target == g.target && target.Peer() == g.proxy {
		return nil
	}
	g.proxy.Unlink()
	g.target = nil
	if target == nil {
		return nil
	}
	if err := Link(target, g.proxy); err != nil {
		return err
	}
	g.target = target
	return nil
}

// Target returns the current target or nil.
func (g *GhostPad) Target() *Pad {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}
