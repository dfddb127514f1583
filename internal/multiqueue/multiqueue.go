// Package multiqueue implements a bounded set of single-input single-output queues with one
// worker goroutine per queue.
package multiqueue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/decodebin/internal/media"
)

// DefaultMaxBuffers is used when Config.MaxBuffers is zero.
const DefaultMaxBuffers = 64

var (
	// ErrExhausted is returned by RequestPair when the pair limit is reached.
	ErrExhausted = errors.New("multiqueue: no free pairs")
	// ErrReleased is returned when pushing into a released pair.
	ErrReleased = errors.New("multiqueue: pair released")
	// ErrClosed is returned by RequestPair after Close.
	ErrClosed = errors.New("multiqueue: closed")
)

// Config bounds a MultiQueue.
type Config struct {
	// MaxBuffers is the number of buffers a pair holds before its sink blocks.
	MaxBuffers int
	// MaxPairs limits the number of live pairs. Zero means unlimited.
	MaxPairs int
}

// MultiQueue hands out queue pairs. Each pair decouples its upstream goroutine from the
// goroutine pushing on its source pad.
type MultiQueue struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	pairs  map[int]*Pair
	nextID int
	closed bool
	wg     sync.WaitGroup
}

// New creates a multi-queue.
func New(cfg Config, logger *slog.Logger) *MultiQueue {
	if cfg.MaxBuffers <= 0 {
		cfg.MaxBuffers = DefaultMaxBuffers
	}
	return &MultiQueue{
		cfg:    cfg,
		logger: logger,
		pairs:  make(map[int]*Pair),
	}
}

// RequestPair creates a new pair tagged with group. Pair ids are never reused.
func (mq *MultiQueue) RequestPair(group media.StreamType) (*Pair, error) {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return nil, ErrClosed
	}
	if mq.cfg.MaxPairs > 0 && len(mq.pairs) >= mq.cfg.MaxPairs {
		return nil, fmt.Errorf("%w (limit %d)", ErrExhausted, mq.cfg.MaxPairs)
	}

	mq.nextID++
	p := newPair(mq, mq.nextID, group)
	mq.pairs[p.id] = p

	mq.wg.Add(1)
	go p.run()

	mq.logger.Debug("Pair created", "pair", p.id, "group", group.String())
	return p, nil
}

// Len returns the number of live pairs.
func (mq *MultiQueue) Len() int {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	return len(mq.pairs)
}

// Close releases every pair and waits for their workers to exit.
func (mq *MultiQueue) Close() {
	mq.mu.Lock()
	mq.closed = true
	pairs := make([]*Pair, 0, len(mq.pairs))
	for _, p := range mq.pairs {
		pairs = append(pairs, p)
	}
	mq.mu.Unlock()

	for _, p := range pairs {
		p.Release()
	}
	mq.wg.Wait()
}

func (mq *MultiQueue) forget(p *Pair) {
	mq.mu.Lock()
	delete(mq.pairs, p.id)
	mq.mu.Unlock()
}

// Pair is one queue with a sink pad for upstream and a source pad served by a worker.
type Pair struct {
	id    int
	group media.StreamType
	mq    *MultiQueue
	sink  *media.Pad
	src   *media.Pad

	mu       sync.Mutex
	cond     *sync.Cond
	items    []media.Item
	buffers  int
	released bool
	once     sync.Once
}

func newPair(mq *MultiQueue, id int, group media.StreamType) *Pair {
	p := &Pair{id: id, group: group, mq: mq}
	p.cond = sync.NewCond(&p.mu)
	p.sink = media.NewSinkPad(fmt.Sprintf("sink_%d", id), p.enqueue)
	p.src = media.NewSrcPad(fmt.Sprintf("src_%d", id))
	// queries travel downstream and upstream events travel back through the pair
	p.sink.SetQueryFunc(func(_ *media.Pad, q *media.Query) bool { return p.src.PeerQuery(q) })
	p.src.SetEventFunc(func(_ *media.Pad, ev *media.Event) bool { return p.sink.SendUpstream(ev) })
	return p
}

// ID returns the pair id.
func (p *Pair) ID() int { return p.id }

// Group returns the stream type the pair was requested for.
func (p *Pair) Group() media.StreamType { return p.group }

// SinkPad returns the upstream-facing pad.
func (p *Pair) SinkPad() *media.Pad { return p.sink }

// SrcPad returns the downstream-facing pad.
func (p *Pair) SrcPad() *media.Pad { return p.src }

// Level returns the number of queued buffers.
func (p *Pair) Level() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffers
}

// enqueue blocks buffers while the pair is full. Events are always accepted.
func (p *Pair) enqueue(_ *media.Pad, item media.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, isBuffer := item.(*media.Buffer)
	for isBuffer && !p.released && p.buffers >= p.mq.cfg.MaxBuffers {
		p.cond.Wait()
	}
	if p.released {
		return ErrReleased
	}
	p.items = append(p.items, item)
	if isBuffer {
		p.buffers++
	}
	p.cond.Broadcast()
	return nil
}

// Release stops the worker and drops queued items. It never waits for the worker, so it
// may be called from the worker's own goroutine.
func (p *Pair) Release() {
	p.once.Do(func() {
		p.mu.Lock()
		p.released = true
		p.items = nil
		p.buffers = 0
		p.cond.Broadcast()
		p.mu.Unlock()

		p.sink.Unlink()
		p.mq.forget(p)
	})
}

func (p *Pair) run() {
	defer p.mq.wg.Done()
	logger := p.mq.logger.With("pair", p.id)

	for {
		p.mu.Lock()
		for !p.released && len(p.items) == 0 {
			p.cond.Wait()
		}
		if p.released {
			p.mu.Unlock()
			return
		}
		item := p.items[0]
		p.items[0] = nil
		p.items = p.items[1:]
		if _, ok := item.(*media.Buffer); ok {
			p.buffers--
		}
		p.cond.Broadcast()
		p.mu.Unlock()

		if err := p.src.Push(item); err != nil {
			if errors.Is(err, media.ErrNotLinked) {
				logger.Debug("Dropping buffer on unlinked pair")
			} else {
				logger.Debug("Push failed", "error", err)
			}
		}
	}
}
