package multiqueue

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/decodebin/internal/media"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sink struct {
	mu      sync.Mutex
	items   []media.Item
	got     chan struct{}
	entered chan struct{}
	block   chan struct{}
}

func newSink() *sink {
	return &sink{got: make(chan struct{}, 1000), entered: make(chan struct{}, 1000)}
}

func (s *sink) chain(_ *media.Pad, item media.Item) error {
	s.entered <- struct{}{}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func (s *sink) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-s.got:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for queued item")
		}
	}
}

func TestPairIsFIFO(t *testing.T) {
	mq := New(Config{MaxBuffers: 4}, newTestLogger())
	defer mq.Close()

	p, err := mq.RequestPair(media.StreamTypeVideo)
	if err != nil {
		t.Fatalf("RequestPair failed: %v", err)
	}
	out := newSink()
	if err := media.Link(p.SrcPad(), media.NewSinkPad("out", out.chain)); err != nil {
		t.Fatal(err)
	}

	up := media.NewSrcPad("up")
	if err := media.Link(up, p.SinkPad()); err != nil {
		t.Fatal(err)
	}
	_ = up.Push(media.NewCapsEvent(media.MustParseCaps("video/x-h264")))
	for i := range 3 {
		_ = up.Push(&media.Buffer{PTS: time.Duration(i)})
	}
	out.wait(t, 4)

	out.mu.Lock()
	defer out.mu.Unlock()
	if _, ok := out.items[0].(*media.Event); !ok {
		t.Fatalf("Expected caps event first, got %T", out.items[0])
	}
	for i := 1; i < 4; i++ {
		b := out.items[i].(*media.Buffer)
		if b.PTS != time.Duration(i-1) {
			t.Errorf("item %d: expected PTS %d, got %d", i, i-1, b.PTS)
		}
	}
}

func TestPairBackpressure(t *testing.T) {
	mq := New(Config{MaxBuffers: 2}, newTestLogger())
	defer mq.Close()

	p, _ := mq.RequestPair(media.StreamTypeAudio)
	out := newSink()
	out.block = make(chan struct{})
	_ = media.Link(p.SrcPad(), media.NewSinkPad("out", out.chain))

	// The worker holds one buffer in the blocked chain, two more fill the queue.
	_ = p.SinkPad().Send(&media.Buffer{})
	<-out.entered
	for range 2 {
		if err := p.SinkPad().Send(&media.Buffer{}); err != nil {
			t.Fatal(err)
		}
	}

	pushed := make(chan struct{})
	go func() {
		_ = p.SinkPad().Send(&media.Buffer{})
		close(pushed)
	}()
	select {
	case <-pushed:
		t.Fatal("Expected push into a full pair to block")
	case <-time.After(50 * time.Millisecond):
	}

	// Events never block.
	if err := p.SinkPad().Send(media.NewEOSEvent()); err != nil {
		t.Fatalf("event enqueue failed: %v", err)
	}

	close(out.block)
	select {
	case <-pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked push was not released")
	}
	out.wait(t, 5)
}

func TestPairLimit(t *testing.T) {
	mq := New(Config{MaxPairs: 2}, newTestLogger())
	defer mq.Close()

	first, err := mq.RequestPair(media.StreamTypeVideo)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mq.RequestPair(media.StreamTypeAudio); err != nil {
		t.Fatal(err)
	}
	if _, err := mq.RequestPair(media.StreamTypeText); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Expected ErrExhausted, got %v", err)
	}

	first.Release()
	if mq.Len() != 1 {
		t.Errorf("Expected 1 live pair, got %d", mq.Len())
	}
	third, err := mq.RequestPair(media.StreamTypeText)
	if err != nil {
		t.Fatalf("Expected a pair after release, got %v", err)
	}
	if third.ID() == first.ID() {
		t.Error("Expected pair ids not to be reused")
	}
}

func TestReleaseUnblocksAndRejects(t *testing.T) {
	mq := New(Config{MaxBuffers: 1}, newTestLogger())
	defer mq.Close()

	p, _ := mq.RequestPair(media.StreamTypeVideo)
	out := newSink()
	out.block = make(chan struct{})
	defer close(out.block)
	_ = media.Link(p.SrcPad(), media.NewSinkPad("out", out.chain))

	_ = p.SinkPad().Send(&media.Buffer{})
	<-out.entered
	_ = p.SinkPad().Send(&media.Buffer{})

	errCh := make(chan error, 1)
	go func() { errCh <- p.SinkPad().Send(&media.Buffer{}) }()
	time.Sleep(20 * time.Millisecond)

	p.Release()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReleased) {
			t.Errorf("Expected ErrReleased, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Release did not unblock the pusher")
	}
	if err := p.SinkPad().Send(media.NewEOSEvent()); !errors.Is(err, ErrReleased) {
		t.Errorf("Expected ErrReleased for events after release, got %v", err)
	}
}

func TestReleaseFromWorker(t *testing.T) {
	mq := New(Config{}, newTestLogger())

	p, _ := mq.RequestPair(media.StreamTypeVideo)
	released := make(chan struct{})
	_ = media.Link(p.SrcPad(), media.NewSinkPad("out", func(_ *media.Pad, item media.Item) error {
		if ev, ok := item.(*media.Event); ok && ev.Type == media.EventEOS {
			p.Release()
			close(released)
		}
		return nil
	}))
	_ = p.SinkPad().Send(media.NewEOSEvent())

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for release")
	}
	mq.Close()

	if _, err := mq.RequestPair(media.StreamTypeVideo); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
