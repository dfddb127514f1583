package decodebin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/decodebin/internal/decoders"
	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/media"
)

const waitTimeout = 3 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeParseBin lets tests drive elementary pads directly.
type fakeParseBin struct {
	name     string
	listener ParseBinListener
	sink     *media.Pad
	stopped  atomic.Bool
}

func (p *fakeParseBin) SinkPad() *media.Pad { return p.sink }

func (p *fakeParseBin) Stop() error {
	p.stopped.Store(true)
	return nil
}

type fakeParseBinFactory struct {
	mu   sync.Mutex
	bins map[string]*fakeParseBin
	fail bool
}

func (f *fakeParseBinFactory) NewParseBin(name string, l ParseBinListener) (ParseBin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("parser not available")
	}
	if f.bins == nil {
		f.bins = make(map[string]*fakeParseBin)
	}
	pb := &fakeParseBin{
		name:     name,
		listener: l,
		sink:     media.NewSinkPad(name+"_sink", func(*media.Pad, media.Item) error { return nil }),
	}
	f.bins[name] = pb
	return pb, nil
}

func (f *fakeParseBinFactory) bin(name string) *fakeParseBin {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bins[name]
}

// outputSink records what reaches one exposed pad.
type outputSink struct {
	mu      sync.Mutex
	pad     *media.Pad
	sink    *media.Pad
	buffers int
	eos     int
	starts  []string
}

func (o *outputSink) chain(_ *media.Pad, item media.Item) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch it := item.(type) {
	case *media.Buffer:
		o.buffers++
	case *media.Event:
		switch it.Type {
		case media.EventEOS:
			o.eos++
		case media.EventStreamStart:
			o.starts = append(o.starts, media.StreamID(it.Stream))
		}
	}
	return nil
}

func (o *outputSink) counts() (buffers, eos int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buffers, o.eos
}

type recordingHandler struct {
	mu      sync.Mutex
	sinks   map[string]*outputSink
	removed []string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{sinks: make(map[string]*outputSink)}
}

func (h *recordingHandler) OutputAdded(pad *media.Pad, _ *media.Stream) {
	o := &outputSink{pad: pad}
	o.sink = media.NewSinkPad(pad.Name()+"-sink", o.chain)
	_ = media.Link(pad, o.sink)
	h.mu.Lock()
	h.sinks[pad.Name()] = o
	h.mu.Unlock()
}

func (h *recordingHandler) OutputRemoved(pad *media.Pad) {
	pad.Unlink()
	h.mu.Lock()
	h.removed = append(h.removed, pad.Name())
	h.mu.Unlock()
}

func (h *recordingHandler) sink(name string) *outputSink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sinks[name]
}

func (h *recordingHandler) removedPads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.removed...)
}

type harness struct {
	t        *testing.T
	engine   *Engine
	bus      *events.Bus
	bins     *fakeParseBinFactory
	registry *decoders.Registry
	handler  *recordingHandler

	selected chan events.StreamsSelectedEvent
	errs     chan events.ElementErrorEvent
	missing  chan events.MissingDecoderEvent
	drained  chan events.DrainedEvent
}

var engineSeq atomic.Int32

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		bus:      events.New(),
		bins:     &fakeParseBinFactory{},
		handler:  newRecordingHandler(),
		selected: make(chan events.StreamsSelectedEvent, 32),
		errs:     make(chan events.ElementErrorEvent, 32),
		missing:  make(chan events.MissingDecoderEvent, 32),
		drained:  make(chan events.DrainedEvent, 32),
	}
	h.registry = decoders.DefaultRegistry(testLogger())
	if cfg.Decoders == nil {
		cfg.Decoders = h.registry
	}
	cfg.Name = fmt.Sprintf("test%d", engineSeq.Add(1))
	cfg.ParseBins = h.bins
	cfg.Bus = h.bus
	cfg.Logger = testLogger()

	unsubs := []func(){
		h.bus.Subscribe(func(e events.StreamsSelectedEvent) { h.selected <- e }),
		h.bus.Subscribe(func(e events.ElementErrorEvent) { h.errs <- e }),
		h.bus.Subscribe(func(e events.MissingDecoderEvent) { h.missing <- e }),
		h.bus.Subscribe(func(e events.DrainedEvent) { h.drained <- e }),
	}

	e, err := New(cfg, append([]Option{WithOutputHandler(h.handler)}, opts...)...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	h.engine = e
	t.Cleanup(func() {
		_ = e.Stop()
		for _, u := range unsubs {
			u()
		}
	})
	return h
}

func (h *harness) addInput(name string) *fakeParseBin {
	h.t.Helper()
	if _, err := h.engine.AddInput(name); err != nil {
		h.t.Fatalf("AddInput(%s) failed: %v", name, err)
	}
	pb := h.bins.bin(name)
	if pb == nil {
		h.t.Fatalf("Expected parse bin for %s", name)
	}
	return pb
}

// announce publishes the collection and one pad per stream, then pushes stream-start and,
// when the stream has caps, a caps event on each pad.
func (h *harness) announce(pb *fakeParseBin, streams ...*media.Stream) map[string]*media.Pad {
	h.t.Helper()
	c, err := media.NewStreamCollection(pb.name, streams...)
	if err != nil {
		h.t.Fatalf("Invalid collection: %v", err)
	}
	pb.listener.CollectionChanged(c)

	pads := make(map[string]*media.Pad)
	for _, s := range streams {
		pad := media.NewSrcPad(pb.name + "_" + s.ID)
		pb.listener.PadAdded(pad)
		pads[s.ID] = pad
		_ = pad.Push(media.NewStreamStartEvent(s, 1))
		if s.Caps != nil {
			_ = pad.Push(media.NewCapsEvent(s.Caps))
		}
	}
	return pads
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	snap, err := h.engine.Snapshot()
	if err != nil {
		h.t.Fatalf("Snapshot failed: %v", err)
	}
	return snap
}

func (h *harness) waitFor(what string, cond func(Snapshot) bool) Snapshot {
	h.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		snap := h.snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("Timed out waiting for %s, state: %+v", what, snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) waitSelected(seqnum uint32) events.StreamsSelectedEvent {
	h.t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev := <-h.selected:
			if ev.Seqnum == seqnum {
				return ev
			}
		case <-timeout:
			h.t.Fatalf("Timed out waiting for streams-selected with seqnum %d", seqnum)
		}
	}
}

func (h *harness) expectNoSelected(d time.Duration) {
	h.t.Helper()
	select {
	case ev := <-h.selected:
		h.t.Errorf("Expected no streams-selected notification, got %+v", ev)
	case <-time.After(d):
	}
}

func (h *harness) waitError(code string) events.ElementErrorEvent {
	h.t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev := <-h.errs:
			if ev.Code == code {
				return ev
			}
		case <-timeout:
			h.t.Fatalf("Timed out waiting for element error %s", code)
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func streamIDs(infos []events.StreamInfo) []string {
	ids := make([]string, len(infos))
	for i, s := range infos {
		ids[i] = s.ID
	}
	return ids
}

func outputFor(snap Snapshot, stream string) *OutputInfo {
	for i := range snap.Outputs {
		if snap.Outputs[i].Stream == stream {
			return &snap.Outputs[i]
		}
	}
	return nil
}

func slotFor(snap Snapshot, stream string) *SlotInfo {
	for i := range snap.Slots {
		if snap.Slots[i].Stream == stream {
			return &snap.Slots[i]
		}
	}
	return nil
}

var (
	h264Caps = media.MustParseCaps("video/x-h264, stream-format=byte-stream, alignment=au")
	rawAudio = media.MustParseCaps("audio/x-raw, rate=48000, channels=2")
)

func videoStream(id string) *media.Stream {
	return media.NewStream(id, 0, h264Caps, 0)
}

func audioStream(id string) *media.Stream {
	return media.NewStream(id, 0, rawAudio, 0)
}
