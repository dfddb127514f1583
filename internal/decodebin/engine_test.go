package decodebin

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/decodebin/internal/decoders"
	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/multiqueue"
)

func TestDefaultSelectionExposesOneStreamPerType(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	h.announce(pb, videoStream("video-0"), audioStream("audio-0"))

	ev := h.waitSelected(0)
	if got := streamIDs(ev.Streams); len(got) != 2 {
		t.Fatalf("Expected 2 selected streams, got %v", got)
	}

	snap := h.snapshot()
	if len(snap.Outputs) != 2 {
		t.Fatalf("Expected 2 outputs, got %d", len(snap.Outputs))
	}
	video := outputFor(snap, "video-0")
	if video == nil || video.Pad != "video_0" || video.Decoder == "" || !video.Exposed {
		t.Errorf("Expected exposed video_0 with a decoder, got %+v", video)
	}
	audio := outputFor(snap, "audio-0")
	if audio == nil || audio.Pad != "audio_0" || audio.Decoder != "" {
		t.Errorf("Expected raw audio_0 without decoder, got %+v", audio)
	}
	if h.handler.sink("video_0") == nil || h.handler.sink("audio_0") == nil {
		t.Error("Expected the output handler to see both pads")
	}
	h.expectNoSelected(100 * time.Millisecond)
}

func TestSelectSubsetTearsDownOtherOutputs(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	h.announce(pb, videoStream("video-0"), audioStream("audio-0"))
	h.waitSelected(0)

	seq, err := h.engine.SelectStreams([]string{"video-0"})
	if err != nil {
		t.Fatalf("SelectStreams failed: %v", err)
	}
	ev := h.waitSelected(seq)
	if got := streamIDs(ev.Streams); !slices.Equal(got, []string{"video-0"}) {
		t.Errorf("Expected [video-0] selected, got %v", got)
	}

	snap := h.snapshot()
	if len(snap.Outputs) != 1 || snap.Outputs[0].Pad != "video_0" {
		t.Errorf("Expected only video_0 to remain, got %+v", snap.Outputs)
	}
	if removed := h.handler.removedPads(); !slices.Equal(removed, []string{"audio_0"}) {
		t.Errorf("Expected audio_0 removed, got %v", removed)
	}
	if !snap.UserSelected || snap.Seqnum != seq {
		t.Errorf("Expected user selection with seqnum %d, got %v/%d", seq, snap.UserSelected, snap.Seqnum)
	}
}

func TestSwitchReusesDecoder(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	h.announce(pb, videoStream("video-0"), videoStream("video-1"))
	h.waitSelected(0)
	before := h.waitFor("video-1 slot", func(s Snapshot) bool { return slotFor(s, "video-1") != nil })
	if len(before.Outputs) != 1 {
		t.Fatalf("Expected a single video output, got %+v", before.Outputs)
	}
	created := h.registry.Created()

	seq, err := h.engine.SelectStreams([]string{"video-1"})
	if err != nil {
		t.Fatalf("SelectStreams failed: %v", err)
	}
	ev := h.waitSelected(seq)
	if got := streamIDs(ev.Streams); !slices.Equal(got, []string{"video-1"}) {
		t.Errorf("Expected [video-1] selected, got %v", got)
	}

	after := h.snapshot()
	if h.registry.Created() != created {
		t.Errorf("Expected decoder reuse, created %d -> %d", created, h.registry.Created())
	}
	if len(after.Outputs) != 1 {
		t.Fatalf("Expected 1 output, got %+v", after.Outputs)
	}
	out := after.Outputs[0]
	if out.Pad != before.Outputs[0].Pad || out.Decoder != before.Outputs[0].Decoder {
		t.Errorf("Expected the same pad and decoder, got %+v before %+v", out, before.Outputs[0])
	}
	if want := slotFor(after, "video-1").ID; out.Slot != want {
		t.Errorf("Expected output to move to slot %d, got %d", want, out.Slot)
	}
	if slotFor(after, "video-0").Output != "" {
		t.Error("Expected video-0 slot to lose its output")
	}
}

func TestOneFreedOutputServesTwoNewStreams(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	h.announce(pb, videoStream("video-0"), videoStream("video-1"), videoStream("video-2"))
	h.waitSelected(0)
	before := h.waitFor("video slots", func(s Snapshot) bool {
		return slotFor(s, "video-1") != nil && slotFor(s, "video-2") != nil
	})
	if len(before.Outputs) != 1 {
		t.Fatalf("Expected a single video output, got %+v", before.Outputs)
	}
	created := h.registry.Created()

	seq, err := h.engine.SelectStreams([]string{"video-1", "video-2"})
	if err != nil {
		t.Fatalf("SelectStreams failed: %v", err)
	}
	ev := h.waitSelected(seq)
	got := streamIDs(ev.Streams)
	slices.Sort(got)
	if !slices.Equal(got, []string{"video-1", "video-2"}) {
		t.Errorf("Expected [video-1 video-2] selected, got %v", got)
	}

	snap := h.snapshot()
	if len(snap.Outputs) != 2 {
		t.Fatalf("Expected 2 outputs, got %+v", snap.Outputs)
	}
	if len(snap.ToActivate) != 0 {
		t.Errorf("Expected nothing left to activate, got %v", snap.ToActivate)
	}
	reused := outputFor(snap, "video-1")
	if reused == nil || reused.Pad != before.Outputs[0].Pad || reused.Decoder != before.Outputs[0].Decoder {
		t.Errorf("Expected video-1 to take over %+v, got %+v", before.Outputs[0], reused)
	}
	if o := outputFor(snap, "video-2"); o == nil || !o.Exposed {
		t.Errorf("Expected video-2 on an output of its own, got %+v", o)
	}
	if h.registry.Created() != created+1 {
		t.Errorf("Expected exactly one new decoder, created %d -> %d", created, h.registry.Created())
	}
	if h.registry.Live() != 2 {
		t.Errorf("Expected 2 live decoders, got %d", h.registry.Live())
	}
}

func waitBuffers(t *testing.T, h *harness, pad string, n int) {
	t.Helper()
	waitUntil(t, "output sink "+pad, func() bool { return h.handler.sink(pad) != nil })
	sink := h.handler.sink(pad)
	waitUntil(t, fmt.Sprintf("%d buffers on %s", n, pad), func() bool {
		got, _ := sink.counts()
		return got >= n
	})
}

func TestCapsChangeKeepsCompatibleDecoder(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	pads := h.announce(pb, videoStream("video-0"))
	h.waitSelected(0)
	before := outputFor(h.snapshot(), "video-0")
	if before == nil || before.Decoder == "" {
		t.Fatalf("Expected a decoded video output, got %+v", before)
	}

	pad := pads["video-0"]
	_ = pad.Push(media.NewCapsEvent(media.MustParseCaps("video/x-h264, stream-format=byte-stream, alignment=au, width=1280")))
	_ = pad.Push(&media.Buffer{Data: []byte{1}})
	waitBuffers(t, h, "video_0", 1)

	after := outputFor(h.snapshot(), "video-0")
	if after == nil || after.Decoder != before.Decoder {
		t.Errorf("Expected decoder %s to stay, got %+v", before.Decoder, after)
	}
	if h.registry.Created() != 1 {
		t.Errorf("Expected 1 decoder created, got %d", h.registry.Created())
	}
	if h.registry.Live() != 1 {
		t.Errorf("Expected 1 live decoder, got %d", h.registry.Live())
	}
}

func TestCodecChangeReplacesDecoder(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	pads := h.announce(pb, videoStream("video-0"))
	h.waitSelected(0)
	before := outputFor(h.snapshot(), "video-0")
	if before == nil || !strings.HasPrefix(before.Decoder, "h264dec") {
		t.Fatalf("Expected an h264 decoder, got %+v", before)
	}

	pad := pads["video-0"]
	_ = pad.Push(media.NewCapsEvent(media.MustParseCaps("video/x-vp8")))
	_ = pad.Push(&media.Buffer{Data: []byte{1}})
	waitBuffers(t, h, "video_0", 1)

	after := outputFor(h.snapshot(), "video-0")
	if after == nil || !strings.HasPrefix(after.Decoder, "vp8dec") {
		t.Fatalf("Expected a vp8 decoder, got %+v", after)
	}
	if after.Pad != before.Pad {
		t.Errorf("Expected the pad %s to stay, got %s", before.Pad, after.Pad)
	}
	if h.registry.Created() != 2 {
		t.Errorf("Expected 2 decoders created, got %d", h.registry.Created())
	}
	if h.registry.Live() != 1 {
		t.Errorf("Expected the old decoder released, live %d", h.registry.Live())
	}
}

func TestStaleSelectIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	h.announce(pb, videoStream("video-0"), audioStream("audio-0"))
	h.waitSelected(0)

	older := media.NewSelectStreamsEvent([]string{"video-0"})
	newer := media.NewSelectStreamsEvent([]string{"audio-0"})
	if !h.engine.SendEvent(newer) {
		t.Fatal("Expected select-streams to be handled")
	}
	h.waitSelected(newer.Seqnum)
	before := h.snapshot()

	h.engine.SendEvent(older)
	h.expectNoSelected(150 * time.Millisecond)

	after := h.snapshot()
	if after.Seqnum != newer.Seqnum {
		t.Errorf("Expected seqnum %d to stay, got %d", newer.Seqnum, after.Seqnum)
	}
	if !slices.Equal(after.Requested, before.Requested) || !slices.Equal(after.Active, before.Active) {
		t.Errorf("Expected no change, got %+v -> %+v", before, after)
	}
}

func TestSelectSeqnumOrdering(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	h.announce(pb, videoStream("video-0"), audioStream("audio-0"))
	h.waitSelected(0)

	unnumbered := &media.Event{Type: media.EventSelectStreams, Streams: []string{"audio-0"}}
	if h.engine.SendEvent(unnumbered) {
		t.Error("Expected select-streams without seqnum to be refused")
	}
	if err := h.engine.handleSelectStreams(unnumbered); !IsCode(err, ErrCodeInvalidSeqnum) {
		t.Errorf("Expected INVALID_SEQNUM, got %v", err)
	}

	_ = h.engine.exec(func(st *state) effects {
		st.seqnum = math.MaxUint32 - 1
		return nil
	})
	wrapped := &media.Event{Type: media.EventSelectStreams, Seqnum: 2, Streams: []string{"audio-0"}}
	if !h.engine.SendEvent(wrapped) {
		t.Fatal("Expected select-streams to be handled")
	}
	ev := h.waitSelected(2)
	if got := streamIDs(ev.Streams); !slices.Equal(got, []string{"audio-0"}) {
		t.Errorf("Expected [audio-0] after the counter wrapped, got %v", got)
	}

	older := &media.Event{Type: media.EventSelectStreams, Seqnum: math.MaxUint32, Streams: []string{"video-0"}}
	h.engine.SendEvent(older)
	h.expectNoSelected(150 * time.Millisecond)
	if snap := h.snapshot(); snap.Seqnum != 2 {
		t.Errorf("Expected seqnum 2 to stay, got %d", snap.Seqnum)
	}
}

func TestEOSBeforeCapsCreatesNoOutput(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	audio := media.NewStream("audio-0", media.StreamTypeAudio, nil, 0)
	pads := h.announce(pb, videoStream("video-0"), audio)
	_ = pads["audio-0"].Push(media.NewEOSEvent())

	h.waitFor("video output", func(s Snapshot) bool {
		o := outputFor(s, "video-0")
		return o != nil && o.Exposed
	})
	time.Sleep(50 * time.Millisecond)
	snap := h.snapshot()
	if len(snap.Outputs) != 1 {
		t.Errorf("Expected only the video output, got %+v", snap.Outputs)
	}
	if o := outputFor(snap, "audio-0"); o != nil {
		t.Errorf("Expected no audio output, got %+v", o)
	}
}

func TestKeyframeGate(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	pads := h.announce(pb, videoStream("video-0"))
	pad := pads["video-0"]
	_ = pad.Push(&media.Buffer{Data: []byte{1}, Flags: media.BufferFlagDeltaUnit})
	_ = pad.Push(&media.Buffer{Data: []byte{2}, Flags: media.BufferFlagDeltaUnit})
	_ = pad.Push(&media.Buffer{Data: []byte{3}})
	_ = pad.Push(&media.Buffer{Data: []byte{4}, Flags: media.BufferFlagDeltaUnit})

	waitUntil(t, "output sink", func() bool { return h.handler.sink("video_0") != nil })
	sink := h.handler.sink("video_0")
	waitUntil(t, "two buffers", func() bool {
		n, _ := sink.counts()
		return n == 2
	})
	time.Sleep(50 * time.Millisecond)
	if n, _ := sink.counts(); n != 2 {
		t.Errorf("Expected delta units before the keyframe to be dropped, got %d buffers", n)
	}
}

func TestEOSForwardedOncePerOutput(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	pads := h.announce(pb, videoStream("video-0"), audioStream("audio-0"))
	h.waitSelected(0)

	var wg sync.WaitGroup
	for _, pad := range pads {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(p *media.Pad) {
				defer wg.Done()
				_ = p.Push(media.NewEOSEvent())
			}(pad)
		}
	}
	wg.Wait()

	for _, name := range []string{"video_0", "audio_0"} {
		sink := h.handler.sink(name)
		waitUntil(t, "EOS on "+name, func() bool {
			_, eos := sink.counts()
			return eos >= 1
		})
	}
	time.Sleep(100 * time.Millisecond)
	for _, name := range []string{"video_0", "audio_0"} {
		if _, eos := h.handler.sink(name).counts(); eos != 1 {
			t.Errorf("Expected exactly one EOS on %s, got %d", name, eos)
		}
	}
	if got := len(h.drained); got != 1 {
		t.Errorf("Expected one drained notification, got %d", got)
	}
}

func TestDuplicateStreamIDAcrossInputs(t *testing.T) {
	h := newHarness(t, Config{})
	first := h.addInput("in0")
	second := h.addInput("in1")
	h.announce(first, videoStream("shared"))
	h.waitSelected(0)

	c, _ := media.NewStreamCollection("in1", videoStream("shared"))
	second.listener.CollectionChanged(c)
	h.waitError(ErrCodeDuplicateStreamID)

	pad := media.NewSrcPad("in1_shared")
	second.listener.PadAdded(pad)
	_ = pad.Push(media.NewStreamStartEvent(videoStream("shared"), 1))
	h.waitError(ErrCodeDuplicateStreamID)
	if pad.IsLinked() {
		t.Error("Expected the duplicate pad to stay unlinked")
	}

	coll, err := h.engine.Collection()
	if err != nil {
		t.Fatal(err)
	}
	if ids := coll.IDs(); !slices.Equal(ids, []string{"shared"}) {
		t.Errorf("Expected the first collection to win, got %v", ids)
	}
}

func TestMissingDecoder(t *testing.T) {
	h := newHarness(t, Config{Decoders: decoders.NewRegistry(testLogger())})
	pb := h.addInput("in0")
	h.announce(pb, videoStream("video-0"))

	select {
	case ev := <-h.missing:
		if ev.StreamID != "video-0" {
			t.Errorf("Expected missing decoder for video-0, got %s", ev.StreamID)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Timed out waiting for missing-decoder notification")
	}
	ev := h.waitError(ErrCodeMissingDecoder)
	if ev.Fatal {
		t.Error("Expected missing decoders to be non-fatal")
	}

	snap := h.snapshot()
	if len(snap.Outputs) != 0 {
		t.Errorf("Expected no outputs, got %+v", snap.Outputs)
	}
	if !slices.Contains(snap.Requested, "video-0") || slices.Contains(snap.Active, "video-0") {
		t.Errorf("Expected video-0 requested but not active, got %+v", snap)
	}
}

func TestSlotExhaustionIsFatal(t *testing.T) {
	h := newHarness(t, Config{Queue: multiqueue.Config{MaxPairs: 1}})
	pb := h.addInput("in0")
	pads := h.announce(pb, videoStream("video-0"), audioStream("audio-0"))

	ev := h.waitError(ErrCodeResourceExhausted)
	if !ev.Fatal {
		t.Error("Expected slot exhaustion to be fatal")
	}
	if pads["audio-0"].IsLinked() {
		t.Error("Expected the second stream to stay unlinked")
	}
	if !pads["video-0"].IsLinked() {
		t.Error("Expected the first stream to be linked")
	}
}

func TestPadRemovalDrainsSlot(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	pads := h.announce(pb, audioStream("audio-0"))
	h.waitSelected(0)

	pb.listener.PadRemoved(pads["audio-0"])
	if pads["audio-0"].IsLinked() {
		t.Error("Expected the removed pad to be unlinked")
	}
	h.waitFor("slot teardown", func(s Snapshot) bool { return len(s.Slots) == 0 && len(s.Outputs) == 0 })

	if removed := h.handler.removedPads(); !slices.Equal(removed, []string{"audio_0"}) {
		t.Errorf("Expected audio_0 removed, got %v", removed)
	}
	if _, eos := h.handler.sink("audio_0").counts(); eos != 1 {
		t.Errorf("Expected EOS before removal, got %d", eos)
	}
}

func TestTypeChangeMovesToNewSlot(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	pads := h.announce(pb, videoStream("video-0"))
	h.waitSelected(0)
	first := slotFor(h.snapshot(), "video-0").ID

	_ = pads["video-0"].Push(media.NewStreamStartEvent(audioStream("audio-9"), 2))
	snap := h.waitFor("new slot", func(s Snapshot) bool { return slotFor(s, "audio-9") != nil })
	if got := slotFor(snap, "audio-9"); got.ID == first {
		t.Errorf("Expected a type change to move the stream to a new slot, got slot %d", got.ID)
	}
	h.waitFor("old slot removal", func(s Snapshot) bool {
		for _, sl := range s.Slots {
			if sl.ID == first {
				return false
			}
		}
		return true
	})
}

func TestInputPadQueries(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	pad := media.NewSrcPad("in0_probe")
	pb.listener.PadAdded(pad)

	if !pad.PeerQuery(media.NewAcceptCapsQuery(h264Caps)) {
		t.Fatal("Expected accept-caps to be answered")
	}
	q := media.NewAcceptCapsQuery(h264Caps)
	pad.PeerQuery(q)
	if !q.Accepted {
		t.Error("Expected decodable caps to be accepted")
	}
	q = media.NewAcceptCapsQuery(media.MustParseCaps("application/x-unknown"))
	pad.PeerQuery(q)
	if q.Accepted {
		t.Error("Expected unknown caps to be refused")
	}
	cq := media.NewCapsQuery(nil)
	pad.PeerQuery(cq)
	if !cq.Result.CanIntersect(media.MustParseCaps("video/x-raw")) || !cq.Result.CanIntersect(h264Caps) {
		t.Errorf("Expected decoder and raw caps in %s", cq.Result)
	}
}

func TestSetRawCapsDropsDecoder(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	h.announce(pb, videoStream("video-0"))
	h.waitSelected(0)
	if outputFor(h.snapshot(), "video-0").Decoder == "" {
		t.Fatal("Expected a decoder for h264")
	}

	if err := h.engine.SetRawCaps("video/x-raw; video/x-h264"); err != nil {
		t.Fatalf("SetRawCaps failed: %v", err)
	}
	h.waitFor("passthrough", func(s Snapshot) bool {
		o := outputFor(s, "video-0")
		return o != nil && o.Decoder == ""
	})
	waitUntil(t, "decoder release", func() bool { return h.registry.Live() == 0 })

	if err := h.engine.SetRawCaps("video/x-raw, width"); !IsCode(err, ErrCodeInvalidCaps) {
		t.Errorf("Expected INVALID_CAPS, got %v", err)
	}
}

func TestSelectStreamHook(t *testing.T) {
	hook := func(_ *media.StreamCollection, s *media.Stream) int {
		switch s.ID {
		case "audio-1":
			return 1
		case "audio-0":
			return 0
		}
		return -1
	}
	h := newHarness(t, Config{}, WithSelectStreamFunc(hook))
	pb := h.addInput("in0")
	h.announce(pb, videoStream("video-0"), audioStream("audio-0"), audioStream("audio-1"))

	ev := h.waitSelected(0)
	got := streamIDs(ev.Streams)
	slices.Sort(got)
	if !slices.Equal(got, []string{"audio-1", "video-0"}) {
		t.Errorf("Expected hook choice plus first video, got %v", got)
	}
}

func TestSelectFromExposedPad(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	h.announce(pb, videoStream("video-0"), audioStream("audio-0"))
	h.waitSelected(0)

	sink := h.handler.sink("audio_0")
	ev := media.NewSelectStreamsEvent([]string{"audio-0"})
	if !sink.sink.SendUpstream(ev) {
		t.Fatal("Expected the exposed pad to handle select-streams")
	}
	sel := h.waitSelected(ev.Seqnum)
	if got := streamIDs(sel.Streams); !slices.Equal(got, []string{"audio-0"}) {
		t.Errorf("Expected [audio-0], got %v", got)
	}
}

func TestMultipleInputsMergeCollections(t *testing.T) {
	h := newHarness(t, Config{})
	first := h.addInput("in0")
	second := h.addInput("in1")
	h.announce(second, audioStream("b-audio"))
	h.announce(first, videoStream("a-video"))

	coll, err := h.engine.Collection()
	if err != nil {
		t.Fatal(err)
	}
	if ids := coll.IDs(); !slices.Equal(ids, []string{"a-video", "b-audio"}) {
		t.Errorf("Expected registration order, got %v", ids)
	}

	in1 := findInput(t, h, "in1")
	if err := h.engine.RemoveInput(in1); err != nil {
		t.Fatalf("RemoveInput failed: %v", err)
	}
	if !second.stopped.Load() {
		t.Error("Expected the parse bin to be stopped")
	}
	coll, _ = h.engine.Collection()
	if ids := coll.IDs(); !slices.Equal(ids, []string{"a-video"}) {
		t.Errorf("Expected in1 streams gone, got %v", ids)
	}
}

func findInput(t *testing.T, h *harness, name string) *Input {
	t.Helper()
	var found *Input
	_ = h.engine.exec(func(st *state) effects {
		for _, in := range st.inputs {
			if in.name == name {
				found = in
			}
		}
		return nil
	})
	if found == nil {
		t.Fatalf("Input %s not found", name)
	}
	return found
}

func TestMissingParser(t *testing.T) {
	h := newHarness(t, Config{})
	h.bins.fail = true
	in, err := h.engine.AddInput("broken")
	if err != nil {
		t.Fatalf("Expected a missing parser to be non-fatal, got %v", err)
	}
	if err := in.SinkPad().Send(&media.Buffer{}); err != nil {
		t.Errorf("Expected data to be discarded, got %v", err)
	}
	if _, err := h.engine.AddInput("broken"); !IsCode(err, ErrCodeInputExists) {
		t.Errorf("Expected INPUT_EXISTS, got %v", err)
	}
}

func TestAddInputConcurrentWithStop(t *testing.T) {
	h := newHarness(t, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = h.engine.AddInput(fmt.Sprintf("in%d", n))
		}(i)
	}
	_ = h.engine.Stop()
	wg.Wait()

	h.bins.mu.Lock()
	defer h.bins.mu.Unlock()
	for name, pb := range h.bins.bins {
		if !pb.stopped.Load() {
			t.Errorf("Expected the parse bin of %s to be stopped", name)
		}
	}
	if _, err := h.engine.AddInput("late"); !IsCode(err, ErrCodeStopped) {
		t.Errorf("Expected STOPPED, got %v", err)
	}
}

func TestStopReleasesEverything(t *testing.T) {
	h := newHarness(t, Config{})
	pb := h.addInput("in0")
	h.announce(pb, videoStream("video-0"), audioStream("audio-0"))
	h.waitSelected(0)

	if err := h.engine.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !pb.stopped.Load() {
		t.Error("Expected parse bin to be stopped")
	}
	if got := len(h.handler.removedPads()); got != 2 {
		t.Errorf("Expected both outputs removed, got %d", got)
	}
	if h.registry.Live() != 0 {
		t.Errorf("Expected no live decoders, got %d", h.registry.Live())
	}
	if _, err := h.engine.SelectStreams([]string{"video-0"}); !IsCode(err, ErrCodeStopped) {
		t.Errorf("Expected STOPPED, got %v", err)
	}
	if err := h.engine.Stop(); !IsCode(err, ErrCodeStopped) {
		t.Errorf("Expected second Stop to report STOPPED, got %v", err)
	}
}
