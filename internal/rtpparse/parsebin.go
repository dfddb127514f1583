// Package rtpparse splits an RTP input into one elementary stream per synchronization
// source. Each SSRC gets its own pad and stream; RTCP BYE removes it again.
package rtpparse

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/smazurov/decodebin/internal/decodebin"
	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/metrics"
)

// ErrUnknownInput is returned for inputs without a payload type table.
var ErrUnknownInput = errors.New("no payload types configured for input")

// Factory creates RTP parse bins. Every input needs a payload type table first.
type Factory struct {
	mu       sync.RWMutex
	payloads map[string]map[uint8]*media.Caps
	logger   *slog.Logger
}

// NewFactory creates an empty factory.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{payloads: make(map[string]map[uint8]*media.Caps), logger: logger}
}

// SetPayloadTypes maps the payload types of input to caps.
func (f *Factory) SetPayloadTypes(input string, pts map[uint8]string) error {
	table := make(map[uint8]*media.Caps, len(pts))
	for pt, s := range pts {
		caps, err := media.ParseCaps(s)
		if err != nil {
			return fmt.Errorf("payload type %d: %w", pt, err)
		}
		table[pt] = caps
	}
	f.mu.Lock()
	f.payloads[input] = table
	f.mu.Unlock()
	return nil
}

// NewParseBin implements decodebin.ParseBinFactory.
func (f *Factory) NewParseBin(name string, l decodebin.ParseBinListener) (decodebin.ParseBin, error) {
	f.mu.RLock()
	table, ok := f.payloads[name]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInput, name)
	}
	return newParseBin(name, table, l, f.logger.With("input", name)), nil
}

// ParseBin demultiplexes RTP and RTCP packets of one input.
type ParseBin struct {
	name     string
	payloads map[uint8]*media.Caps
	listener decodebin.ParseBinListener
	logger   *slog.Logger
	sink     *media.Pad
	stopped  atomic.Bool

	mu       sync.Mutex
	sources  map[uint32]*source
	order    []uint32
	warnedPT map[uint8]bool
}

type source struct {
	ssrc    uint32
	stream  *media.Stream
	pad     *media.Pad
	asm     *assembler
	lastSeq uint16
}

func newParseBin(name string, payloads map[uint8]*media.Caps, l decodebin.ParseBinListener, logger *slog.Logger) *ParseBin {
	p := &ParseBin{
		name:     name,
		payloads: payloads,
		listener: l,
		logger:   logger,
		sources:  make(map[uint32]*source),
		warnedPT: make(map[uint8]bool),
	}
	p.sink = media.NewSinkPad(name+"_rtp", p.chain)
	return p
}

// SinkPad receives RTP and RTCP datagrams.
func (p *ParseBin) SinkPad() *media.Pad { return p.sink }

// Stop makes the parse bin discard further data.
func (p *ParseBin) Stop() error {
	if p.stopped.Swap(true) {
		return nil
	}
	metrics.DeleteInputMetrics(p.name)
	p.logger.Debug("RTP parser stopped")
	return nil
}

func (p *ParseBin) chain(_ *media.Pad, item media.Item) error {
	if p.stopped.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch it := item.(type) {
	case *media.Event:
		if it.Type == media.EventEOS {
			for _, ssrc := range p.order {
				_ = p.sources[ssrc].pad.Push(media.NewEOSEvent())
			}
		}
		return nil
	case *media.Buffer:
		if isRTCP(it.Data) {
			p.handleRTCP(it.Data)
			return nil
		}
		return p.handleRTP(it.Data)
	}
	return nil
}

// isRTCP tells RTCP from RTP on a multiplexed port by the packet type range.
func isRTCP(b []byte) bool {
	return len(b) >= 2 && b[1] >= 192 && b[1] <= 223
}

func (p *ParseBin) handleRTP(data []byte) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		p.logger.Debug("Dropping malformed RTP packet", "error", err)
		return nil
	}
	metrics.AddRTPPackets(p.name, 1)

	src, ok := p.sources[pkt.SSRC]
	if !ok {
		if src = p.addSource(&pkt); src == nil {
			return nil
		}
	} else {
		gap := int16(pkt.SequenceNumber - src.lastSeq)
		if gap <= 0 {
			return nil
		}
		if gap > 1 {
			metrics.AddRTPLost(p.name, int(gap-1))
		}
	}
	src.lastSeq = pkt.SequenceNumber

	buf, err := src.asm.push(&pkt)
	if err != nil {
		p.logger.Debug("Dropping undecodable payload", "ssrc", fmt.Sprintf("%08x", src.ssrc), "error", err)
		return nil
	}
	if buf == nil {
		return nil
	}
	if err := src.pad.Push(buf); err != nil && !errors.Is(err, media.ErrNotLinked) {
		return err
	}
	return nil
}

// addSource announces a new SSRC: the collection first, then its pad.
func (p *ParseBin) addSource(pkt *rtp.Packet) *source {
	caps, ok := p.payloads[pkt.PayloadType]
	if !ok {
		if !p.warnedPT[pkt.PayloadType] {
			p.warnedPT[pkt.PayloadType] = true
			p.logger.Warn("Ignoring unknown payload type", "payload_type", pkt.PayloadType,
				"ssrc", fmt.Sprintf("%08x", pkt.SSRC))
		}
		return nil
	}

	id := fmt.Sprintf("%s/%08x", p.name, pkt.SSRC)
	src := &source{
		ssrc:    pkt.SSRC,
		stream:  media.NewStream(id, 0, caps, 0),
		pad:     media.NewSrcPad(fmt.Sprintf("%s_%08x", p.name, pkt.SSRC)),
		asm:     newAssembler(caps),
		lastSeq: pkt.SequenceNumber - 1,
	}
	p.sources[pkt.SSRC] = src
	p.order = append(p.order, pkt.SSRC)
	p.logger.Info("New RTP source", "stream_id", id, "caps", caps.String())

	p.announceCollection()
	p.listener.PadAdded(src.pad)
	_ = src.pad.Push(media.NewStreamStartEvent(src.stream, 1))
	_ = src.pad.Push(media.NewCapsEvent(caps))
	return src
}

func (p *ParseBin) removeSource(ssrc uint32) {
	src, ok := p.sources[ssrc]
	if !ok {
		return
	}
	delete(p.sources, ssrc)
	for i, s := range p.order {
		if s == ssrc {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.logger.Info("RTP source left", "stream_id", src.stream.ID)
	p.listener.PadRemoved(src.pad)
	p.announceCollection()
}

func (p *ParseBin) announceCollection() {
	streams := make([]*media.Stream, 0, len(p.order))
	for _, ssrc := range p.order {
		streams = append(streams, p.sources[ssrc].stream)
	}
	c, err := media.NewStreamCollection(p.name, streams...)
	if err != nil {
		p.logger.Error("Failed to build stream collection", "error", err)
		return
	}
	p.listener.CollectionChanged(c)
}

func (p *ParseBin) handleRTCP(data []byte) {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		p.logger.Debug("Dropping malformed RTCP packet", "error", err)
		return
	}
	for _, pkt := range packets {
		switch pkt := pkt.(type) {
		case *rtcp.Goodbye:
			metrics.IncRTCPBye(p.name)
			for _, ssrc := range pkt.Sources {
				p.removeSource(ssrc)
			}
		case *rtcp.SenderReport:
			metrics.IncRTCPSenderReport(p.name)
		}
	}
}
