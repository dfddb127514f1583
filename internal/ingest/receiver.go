// Package ingest receives RTP over UDP, restores packet order per SSRC and feeds an input
// of the decoding engine.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/interceptor/pkg/jitterbuffer"
	"github.com/pion/rtp"
	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/metrics"
)

const maxDatagram = 65536

// Config describes one UDP input.
type Config struct {
	Name   string
	Listen string
	// ReorderPackets is how many packets may queue behind a missing one before it is
	// given up.
	ReorderPackets int
}

// Receiver reads datagrams from a UDP socket and sends them, in sequence order, to a sink
// pad. RTCP is forwarded as it arrives.
type Receiver struct {
	cfg    Config
	sink   *media.Pad
	logger *slog.Logger

	conn net.PacketConn
	done chan struct{}

	mu      sync.Mutex
	sources map[uint32]*reorderBuffer
	closed  bool
}

type reorderBuffer struct {
	jb      *jitterbuffer.JitterBuffer
	pending int
}

// NewReceiver creates a receiver feeding sink.
func NewReceiver(cfg Config, sink *media.Pad, logger *slog.Logger) *Receiver {
	if cfg.ReorderPackets <= 0 {
		cfg.ReorderPackets = 1
	}
	return &Receiver{
		cfg:     cfg,
		sink:    sink,
		logger:  logger.With("input", cfg.Name),
		sources: make(map[uint32]*reorderBuffer),
	}
}

// Start binds the socket and starts reading. The receiver stops when ctx is done or Close
// is called.
func (r *Receiver) Start(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.cfg.Listen, err)
	}
	r.conn = conn
	r.done = make(chan struct{})
	r.logger.Info("RTP receiver listening", "addr", conn.LocalAddr().String())

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-r.done:
		}
	}()
	go r.readLoop()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (r *Receiver) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Close stops reading, flushes the reorder buffers and sends EOS.
func (r *Receiver) Close() error {
	if r.conn == nil {
		r.Flush()
		return nil
	}
	err := r.conn.Close()
	<-r.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (r *Receiver) readLoop() {
	defer close(r.done)
	defer r.Flush()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := r.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Warn("UDP read failed", "error", err)
			}
			return
		}
		if err := r.HandleDatagram(buf[:n]); err != nil {
			r.logger.Debug("Input rejected datagram", "error", err)
		}
	}
}

// HandleDatagram processes one datagram. The data is copied.
func (r *Receiver) HandleDatagram(b []byte) error {
	data := append([]byte(nil), b...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	if len(data) >= 2 && data[1] >= 192 && data[1] <= 223 {
		return r.sink.Send(&media.Buffer{Data: data})
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		r.logger.Debug("Dropping non-RTP datagram", "error", err)
		return nil
	}

	rb, ok := r.sources[pkt.SSRC]
	if !ok {
		rb = r.newReorderBuffer()
		r.sources[pkt.SSRC] = rb
	} else if int16(pkt.SequenceNumber-rb.jb.PlayoutHead()) < 0 {
		r.logger.Debug("Dropping late packet", "ssrc", fmt.Sprintf("%08x", pkt.SSRC), "seq", pkt.SequenceNumber)
		return nil
	}
	rb.jb.Push(pkt)
	rb.pending++
	return r.drain(rb, false)
}

func (r *Receiver) newReorderBuffer() *reorderBuffer {
	jb := jitterbuffer.New(jitterbuffer.WithMinimumPacketCount(1))
	name := r.cfg.Name
	jb.Listen(jitterbuffer.BufferOverflow, func(jitterbuffer.Event, *jitterbuffer.JitterBuffer) {
		metrics.IncJitterBufferOverflow(name)
	})
	return &reorderBuffer{jb: jb}
}

// drain sends every in-order packet. A missing packet is skipped once more than
// ReorderPackets packets wait behind it, or right away when flushing.
func (r *Receiver) drain(rb *reorderBuffer, flush bool) error {
	for rb.pending > 0 {
		pkt, err := rb.jb.Pop()
		if err != nil {
			if errors.Is(err, jitterbuffer.ErrPopWhileBuffering) {
				return nil
			}
			if !flush && rb.pending <= r.cfg.ReorderPackets {
				return nil
			}
			rb.jb.SetPlayoutHead(rb.jb.PlayoutHead() + 1)
			continue
		}
		rb.pending--
		raw, err := pkt.Marshal()
		if err != nil {
			continue
		}
		if err := r.sink.Send(&media.Buffer{Data: raw}); err != nil {
			return err
		}
	}
	return nil
}

// Flush sends every buffered packet followed by EOS. Later datagrams are ignored.
func (r *Receiver) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, rb := range r.sources {
		if err := r.drain(rb, true); err != nil {
			r.logger.Debug("Flush interrupted", "error", err)
		}
	}
	_ = r.sink.Send(media.NewEOSEvent())
	r.logger.Info("RTP receiver drained")
}
