// Package pipeline assembles RTP inputs, the stream-selection engine and counting output
// sinks from a pipeline definition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/decodebin/internal/config"
	"github.com/smazurov/decodebin/internal/decodebin"
	"github.com/smazurov/decodebin/internal/decoders"
	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/ingest"
	"github.com/smazurov/decodebin/internal/logging"
	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/metrics"
	"github.com/smazurov/decodebin/internal/multiqueue"
	"github.com/smazurov/decodebin/internal/rtpparse"
)

// Pipeline runs one engine fed by UDP RTP inputs.
type Pipeline struct {
	cfg      *config.PipelineConfig
	engine   *decodebin.Engine
	registry *decoders.Registry
	parsers  *rtpparse.Factory
	bus      *events.Bus
	logger   *slog.Logger

	mu        sync.Mutex
	receivers map[string]*ingest.Receiver
	sinks     map[string]*outputSink
	cancel    context.CancelFunc
}

// OutputStats describes what reached one exposed pad.
type OutputStats struct {
	Pad      string        `json:"pad"`
	StreamID string        `json:"stream_id"`
	Buffers  int64         `json:"buffers"`
	Bytes    int64         `json:"bytes"`
	LastPTS  time.Duration `json:"last_pts"`
	EOS      bool          `json:"eos"`
}

// New builds the pipeline. Inputs are not opened until Start.
func New(cfg *config.PipelineConfig, bus *events.Bus, opts ...decodebin.Option) (*Pipeline, error) {
	logger := logging.GetLogger("pipeline")
	p := &Pipeline{
		cfg:       cfg,
		registry:  decoders.NewRegistry(logging.GetLogger("decoders")),
		parsers:   rtpparse.NewFactory(logging.GetLogger("rtpparse")),
		bus:       bus,
		logger:    logger,
		receivers: make(map[string]*ingest.Receiver),
		sinks:     make(map[string]*outputSink),
	}

	entries, err := decoderEntries(cfg.Decoders)
	if err != nil {
		return nil, err
	}
	p.registry.Replace(entries)

	for _, in := range cfg.Inputs {
		pts, err := in.PayloadTypeMap()
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
		if err := p.parsers.SetPayloadTypes(in.Name, pts); err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
	}

	engine, err := decodebin.New(decodebin.Config{
		RawCaps: cfg.RawCaps,
		Queue: multiqueue.Config{
			MaxBuffers: cfg.Queue.MaxBuffers,
			MaxPairs:   cfg.Queue.MaxPairs,
		},
		ParseBins: p.parsers,
		Decoders:  p.registry,
		Bus:       bus,
	}, append([]decodebin.Option{decodebin.WithOutputHandler(p)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	p.engine = engine
	return p, nil
}

// decoderEntries returns the built-in decoders followed by the configured ones. A
// configured decoder replaces a built-in one of the same name.
func decoderEntries(cfgs []config.DecoderConfig) ([]decoders.Entry, error) {
	var custom []decoders.Entry
	names := make(map[string]bool)
	for _, d := range cfgs {
		e, err := decoders.NewEntry(d.Name, d.SinkCaps, d.OutputCaps)
		if err != nil {
			return nil, err
		}
		custom = append(custom, e)
		names[d.Name] = true
	}
	var out []decoders.Entry
	for _, e := range decoders.DefaultEntries() {
		if !names[e.Name] {
			out = append(out, e)
		}
	}
	return append(out, custom...), nil
}

// Engine returns the selection engine.
func (p *Pipeline) Engine() *decodebin.Engine { return p.engine }

// Registry returns the decoder registry.
func (p *Pipeline) Registry() *decoders.Registry { return p.registry }

// Start registers the inputs with the engine and opens their sockets.
func (p *Pipeline) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	for _, cfg := range p.cfg.Inputs {
		in, err := p.engine.AddInput(cfg.Name)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to add input %s: %w", cfg.Name, err)
		}
		r := ingest.NewReceiver(ingest.Config{
			Name:           cfg.Name,
			Listen:         cfg.Listen,
			ReorderPackets: cfg.ReorderPackets,
		}, in.SinkPad(), logging.GetLogger("ingest"))
		if err := r.Start(ctx); err != nil {
			cancel()
			return err
		}
		p.mu.Lock()
		p.receivers[cfg.Name] = r
		p.mu.Unlock()
	}
	p.logger.Info("Pipeline started", "inputs", len(p.cfg.Inputs), "raw_caps", p.engine.RawCaps().String())
	return nil
}

// InputAddr returns the bound address of an input, or nil.
func (p *Pipeline) InputAddr(name string) net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.receivers[name]; ok {
		return r.Addr()
	}
	return nil
}

// Stop closes the inputs and stops the engine.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	receivers := make([]*ingest.Receiver, 0, len(p.receivers))
	for _, r := range p.receivers {
		receivers = append(receivers, r)
	}
	cancel := p.cancel
	p.mu.Unlock()

	var errs []error
	for _, r := range receivers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if err := p.engine.Stop(); err != nil && !decodebin.IsCode(err, decodebin.ErrCodeStopped) {
		errs = append(errs, err)
	}
	p.logger.Info("Pipeline stopped")
	return errors.Join(errs...)
}

// Apply takes the hot-reloadable parts of cfg: raw caps and decoders. Input and queue
// changes need a restart.
func (p *Pipeline) Apply(cfg *config.PipelineConfig) error {
	entries, err := decoderEntries(cfg.Decoders)
	if err != nil {
		return err
	}
	p.registry.Replace(entries)
	if err := p.engine.SetRawCaps(cfg.RawCaps); err != nil {
		return err
	}
	p.logger.Info("Pipeline configuration applied", "raw_caps", cfg.RawCaps, "decoders", len(entries))
	return nil
}

// Watch reloads the pipeline file on change and applies it. Unreadable or rejected
// files are reported as non-fatal element errors.
func (p *Pipeline) Watch(path string) (*config.Watcher[*config.PipelineConfig], error) {
	w := config.NewConfigWatcher(path, config.LoadPipeline, p.logger,
		config.WithErrorHandler[*config.PipelineConfig](p.reportReloadError))
	w.OnReload(func(cfg *config.PipelineConfig) {
		if err := p.Apply(cfg); err != nil {
			p.logger.Error("Failed to apply pipeline configuration", "error", err)
			p.reportReloadError(err)
		}
	})
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	return w, nil
}

func (p *Pipeline) reportReloadError(err error) {
	if p.bus == nil {
		return
	}
	code := "CONFIG_RELOAD"
	var de *decodebin.Error
	if errors.As(err, &de) {
		code = de.Code
	}
	p.bus.Publish(events.ElementErrorEvent{
		Code:      code,
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// OutputAdded links a counting sink to a new output pad.
func (p *Pipeline) OutputAdded(pad *media.Pad, stream *media.Stream) {
	s := &outputSink{stats: OutputStats{Pad: pad.Name(), StreamID: media.StreamID(stream)}}
	s.pad = media.NewSinkPad(pad.Name()+"_sink", s.chain)
	if err := media.Link(pad, s.pad); err != nil {
		p.logger.Error("Failed to link output", "pad", pad.Name(), "error", err)
		return
	}
	p.mu.Lock()
	p.sinks[pad.Name()] = s
	p.mu.Unlock()
	p.logger.Info("Output linked", "pad", pad.Name(), "stream_id", media.StreamID(stream))
}

// OutputRemoved unlinks the sink of a removed pad.
func (p *Pipeline) OutputRemoved(pad *media.Pad) {
	pad.Unlink()
	p.mu.Lock()
	delete(p.sinks, pad.Name())
	p.mu.Unlock()
	p.logger.Info("Output unlinked", "pad", pad.Name())
}

// Outputs returns per-pad statistics sorted by pad name.
func (p *Pipeline) Outputs() []OutputStats {
	p.mu.Lock()
	sinks := make([]*outputSink, 0, len(p.sinks))
	for _, s := range p.sinks {
		sinks = append(sinks, s)
	}
	p.mu.Unlock()

	out := make([]OutputStats, 0, len(sinks))
	for _, s := range sinks {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pad < out[j].Pad })
	return out
}

type outputSink struct {
	pad   *media.Pad
	mu    sync.Mutex
	stats OutputStats
}

func (s *outputSink) chain(_ *media.Pad, item media.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch it := item.(type) {
	case *media.Buffer:
		s.stats.Buffers++
		s.stats.Bytes += int64(len(it.Data))
		s.stats.LastPTS = it.PTS
		metrics.IncOutputBuffer(s.stats.Pad)
	case *media.Event:
		switch it.Type {
		case media.EventEOS:
			s.stats.EOS = true
		case media.EventStreamStart:
			s.stats.StreamID = media.StreamID(it.Stream)
			s.stats.EOS = false
		}
	}
	return nil
}

func (s *outputSink) snapshot() OutputStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
