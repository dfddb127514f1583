package decodebin

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/logging"
	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/metrics"
	"github.com/smazurov/decodebin/internal/multiqueue"
)

// DefaultName labels the metrics of an engine created without a name.
const DefaultName = "decodebin"

// Config configures an Engine.
type Config struct {
	// Name identifies the engine in metrics.
	Name string
	// RawCaps are exposed without decoding. Empty means media.DefaultRawCaps.
	RawCaps   string
	Queue     multiqueue.Config
	ParseBins ParseBinFactory
	Decoders  DecoderFactory
	Bus       *events.Bus
	Logger    *slog.Logger
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithOutputHandler sets the handler told about exposed pads.
func WithOutputHandler(h OutputHandler) Option {
	return func(e *Engine) { e.handler = h }
}

// WithSelectStreamFunc sets the hook consulted by the default selection.
func WithSelectStreamFunc(fn SelectStreamFunc) Option {
	return func(e *Engine) { e.selectFn = fn }
}

// Engine routes the elementary streams of its inputs through a shared multi-queue and
// exposes decoded outputs for the selected streams.
//
// All selection state is owned by one goroutine. Pad probes and API calls submit closures
// to it and run the returned effects themselves once it has replied, so the owner never
// blocks on a pad.
type Engine struct {
	name      string
	logger    *slog.Logger
	bus       *events.Bus
	queue     *multiqueue.MultiQueue
	parsebins ParseBinFactory
	decoders  DecoderFactory
	handler   OutputHandler
	selectFn  SelectStreamFunc
	rawCaps   atomic.Pointer[media.Caps]

	requests chan request
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	st *state
}

type request struct {
	fn    func(st *state) effects
	reply chan effects
}

// effects are actions decided by the owner goroutine and run by the requester.
type effects []func()

func (fx *effects) add(fn func()) {
	*fx = append(*fx, fn)
}

func (fx *effects) merge(other effects) {
	*fx = append(*fx, other...)
}

func (fx effects) run() {
	for _, fn := range fx {
		fn()
	}
}

// New creates and starts an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.ParseBins == nil {
		return nil, errors.New("decodebin: parse bin factory is required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.RawCaps == "" {
		cfg.RawCaps = media.DefaultRawCaps
	}
	raw, err := media.ParseCaps(cfg.RawCaps)
	if err != nil {
		return nil, NewError(ErrCodeInvalidCaps, "invalid raw caps", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger("decodebin")
	}
	logger = logger.With("engine", cfg.Name)

	e := &Engine{
		name:      cfg.Name,
		logger:    logger,
		bus:       cfg.Bus,
		queue:     multiqueue.New(cfg.Queue, logger),
		parsebins: cfg.ParseBins,
		decoders:  cfg.Decoders,
		requests:  make(chan request),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	e.rawCaps.Store(raw)
	for _, opt := range opts {
		opt(e)
	}
	e.st = newState(e)

	go e.loop()
	logger.Info("Engine started", "raw_caps", raw.String())
	return e, nil
}

// Name returns the engine name.
func (e *Engine) Name() string { return e.name }

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case r := <-e.requests:
			fx := r.fn(e.st)
			e.st.updateMetrics()
			r.reply <- fx
		case <-e.quit:
			return
		}
	}
}

// exec runs fn on the owner goroutine and then runs the effects it returned on the
// calling goroutine.
func (e *Engine) exec(fn func(st *state) effects) error {
	r := request{fn: fn, reply: make(chan effects, 1)}
	select {
	case e.requests <- r:
	case <-e.quit:
		return ErrStopped
	}
	(<-r.reply).run()
	return nil
}

// Stop tears down outputs and slots, stops the inputs' parsers and the multi-queue.
// Further calls fail with ErrStopped.
func (e *Engine) Stop() error {
	stopped := false
	e.stopOnce.Do(func() {
		stopped = true
		var inputs []*Input
		_ = e.exec(func(st *state) effects {
			inputs = append(inputs, st.inputs...)
			return st.teardown()
		})
		for _, in := range inputs {
			if in.parsebin == nil {
				continue
			}
			if err := in.parsebin.Stop(); err != nil {
				e.logger.Warn("Failed to stop parse bin", "input", in.name, "error", err)
			}
		}
		close(e.quit)
		<-e.done
		e.queue.Close()
		metrics.DeleteEngineMetrics(e.name)
		e.logger.Info("Engine stopped")
	})
	if !stopped {
		return ErrStopped
	}
	return nil
}

// RawCaps returns the caps that are exposed without decoding.
func (e *Engine) RawCaps() *media.Caps {
	return e.rawCaps.Load()
}

// SetRawCaps replaces the raw caps and asks every exposed output to re-evaluate whether it
// needs a decoder.
func (e *Engine) SetRawCaps(caps string) error {
	raw, err := media.ParseCaps(caps)
	if err != nil {
		return NewError(ErrCodeInvalidCaps, fmt.Sprintf("invalid raw caps %q", caps), err)
	}
	return e.exec(func(st *state) effects {
		e.rawCaps.Store(raw)
		e.logger.Info("Raw caps changed", "raw_caps", raw.String())
		var fx effects
		for _, s := range st.orderedSlots() {
			if s.output != 0 {
				fx.merge(st.post(s, msgReconfigure))
			}
		}
		return fx
	})
}

// SelectStreams requests that exactly the given streams be exposed and returns the
// sequence number that the StreamsSelected notification for this request will carry.
func (e *Engine) SelectStreams(ids []string) (uint32, error) {
	ev := media.NewSelectStreamsEvent(ids)
	if err := e.handleSelectStreams(ev); err != nil {
		return 0, err
	}
	return ev.Seqnum, nil
}

// SendEvent handles an event sent to the engine. Only select-streams events are
// handled.
func (e *Engine) SendEvent(ev *media.Event) bool {
	if ev == nil || ev.Type != media.EventSelectStreams {
		return false
	}
	return e.handleSelectStreams(ev) == nil
}

func (e *Engine) handleSelectStreams(ev *media.Event) error {
	if ev.Seqnum == media.SeqnumInvalid {
		e.logger.Warn("Rejecting select-streams without seqnum", "streams", ev.Streams)
		return NewError(ErrCodeInvalidSeqnum, "select-streams carries no seqnum", nil)
	}
	return e.exec(func(st *state) effects {
		return st.handleSelectStreams(ev.Streams, ev.Seqnum)
	})
}

// Collection returns the merged collection of all inputs.
func (e *Engine) Collection() (*media.StreamCollection, error) {
	var c *media.StreamCollection
	err := e.exec(func(st *state) effects {
		c = st.collection
		return nil
	})
	return c, err
}

// acceptedCaps is what input pads advertise: anything a decoder accepts or raw.
func (e *Engine) acceptedCaps() *media.Caps {
	raw := e.RawCaps()
	if e.decoders == nil {
		return raw
	}
	return e.decoders.SinkCaps().Merge(raw)
}

func (e *Engine) publish(fx *effects, ev events.Event) {
	if e.bus == nil {
		return
	}
	fx.add(func() { e.bus.Publish(ev) })
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func streamInfo(s *media.Stream) events.StreamInfo {
	info := events.StreamInfo{ID: s.ID, Type: s.Type.String()}
	if s.Caps != nil {
		info.Caps = s.Caps.String()
	}
	return info
}
