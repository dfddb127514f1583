// Package decoders provides a caps-driven decoder registry.
//
// Decoders do not touch codec bitstreams: a decoder relabels the stream caps to its raw
// output format and forwards access units as independently decodable frames. This is the
// stage the selection engine attaches and detaches on queue outputs.
package decoders

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/metrics"
)

// ErrNoDecoder is returned when no registered decoder accepts the caps.
var ErrNoDecoder = errors.New("no decoder for caps")

// Entry describes one decoder type.
type Entry struct {
	Name       string
	SinkCaps   *media.Caps
	OutputCaps *media.Caps
}

// NewEntry builds an entry from textual caps.
func NewEntry(name, sinkCaps, outputCaps string) (Entry, error) {
	sink, err := media.ParseCaps(sinkCaps)
	if err != nil {
		return Entry{}, fmt.Errorf("decoder %s sink caps: %w", name, err)
	}
	out, err := media.ParseCaps(outputCaps)
	if err != nil {
		return Entry{}, fmt.Errorf("decoder %s output caps: %w", name, err)
	}
	if sink.IsEmpty() || out.IsEmpty() || out.IsAny() {
		return Entry{}, fmt.Errorf("decoder %s: sink and output caps must be fixed formats", name)
	}
	return Entry{Name: name, SinkCaps: sink, OutputCaps: out}, nil
}

var defaultEntries = []struct{ name, sink, out string }{
	{"h264dec", "video/x-h264", "video/x-raw"},
	{"h265dec", "video/x-h265", "video/x-raw"},
	{"vp8dec", "video/x-vp8", "video/x-raw"},
	{"vp9dec", "video/x-vp9", "video/x-raw"},
	{"av1dec", "video/x-av1", "video/x-raw"},
	{"jpegdec", "image/jpeg", "video/x-raw"},
	{"opusdec", "audio/x-opus", "audio/x-raw"},
	{"aacdec", "audio/mpeg, mpegversion=4", "audio/x-raw"},
	{"mp3dec", "audio/mpeg, mpegversion=1", "audio/x-raw"},
	{"alawdec", "audio/x-alaw", "audio/x-raw"},
	{"mulawdec", "audio/x-mulaw", "audio/x-raw"},
	{"subparse", "application/x-subtitle", "text/x-raw, format=utf8"},
}

// Registry holds decoder entries in priority order. It is safe for concurrent use and its
// entries can be replaced at runtime.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	logger  *slog.Logger

	seq       atomic.Uint64
	created   atomic.Int64
	destroyed atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// DefaultEntries returns the built-in decoders.
func DefaultEntries() []Entry {
	out := make([]Entry, 0, len(defaultEntries))
	for _, d := range defaultEntries {
		e, err := NewEntry(d.name, d.sink, d.out)
		if err != nil {
			panic(err)
		}
		out = append(out, e)
	}
	return out
}

// DefaultRegistry creates a registry with the built-in decoders.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.entries = DefaultEntries()
	return r
}

// Register appends an entry. Names must be unique.
func (r *Registry) Register(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, have := range r.entries {
		if have.Name == e.Name {
			return fmt.Errorf("decoder %q already registered", e.Name)
		}
	}
	r.entries = append(r.entries, e)
	return nil
}

// Replace swaps all entries. Running decoders are unaffected.
func (r *Registry) Replace(entries []Entry) {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	r.mu.Lock()
	r.entries = cp
	r.mu.Unlock()
	r.logger.Info("Decoder registry replaced", "decoders", len(cp))
}

// Entries returns the registered entries in priority order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// SinkCaps returns the union of every decoder's sink caps.
func (r *Registry) SinkCaps() *media.Caps {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := media.NewEmptyCaps()
	for _, e := range r.entries {
		all = all.Merge(e.SinkCaps)
	}
	return all
}

// Find returns the first entry accepting caps.
func (r *Registry) Find(caps *media.Caps) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.SinkCaps.CanIntersect(caps) {
			return e, true
		}
	}
	return Entry{}, false
}

// CreateDecoder instantiates a decoder for caps.
func (r *Registry) CreateDecoder(stream *media.Stream, caps *media.Caps) (media.Element, error) {
	entry, ok := r.Find(caps)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoDecoder, caps)
	}
	d := newDecoder(r, entry, fmt.Sprintf("%s%d", entry.Name, r.seq.Add(1)))
	r.created.Add(1)
	metrics.IncDecoderCreated(entry.Name)
	r.logger.Debug("Decoder created", "decoder", d.name, "stream_id", media.StreamID(stream), "caps", caps.String())
	return d, nil
}

// Created returns the number of decoders instantiated.
func (r *Registry) Created() int64 { return r.created.Load() }

// Destroyed returns the number of decoders stopped.
func (r *Registry) Destroyed() int64 { return r.destroyed.Load() }

// Live returns the number of decoders created and not yet stopped.
func (r *Registry) Live() int64 { return r.created.Load() - r.destroyed.Load() }
