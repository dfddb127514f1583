package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/decodebin/internal/media"
)

// Pipeline defaults applied by LoadPipeline.
const (
	DefaultMaxBuffers     = 64
	DefaultReorderPackets = 8
)

// PipelineConfig describes the inputs, decoders and queue limits of a decoding pipeline.
type PipelineConfig struct {
	RawCaps  string          `toml:"raw_caps" json:"raw_caps"`
	Queue    QueueConfig     `toml:"queue" json:"queue"`
	Inputs   []InputConfig   `toml:"inputs" json:"inputs"`
	Decoders []DecoderConfig `toml:"decoders" json:"decoders"`
}

// QueueConfig bounds the shared multi-queue.
type QueueConfig struct {
	// MaxBuffers is the per-slot capacity before upstream blocks.
	MaxBuffers int `toml:"max_buffers" json:"max_buffers"`
	// MaxPairs limits the number of slots; zero means unlimited.
	MaxPairs int `toml:"max_pairs" json:"max_pairs"`
}

// InputConfig is one RTP input.
type InputConfig struct {
	Name   string `toml:"name" json:"name"`
	Listen string `toml:"listen" json:"listen"`
	// ReorderPackets is the jitter buffer depth used to reorder packets.
	ReorderPackets int `toml:"reorder_packets" json:"reorder_packets"`
	// PayloadTypes maps RTP payload type numbers to caps.
	PayloadTypes map[string]string `toml:"payload_types" json:"payload_types"`
}

// DecoderConfig registers a decoder for caps matching SinkCaps.
type DecoderConfig struct {
	Name       string `toml:"name" json:"name"`
	SinkCaps   string `toml:"sink_caps" json:"sink_caps"`
	OutputCaps string `toml:"output_caps" json:"output_caps"`
}

// LoadPipeline reads, defaults and validates a pipeline file.
func LoadPipeline(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline %s: %w", path, err)
	}
	return ParsePipeline(data)
}

// ParsePipeline decodes, defaults and validates pipeline TOML.
func ParsePipeline(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *PipelineConfig) applyDefaults() {
	if c.RawCaps == "" {
		c.RawCaps = media.DefaultRawCaps
	}
	if c.Queue.MaxBuffers <= 0 {
		c.Queue.MaxBuffers = DefaultMaxBuffers
	}
	for i := range c.Inputs {
		if c.Inputs[i].ReorderPackets <= 0 {
			c.Inputs[i].ReorderPackets = DefaultReorderPackets
		}
	}
}

// Validate checks names, addresses and caps. All problems are reported together.
func (c *PipelineConfig) Validate() error {
	var errs []error

	if _, err := media.ParseCaps(c.RawCaps); err != nil {
		errs = append(errs, fmt.Errorf("raw_caps: %w", err))
	}
	if c.Queue.MaxPairs < 0 {
		errs = append(errs, errors.New("queue.max_pairs must not be negative"))
	}

	seen := make(map[string]bool)
	for i, in := range c.Inputs {
		if in.Name == "" {
			errs = append(errs, fmt.Errorf("inputs[%d]: name is required", i))
		} else if seen[in.Name] {
			errs = append(errs, fmt.Errorf("inputs[%d]: duplicate name %q", i, in.Name))
		}
		seen[in.Name] = true
		if in.Listen == "" {
			errs = append(errs, fmt.Errorf("input %q: listen address is required", in.Name))
		}
		if _, err := in.PayloadTypeMap(); err != nil {
			errs = append(errs, fmt.Errorf("input %q: %w", in.Name, err))
		}
	}

	seen = make(map[string]bool)
	for i, d := range c.Decoders {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("decoders[%d]: name is required", i))
		} else if seen[d.Name] {
			errs = append(errs, fmt.Errorf("decoders[%d]: duplicate name %q", i, d.Name))
		}
		seen[d.Name] = true
		if sink, err := media.ParseCaps(d.SinkCaps); err != nil || sink.IsEmpty() {
			errs = append(errs, fmt.Errorf("decoder %q: invalid sink_caps %q", d.Name, d.SinkCaps))
		}
		if out, err := media.ParseCaps(d.OutputCaps); err != nil || out.IsEmpty() {
			errs = append(errs, fmt.Errorf("decoder %q: invalid output_caps %q", d.Name, d.OutputCaps))
		}
	}
	return errors.Join(errs...)
}

// PayloadTypeMap converts the payload type table to numeric keys.
func (in InputConfig) PayloadTypeMap() (map[uint8]string, error) {
	out := make(map[uint8]string, len(in.PayloadTypes))
	for key, caps := range in.PayloadTypes {
		pt, err := strconv.ParseUint(key, 10, 8)
		if err != nil || pt > 127 {
			return nil, fmt.Errorf("invalid payload type %q", key)
		}
		if _, err := media.ParseCaps(caps); err != nil {
			return nil, fmt.Errorf("payload type %d: %w", pt, err)
		}
		out[uint8(pt)] = caps
	}
	return out, nil
}
