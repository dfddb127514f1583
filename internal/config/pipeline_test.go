package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/decodebin/internal/media"
)

const samplePipeline = `
raw_caps = "video/x-raw; audio/x-raw"

[queue]
max_buffers = 16
max_pairs = 4

[[inputs]]
name = "cam0"
listen = "127.0.0.1:5004"

[inputs.payload_types]
96 = "video/x-h264"
111 = "audio/x-opus"

[[decoders]]
name = "h264dec"
sink_caps = "video/x-h264"
output_caps = "video/x-raw, format=NV12"
`

func TestLoadPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.toml")
	if err := os.WriteFile(path, []byte(samplePipeline), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadPipeline(path)
	if err != nil {
		t.Fatalf("LoadPipeline failed: %v", err)
	}
	if cfg.Queue.MaxBuffers != 16 || cfg.Queue.MaxPairs != 4 {
		t.Errorf("unexpected queue config %+v", cfg.Queue)
	}
	if len(cfg.Inputs) != 1 || cfg.Inputs[0].ReorderPackets != DefaultReorderPackets {
		t.Fatalf("unexpected inputs %+v", cfg.Inputs)
	}
	pts, err := cfg.Inputs[0].PayloadTypeMap()
	if err != nil {
		t.Fatalf("PayloadTypeMap failed: %v", err)
	}
	if pts[96] != "video/x-h264" || pts[111] != "audio/x-opus" {
		t.Errorf("unexpected payload types %v", pts)
	}
	if len(cfg.Decoders) != 1 || cfg.Decoders[0].OutputCaps != "video/x-raw, format=NV12" {
		t.Errorf("unexpected decoders %+v", cfg.Decoders)
	}
}

func TestParsePipelineDefaults(t *testing.T) {
	cfg, err := ParsePipeline([]byte(""))
	if err != nil {
		t.Fatalf("ParsePipeline failed: %v", err)
	}
	if cfg.RawCaps != media.DefaultRawCaps {
		t.Errorf("Expected default raw caps, got %q", cfg.RawCaps)
	}
	if cfg.Queue.MaxBuffers != DefaultMaxBuffers {
		t.Errorf("Expected default max buffers, got %d", cfg.Queue.MaxBuffers)
	}
}

func TestParsePipelineValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad raw caps",
			content: `raw_caps = "raw"`,
			wantErr: "raw_caps",
		},
		{
			name: "duplicate input",
			content: `
[[inputs]]
name = "a"
listen = ":5004"
[[inputs]]
name = "a"
listen = ":5006"
`,
			wantErr: "duplicate name",
		},
		{
			name: "missing listen",
			content: `
[[inputs]]
name = "a"
`,
			wantErr: "listen address",
		},
		{
			name: "bad payload type",
			content: `
[[inputs]]
name = "a"
listen = ":5004"
[inputs.payload_types]
200 = "video/x-h264"
`,
			wantErr: "invalid payload type",
		},
		{
			name: "decoder without sink caps",
			content: `
[[decoders]]
name = "d"
output_caps = "video/x-raw"
`,
			wantErr: "sink_caps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePipeline([]byte(tt.content))
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadPipelineMissingFile(t *testing.T) {
	if _, err := LoadPipeline(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected error for missing pipeline file")
	}
}
