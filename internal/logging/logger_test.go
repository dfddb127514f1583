package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func resetState() {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	logBuffer = nil
	logCallback = nil
	baseHandler = nil
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState()

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"decodebin": "debug",
			"api":       "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"decodebin", true, true, true},
		{"api", false, false, true},
		{"other", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()

			if got := handler.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("module %q: Debug enabled = %v, want %v", tt.module, got, tt.wantDebug)
			}
			if got := handler.Enabled(context.Background(), slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("module %q: Info enabled = %v, want %v", tt.module, got, tt.wantInfo)
			}
			if got := handler.Enabled(context.Background(), slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("module %q: Warn enabled = %v, want %v", tt.module, got, tt.wantWarn)
			}
		})
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetState()

	before := GetLogger("rtpparse")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Logger created before Initialize should NOT have debug enabled")
	}

	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"rtpparse": "debug"},
	})

	after := GetLogger("rtpparse")
	if before != after {
		t.Error("Logger should be cached - same pointer before and after Initialize")
	}
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Cached logger should have debug enabled after Initialize")
	}
}

func TestSetModuleLevel(t *testing.T) {
	resetState()
	Initialize(Config{Level: "info", Format: "text"})

	logger := GetLogger("ingest")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Expected debug disabled by default")
	}
	if err := SetModuleLevel("ingest", "debug"); err != nil {
		t.Fatalf("SetModuleLevel failed: %v", err)
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug enabled after SetModuleLevel")
	}
	if err := SetModuleLevel("ingest", "verbose"); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestBufferAndCallback(t *testing.T) {
	resetState()
	Initialize(Config{Level: "debug", Format: "text"})

	var mu sync.Mutex
	var seen []LogEntry
	SetLogCallback(func(e LogEntry) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})
	defer SetLogCallback(nil)

	logger := GetLogger("decodebin").With("slot", 3).WithGroup("stream")
	logger.Info("slot linked", "id", "in0/00000001")
	logger.Debug("probe installed")

	entries := GetBuffer().ReadAll()
	if len(entries) < 2 {
		t.Fatalf("Expected at least 2 buffered entries, got %d", len(entries))
	}
	first := entries[len(entries)-2]
	if first.Module != "decodebin" {
		t.Errorf("Expected module decodebin, got %s", first.Module)
	}
	if first.Attributes["stream.id"] != "in0/00000001" {
		t.Errorf("Expected grouped attribute, got %v", first.Attributes)
	}
	if first.Attributes["slot"] != int64(3) {
		t.Errorf("Expected slot attribute 3, got %v (%T)", first.Attributes["slot"], first.Attributes["slot"])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("Expected callback for 2 entries, got %d", len(seen))
	}
	if seen[1].Seq <= seen[0].Seq {
		t.Errorf("Expected increasing sequence numbers, got %d then %d", seen[0].Seq, seen[1].Seq)
	}
}

func TestRingBufferWrap(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		rb.Write(LogEntry{Message: msg})
	}

	entries := rb.ReadAll()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "c" || entries[2].Message != "e" {
		t.Errorf("Expected c..e, got %s..%s", entries[0].Message, entries[2].Message)
	}
	since := rb.ReadSince(entries[1].Seq)
	if len(since) != 1 || since[0].Message != "e" {
		t.Errorf("ReadSince returned %v", since)
	}
}

func TestMultiHandlerDebugOutput(t *testing.T) {
	var buf bytes.Buffer

	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(debugHandler, infoHandler)).With("module", "test")
	logger.Debug("debug only message")

	output := buf.String()
	if count := strings.Count(output, "debug only message"); count != 1 {
		t.Errorf("Expected 1 debug message, got %d. Output: %s", count, output)
	}
}

func TestFormatLogLine(t *testing.T) {
	line := FormatLogLine(LogEntry{
		Level:      "warn",
		Module:     "decodebin",
		Message:    "duplicate stream id",
		Attributes: map[string]any{"b": 2, "a": "x"},
	})
	if !strings.Contains(line, "[WARN] [decodebin] duplicate stream id a=x b=2") {
		t.Errorf("unexpected line %q", line)
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			if tt.isNil {
				if got != nil {
					t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
				}
				return
			}
			if got == nil {
				t.Errorf("parseLevel(%q) = nil, want %v", tt.input, tt.want)
			} else if *got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, *got, tt.want)
			}
		})
	}
}
