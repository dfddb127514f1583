package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const basePipeline = `
raw_caps = "video/x-raw"

[[decoders]]
name = "h264dec"
sink_caps = "video/x-h264"
output_caps = "video/x-raw"
`

func writePipeline(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, path string, opts ...WatcherOption[*PipelineConfig]) *Watcher[*PipelineConfig] {
	t.Helper()
	opts = append([]WatcherOption[*PipelineConfig]{WithDebounce[*PipelineConfig](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, LoadPipeline, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	})
	// Wait for watcher to initialize
	time.Sleep(50 * time.Millisecond)
	return w
}

func TestConfigWatcher_ReloadsRawCaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.toml")
	writePipeline(t, path, basePipeline)

	w := startWatcher(t, path)
	received := make(chan *PipelineConfig, 1)
	w.OnReload(func(cfg *PipelineConfig) { received <- cfg })

	writePipeline(t, path, `raw_caps = "video/x-raw; video/x-h264"`)

	select {
	case cfg := <-received:
		if cfg.RawCaps != "video/x-raw; video/x-h264" {
			t.Errorf("got raw caps %q", cfg.RawCaps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.toml")
	writePipeline(t, path, basePipeline)

	w := startWatcher(t, path)
	received := make(chan *PipelineConfig, 1)
	w.OnReload(func(cfg *PipelineConfig) { received <- cfg })

	tmp := filepath.Join(dir, "pipeline.toml.tmp")
	writePipeline(t, tmp, `raw_caps = "audio/x-raw"`)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.RawCaps != "audio/x-raw" {
			t.Errorf("got raw caps %q", cfg.RawCaps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestConfigWatcher_Unsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.toml")
	writePipeline(t, path, basePipeline)

	w := startWatcher(t, path)
	var removed, kept atomic.Int32
	unsub := w.OnReload(func(*PipelineConfig) { removed.Add(1) })
	done := make(chan struct{}, 1)
	w.OnReload(func(*PipelineConfig) {
		kept.Add(1)
		done <- struct{}{}
	})
	unsub()

	writePipeline(t, path, `raw_caps = "text/x-raw"`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	if removed.Load() != 0 {
		t.Errorf("unsubscribed handler called %d times", removed.Load())
	}
	if kept.Load() != 1 {
		t.Errorf("kept handler called %d times, want 1", kept.Load())
	}
}

func TestConfigWatcher_ErrorHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.toml")
	writePipeline(t, path, basePipeline)

	errs := make(chan error, 1)
	w := startWatcher(t, path, WithErrorHandler[*PipelineConfig](func(err error) { errs <- err }))

	var reloads atomic.Int32
	w.OnReload(func(*PipelineConfig) { reloads.Add(1) })

	writePipeline(t, path, `raw_caps = "h264"`)

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected non-nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
	if reloads.Load() != 0 {
		t.Error("handlers must not run for an invalid file")
	}
}

func TestConfigWatcher_Debounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.toml")
	writePipeline(t, path, basePipeline)

	w := startWatcher(t, path, WithDebounce[*PipelineConfig](200*time.Millisecond))
	var count atomic.Int32
	w.OnReload(func(*PipelineConfig) { count.Add(1) })

	for range 5 {
		writePipeline(t, path, basePipeline)
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(600 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced reload, got %d", got)
	}
}

func TestConfigWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.toml")
	writePipeline(t, path, basePipeline)

	w := startWatcher(t, path)
	var count atomic.Int32
	w.OnReload(func(*PipelineConfig) { count.Add(1) })

	writePipeline(t, filepath.Join(dir, "other.toml"), "x = 1")
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected no reload for sibling file, got %d", got)
	}
}

func TestConfigWatcher_StopBeforeStart(t *testing.T) {
	w := NewConfigWatcher("/nonexistent/pipeline.toml", LoadPipeline, newTestLogger())
	if err := w.Stop(); err != nil {
		t.Errorf("Stop before Start returned %v", err)
	}
}
