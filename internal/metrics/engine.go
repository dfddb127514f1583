// Package metrics provides Prometheus metrics for the stream-selection engine and RTP ingest.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	engineSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "decodebin",
		Subsystem: "engine",
		Name:      "slots",
		Help:      "Multi-queue slots currently allocated",
	}, []string{"engine"})

	engineOutputs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "decodebin",
		Subsystem: "engine",
		Name:      "outputs",
		Help:      "Output streams currently allocated",
	}, []string{"engine"})

	engineActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "decodebin",
		Subsystem: "engine",
		Name:      "active_streams",
		Help:      "Streams in the active selection",
	}, []string{"engine"})

	engineRequested = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "decodebin",
		Subsystem: "engine",
		Name:      "requested_streams",
		Help:      "Streams in the requested selection",
	}, []string{"engine"})

	decodersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "decoder",
		Name:      "created_total",
		Help:      "Decoder instances created",
	}, []string{"decoder"})

	decodersDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "decoder",
		Name:      "destroyed_total",
		Help:      "Decoder instances stopped and released",
	}, []string{"decoder"})

	decodersReused = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "decoder",
		Name:      "reused_total",
		Help:      "Decoder instances kept across a stream switch",
	}, []string{"engine"})

	missingDecoders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "decoder",
		Name:      "missing_total",
		Help:      "Streams for which no decoder could be created",
	}, []string{"engine"})

	streamsSelected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "selection",
		Name:      "converged_total",
		Help:      "Times the active selection converged to the requested one",
	}, []string{"engine"})

	staleSelects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "selection",
		Name:      "stale_total",
		Help:      "SELECT_STREAMS requests dropped as stale or duplicate",
	}, []string{"engine"})

	keyframeDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "output",
		Name:      "keyframe_gate_drops_total",
		Help:      "Buffers dropped while waiting for a keyframe",
	}, []string{"engine"})

	outputBuffers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decodebin",
		Subsystem: "output",
		Name:      "buffers_total",
		Help:      "Buffers delivered on an exposed pad",
	}, []string{"pad"})

	// Local cache for SSE exporter access.
	engineCache   = make(map[string]*EngineStats)
	engineCacheMu sync.RWMutex
)

// EngineStats holds the current resource counts of one engine.
type EngineStats struct {
	Slots     int
	Outputs   int
	Active    int
	Requested int
}

// SetEngineStats records the resource counts of an engine.
func SetEngineStats(engine string, s EngineStats) {
	engineSlots.WithLabelValues(engine).Set(float64(s.Slots))
	engineOutputs.WithLabelValues(engine).Set(float64(s.Outputs))
	engineActive.WithLabelValues(engine).Set(float64(s.Active))
	engineRequested.WithLabelValues(engine).Set(float64(s.Requested))

	engineCacheMu.Lock()
	dup := s
	engineCache[engine] = &dup
	engineCacheMu.Unlock()
}

// DeleteEngineMetrics removes all gauges of an engine.
func DeleteEngineMetrics(engine string) {
	engineSlots.DeleteLabelValues(engine)
	engineOutputs.DeleteLabelValues(engine)
	engineActive.DeleteLabelValues(engine)
	engineRequested.DeleteLabelValues(engine)

	engineCacheMu.Lock()
	delete(engineCache, engine)
	engineCacheMu.Unlock()
}

// GetEngineStats returns the last recorded counts of an engine.
func GetEngineStats(engine string) *EngineStats {
	engineCacheMu.RLock()
	defer engineCacheMu.RUnlock()
	if s, ok := engineCache[engine]; ok {
		dup := *s
		return &dup
	}
	return nil
}

// GetAllEngineStats returns the counts of every engine.
func GetAllEngineStats() map[string]*EngineStats {
	engineCacheMu.RLock()
	defer engineCacheMu.RUnlock()
	result := make(map[string]*EngineStats, len(engineCache))
	for name, s := range engineCache {
		dup := *s
		result[name] = &dup
	}
	return result
}

// IncDecoderCreated counts a decoder instantiation.
func IncDecoderCreated(decoder string) {
	decodersCreated.WithLabelValues(decoder).Inc()
}

// IncDecoderDestroyed counts a decoder teardown.
func IncDecoderDestroyed(decoder string) {
	decodersDestroyed.WithLabelValues(decoder).Inc()
}

// IncDecoderReused counts a decoder kept across a stream switch.
func IncDecoderReused(engine string) {
	decodersReused.WithLabelValues(engine).Inc()
}

// IncMissingDecoder counts a stream that could not get a decoder.
func IncMissingDecoder(engine string) {
	missingDecoders.WithLabelValues(engine).Inc()
}

// IncStreamsSelected counts a selection convergence.
func IncStreamsSelected(engine string) {
	streamsSelected.WithLabelValues(engine).Inc()
}

// IncStaleSelect counts a dropped SELECT_STREAMS request.
func IncStaleSelect(engine string) {
	staleSelects.WithLabelValues(engine).Inc()
}

// IncKeyframeDrop counts a buffer dropped by a keyframe gate.
func IncKeyframeDrop(engine string) {
	keyframeDrops.WithLabelValues(engine).Inc()
}

// IncOutputBuffer counts a buffer delivered on an exposed pad.
func IncOutputBuffer(pad string) {
	outputBuffers.WithLabelValues(pad).Inc()
}
