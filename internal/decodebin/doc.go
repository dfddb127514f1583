// Package decodebin implements stream selection over a shared multi-queue.
//
// Each input is split into elementary streams by a ParseBin. Every elementary stream is
// queued in a slot (one multi-queue pair). Slots whose stream is selected get an output:
// an exposed ghost pad fed either directly by the slot, for raw caps, or through a
// decoder. When the selection changes, outputs move between slots of the same type so
// decoders are reused instead of recreated.
//
// Selection state is owned by a single goroutine. Graph changes on a slot happen only on
// behalf of that slot's own streaming goroutine while its source pad is idle: control
// messages for a slot are queued in its inbox and drained from an idle probe.
//
// Notifications are published on the events bus:
//
//	events.StreamCollectionEvent  merged collection changed
//	events.StreamsSelectedEvent   active selection converged
//	events.OutputAddedEvent       output pad exposed
//	events.OutputRemovedEvent     output pad removed
//	events.MissingElementEvent    no parser for an input
//	events.MissingDecoderEvent    no decoder for a stream
//	events.ElementErrorEvent      engine error, possibly fatal
//	events.DrainedEvent           all inputs reached EOS
package decodebin
