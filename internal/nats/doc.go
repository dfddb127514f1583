// Package nats embeds a NATS server and bridges the stream-selection engine onto it.
//
// # Architecture
//
//   - Server: embedded NATS server running in the main process (decodebin serve)
//   - Bridge: republishes engine notifications and answers select requests
//   - ControlClient: used by "decodebin select" and other tools to drive a running service
//
// # Subject Hierarchy
//
//	decodebin.events.{kind}       # engine notifications (service → clients)
//	decodebin.control.select      # selection request/reply (clients → service)
//
// Event kinds are the SSE event names: stream-collection, streams-selected,
// output-added, output-removed, missing-element, missing-decoder, element-error
// and drained. Payloads are the same JSON documents served on /api/events.
//
// # Debugging with nats CLI
//
// Watch every notification:
//
//	nats sub "decodebin.events.>" -s nats://localhost:4222
//
// Select two streams by hand:
//
//	nats req decodebin.control.select '{"streams":["cam/00001111","cam/00002222"]}'
//
// The reply carries the selection sequence number, or an error and its code:
//
//	{"seqnum": 3}
//	{"error": "STOPPED: engine stopped", "code": "STOPPED"}
package nats
