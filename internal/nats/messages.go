package nats

import (
	"encoding/json"
	"fmt"
)

// Subjects used by the bridge.
const (
	SubjectEventsPrefix  = "decodebin.events"
	SubjectControlSelect = "decodebin.control.select"
)

// SubjectEvent returns the subject an engine notification of the given kind is
// published on, e.g. "decodebin.events.streams-selected".
func SubjectEvent(kind string) string {
	return fmt.Sprintf("%s.%s", SubjectEventsPrefix, kind)
}

// SelectRequest asks the engine to activate exactly the listed streams.
type SelectRequest struct {
	Streams []string `json:"streams"`
}

// Marshal serializes the message to JSON.
func (m SelectRequest) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// SelectReply answers a SelectRequest. Error is set when the request was rejected.
type SelectReply struct {
	Seqnum uint32 `json:"seqnum,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Marshal serializes the message to JSON.
func (m SelectReply) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalSelectRequest deserializes a SelectRequest from JSON.
func UnmarshalSelectRequest(data []byte) (SelectRequest, error) {
	var m SelectRequest
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalSelectReply deserializes a SelectReply from JSON.
func UnmarshalSelectReply(data []byte) (SelectReply, error) {
	var m SelectReply
	err := json.Unmarshal(data, &m)
	return m, err
}
