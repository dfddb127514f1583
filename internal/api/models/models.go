// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/smazurov/decodebin/internal/decodebin"
	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/pipeline"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123f" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.25.0" doc:"Go version used to build"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Collection models
type CollectionData struct {
	Streams []events.StreamInfo `json:"streams" doc:"Streams of all inputs in registration order"`
	Count   int                 `json:"count" example:"2" doc:"Number of streams"`
}

type CollectionResponse struct {
	Body CollectionData
}

// Selection models
type SelectionResponse struct {
	Body decodebin.Snapshot
}

type SelectRequestData struct {
	Streams []string `json:"streams" example:"[\"cam/00001111\"]" doc:"Stream ids to expose; every other stream is torn down"`
}

type SelectRequest struct {
	Body SelectRequestData
}

type SelectAcceptedData struct {
	Seqnum uint32 `json:"seqnum" example:"3" doc:"Sequence number the streams-selected event will carry"`
}

type SelectAcceptedResponse struct {
	Body SelectAcceptedData
}

// Output models
type OutputListData struct {
	Outputs []pipeline.OutputStats `json:"outputs" doc:"Per-pad delivery statistics"`
	Count   int                    `json:"count" example:"2" doc:"Number of linked outputs"`
}

type OutputListResponse struct {
	Body OutputListData
}

// Decoder models
type DecoderInfo struct {
	Name       string `json:"name" example:"h264dec" doc:"Decoder name"`
	SinkCaps   string `json:"sink_caps" example:"video/x-h264" doc:"Caps the decoder accepts"`
	OutputCaps string `json:"output_caps" example:"video/x-raw" doc:"Caps the decoder produces"`
}

type DecoderListData struct {
	Decoders []DecoderInfo `json:"decoders" doc:"Registered decoders in priority order"`
	RawCaps  string        `json:"raw_caps" example:"video/x-raw; audio/x-raw" doc:"Caps exposed without decoding"`
}

type DecoderListResponse struct {
	Body DecoderListData
}

// Logging models
type LogLevelRequest struct {
	Module string `path:"module" example:"decodebin" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}

type LogLevelData struct {
	Module string `json:"module" example:"decodebin" doc:"Logger module"`
	Level  string `json:"level" example:"debug" doc:"Level in effect"`
}

type LogLevelResponse struct {
	Body LogLevelData
}
