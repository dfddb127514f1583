package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/decodebin/internal/api/models"
	"github.com/smazurov/decodebin/internal/decodebin"
	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/pipeline"
)

// engineError maps an engine error onto an HTTP error.
func engineError(err error) error {
	var de *decodebin.Error
	if !errors.As(err, &de) {
		return huma.Error500InternalServerError("engine request failed", err)
	}
	switch de.Code {
	case decodebin.ErrCodeStopped:
		return huma.Error503ServiceUnavailable(de.Message)
	case decodebin.ErrCodeInvalidCaps:
		return huma.Error422UnprocessableEntity(de.Message, err)
	default:
		return huma.Error500InternalServerError(de.Message, err)
	}
}

func collectionData(c *media.StreamCollection) models.CollectionData {
	data := models.CollectionData{Streams: []events.StreamInfo{}}
	if c == nil {
		return data
	}
	for _, s := range c.Streams() {
		info := events.StreamInfo{ID: s.ID, Type: s.Type.String()}
		if s.Caps != nil {
			info.Caps = s.Caps.String()
		}
		data.Streams = append(data.Streams, info)
	}
	data.Count = len(data.Streams)
	return data
}

func (s *Server) registerSelectionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-collection",
		Method:      http.MethodGet,
		Path:        "/api/collection",
		Summary:     "Stream Collection",
		Description: "Get the merged stream collection of all inputs",
		Tags:        []string{"selection"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.CollectionResponse, error) {
		c, err := s.engine.Collection()
		if err != nil {
			return nil, engineError(err)
		}
		return &models.CollectionResponse{Body: collectionData(c)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-selection",
		Method:      http.MethodGet,
		Path:        "/api/selection",
		Summary:     "Selection State",
		Description: "Get the requested and active selections together with slots, outputs and inputs",
		Tags:        []string{"selection"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.SelectionResponse, error) {
		snap, err := s.engine.Snapshot()
		if err != nil {
			return nil, engineError(err)
		}
		return &models.SelectionResponse{Body: snap}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "select-streams",
		Method:        http.MethodPut,
		Path:          "/api/selection",
		Summary:       "Select Streams",
		Description:   "Request that exactly the given streams be exposed. The switch completes asynchronously; a streams-selected event with the returned seqnum follows.",
		Tags:          []string{"selection"},
		Security:      withAuth(),
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{400, 401, 422, 503},
	}, func(ctx context.Context, input *models.SelectRequest) (*models.SelectAcceptedResponse, error) {
		seqnum, err := s.engine.SelectStreams(input.Body.Streams)
		if err != nil {
			return nil, engineError(err)
		}
		recordSelection(ctx, input.Body.Streams, seqnum)
		return &models.SelectAcceptedResponse{Body: models.SelectAcceptedData{Seqnum: seqnum}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-outputs",
		Method:      http.MethodGet,
		Path:        "/api/outputs",
		Summary:     "Outputs",
		Description: "Get delivery statistics of every linked output pad",
		Tags:        []string{"selection"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.OutputListResponse, error) {
		data := models.OutputListData{}
		if s.outputs != nil {
			data.Outputs = s.outputs.Outputs()
		}
		if data.Outputs == nil {
			data.Outputs = []pipeline.OutputStats{}
		}
		data.Count = len(data.Outputs)
		return &models.OutputListResponse{Body: data}, nil
	})
}
