package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/decodebin/internal/api/models"
)

// registerOptionsRoutes registers the decoder listing.
func (s *Server) registerOptionsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-decoders",
		Method:      http.MethodGet,
		Path:        "/api/decoders",
		Summary:     "Decoders",
		Description: "List registered decoders in priority order and the caps exposed without decoding",
		Tags:        []string{"configuration"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.DecoderListResponse, error) {
		data := models.DecoderListData{Decoders: []models.DecoderInfo{}}
		if s.registry != nil {
			for _, e := range s.registry.Entries() {
				data.Decoders = append(data.Decoders, models.DecoderInfo{
					Name:       e.Name,
					SinkCaps:   e.SinkCaps.String(),
					OutputCaps: e.OutputCaps.String(),
				})
			}
		}
		if s.engine != nil {
			data.RawCaps = s.engine.RawCaps().String()
		}
		return &models.DecoderListResponse{Body: data}, nil
	})
}
