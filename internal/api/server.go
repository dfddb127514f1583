// Package api serves the HTTP control surface of the stream-selection engine.
package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/decodebin/internal/api/models"
	"github.com/smazurov/decodebin/internal/decodebin"
	"github.com/smazurov/decodebin/internal/decoders"
	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/logging"
	"github.com/smazurov/decodebin/internal/media"
	"github.com/smazurov/decodebin/internal/pipeline"
	"github.com/smazurov/decodebin/internal/version"
)

// Engine is the part of the selection engine the API drives.
type Engine interface {
	Collection() (*media.StreamCollection, error)
	Snapshot() (decodebin.Snapshot, error)
	SelectStreams(ids []string) (uint32, error)
	RawCaps() *media.Caps
}

// OutputLister reports per-pad delivery statistics.
type OutputLister interface {
	Outputs() []pipeline.OutputStats
}

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	engine     Engine
	outputs    OutputLister
	registry   *decoders.Registry
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
	httpLogger *slog.Logger
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		authHeader := ctx.Header("Authorization")
		var credentials string

		if authHeader != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(authHeader, prefix) {
				s.unauthorized(ctx, "Invalid authentication type", nil)
				return
			}
			decoded, err := base64.StdEncoding.DecodeString(authHeader[len(prefix):])
			if err != nil {
				s.unauthorized(ctx, "Invalid credentials format", err)
				return
			}
			credentials = string(decoded)
		} else if queryAuth := ctx.Query("auth"); queryAuth != "" {
			// EventSource cannot set headers, so SSE clients pass credentials in the query.
			decoded, err := base64.StdEncoding.DecodeString(queryAuth)
			if err != nil {
				s.unauthorized(ctx, "Invalid credentials format", err)
				return
			}
			credentials = string(decoded)
		}

		if credentials == "" {
			s.unauthorized(ctx, "Authentication required", nil)
			return
		}

		user, pass, ok := strings.Cut(credentials, ":")
		if !ok {
			s.unauthorized(ctx, "Invalid credentials format", nil)
			return
		}
		if user != username || pass != password {
			s.unauthorized(ctx, "Invalid credentials", nil)
			return
		}

		next(ctx)
	}
}

func (s *Server) unauthorized(ctx huma.Context, msg string, err error) {
	ctx.SetHeader("WWW-Authenticate", `Basic realm="decodebin API"`)
	if err != nil {
		_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, err)
		return
	}
	_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg)
}

// Options configures the API server.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	Engine            Engine
	Outputs           OutputLister
	Registry          *decoders.Registry
	EventBus          *events.Bus
	PrometheusHandler http.Handler // Optional Prometheus metrics handler
	// CORSOrigin is the allowed origin, "*" when empty.
	CORSOrigin string
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	cors := newCORSPolicy(opts.CORSOrigin)
	mux.HandleFunc("OPTIONS /", cors.preflight)

	config := huma.DefaultConfig("decodebin API", "1.0.0")
	config.Info.Description = "Stream selection and decoding for RTP inputs"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}

	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	eventBus := opts.EventBus
	if eventBus == nil {
		eventBus = events.New()
	}

	server := &Server{
		api:        api,
		mux:        mux,
		engine:     opts.Engine,
		outputs:    opts.Outputs,
		registry:   opts.Registry,
		eventBus:   eventBus,
		options:    opts,
		logger:     logging.GetLogger("api"),
		httpLogger: logging.GetLogger("http"),
	}

	api.UseMiddleware(cors.middleware)
	api.UseMiddleware(server.requestLogger)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// Registered on the mux directly, so it bypasses auth.
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves HTTP on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting decodebin API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every open connection, SSE streams included.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerSelectionRoutes()
	s.registerOptionsRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
	s.registerLogLevelRoutes()
	s.registerMetricsRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
