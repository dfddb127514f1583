package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// corsPolicy holds the CORS headers sent with every response. The API only reads
// state and replaces the selection, so GET and PUT are the only methods allowed.
type corsPolicy struct {
	origin  string
	methods string
	headers string
	maxAge  string
}

func newCORSPolicy(origin string) corsPolicy {
	if origin == "" {
		origin = "*"
	}
	return corsPolicy{
		origin:  origin,
		methods: strings.Join([]string{http.MethodGet, http.MethodPut, http.MethodOptions}, ", "),
		// Last-Event-ID lets EventSource clients resume the event streams.
		headers: strings.Join([]string{"Content-Type", "Authorization", "Accept", "Last-Event-ID"}, ", "),
		maxAge:  strconv.Itoa(int((10 * time.Minute).Seconds())),
	}
}

func (c corsPolicy) apply(set func(key, value string)) {
	set("Access-Control-Allow-Origin", c.origin)
	set("Access-Control-Allow-Methods", c.methods)
	set("Access-Control-Allow-Headers", c.headers)
	set("Access-Control-Max-Age", c.maxAge)
}

func (c corsPolicy) middleware(ctx huma.Context, next func(huma.Context)) {
	c.apply(ctx.SetHeader)
	if ctx.Method() == http.MethodOptions {
		ctx.SetStatus(http.StatusNoContent)
		return
	}
	next(ctx)
}

// preflight answers OPTIONS on the mux; Huma routes never see it.
func (c corsPolicy) preflight(w http.ResponseWriter, _ *http.Request) {
	c.apply(w.Header().Set)
	w.WriteHeader(http.StatusNoContent)
}

type selectionRecordKey struct{}

// selectionRecord carries what a select-streams handler did back to the request log.
type selectionRecord struct {
	streams []string
	seqnum  uint32
}

func recordSelection(ctx context.Context, streams []string, seqnum uint32) {
	if rec, ok := ctx.Value(selectionRecordKey{}).(*selectionRecord); ok {
		rec.streams = streams
		rec.seqnum = seqnum
	}
}

// quietOperations are polled or long-lived; they log at debug unless they fail.
var quietOperations = map[string]bool{
	"health-check":   true,
	"events-stream":  true,
	"logs-stream":    true,
	"metrics-stream": true,
}

// requestLogger logs each request with its operation. Selections also log the
// requested streams and the seqnum the engine assigned.
func (s *Server) requestLogger(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	operation := ""
	if op := ctx.Operation(); op != nil {
		operation = op.OperationID
	}

	rec := &selectionRecord{}
	if operation == "select-streams" {
		ctx = huma.WithValue(ctx, selectionRecordKey{}, rec)
	}

	next(ctx)

	status := ctx.Status()
	attrs := []slog.Attr{
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.URL().Path),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if operation != "" {
		attrs = append(attrs, slog.String("operation", operation))
	}
	if rec.seqnum != 0 {
		attrs = append(attrs, slog.Any("streams", rec.streams), slog.Any("seqnum", rec.seqnum))
	}

	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	case ctx.Method() == http.MethodOptions || quietOperations[operation]:
		level = slog.LevelDebug
	}
	s.httpLogger.LogAttrs(ctx.Context(), level, "HTTP request completed", attrs...)
}
