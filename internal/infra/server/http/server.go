// Package httpserver exposes the adapter job endpoint and adapter discovery over HTTP.
package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/coachpo/pricebridge/errs"
	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/app/gateway"
	"github.com/coachpo/pricebridge/internal/domain/schema"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	jobPath             = "/"
	healthPath          = "/health"
	adaptersPath        = "/adapters"
	adapterDetailPrefix = adaptersPath + "/"

	statusErrored = "errored"
)

// Gateway is the runtime the handler serves.
type Gateway interface {
	Execute(ctx context.Context, req schema.AdapterRequest) (schema.Response, error)
	Adapters() []gateway.AdapterInfo
	Adapter(name string) (gateway.AdapterInfo, bool)
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	gateway  Gateway
	registry *adapter.Registry
	logger   zerolog.Logger
	started  time.Time
}

// NewHandler creates the HTTP handler for job execution and adapter discovery.
func NewHandler(gw Gateway, registry *adapter.Registry, logger zerolog.Logger) http.Handler {
	server := &httpServer{gateway: gw, registry: registry, logger: logger, started: time.Now()}
	mux := http.NewServeMux()

	mux.Handle(jobPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.execute,
	}))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	mux.Handle(adaptersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listAdapters,
	}))
	mux.Handle(adapterDetailPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.getAdapter,
		http.MethodPost: server.executeAdapter,
	}))

	return withRequestLog(logger, withCORS(mux))
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) execute(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != jobPath {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.runJob(w, r, "")
}

func (s *httpServer) executeAdapter(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, adapterDetailPrefix), "/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "adapter name required")
		return
	}
	s.runJob(w, r, name)
}

func (s *httpServer) runJob(w http.ResponseWriter, r *http.Request, adapterName string) {
	limitRequestBody(w, r)
	req, err := decodeJobRequest(r)
	if err != nil {
		if isRequestTooLarge(err) {
			writeJobError(w, "", errs.Invalid("", "request body too large"), http.StatusRequestEntityTooLarge)
			return
		}
		writeJobError(w, "", errs.Invalid("", "invalid request body", errs.WithCause(err)), 0)
		return
	}
	if adapterName != "" {
		req.Data["adapter"] = adapterName
	}

	resp, err := s.gateway.Execute(r.Context(), req)
	if err != nil {
		s.logger.Debug().Err(err).Str("job_run_id", resp.JobRunID).Msg("job failed")
		writeJobError(w, resp.JobRunID, err, 0)
		return
	}
	writeJSON(w, resp.StatusCode, resp)
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *httpServer) listAdapters(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"adapters": s.gateway.Adapters()}
	if s.registry != nil {
		payload["available"] = s.registry.List()
	} else {
		payload["available"] = []adapter.Metadata{}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *httpServer) getAdapter(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, adapterDetailPrefix), "/")
	if name == "" {
		writeError(w, http.StatusNotFound, "adapter name required")
		return
	}
	if info, ok := s.gateway.Adapter(name); ok {
		writeJSON(w, http.StatusOK, info)
		return
	}
	if s.registry != nil {
		if meta, ok := s.registry.Metadata(name); ok {
			writeJSON(w, http.StatusOK, gateway.AdapterInfo{Name: meta.Identifier, Metadata: meta})
			return
		}
	}
	writeError(w, http.StatusNotFound, "adapter not found")
}

func decodeJobRequest(r *http.Request) (schema.AdapterRequest, error) {
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return schema.AdapterRequest{}, err
	}
	return schema.DecodeRequest(body)
}

// writeJobError renders err in the job error envelope. A non-zero status overrides the mapped one.
func writeJobError(w http.ResponseWriter, jobRunID string, err error, status int) {
	if status == 0 {
		status = errs.HTTPStatus(err)
	}
	payload := schema.ErrorPayload{Name: "internal_error", Message: err.Error(), StatusCode: status}
	var e *errs.E
	if errors.As(err, &e) {
		payload.Name = string(e.Code)
		payload.Message = e.Public()
	}
	writeJSON(w, status, schema.Response{
		JobRunID:   jobRunID,
		Status:     statusErrored,
		StatusCode: status,
		Error:      &payload,
	})
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withRequestLog(logger zerolog.Logger, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(rec, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
