// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package gateway serves the client-facing HTTP API and drives the
// translate-forward-stream pipeline against the configured providers.
package gateway

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/archgw/archgw/internal/agents"
	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/metrics"
	"github.com/archgw/archgw/internal/providers"
	"github.com/archgw/archgw/internal/routing"
	"github.com/archgw/archgw/internal/state"
	"github.com/archgw/archgw/internal/translator"
)

// preferenceMetadataKey carries per-request route preferences in the request
// metadata map; it is stripped before the request is forwarded upstream.
const preferenceMetadataKey = "archgw_preference_config"

// Server holds the shared, request-independent gateway pieces.
type Server struct {
	registry         *providers.Registry
	upstream         *Upstream
	runner           *agents.Runner
	store            state.Store
	metrics          *metrics.Metrics
	tracer           trace.Tracer
	logger           *slog.Logger
	defaultMaxTokens int64
}

// Options configures a Server.
type Options struct {
	Registry         *providers.Registry
	Upstream         *Upstream
	Runner           *agents.Runner
	Store            state.Store
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
	DefaultMaxTokens int64
}

// NewServer wires the handler set.
func NewServer(opts Options) *Server {
	if opts.Store == nil {
		opts.Store = state.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		// Noop instruments never fail to build.
		opts.Metrics, _ = metrics.New(noop.NewMeterProvider())
	}
	return &Server{
		registry:         opts.Registry,
		upstream:         opts.Upstream,
		runner:           opts.Runner,
		store:            opts.Store,
		metrics:          opts.Metrics,
		tracer:           otel.Tracer("archgw/gateway"),
		logger:           opts.Logger,
		defaultMaxTokens: opts.DefaultMaxTokens,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /v1/messages", s.handleMessages)
	mux.HandleFunc("POST /v1/responses", s.handleResponses)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("OPTIONS /v1/models", s.handleModelsPreflight)
	mux.HandleFunc("GET /agents/v1/models", s.handleModels)
	mux.HandleFunc("POST /agents/v1/chat/completions", s.handleAgentChatCompletions)
	mux.HandleFunc("POST /agents/v1/messages", s.handleAgentMessages)
	mux.HandleFunc("POST /agents/v1/responses", s.handleAgentResponses)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.middleware(mux)
}

// middleware assigns the request id, extracts trace context, and opens the
// request span.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("x-request-id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("x-request-id", requestID)

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(s.registry.Models())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	_, _ = w.Write(body)
}

func (s *Server) handleModelsPreflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-request-id")
	w.WriteHeader(http.StatusNoContent)
}

// resolveModel applies the provider-hint override and registry resolution.
// The bool result reports success; failures have already been written.
func (s *Server) resolveModel(w http.ResponseWriter, r *http.Request, model string) (*providers.Descriptor, bool) {
	if hint := r.Header.Get("x-arch-provider-hint"); hint != "" {
		model = hint
	}
	if model == "" {
		if d := s.registry.Default(); d != nil {
			return d, true
		}
		writeError(w, http.StatusBadRequest, codeNoModelSpecified, "no model specified and no default provider configured", nil)
		return nil, false
	}
	d := s.registry.Get(model)
	if d == nil {
		writeError(w, http.StatusNotFound, codeModelNotFound, "model "+model+" is not served by this gateway", nil)
		return nil, false
	}
	return d, true
}

// routePreferences extracts and strips the per-request route preference list
// from the chat metadata map.
func routePreferences(req *openai.ChatCompletionRequest) []routing.Preference {
	raw, ok := req.Metadata[preferenceMetadataKey]
	if !ok {
		return nil
	}
	req.RemoveMetadataKey(preferenceMetadataKey)
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var prefs []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(encoded, &prefs); err != nil {
		return nil
	}
	out := make([]routing.Preference, 0, len(prefs))
	for _, p := range prefs {
		out = append(out, routing.Preference{Name: p.Name, Model: p.Model})
	}
	return out
}

// forwardUpstreamError copies an upstream 4xx/5xx verbatim, bypassing any
// stream transformation.
func (s *Server) forwardUpstreamError(w http.ResponseWriter, resp *http.Response) {
	body, err := s.upstream.readBody(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// writeTranslatorError distinguishes unsupported-feature transforms (client
// fault) from internal failures.
func writeTranslatorError(w http.ResponseWriter, err error) {
	var te *translator.TransformError
	if errors.As(err, &te) {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, te.Error(), nil)
		return
	}
	writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
}
