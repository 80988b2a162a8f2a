// Package proxy implements the Anthropic-compatible HTTP front end. It
// accepts Messages API requests, converts them to the provider-neutral form,
// forwards them to the configured OpenAI-compatible upstream, and translates
// the result back, as JSON or as an Anthropic-framed SSE stream.
//
// Security:
//   - Request body size limits (default 10 MB)
//   - Strict error bodies: upstream and OS error text never leaks to clients
//   - TLS expected via reverse proxy (not handled here)
package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/fenceio/fence/internal/config"
	"github.com/fenceio/fence/internal/llm"
	"github.com/fenceio/fence/internal/observability"
)

// Server is the HTTP proxy front end.
type Server struct {
	cfg      config.ServerConfig
	upstream config.UpstreamConfig
	provider llm.StreamingProvider
	logger   *slog.Logger
	obs      *observability.Observability

	okapi  *okapi.Okapi
	server *http.Server
}

// NewServer creates the proxy server. obs may be nil.
func NewServer(cfg config.ServerConfig, upstream config.UpstreamConfig, provider llm.StreamingProvider, logger *slog.Logger, obs *observability.Observability) *Server {
	return &Server{
		cfg:      cfg,
		upstream: upstream,
		provider: provider,
		logger:   logger,
		obs:      obs,
		okapi:    okapi.New(),
	}
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	metrics := s.obs.MetricsOrNil()
	var tracer trace.Tracer
	if ts := s.obs.TracerOrNil(); ts != nil {
		tracer = ts.Tracer()
	}

	// Body size cap, then metrics/tracing (applied globally).
	maxBytes := s.cfg.MaxRequestBytes
	s.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	})
	if metrics != nil || tracer != nil {
		s.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(metrics, tracer, next)
		})
	}

	s.okapi.Post("/v1/messages", s.handleMessages,
		okapi.DocSummary("Forward an Anthropic Messages request to the upstream model"),
		okapi.DocTags("Messages"),
		okapi.DocRequestBody(MessagesRequest{}),
		okapi.DocResponse(MessagesResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusBadGateway, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if metrics != nil {
		s.okapi.HandleStd("GET", "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	s.server = &http.Server{
		Addr:              s.cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // streaming responses hold the connection open
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("proxy starting",
		slog.String("addr", s.cfg.ListenAddr),
		slog.String("upstream", s.upstream.BaseURL),
		slog.String("model", s.upstream.Model),
	)
	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("proxy stopping")
	return s.okapi.Shutdown(s.server)
}

// handleMessages handles POST /v1/messages for both response modes.
func (s *Server) handleMessages(c *okapi.Context) error {
	var req MessagesRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorBody{Kind: "invalid_request", Message: "request body is not a valid Messages request"})
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorBody{Kind: "invalid_request", Message: "messages must not be empty"})
	}

	llmReq, err := toLLMRequest(&req, s.upstream.MaxOutputTokens)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorBody{Kind: "invalid_request", Message: err.Error()})
	}

	s.logger.Info("proxying messages request",
		slog.String("requested_model", req.Model),
		slog.Int("messages", len(req.Messages)),
		slog.Int("tools", len(req.Tools)),
		slog.Bool("stream", req.Stream),
	)

	if req.Stream {
		return s.streamResponse(c, llmReq)
	}
	return s.bufferedResponse(c, llmReq)
}

// bufferedResponse forwards the request and returns one Anthropic message.
func (s *Server) bufferedResponse(c *okapi.Context, req *llm.Request) error {
	start := time.Now()
	resp, err := s.provider.SendMessage(c.Context(), req)
	s.recordUpstream(err, resp, time.Since(start))

	if err != nil {
		s.logger.Error("upstream request failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusBadGateway, ErrorBody{Kind: "upstream_error", Message: "upstream request failed"})
	}

	content := resp.ContentBlocks
	if len(content) == 0 {
		content = []llm.ContentBlock{llm.TextBlock("")}
	}

	return c.OK(MessagesResponse{
		ID:         newMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      s.modelName(),
		Content:    content,
		StopReason: resp.StopReason,
		Usage: UsagePayload{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	})
}

// recordUpstream updates the LLM request metrics. resp may be nil.
func (s *Server) recordUpstream(err error, resp *llm.Response, elapsed time.Duration) {
	metrics := s.obs.MetricsOrNil()
	if metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	model := s.upstream.Model
	metrics.LLMRequestsTotal.WithLabelValues(model, status).Inc()
	metrics.LLMRequestDuration.WithLabelValues(model).Observe(elapsed.Seconds())
	if resp != nil {
		metrics.LLMTokensUsed.WithLabelValues(model, "input").Add(float64(resp.Usage.InputTokens))
		metrics.LLMTokensUsed.WithLabelValues(model, "output").Add(float64(resp.Usage.OutputTokens))
	}
}

// modelName is what response bodies echo as the serving model.
func (s *Server) modelName() string {
	return s.provider.Name() + "/" + s.upstream.Model
}

// newMessageID allocates an Anthropic-style message id.
func newMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// HealthResponse is the JSON response for the probe endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.obs == nil || s.obs.Health == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := s.obs.Health.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
