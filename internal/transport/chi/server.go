package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragtools/internal/logger"
	"github.com/kailas-cloud/ragtools/internal/metrics"
	"github.com/kailas-cloud/ragtools/internal/usecase/agent"
	"github.com/kailas-cloud/ragtools/internal/usecase/health"
	"github.com/kailas-cloud/ragtools/internal/usecase/tool"
)

const maxBodyBytes = 1 << 20

// Error codes returned in ErrorResponse.
const (
	CodeBadRequest      = "bad_request"
	CodeUnauthorized    = "unauthorized"
	CodeToolNotFound    = "tool_not_found"
	CodeNotConfigured   = "not_configured"
	CodeUpstreamFailure = "upstream_error"
	CodeInternalError   = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status health.Status                 `json:"status"`
	Checks map[string]health.CheckResult `json:"checks"`
}

// ToolsResponse is the GET /tools body.
type ToolsResponse struct {
	Tools []tool.Descriptor `json:"tools"`
}

// QueryRequest is the body of POST /tools/{name} and POST /summarize.
type QueryRequest struct {
	Query string `json:"query"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// Options wires optional collaborators. Nil Chat or Summarizer disables the endpoint.
type Options struct {
	Tools      Tools
	Chat       Chatter
	Summarizer Summarizer
	Health     HealthChecker
	// MCP serves the streamable HTTP MCP transport at /mcp when set.
	MCP     http.Handler
	APIKeys []string
	Logger  *zap.Logger
}

// Server is the REST API over the tool registry.
type Server struct {
	tools      Tools
	chat       Chatter
	summarizer Summarizer
	health     HealthChecker
	mcp        http.Handler
	apiKeys    []string
	logger     *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(opts Options) *Server {
	l := opts.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{
		tools:      opts.Tools,
		chat:       opts.Chat,
		summarizer: opts.Summarizer,
		health:     opts.Health,
		mcp:        opts.MCP,
		apiKeys:    opts.APIKeys,
		logger:     l,
	}
}

// Router builds the chi router with the middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(APIKeyAuth(s.apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Get("/tools", s.ListTools)
	r.Post("/tools/{name}", s.InvokeTool)
	r.Post("/chat", s.Chat)
	r.Post("/summarize", s.Summarize)
	if s.mcp != nil {
		r.Handle("/mcp", s.mcp)
	}
	return r
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == health.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{Status: report.Status, Checks: report.Checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// ListTools handles GET /tools.
func (s *Server) ListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ToolsResponse{Tools: s.tools.List()})
}

// InvokeTool handles POST /tools/{name}. Tool failures are reported in the result body with
// status 200; only unknown tools and malformed requests are HTTP errors.
func (s *Server) InvokeTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.tools.Get(name); !ok {
		writeError(w, http.StatusNotFound, CodeToolNotFound, "unknown tool: "+name)
		return
	}

	var req QueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, s.tools.Invoke(r.Context(), name, req.Query))
}

// Chat handles POST /chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, CodeNotConfigured, "chat is not configured")
		return
	}

	var req ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reply, err := s.chat.Chat(r.Context(), req.Message)
	if err != nil {
		if errors.Is(err, agent.ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
			return
		}
		logger.FromContextOr(r.Context(), s.logger).Warn("Chat failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, CodeUpstreamFailure, "chat failed")
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

// Summarize handles POST /summarize.
func (s *Server) Summarize(w http.ResponseWriter, r *http.Request) {
	if s.summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, CodeNotConfigured, "summarize is not configured")
		return
	}

	var req QueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "query is required")
		return
	}

	sum, err := s.summarizer.Summarize(r.Context(), req.Query)
	if err != nil {
		logger.FromContextOr(r.Context(), s.logger).Warn("Summarize failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, CodeUpstreamFailure, "summarize failed")
		return
	}

	writeJSON(w, http.StatusOK, sum)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
