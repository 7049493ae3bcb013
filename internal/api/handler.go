// Package api implements spec.md §4.G's HTTP surface: direct and
// tag-routed invocation, the OpenAI-compatible shim, session management,
// and health/metrics. Every handler follows the same parse -> authenticate
// -> resolve -> authorize -> invoke -> record -> respond flow (§4.G),
// short-circuiting at the first failure with the status from §7's table.
// Grounded on the teacher's internal/api/handler.go ServeMux-based Handler.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/cost"
	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/recorder"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/telemetry"
)

type HandlerConfig struct {
	Router        *router.Router
	Authenticator *auth.Authenticator
	Authorizer    *auth.Authorizer
	Sessions      *auth.SessionStore
	Recorder      *recorder.Recorder
	Cost          *cost.Calculator
	HealthCheckers []HealthChecker
	HealthTimeout  time.Duration
}

type Handler struct {
	router   *router.Router
	authn    *auth.Authenticator
	authz    *auth.Authorizer
	sessions *auth.SessionStore
	rec      *recorder.Recorder
	cost     *cost.Calculator

	healthCheckers []HealthChecker
	healthTimeout  time.Duration

	mux *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	timeout := cfg.HealthTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	h := &Handler{
		router:         cfg.Router,
		authn:          cfg.Authenticator,
		authz:          cfg.Authorizer,
		sessions:       cfg.Sessions,
		rec:            cfg.Recorder,
		cost:           cfg.Cost,
		healthCheckers: cfg.HealthCheckers,
		healthTimeout:  timeout,
		mux:            http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /models/{provider}/{model}/invoke", h.handleDirectInvoke)
	h.mux.HandleFunc("POST /route/invoke", h.handleRouteInvoke)
	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("POST /auth/login", h.handleLogin)
	h.mux.HandleFunc("POST /auth/logout", h.handleLogout)
	h.mux.HandleFunc("POST /auth/bind-model", h.handleBindModel)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.HealthCheckers, timeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleDirectInvoke(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "api.direct_invoke")
	defer span.End()

	providerName := r.PathValue("provider")
	modelName := r.PathValue("model")

	principal, err := h.authn.Authenticate(ctx, r)
	if err != nil {
		writeError(w, err)
		return
	}

	var dto invokeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, domain.ErrBadRequest)
		return
	}
	req, err := dto.toNormalized()
	if err != nil {
		writeError(w, err)
		return
	}

	model, err := h.router.Direct(ctx, providerName, modelName)
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.AddRequestAttributes(span, principal.CredentialID, model.ProviderName, model.Name, uuid.New().String())

	h.invokeAndRespond(ctx, w, principal, model, req)
}

func (h *Handler) handleRouteInvoke(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "api.route_invoke")
	defer span.End()

	principal, err := h.authn.Authenticate(ctx, r)
	if err != nil {
		writeError(w, err)
		return
	}

	var dto routeInvokeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, domain.ErrBadRequest)
		return
	}
	req, err := dto.Request.toNormalized()
	if err != nil {
		writeError(w, err)
		return
	}

	model, err := h.router.SelectByTags(ctx, dto.Query.toDomain(), principal)
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.AddRequestAttributes(span, principal.CredentialID, model.ProviderName, model.Name, uuid.New().String())

	h.invokeAndRespond(ctx, w, principal, model, req)
}

// invokeAndRespond runs the shared authorize -> invoke -> record -> respond
// tail once a target model has been resolved, either directly or via tag
// routing.
func (h *Handler) invokeAndRespond(ctx context.Context, w http.ResponseWriter, principal auth.Principal, model domain.Model, req domain.NormalizedRequest) {
	started := time.Now()

	params, err := h.authz.Authorize(principal, model, req)
	if err != nil {
		writeError(w, err)
		return
	}
	req.Parameters = params

	resp, err := h.router.Invoke(ctx, model, req)
	h.record(model, req, resp, err, started)

	if err != nil {
		metrics.RecordInvocation(model.ProviderName, model.Name, "error", time.Since(started).Seconds())
		writeError(w, err)
		return
	}
	metrics.RecordInvocation(model.ProviderName, model.Name, "success", time.Since(started).Seconds())
	writeJSON(w, http.StatusOK, toInvokeResponseDTO(resp))
}

// record builds and enqueues an InvocationRecord for both the success and
// failure paths, per spec.md §4.F/§7 ("enqueues an error invocation record
// with error_message set, response_text null").
func (h *Handler) record(model domain.Model, req domain.NormalizedRequest, resp *domain.NormalizedResponse, err error, started time.Time) {
	if h.rec == nil {
		return
	}
	rec := domain.InvocationRecord{
		ID:                uuid.New().String(),
		ProviderName:      model.ProviderName,
		ModelName:         model.Name,
		StartedAt:         started,
		CompletedAt:       time.Now(),
		DurationMs:        time.Since(started).Milliseconds(),
		RequestPrompt:     req.Prompt,
		RequestMessages:   req.Messages,
		RequestParameters: req.Parameters,
	}

	if err != nil {
		rec.Status = domain.StatusError
		rec.ErrorMessage = err.Error()
		h.rec.Enqueue(rec)
		return
	}

	rec.Status = domain.StatusSuccess
	rec.ResponseText = resp.OutputText
	rec.PromptTokens = resp.Usage.PromptTokens
	rec.CompletionTokens = resp.Usage.CompletionTokens
	rec.TotalTokens = resp.Usage.TotalTokens
	rec.RawResponse = resp.Raw

	if resp.Cost == nil && h.cost != nil {
		resp.Cost = h.cost.Calculate(model, resp.Usage)
	}
	rec.Cost = resp.Cost

	if resp.Usage.PromptTokens != nil && resp.Usage.CompletionTokens != nil {
		metrics.RecordTokens(model.ProviderName, model.Name, *resp.Usage.PromptTokens, *resp.Usage.CompletionTokens)
	}

	h.rec.Enqueue(rec)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
