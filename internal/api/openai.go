package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/telemetry"
)

// chatCompletionRequestDTO is the OpenAI-compatible wire shape accepted by
// POST /v1/chat/completions (spec.md §6). Model is either "provider/model"
// or a bare model name resolved against a bound session's provider.
type chatCompletionRequestDTO struct {
	Model            string           `json:"model"`
	Messages         []domain.Message `json:"messages"`
	Stream           bool             `json:"stream,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
	TopP             *float64         `json:"top_p,omitempty"`
	MaxTokens        *int             `json:"max_tokens,omitempty"`
	Stop             []string         `json:"stop,omitempty"`
	N                *int             `json:"n,omitempty"`
	PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
	User             string           `json:"user,omitempty"`
}

func (d chatCompletionRequestDTO) parameters() map[string]any {
	params := make(map[string]any)
	if d.Temperature != nil {
		params["temperature"] = *d.Temperature
	}
	if d.TopP != nil {
		params["top_p"] = *d.TopP
	}
	if d.MaxTokens != nil {
		params["max_tokens"] = *d.MaxTokens
	}
	if len(d.Stop) > 0 {
		params["stop"] = d.Stop
	}
	if d.PresencePenalty != nil {
		params["presence_penalty"] = *d.PresencePenalty
	}
	if d.FrequencyPenalty != nil {
		params["frequency_penalty"] = *d.FrequencyPenalty
	}
	return params
}

type chatCompletionResponseDTO struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []chatCompletionChoiceDTO `json:"choices"`
	Usage   chatCompletionUsageDTO    `json:"usage"`
}

type chatCompletionChoiceDTO struct {
	Index        int             `json:"index"`
	Message      domain.Message  `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type chatCompletionUsageDTO struct {
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	Cost             *float64 `json:"cost,omitempty"`
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "api.chat_completions")
	defer span.End()

	principal, err := h.authn.Authenticate(ctx, r)
	if err != nil {
		writeError(w, err)
		return
	}

	var dto chatCompletionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, domain.ErrBadRequest)
		return
	}
	if len(dto.Messages) == 0 {
		writeError(w, domain.ErrBadRequest)
		return
	}

	providerName, modelName, err := h.resolveChatModel(r, dto.Model)
	if err != nil {
		writeError(w, err)
		return
	}

	model, err := h.router.Direct(ctx, providerName, modelName)
	if err != nil {
		writeError(w, err)
		return
	}

	req := domain.NormalizedRequest{
		Messages:   dto.Messages,
		Parameters: dto.parameters(),
		Stream:     dto.Stream,
	}

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
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toChatCompletionResponseDTO(model.Key(), resp))
}

// resolveChatModel splits modelField into (provider, model). A bare name
// with no "/" is only valid when the caller presented a session bound to a
// specific model (§4.G: "or just model when a bound session supplies the
// provider").
func (h *Handler) resolveChatModel(r *http.Request, modelField string) (string, string, error) {
	if idx := strings.IndexByte(modelField, '/'); idx >= 0 {
		return modelField[:idx], modelField[idx+1:], nil
	}

	token := sessionTokenFromRequest(r)
	if token == "" || h.sessions == nil {
		return "", "", domain.ErrBadRequest
	}
	sess, err := h.sessions.Get(token)
	if err != nil || sess.Bound == nil {
		return "", "", domain.ErrBadRequest
	}
	return sess.Bound.ProviderName, modelField, nil
}

func toChatCompletionResponseDTO(modelKey string, resp *domain.NormalizedResponse) chatCompletionResponseDTO {
	usage := chatCompletionUsageDTO{Cost: resp.Cost}
	if resp.Usage.PromptTokens != nil {
		usage.PromptTokens = *resp.Usage.PromptTokens
	}
	if resp.Usage.CompletionTokens != nil {
		usage.CompletionTokens = *resp.Usage.CompletionTokens
	}
	if resp.Usage.TotalTokens != nil {
		usage.TotalTokens = *resp.Usage.TotalTokens
	}

	return chatCompletionResponseDTO{
		ID:      "chatcmpl-" + modelKey,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelKey,
		Choices: []chatCompletionChoiceDTO{
			{
				Index:        0,
				Message:      domain.Message{Role: "assistant", Content: resp.OutputText},
				FinishReason: "stop",
			},
		},
		Usage: usage,
	}
}
