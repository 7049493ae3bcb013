// Package openaicompat talks to any upstream that speaks the OpenAI chat
// completions wire format: OpenAI itself, and by base_url override,
// deepseek, glm, qwen, kimi, openrouter, grok, and vllm-local.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/httputil"
	"github.com/llmgateway/gateway/internal/provider"
)

type Adapter struct {
	client  *http.Client
	rotator provider.Rotator
}

func New() *Adapter {
	return &Adapter{client: httputil.DefaultClient()}
}

func (a *Adapter) Type() domain.ProviderType { return domain.ProviderOpenAICompatible }

func (a *Adapter) Invoke(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (*domain.NormalizedResponse, error) {
	creds := provider.ActiveCredentials(p)
	if len(creds) == 0 {
		return nil, provider.ErrNoActiveCredential
	}
	idx := a.rotator.Start(len(creds))

	resp, err := a.invokeWith(ctx, p, m, creds[idx], req)
	if err == nil {
		return resp, nil
	}
	if ce, ok := err.(*provider.ClassifiedError); ok && len(creds) > 1 &&
		(ce.Class == provider.ClassAuthFailure || ce.Class == provider.ClassRateLimited) {
		next := provider.Next(idx, len(creds))
		return a.invokeWith(ctx, p, m, creds[next], req)
	}
	return nil, err
}

func (a *Adapter) invokeWith(ctx context.Context, p domain.Provider, m domain.Model, cred domain.Credential, req domain.NormalizedRequest) (*domain.NormalizedResponse, error) {
	wireReq := toWireRequest(m, cred, req, false)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.Secret)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, provider.Classify(provider.ClassUpstreamTimeout, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, provider.Classify(provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("openaicompat: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
	}

	var wireResp chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, provider.Classify(provider.ClassUpstreamError, fmt.Errorf("decode response: %w", err))
	}

	return toNormalizedResponse(wireResp), nil
}

func (a *Adapter) InvokeStream(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta)
	errs := make(chan error, 1)

	creds := provider.ActiveCredentials(p)
	if len(creds) == 0 {
		close(deltas)
		errs <- provider.ErrNoActiveCredential
		close(errs)
		return deltas, errs
	}
	idx := a.rotator.Start(len(creds))
	cred := creds[idx]

	go func() {
		defer close(deltas)
		defer close(errs)

		wireReq := toWireRequest(m, cred, req, true)
		body, err := json.Marshal(wireReq)
		if err != nil {
			errs <- provider.Classify(provider.ClassBadRequest, fmt.Errorf("marshal request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			errs <- provider.Classify(provider.ClassBadRequest, fmt.Errorf("create request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+cred.Secret)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			errs <- provider.Classify(provider.ClassUpstreamTimeout, fmt.Errorf("do request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			errs <- provider.Classify(provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("openaicompat: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
			return
		}

		var accumulated strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				final := &domain.NormalizedResponse{OutputText: accumulated.String()}
				select {
				case deltas <- domain.StreamDelta{Done: true, Final: final}:
				case <-ctx.Done():
				}
				return
			}

			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			accumulated.WriteString(text)
			select {
			case deltas <- domain.StreamDelta{TextDelta: text}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- provider.Classify(provider.ClassUpstreamError, fmt.Errorf("scan response: %w", err))
		}
	}()

	return deltas, errs
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func toWireRequest(m domain.Model, cred domain.Credential, req domain.NormalizedRequest, stream bool) chatCompletionRequest {
	params := provider.MergeParameters(m, cred, req)

	messages := flattenMessages(req)

	wire := chatCompletionRequest{
		Model:    m.Remote(),
		Messages: messages,
		Stream:   stream,
	}
	if _, ok := params["temperature"]; ok {
		t := provider.ParamFloat(params, "temperature", 0)
		wire.Temperature = &t
	}
	if _, ok := params["max_tokens"]; ok {
		mt := provider.ParamInt(params, "max_tokens", 0)
		wire.MaxTokens = &mt
	}
	if _, ok := params["top_p"]; ok {
		tp := provider.ParamFloat(params, "top_p", 0)
		wire.TopP = &tp
	}
	wire.Stop = provider.ParamStringSlice(params, "stop")
	return wire
}

func flattenMessages(req domain.NormalizedRequest) []chatMessage {
	if req.Prompt != "" {
		return []chatMessage{{Role: "user", Content: req.Prompt}}
	}
	out := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		out = append(out, chatMessage{Role: m.Role, Content: textOf(m.Content)})
	}
	return out
}

func textOf(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []domain.ContentPart:
		var sb strings.Builder
		for _, part := range c {
			if part.Kind == domain.PartText {
				sb.WriteString(part.Text)
			}
		}
		return sb.String()
	default:
		return ""
	}
}

func toNormalizedResponse(resp chatCompletionResponse) *domain.NormalizedResponse {
	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	prompt := resp.Usage.PromptTokens
	completion := resp.Usage.CompletionTokens
	total := resp.Usage.TotalTokens
	return &domain.NormalizedResponse{
		OutputText: text,
		Usage: domain.Usage{
			PromptTokens:     &prompt,
			CompletionTokens: &completion,
			TotalTokens:      &total,
		},
	}
}
