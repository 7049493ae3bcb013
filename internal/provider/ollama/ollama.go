// Package ollama talks to a locally running Ollama daemon over its native
// /api/chat JSON wire format, including its newline-delimited streaming
// shape — not the OpenAI-compatible shim Ollama also exposes.
package ollama

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

func (a *Adapter) Type() domain.ProviderType { return domain.ProviderOllamaLocal }

func (a *Adapter) credential(p domain.Provider) (domain.Credential, bool) {
	creds := provider.ActiveCredentials(p)
	if len(creds) == 0 {
		return domain.Credential{}, false
	}
	return creds[a.rotator.Start(len(creds))], true
}

func (a *Adapter) Invoke(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (*domain.NormalizedResponse, error) {
	cred, _ := a.credential(p)

	wireReq := toWireRequest(m, cred, req, false)
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.BaseURL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, provider.Classify(provider.ClassUpstreamTimeout, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, provider.Classify(provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("ollama: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
	}

	var wireResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, provider.Classify(provider.ClassUpstreamError, fmt.Errorf("decode response: %w", err))
	}
	return toNormalizedResponse(wireResp), nil
}

func (a *Adapter) InvokeStream(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta)
	errs := make(chan error, 1)

	cred, _ := a.credential(p)

	go func() {
		defer close(deltas)
		defer close(errs)

		wireReq := toWireRequest(m, cred, req, true)
		body, err := json.Marshal(wireReq)
		if err != nil {
			errs <- provider.Classify(provider.ClassBadRequest, fmt.Errorf("marshal request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.BaseURL, "/")+"/api/chat", bytes.NewReader(body))
		if err != nil {
			errs <- provider.Classify(provider.ClassBadRequest, fmt.Errorf("create request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			errs <- provider.Classify(provider.ClassUpstreamTimeout, fmt.Errorf("do request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			errs <- provider.Classify(provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("ollama: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
			return
		}

		var accumulated strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}

			var chunk chatChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue
			}

			if chunk.Message.Content != "" {
				accumulated.WriteString(chunk.Message.Content)
				select {
				case deltas <- domain.StreamDelta{TextDelta: chunk.Message.Content}:
				case <-ctx.Done():
					return
				}
			}

			if chunk.Done {
				final := &domain.NormalizedResponse{
					OutputText: accumulated.String(),
					Usage:      usageFromCounts(chunk.PromptEvalCount, chunk.EvalCount),
				}
				select {
				case deltas <- domain.StreamDelta{Done: true, Final: final}:
				case <-ctx.Done():
				}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- provider.Classify(provider.ClassUpstreamError, fmt.Errorf("scan response: %w", err))
		}
	}()

	return deltas, errs
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatResponse struct {
	Message         wireMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
}

type chatChunk struct {
	Message         wireMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
}

func toWireRequest(m domain.Model, cred domain.Credential, req domain.NormalizedRequest, stream bool) chatRequest {
	params := provider.MergeParameters(m, cred, req)

	var messages []wireMessage
	if req.Prompt != "" {
		messages = []wireMessage{{Role: "user", Content: req.Prompt}}
	} else {
		for _, msg := range req.Messages {
			messages = append(messages, wireMessage{Role: msg.Role, Content: textOf(msg.Content)})
		}
	}

	wire := chatRequest{
		Model:    m.Remote(),
		Messages: messages,
		Stream:   stream,
	}

	_, hasTemp := params["temperature"]
	_, hasMaxTokens := params["max_tokens"]
	_, hasTopP := params["top_p"]
	stop := provider.ParamStringSlice(params, "stop")
	if hasTemp || hasMaxTokens || hasTopP || len(stop) > 0 {
		wire.Options = &chatOptions{
			Temperature: provider.ParamFloat(params, "temperature", 0),
			NumPredict:  provider.ParamInt(params, "max_tokens", 0),
			TopP:        provider.ParamFloat(params, "top_p", 0),
			Stop:        stop,
		}
	}
	return wire
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

func usageFromCounts(prompt, completion int) domain.Usage {
	total := prompt + completion
	return domain.Usage{PromptTokens: &prompt, CompletionTokens: &completion, TotalTokens: &total}
}

func toNormalizedResponse(resp chatResponse) *domain.NormalizedResponse {
	return &domain.NormalizedResponse{
		OutputText: resp.Message.Content,
		Usage:      usageFromCounts(resp.PromptEvalCount, resp.EvalCount),
	}
}
