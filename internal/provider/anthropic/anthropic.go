// Package anthropic talks to the Anthropic Messages API: system prompt
// pulled out of the message list, max_tokens mandatory on every call.
package anthropic

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

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

type Adapter struct {
	client  *http.Client
	rotator provider.Rotator
}

func New() *Adapter {
	return &Adapter{client: httputil.DefaultClient()}
}

func (a *Adapter) Type() domain.ProviderType { return domain.ProviderAnthropic }

func baseURL(p domain.Provider) string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	return defaultBaseURL
}

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
	wireReq, err := toWireRequest(m, cred, req, false)
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, err)
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(p)+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", cred.Secret)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, provider.Classify(provider.ClassUpstreamTimeout, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, provider.Classify(provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("anthropic: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
	}

	var wireResp messagesResponse
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
	cred := creds[a.rotator.Start(len(creds))]

	go func() {
		defer close(deltas)
		defer close(errs)

		wireReq, err := toWireRequest(m, cred, req, true)
		if err != nil {
			errs <- provider.Classify(provider.ClassBadRequest, err)
			return
		}
		body, err := json.Marshal(wireReq)
		if err != nil {
			errs <- provider.Classify(provider.ClassBadRequest, fmt.Errorf("marshal request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(p)+"/messages", bytes.NewReader(body))
		if err != nil {
			errs <- provider.Classify(provider.ClassBadRequest, fmt.Errorf("create request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", cred.Secret)
		httpReq.Header.Set("anthropic-version", apiVersion)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			errs <- provider.Classify(provider.ClassUpstreamTimeout, fmt.Errorf("do request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			errs <- provider.Classify(provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("anthropic: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
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

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			if event.Type == "content_block_delta" && event.Delta != nil && event.Delta.Text != "" {
				accumulated.WriteString(event.Delta.Text)
				select {
				case deltas <- domain.StreamDelta{TextDelta: event.Delta.Text}:
				case <-ctx.Done():
					return
				}
			}

			if event.Type == "message_stop" {
				final := &domain.NormalizedResponse{OutputText: accumulated.String()}
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

type messagesRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	StopSeqs    []string      `json:"stop_sequences,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Text string `json:"text"`
	} `json:"delta,omitempty"`
}

func toWireRequest(m domain.Model, cred domain.Credential, req domain.NormalizedRequest, stream bool) (messagesRequest, error) {
	if req.Prompt == "" && len(req.Messages) == 0 {
		return messagesRequest{}, fmt.Errorf("anthropic: empty request")
	}
	params := provider.MergeParameters(m, cred, req)

	var system string
	var messages []wireMessage
	if req.Prompt != "" {
		messages = []wireMessage{{Role: "user", Content: req.Prompt}}
	} else {
		for _, msg := range req.Messages {
			if msg.Role == "system" {
				system += textOf(msg.Content)
				continue
			}
			messages = append(messages, wireMessage{Role: msg.Role, Content: textOf(msg.Content)})
		}
	}

	wire := messagesRequest{
		Model:     m.Remote(),
		Messages:  messages,
		System:    system,
		Stream:    stream,
		MaxTokens: provider.ParamInt(params, "max_tokens", defaultMaxTokens),
		StopSeqs:  provider.ParamStringSlice(params, "stop"),
	}
	if _, ok := params["temperature"]; ok {
		t := provider.ParamFloat(params, "temperature", 0)
		wire.Temperature = &t
	}
	if _, ok := params["top_p"]; ok {
		tp := provider.ParamFloat(params, "top_p", 0)
		wire.TopP = &tp
	}
	return wire, nil
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

func toNormalizedResponse(resp messagesResponse) *domain.NormalizedResponse {
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	prompt := resp.Usage.InputTokens
	completion := resp.Usage.OutputTokens
	total := prompt + completion
	return &domain.NormalizedResponse{
		OutputText: text,
		Usage: domain.Usage{
			PromptTokens:     &prompt,
			CompletionTokens: &completion,
			TotalTokens:      &total,
		},
	}
}
