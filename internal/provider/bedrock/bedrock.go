// Package bedrock talks to AWS Bedrock's InvokeModel/InvokeModelWithResponseStream
// API using the Anthropic Messages request/response shape Bedrock expects
// for Claude models. model.RemoteIdentifier carries the Bedrock model ID
// (e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0") — no hardcoded
// name-to-ID table, unlike the source this adapter is grounded on.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/provider"
)

const defaultMaxTokens = 4096

// Adapter caches one bedrockruntime client per AWS region, since a
// client is bound to a region at construction and a gateway may route to
// Bedrock providers configured for different regions.
type Adapter struct {
	clients map[string]*bedrockruntime.Client
}

func New() *Adapter {
	return &Adapter{clients: make(map[string]*bedrockruntime.Client)}
}

func (a *Adapter) Type() domain.ProviderType { return domain.ProviderGenericHTTP }

func (a *Adapter) clientFor(ctx context.Context, p domain.Provider) (*bedrockruntime.Client, error) {
	region, _ := p.Settings["aws_region"].(string)
	if region == "" {
		region = "us-east-1"
	}
	if c, ok := a.clients[region]; ok {
		return c, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	c := bedrockruntime.NewFromConfig(cfg)
	a.clients[region] = c
	return c, nil
}

func (a *Adapter) Invoke(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (*domain.NormalizedResponse, error) {
	client, err := a.clientFor(ctx, p)
	if err != nil {
		return nil, provider.Classify(provider.ClassUpstreamError, err)
	}

	var cred domain.Credential
	if creds := provider.ActiveCredentials(p); len(creds) > 0 {
		cred = creds[0]
	}

	body, err := json.Marshal(toWireRequest(m, cred, req))
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, fmt.Errorf("marshal request: %w", err))
	}

	out, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(m.Remote()),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, provider.Classify(classifyAWSErr(err), fmt.Errorf("invoke model: %w", err))
	}

	var wireResp messagesResponse
	if err := json.Unmarshal(out.Body, &wireResp); err != nil {
		return nil, provider.Classify(provider.ClassUpstreamError, fmt.Errorf("unmarshal response: %w", err))
	}
	return toNormalizedResponse(wireResp), nil
}

func (a *Adapter) InvokeStream(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		client, err := a.clientFor(ctx, p)
		if err != nil {
			errs <- provider.Classify(provider.ClassUpstreamError, err)
			return
		}

		var cred domain.Credential
		if creds := provider.ActiveCredentials(p); len(creds) > 0 {
			cred = creds[0]
		}

		body, err := json.Marshal(toWireRequest(m, cred, req))
		if err != nil {
			errs <- provider.Classify(provider.ClassBadRequest, fmt.Errorf("marshal request: %w", err))
			return
		}

		out, err := client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(m.Remote()),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			errs <- provider.Classify(classifyAWSErr(err), fmt.Errorf("invoke model stream: %w", err))
			return
		}

		stream := out.GetStream()
		defer stream.Close()

		var accumulated strings.Builder
		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var payload streamChunk
			if err := json.Unmarshal(chunk.Value.Bytes, &payload); err != nil {
				continue
			}

			if payload.Type == "content_block_delta" && payload.Delta != nil && payload.Delta.Text != "" {
				accumulated.WriteString(payload.Delta.Text)
				select {
				case deltas <- domain.StreamDelta{TextDelta: payload.Delta.Text}:
				case <-ctx.Done():
					return
				}
			}
			if payload.Type == "message_stop" {
				final := &domain.NormalizedResponse{OutputText: accumulated.String()}
				select {
				case deltas <- domain.StreamDelta{Done: true, Final: final}:
				case <-ctx.Done():
				}
				return
			}
		}
		if err := stream.Err(); err != nil {
			errs <- provider.Classify(provider.ClassUpstreamError, fmt.Errorf("stream error: %w", err))
		}
	}()

	return deltas, errs
}

func classifyAWSErr(err error) provider.ErrClass {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "UnrecognizedClient"):
		return provider.ClassAuthFailure
	case strings.Contains(msg, "ThrottlingException"):
		return provider.ClassRateLimited
	case strings.Contains(msg, "ValidationException"):
		return provider.ClassBadRequest
	default:
		return provider.ClassUpstreamError
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	Messages         []wireMessage `json:"messages"`
	System           string        `json:"system,omitempty"`
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

type streamChunk struct {
	Type  string `json:"type"`
	Delta *struct {
		Text string `json:"text"`
	} `json:"delta,omitempty"`
}

func toWireRequest(m domain.Model, cred domain.Credential, req domain.NormalizedRequest) messagesRequest {
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

	return messagesRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        provider.ParamInt(params, "max_tokens", defaultMaxTokens),
		Messages:         messages,
		System:           system,
	}
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
