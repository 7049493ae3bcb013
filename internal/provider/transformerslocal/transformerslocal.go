// Package transformerslocal talks to a local HTTP shim fronting a
// transformers pipeline: a single prompt-in/text-out shape with no
// chat/message structure and no token-level streaming. Grounded on
// original_source's TransformersProviderClient, which runs the pipeline
// in-process; here the adapter is a network client to an already-running
// shim instead (no model-weight hosting — see SPEC_FULL.md Non-goals).
package transformerslocal

import (
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

const defaultEndpoint = "/generate"

type Adapter struct {
	client *http.Client
}

func New() *Adapter {
	return &Adapter{client: httputil.DefaultClient()}
}

func (a *Adapter) Type() domain.ProviderType { return domain.ProviderTransformersLocal }

func endpointURL(p domain.Provider) string {
	endpoint := defaultEndpoint
	if v, ok := p.Settings["endpoint"].(string); ok && v != "" {
		endpoint = v
	}
	return strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

func (a *Adapter) Invoke(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (*domain.NormalizedResponse, error) {
	var cred domain.Credential
	if creds := provider.ActiveCredentials(p); len(creds) > 0 {
		cred = creds[0]
	}

	wireReq := generateRequest{
		Model:      m.Remote(),
		Prompt:     promptOf(req),
		Parameters: provider.MergeParameters(m, cred, req),
	}
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL(p), bytes.NewReader(body))
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cred.Secret != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cred.Secret)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, provider.Classify(provider.ClassUpstreamTimeout, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, provider.Classify(provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("transformers-local: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
	}

	var wireResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, provider.Classify(provider.ClassUpstreamError, fmt.Errorf("decode response: %w", err))
	}
	text := wireResp.GeneratedText
	if text == "" {
		text = wireResp.SummaryText
	}
	return &domain.NormalizedResponse{OutputText: text}, nil
}

func (a *Adapter) InvokeStream(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta)
	errs := make(chan error, 1)
	close(deltas)
	errs <- provider.ErrStreamingUnsupported
	close(errs)
	return deltas, errs
}

type generateRequest struct {
	Model      string         `json:"model"`
	Prompt     string         `json:"prompt"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type generateResponse struct {
	GeneratedText string `json:"generated_text"`
	SummaryText   string `json:"summary_text"`
}

func promptOf(req domain.NormalizedRequest) string {
	if req.Prompt != "" {
		return req.Prompt
	}
	var sb strings.Builder
	for _, msg := range req.Messages {
		fmt.Fprintf(&sb, "%s: %s\n", capitalize(msg.Role), textOf(msg.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func capitalize(role string) string {
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
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
