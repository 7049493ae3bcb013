// Package generichttp is the passthrough adapter for providers whose wire
// shape this gateway has no dedicated client for: POST model/prompt/
// messages/parameters, read output/text/data back. Grounded on
// original_source's RemoteHTTPProviderClient, including its
// settings-driven endpoint and auth-header naming.
package generichttp

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

const defaultEndpoint = "/invoke"

type Adapter struct {
	client *http.Client
}

func New() *Adapter {
	return &Adapter{client: httputil.DefaultClient()}
}

func (a *Adapter) Type() domain.ProviderType { return domain.ProviderGenericHTTP }

func endpointURL(p domain.Provider) string {
	endpoint := defaultEndpoint
	if v, ok := p.Settings["endpoint"].(string); ok && v != "" {
		endpoint = v
	}
	return strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

func authHeaderName(p domain.Provider) string {
	if v, ok := p.Settings["auth_header"].(string); ok && v != "" {
		return v
	}
	return "Authorization"
}

func (a *Adapter) Invoke(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (*domain.NormalizedResponse, error) {
	var cred domain.Credential
	if creds := provider.ActiveCredentials(p); len(creds) > 0 {
		cred = creds[0]
	}

	wireReq := invokeRequest{
		Model:      m.Remote(),
		Prompt:     req.Prompt,
		Messages:   req.Messages,
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
	for k, v := range headerSettings(p) {
		httpReq.Header.Set(k, v)
	}
	if cred.Secret != "" {
		httpReq.Header.Set(authHeaderName(p), "Bearer "+cred.Secret)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, provider.Classify(provider.ClassUpstreamTimeout, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, provider.Classify(provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("generic-http: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, provider.Classify(provider.ClassUpstreamError, fmt.Errorf("decode response: %w", err))
	}
	return &domain.NormalizedResponse{OutputText: extractOutput(raw), Raw: raw}, nil
}

func (a *Adapter) InvokeStream(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta)
	errs := make(chan error, 1)
	close(deltas)
	errs <- provider.ErrStreamingUnsupported
	close(errs)
	return deltas, errs
}

type invokeRequest struct {
	Model      string           `json:"model"`
	Prompt     string           `json:"prompt,omitempty"`
	Messages   []domain.Message `json:"messages,omitempty"`
	Parameters map[string]any   `json:"parameters,omitempty"`
}

func headerSettings(p domain.Provider) map[string]string {
	raw, ok := p.Settings["headers"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// extractOutput mirrors the source adapter's fallback chain: output, then
// text, then data; a list is joined with newlines.
func extractOutput(raw map[string]any) string {
	for _, key := range []string{"output", "text", "data"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			return val
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			return strings.Join(parts, "\n")
		}
	}
	return ""
}
