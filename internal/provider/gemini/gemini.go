// Package gemini talks to the Gemini generateContent API: contents/parts
// message shape, role renaming (assistant -> "model", everything else ->
// "user"), and an API key carried in the query string rather than a
// header. Grounded on original_source's GeminiProviderClient for exact
// URL and role-mapping semantics; structured the way the other HTTP
// adapters in this package are structured.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/httputil"
	"github.com/llmgateway/gateway/internal/provider"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

type Adapter struct {
	client  *http.Client
	rotator provider.Rotator
}

func New() *Adapter {
	return &Adapter{client: httputil.DefaultClient()}
}

func (a *Adapter) Type() domain.ProviderType { return domain.ProviderGemini }

func (a *Adapter) credential(p domain.Provider) (domain.Credential, bool) {
	creds := provider.ActiveCredentials(p)
	if len(creds) == 0 {
		return domain.Credential{}, false
	}
	return creds[a.rotator.Start(len(creds))], true
}

func endpointURL(p domain.Provider, m domain.Model, cred domain.Credential, stream bool) string {
	base := defaultBaseURL
	if p.BaseURL != "" {
		base = strings.TrimRight(p.BaseURL, "/")
	}
	method := "generateContent"
	if stream {
		method = "streamGenerateContent"
	}
	u := fmt.Sprintf("%s/v1beta/models/%s:%s", base, m.Remote(), method)
	q := url.Values{"key": {cred.Secret}}
	if stream {
		q.Set("alt", "sse")
	}
	return u + "?" + q.Encode()
}

func (a *Adapter) Invoke(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (*domain.NormalizedResponse, error) {
	cred, ok := a.credential(p)
	if !ok {
		return nil, provider.ErrNoActiveCredential
	}

	wireReq, err := toWireRequest(m, cred, req)
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, err)
	}
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, provider.Classify(provider.ClassBadRequest, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL(p, m, cred, false), bytes.NewReader(body))
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
		return nil, provider.Classify(provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("gemini: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
	}

	var wireResp generateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, provider.Classify(provider.ClassUpstreamError, fmt.Errorf("decode response: %w", err))
	}
	return &domain.NormalizedResponse{OutputText: extractText(wireResp)}, nil
}

func (a *Adapter) InvokeStream(ctx context.Context, p domain.Provider, m domain.Model, req domain.NormalizedRequest) (<-chan domain.StreamDelta, <-chan error) {
	deltas := make(chan domain.StreamDelta)
	errs := make(chan error, 1)

	cred, ok := a.credential(p)
	if !ok {
		close(deltas)
		errs <- provider.ErrNoActiveCredential
		close(errs)
		return deltas, errs
	}

	go func() {
		defer close(deltas)
		defer close(errs)

		wireReq, err := toWireRequest(m, cred, req)
		if err != nil {
			errs <- provider.Classify(provider.ClassBadRequest, err)
			return
		}
		body, err := json.Marshal(wireReq)
		if err != nil {
			errs <- provider.Classify(provider.ClassBadRequest, fmt.Errorf("marshal request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL(p, m, cred, true), bytes.NewReader(body))
		if err != nil {
			errs <- provider.Classify(provider.ClassBadRequest, fmt.Errorf("create request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			errs <- provider.Classify(provider.ClassUpstreamTimeout, fmt.Errorf("do request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			errs <- provider.Classify(provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("gemini: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
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

			var chunk generateContentResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			text := extractText(chunk)
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
			return
		}
		final := &domain.NormalizedResponse{OutputText: accumulated.String()}
		select {
		case deltas <- domain.StreamDelta{Done: true, Final: final}:
		case <-ctx.Done():
		}
	}()

	return deltas, errs
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content content `json:"content"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

func extractText(resp generateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// geminiRole renames roles to Gemini's two-party contents shape: assistant
// becomes "model", everything else (system, user, tool) becomes "user".
func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

func toWireRequest(m domain.Model, cred domain.Credential, req domain.NormalizedRequest) (generateContentRequest, error) {
	var contents []content
	if req.Prompt != "" {
		contents = append(contents, content{Role: "user", Parts: []part{{Text: req.Prompt}}})
	} else {
		for _, msg := range req.Messages {
			text := textOf(msg.Content)
			if text == "" {
				continue
			}
			contents = append(contents, content{Role: geminiRole(msg.Role), Parts: []part{{Text: text}}})
		}
	}
	if len(contents) == 0 {
		return generateContentRequest{}, fmt.Errorf("gemini: request needs at least one message or prompt")
	}

	params := provider.MergeParameters(m, cred, req)
	cfg := &generationConfig{}
	var any bool
	if _, ok := params["temperature"]; ok {
		t := provider.ParamFloat(params, "temperature", 0)
		cfg.Temperature = &t
		any = true
	}
	if _, ok := params["max_tokens"]; ok {
		mt := provider.ParamInt(params, "max_tokens", 0)
		cfg.MaxOutputTokens = &mt
		any = true
	}
	if _, ok := params["top_p"]; ok {
		tp := provider.ParamFloat(params, "top_p", 0)
		cfg.TopP = &tp
		any = true
	}
	if stop := provider.ParamStringSlice(params, "stop"); len(stop) > 0 {
		cfg.StopSequences = stop
		any = true
	}

	out := generateContentRequest{Contents: contents}
	if any {
		out.GenerationConfig = cfg
	}
	return out, nil
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
