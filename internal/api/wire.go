package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/provider"
)

// invokeRequestDTO is the wire shape of a direct or tag-routed invoke body's
// "request" half. Exactly one of Prompt/Messages must be set.
type invokeRequestDTO struct {
	Prompt     string            `json:"prompt,omitempty"`
	Messages   []domain.Message  `json:"messages,omitempty"`
	Parameters map[string]any    `json:"parameters,omitempty"`
	Stream     bool              `json:"stream,omitempty"`
}

func (d invokeRequestDTO) toNormalized() (domain.NormalizedRequest, error) {
	hasPrompt := d.Prompt != ""
	hasMessages := len(d.Messages) > 0
	if hasPrompt == hasMessages {
		return domain.NormalizedRequest{}, domain.ErrBadRequest
	}
	return domain.NormalizedRequest{
		Prompt:     d.Prompt,
		Messages:   d.Messages,
		Parameters: d.Parameters,
		Stream:     d.Stream,
	}, nil
}

type invokeResponseDTO struct {
	OutputText string      `json:"output_text"`
	Cost       *float64    `json:"cost,omitempty"`
	Raw        interface{} `json:"raw,omitempty"`
	Usage      *usageDTO   `json:"usage,omitempty"`
}

type usageDTO struct {
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	TotalTokens      *int `json:"total_tokens,omitempty"`
}

func toInvokeResponseDTO(resp *domain.NormalizedResponse) invokeResponseDTO {
	dto := invokeResponseDTO{
		OutputText: resp.OutputText,
		Cost:       resp.Cost,
	}
	if resp.Raw != nil {
		dto.Raw = resp.Raw
	}
	if resp.Usage.PromptTokens != nil || resp.Usage.CompletionTokens != nil || resp.Usage.TotalTokens != nil {
		dto.Usage = &usageDTO{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return dto
}

type routeInvokeRequestDTO struct {
	Query   routeQueryDTO    `json:"query"`
	Request invokeRequestDTO `json:"request"`
}

type routeQueryDTO struct {
	Tags            []string `json:"tags,omitempty"`
	ProviderTypes   []string `json:"provider_types,omitempty"`
	IncludeInactive bool     `json:"include_inactive,omitempty"`
}

func (d routeQueryDTO) toDomain() domain.RouteQuery {
	types := make([]domain.ProviderType, 0, len(d.ProviderTypes))
	for _, t := range d.ProviderTypes {
		types = append(types, domain.ProviderType(t))
	}
	return domain.RouteQuery{
		Tags:            d.Tags,
		ProviderTypes:   types,
		IncludeInactive: d.IncludeInactive,
	}
}

// errorKindFor maps an error returned anywhere along the invoke path
// (catalog lookups, auth, router selection, rate limiting, adapters) onto
// one of spec.md §7's fixed kinds. Unrecognized errors fall back to
// internal-error — never silently become a different kind.
func errorKindFor(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrBadRequest):
		return domain.ErrBadRequest
	case errors.Is(err, domain.ErrAuthRequired):
		return domain.ErrAuthRequired
	case errors.Is(err, domain.ErrForbidden):
		return domain.ErrForbidden
	case errors.Is(err, domain.ErrProviderNotFound),
		errors.Is(err, domain.ErrModelNotFound),
		errors.Is(err, domain.ErrCredentialNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrNotFound):
		return domain.ErrNotFound
	case errors.Is(err, domain.ErrSessionExpired):
		return domain.ErrForbidden
	case errors.Is(err, domain.ErrNoCandidate):
		return domain.ErrNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return domain.ErrRateLimited
	case errors.Is(err, domain.ErrCircuitBreakerOpen):
		return domain.ErrUpstreamError
	case errors.Is(err, domain.ErrUpstreamError):
		return domain.ErrUpstreamError
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return domain.ErrUpstreamTimeout
	}

	var classified *provider.ClassifiedError
	if errors.As(err, &classified) {
		switch classified.Class {
		case provider.ClassBadRequest:
			return domain.ErrBadRequest
		case provider.ClassAuthFailure:
			return domain.ErrForbidden
		case provider.ClassRateLimited:
			return domain.ErrRateLimited
		case provider.ClassUpstreamTimeout:
			return domain.ErrUpstreamTimeout
		case provider.ClassUpstreamError:
			return domain.ErrUpstreamError
		}
	}

	return domain.ErrInternal
}

func statusForKind(kind error) int {
	switch kind {
	case domain.ErrBadRequest:
		return http.StatusBadRequest
	case domain.ErrAuthRequired:
		return http.StatusUnauthorized
	case domain.ErrForbidden:
		return http.StatusForbidden
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrRateLimited:
		return http.StatusTooManyRequests
	case domain.ErrUpstreamError:
		return http.StatusBadGateway
	case domain.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON and writeError match the teacher's response-shape convention
// (internal/api/handler.go's original writeError), extended with a "kind"
// field so clients can branch without parsing the message string.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kind := errorKindFor(err)
	status := statusForKind(kind)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": err.Error(),
			"kind":    kind.Error(),
			"code":    status,
		},
	})
}
