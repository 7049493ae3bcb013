// Package domain holds the shapes shared by every component of the gateway:
// catalog entities, session state, and the normalized request/response pair
// that insulates the router and recorder from upstream wire formats.
package domain

import "time"

// ProviderType is drawn from a closed set; an adapter exists for each value.
type ProviderType string

const (
	ProviderOpenAICompatible  ProviderType = "openai-compatible"
	ProviderAnthropic         ProviderType = "anthropic"
	ProviderGemini            ProviderType = "gemini"
	ProviderOllamaLocal       ProviderType = "ollama-local"
	ProviderVLLMLocal         ProviderType = "vllm-local"
	ProviderTransformersLocal ProviderType = "transformers-local"
	ProviderGenericHTTP       ProviderType = "generic-http"
)

// KnownProviderTypes is the closed set referenced by Provider's invariant.
var KnownProviderTypes = map[ProviderType]bool{
	ProviderOpenAICompatible:  true,
	ProviderAnthropic:         true,
	ProviderGemini:            true,
	ProviderOllamaLocal:       true,
	ProviderVLLMLocal:         true,
	ProviderTransformersLocal: true,
	ProviderGenericHTTP:       true,
}

// Provider is a configured upstream, identified uniquely by Name.
type Provider struct {
	Name        string
	Type        ProviderType
	BaseURL     string
	Credentials []Credential
	Settings    map[string]any
	IsActive    bool
}

// ModelConfig describes a model's capabilities and pricing.
type ModelConfig struct {
	ContextWindow  int
	SupportsVision bool
	SupportsTools  bool
	SupportsAudio  bool
	SupportsVideo  bool
	InputPer1K     float64
	OutputPer1K    float64
}

// RateLimitConfig is the optional per-model token-bucket configuration.
type RateLimitConfig struct {
	MaxRequests int
	PerSeconds  int
	BurstSize   int // 0 means "use MaxRequests as capacity"
}

// Model is identified uniquely by (ProviderName, Name).
//
// Name is the catalog identity used for routing, URLs, and invocation
// records. RemoteIdentifier is what is sent upstream; it defaults to Name
// when empty. The two are kept distinct even where source material this
// was derived from conflates them — see DESIGN.md Open Question (a).
type Model struct {
	ProviderName     string
	Name             string
	RemoteIdentifier string
	DisplayName      string
	Description      string
	Tags             map[string]struct{}
	DefaultParams    map[string]any
	Config           ModelConfig
	RateLimit        *RateLimitConfig
	IsActive         bool
}

// Remote returns the identifier to send upstream.
func (m Model) Remote() string {
	if m.RemoteIdentifier != "" {
		return m.RemoteIdentifier
	}
	return m.Name
}

// Key returns the "provider/model" string used in routing and records.
func (m Model) Key() string {
	return m.ProviderName + "/" + m.Name
}

// HasAllTags reports whether m's tag set is a superset of tags.
func (m Model) HasAllTags(tags []string) bool {
	for _, t := range tags {
		if _, ok := m.Tags[t]; !ok {
			return false
		}
	}
	return true
}

// Credential is a secret plus optional restriction fields. A nil
// restriction field means unrestricted.
type Credential struct {
	ID               string
	Secret           string
	IsActive         bool
	AllowedModels    map[string]struct{} // "provider/model"
	AllowedProviders map[string]struct{}
	ParameterLimits  map[string]float64
}

// Allows reports whether this credential's allow-lists permit the target.
func (c Credential) Allows(providerName, modelName string) bool {
	if c.AllowedProviders != nil {
		if _, ok := c.AllowedProviders[providerName]; !ok {
			return false
		}
	}
	if c.AllowedModels != nil {
		if _, ok := c.AllowedModels[providerName+"/"+modelName]; !ok {
			return false
		}
	}
	return true
}

// SessionState is the session lifecycle: issued -> bound -> expired/revoked.
type SessionState string

const (
	SessionIssued  SessionState = "issued"
	SessionBound   SessionState = "bound"
	SessionExpired SessionState = "expired"
	SessionRevoked SessionState = "revoked"
)

// ModelRef names a (provider, model) pair a session may be bound to.
type ModelRef struct {
	ProviderName string
	ModelName    string
}

// Session is an in-memory bearer token minted from a credential.
type Session struct {
	Token        string
	CredentialID string
	State        SessionState
	Bound        *ModelRef
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Message is one entry of a NormalizedRequest's conversation.
type Message struct {
	Role    string `json:"role"` // system, user, assistant, tool
	Content any    `json:"content"` // string, or []ContentPart
}

// ContentPartKind enumerates the multimodal content part tags.
type ContentPartKind string

const (
	PartText     ContentPartKind = "text"
	PartImageRef ContentPartKind = "image-ref"
	PartAudioRef ContentPartKind = "audio-ref"
	PartVideoRef ContentPartKind = "video-ref"
	PartFileRef  ContentPartKind = "file-ref"
)

// ContentPart is one element of a multimodal message content list.
type ContentPart struct {
	Kind     ContentPartKind
	Text     string
	URL      string
	Inline   []byte
	MimeType string
}

// NormalizedRequest is the core's internal, adapter-agnostic call shape.
type NormalizedRequest struct {
	Prompt     string // exactly one of Prompt/Messages is set
	Messages   []Message
	Parameters map[string]any
	Stream     bool
}

// Usage carries per-token counts. Nil fields mean "unknown", not zero.
type Usage struct {
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
}

// NormalizedResponse is the core's internal, adapter-agnostic reply shape.
type NormalizedResponse struct {
	OutputText string
	Usage      Usage
	Cost       *float64
	Raw        map[string]any
}

// StreamDelta is one increment of a streamed NormalizedResponse.
type StreamDelta struct {
	TextDelta string
	Done      bool
	Final     *NormalizedResponse // set only on the terminal delta
}

// InvocationStatus is the outcome recorded for one call.
type InvocationStatus string

const (
	StatusSuccess InvocationStatus = "success"
	StatusError   InvocationStatus = "error"
)

// InvocationRecord is an immutable observability row.
type InvocationRecord struct {
	ID                 string
	ProviderName       string
	ModelName          string
	StartedAt          time.Time
	CompletedAt        time.Time
	DurationMs         int64
	Status             InvocationStatus
	ErrorMessage       string
	RequestPrompt      string
	RequestMessages    []Message
	RequestParameters  map[string]any
	ResponseText       string
	ResponseTextLength int
	PromptTokens       *int
	CompletionTokens   *int
	TotalTokens        *int
	Cost               *float64
	RawResponse        map[string]any
}

// RouteQuery is the tag-routed selection criteria.
type RouteQuery struct {
	Tags            []string
	ProviderTypes   []ProviderType
	IncludeInactive bool
}
