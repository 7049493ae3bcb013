// Package auth resolves inbound HTTP requests to a Principal, issues and
// tracks sessions minted from a credential secret, and applies a
// credential's allow-lists and parameter limits before a call is
// dispatched. This is gateway-facing auth: end-callers of the LLM API,
// not the management-plane admin users (see internal/admin).
package auth

import (
	"github.com/llmgateway/gateway/internal/domain"
)

// Error sentinels are domain's, not package-local: internal/api maps
// domain's kinds to HTTP statuses directly, so auth reuses them instead
// of introducing a second taxonomy that api would have to translate.
var (
	ErrAuthRequired      = domain.ErrAuthRequired
	ErrInvalidCredential = domain.ErrAuthRequired
	ErrForbidden         = domain.ErrForbidden
	ErrSessionNotFound   = domain.ErrSessionNotFound
	ErrSessionExpired    = domain.ErrSessionExpired
)

// PrincipalKind distinguishes a credential-backed caller from a loopback
// caller admitted without one.
type PrincipalKind string

const (
	PrincipalCredential     PrincipalKind = "credential"
	PrincipalAnonymousLocal PrincipalKind = "anonymous-local"
)

// Principal is what Authenticate resolves an inbound request to.
type Principal struct {
	Kind         PrincipalKind
	CredentialID string
	Credential   *domain.Credential // nil for PrincipalAnonymousLocal with no session-bound credential
}

// IsAnonymousLocal reports whether p was admitted via loopback bypass
// with no presented credential.
func (p Principal) IsAnonymousLocal() bool {
	return p.Kind == PrincipalAnonymousLocal
}
