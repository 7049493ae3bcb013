package auth

import (
	"github.com/llmgateway/gateway/internal/domain"
	"github.com/llmgateway/gateway/internal/provider"
)

// Authorizer checks a principal's credential restrictions against a
// target provider/model and clamps requested parameters against the
// credential's limits. anonymous-local principals bypass the allow-lists
// but still get clamping if a bound credential exists.
type Authorizer struct{}

func NewAuthorizer() *Authorizer {
	return &Authorizer{}
}

// Authorize returns the clamped parameter set for the call, or
// ErrForbidden if the principal's credential does not allow the target.
func (a *Authorizer) Authorize(principal Principal, model domain.Model, req domain.NormalizedRequest) (map[string]any, error) {
	var cred domain.Credential
	if principal.Credential != nil {
		cred = *principal.Credential
	}

	if principal.Kind != PrincipalAnonymousLocal && principal.Credential != nil {
		if !cred.Allows(model.ProviderName, model.Name) {
			return nil, ErrForbidden
		}
	}

	return provider.MergeParameters(model, cred, req), nil
}
