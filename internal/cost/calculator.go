// Package cost turns a model's per-1k pricing and a call's token usage into
// a dollar figure. Grounded on the teacher's internal/cost/calculator.go;
// the hardcoded per-model-name pricing table is replaced by reading
// domain.Model.Config, which is where the catalog now carries pricing.
// Tenant-scoped usage tracking (the teacher's UsageRecord/Tracker) has no
// counterpart here — there are no tenants, only credentials — and is
// superseded entirely by internal/recorder's InvocationRecord stream.
package cost

import (
	"github.com/llmgateway/gateway/internal/domain"
)

type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate returns nil when either token count is unknown, per
// NormalizedResponse.Usage's "nil means unknown, not zero" contract — an
// unknown input never silently prices as zero tokens.
func (c *Calculator) Calculate(model domain.Model, usage domain.Usage) *float64 {
	if usage.PromptTokens == nil || usage.CompletionTokens == nil {
		return nil
	}
	inputCost := float64(*usage.PromptTokens) / 1000 * model.Config.InputPer1K
	outputCost := float64(*usage.CompletionTokens) / 1000 * model.Config.OutputPer1K
	total := inputCost + outputCost
	return &total
}
