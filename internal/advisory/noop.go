package advisory

import (
	"context"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	domsvc "github.com/Mengjun74/ibkr-mvp/internal/domain/service"
)

// NoopAdvisor always allows. Used when the advisory service is disabled or
// unconfigured, keeping the rest of the pipeline unchanged.
type NoopAdvisor struct{}

func NewNoopAdvisor() *NoopAdvisor { return &NoopAdvisor{} }

func (NoopAdvisor) Decide(ctx context.Context, req domsvc.AdvisoryRequest) models.AdvisoryDecision {
	return models.AdvisoryDecision{
		Decision:   models.AdvisoryAllow,
		Rationale:  "advisory disabled",
		Confidence: 0,
	}
}

var _ domsvc.Advisor = (*NoopAdvisor)(nil)
