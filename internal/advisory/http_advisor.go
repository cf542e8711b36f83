package advisory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	domsvc "github.com/Mengjun74/ibkr-mvp/internal/domain/service"
	xhttp "github.com/Mengjun74/ibkr-mvp/pkg/http"
	"github.com/Mengjun74/ibkr-mvp/pkg/logger"
)

const maxRationaleWords = 20

// HTTPAdvisor calls the external advisory service over HTTP. It is strictly
// best-effort: every failure mode (transport, timeout, malformed payload)
// degrades to ALLOW with zero confidence so advisory unavailability can
// never silently block trading logic.
type HTTPAdvisor struct {
	baseURL  string
	client   *xhttp.Client
	timeout  time.Duration
	cooldown time.Duration
	log      *logger.Logger

	mu       sync.Mutex
	lastCall time.Time
	now      func() time.Time
}

type Option func(*HTTPAdvisor)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *HTTPAdvisor) { a.now = now }
}

func NewHTTPAdvisor(baseURL string, timeout, cooldown time.Duration, log *logger.Logger, opts ...Option) *HTTPAdvisor {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	a := &HTTPAdvisor{
		baseURL:  baseURL,
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
		timeout:  timeout,
		cooldown: cooldown,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type decideResponse struct {
	Decision   string  `json:"decision"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

// Decide asks the advisory service to veto or downgrade a candidate. Calls
// inside the cooldown window short-circuit to ALLOW with a cooldown
// rationale, never to DENY: throttling is intentional, not a failure.
func (a *HTTPAdvisor) Decide(ctx context.Context, req domsvc.AdvisoryRequest) models.AdvisoryDecision {
	a.mu.Lock()
	if !a.lastCall.IsZero() && a.now().Sub(a.lastCall) < a.cooldown {
		a.mu.Unlock()
		return models.AdvisoryDecision{
			Decision:   models.AdvisoryAllow,
			Rationale:  "advisory cooldown",
			Confidence: 0,
		}
	}
	a.lastCall = a.now()
	a.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var raw []byte
	err := a.client.SendAndParse(callCtx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    a.baseURL + "/v1/decide",
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: req,
	}, &raw)
	if err != nil {
		a.log.Warn("advisory call failed, failing open", logger.Error(err))
		return failOpen("advisory unavailable")
	}

	var resp decideResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		a.log.Warn("advisory response malformed, failing open", logger.Error(err))
		return failOpen("advisory response malformed")
	}

	outcome := models.AdvisoryOutcome(resp.Decision)
	switch outcome {
	case models.AdvisoryAllow, models.AdvisoryDeny, models.AdvisoryReduceRisk:
	default:
		a.log.Warn("advisory decision out of protocol, failing open",
			logger.String("decision", resp.Decision))
		return failOpen("advisory decision out of protocol")
	}

	return models.AdvisoryDecision{
		Decision:   outcome,
		Rationale:  clampRationale(resp.Rationale),
		Confidence: clampConfidence(resp.Confidence),
		RawPayload: string(raw),
	}
}

func failOpen(rationale string) models.AdvisoryDecision {
	return models.AdvisoryDecision{
		Decision:   models.AdvisoryAllow,
		Rationale:  rationale,
		Confidence: 0,
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func clampRationale(s string) string {
	words := strings.Fields(s)
	if len(words) <= maxRationaleWords {
		return strings.TrimSpace(s)
	}
	return strings.Join(words[:maxRationaleWords], " ")
}

var _ domsvc.Advisor = (*HTTPAdvisor)(nil)
