package service

import (
	"context"
	"time"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
)

// AdvisoryRequest is the context handed to the advisory service alongside a
// candidate signal.
type AdvisoryRequest struct {
	Timestamp time.Time          `json:"timestamp"`
	Direction models.Direction   `json:"direction"`
	Market    map[string]float64 `json:"market"`
	Risk      map[string]float64 `json:"risk"`
	PnL       float64            `json:"pnl"`
}

// Advisor is the capability interface for the external veto service.
// Implementations are best-effort risk color and must fail open: transport
// failures, timeouts and malformed responses map to ALLOW with zero
// confidence, never to DENY.
type Advisor interface {
	Decide(ctx context.Context, req AdvisoryRequest) models.AdvisoryDecision
}
