package repository

import (
	"context"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
)

// BarStream delivers one-minute bars from the market-data collaborator,
// strictly increasing timestamps, one bar per event.
type BarStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Backfill(ctx context.Context) ([]*models.Bar, error)
	Read(ctx context.Context) (<-chan *models.Bar, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SignalPublisher hands approved candidates to the execution collaborator.
// The collaborator owns idempotent handling of duplicate signal ids.
type SignalPublisher interface {
	Publish(ctx context.Context, s *models.CandidateSignal) error
	Close() error
}

// SnapshotStore persists per-bar audit state. All writes are fire-and-forget
// from the caller's perspective: failures are logged, never propagated into
// the decision path.
type SnapshotStore interface {
	Init(ctx context.Context) error
	StoreSnapshot(ctx context.Context, s *models.EngineSnapshot) error
	StoreSignal(ctx context.Context, s *models.CandidateSignal) error
	StoreRiskEvent(ctx context.Context, e *models.RiskEvent) error
	Health(ctx context.Context) error
	Close() error
}

// KillSwitchStore is the durable, externally visible kill-switch flag.
// Reads must hit the backing store every time (read-before-use, no caching):
// an operator may flip the flag out-of-band at any moment.
type KillSwitchStore interface {
	Engaged(ctx context.Context) (bool, error)
	Engage(ctx context.Context, reason string) error
	Clear(ctx context.Context) error
}

type Metrics interface {
	RecordBarProcessed(symbol string)
	RecordSignal(direction string)
	RecordDenial(reason string)
	RecordAdvisoryDecision(decision string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordDailyPnL(pnl float64)
	RecordLatency(op string, seconds float64)
}
