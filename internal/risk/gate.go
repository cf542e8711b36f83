package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	domrepo "github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
	"github.com/Mengjun74/ibkr-mvp/pkg/logger"
)

// Action classifies what a proposed order does to net exposure. Only
// exposure-increasing actions are subject to the position limit.
type Action string

const (
	ActionEntry Action = "ENTRY"
	ActionExit  Action = "EXIT"
)

// Denial reasons surfaced by Check, fixed strings for audit and metrics.
const (
	ReasonKillSwitch     = "kill_switch_active"
	ReasonKillSwitchRead = "kill_switch_unreadable"
	ReasonDailyLoss      = "daily_loss_breached"
	ReasonTradeCount     = "daily_trade_count_breached"
	ReasonCooldown       = "cooldown_active"
	ReasonPositionLimit  = "position_limit_breached"
	ReasonOK             = "ok"
)

// Params are the risk thresholds. Loss floors are negative numbers.
type Params struct {
	DailyLossFloor   float64
	TradeLossFloor   float64
	MaxDailyTrades   int
	MaxPosition      int
	CooldownDuration time.Duration
}

// Decision is the outcome of a pre-trade check.
type Decision struct {
	Allowed bool
	Reason  string
}

// LedgerSnapshot is a read-only copy of the day's risk state.
type LedgerSnapshot struct {
	DailyPnL          float64   `json:"daily_pnl"`
	DailyTrades       int       `json:"daily_trades"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	CooldownUntil     time.Time `json:"cooldown_until,omitempty"`
	Position          int       `json:"position"`
}

// Gate is the risk-control policy over the day's ledger. It is the only
// writer of PnL, trade-count and cooldown state; the kill switch lives in an
// external store shared with the operator surface and is re-read on every
// Check.
type Gate struct {
	mu     sync.Mutex
	params Params
	ks     domrepo.KillSwitchStore
	log    *logger.Logger
	now    func() time.Time

	onEvent func(models.RiskEvent)

	dailyPnL          float64
	dailyTrades       int
	consecutiveLosses int
	cooldownUntil     time.Time
	position          int
}

type GateOption func(*Gate)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithEventSink registers a hook invoked for every risk event (cooldown
// trigger, kill-switch activation). The hook must not block.
func WithEventSink(fn func(models.RiskEvent)) GateOption {
	return func(g *Gate) { g.onEvent = fn }
}

func NewGate(params Params, ks domrepo.KillSwitchStore, log *logger.Logger, opts ...GateOption) *Gate {
	g := &Gate{
		params: params,
		ks:     ks,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check evaluates a proposed action in fixed precedence order: kill switch,
// daily loss, daily trade count, cooldown, position limit. The first failing
// check wins. The kill switch is read from its store on every call.
func (g *Gate) Check(ctx context.Context, action Action, quantity int) Decision {
	engaged, err := g.ks.Engaged(ctx)
	if err != nil {
		// cannot prove the switch is off, so refuse new risk
		g.log.Error("kill switch read failed", logger.Error(err))
		return Decision{Allowed: false, Reason: ReasonKillSwitchRead}
	}
	if engaged {
		return Decision{Allowed: false, Reason: ReasonKillSwitch}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dailyPnL <= g.params.DailyLossFloor {
		return Decision{Allowed: false, Reason: ReasonDailyLoss}
	}
	if g.dailyTrades >= g.params.MaxDailyTrades {
		return Decision{Allowed: false, Reason: ReasonTradeCount}
	}
	if !g.cooldownUntil.IsZero() && g.now().Before(g.cooldownUntil) {
		return Decision{Allowed: false, Reason: ReasonCooldown}
	}
	if action == ActionEntry {
		newPos := g.position + quantity
		if newPos < 0 {
			newPos = -newPos
		}
		if newPos > g.params.MaxPosition {
			return Decision{Allowed: false, Reason: ReasonPositionLimit}
		}
	}
	return Decision{Allowed: true, Reason: ReasonOK}
}

// RecordFill folds a realized PnL into the ledger, applies the two cooldown
// triggers (per-trade floor breach, two consecutive losses) and engages the
// kill switch when the daily floor is breached.
func (g *Gate) RecordFill(ctx context.Context, realizedPnL float64) {
	g.mu.Lock()
	g.dailyPnL += realizedPnL
	if realizedPnL < 0 {
		g.consecutiveLosses++
	} else {
		g.consecutiveLosses = 0
	}
	dailyPnL := g.dailyPnL
	losses := g.consecutiveLosses
	g.mu.Unlock()

	if realizedPnL <= g.params.TradeLossFloor {
		g.triggerCooldown(fmt.Sprintf("trade loss %.2f beyond floor %.2f", realizedPnL, g.params.TradeLossFloor), realizedPnL)
	} else if losses >= 2 {
		g.triggerCooldown(fmt.Sprintf("%d consecutive losing trades", losses), realizedPnL)
	}

	if dailyPnL <= g.params.DailyLossFloor {
		reason := fmt.Sprintf("daily loss %.2f beyond floor %.2f", dailyPnL, g.params.DailyLossFloor)
		g.log.Error("daily loss floor breached, engaging kill switch",
			logger.Float64("daily_pnl", dailyPnL))
		if err := g.ks.Engage(ctx, reason); err != nil {
			g.log.Error("kill switch engage failed", logger.Error(err))
		}
		g.emit("kill_switch", reason, dailyPnL)
	}
}

// RecordTradeEntry counts an approved entry against the daily trade budget.
func (g *Gate) RecordTradeEntry() {
	g.mu.Lock()
	g.dailyTrades++
	g.mu.Unlock()
}

// UpdatePosition reconciles the net position reported by the execution side.
func (g *Gate) UpdatePosition(position int) {
	g.mu.Lock()
	g.position = position
	g.mu.Unlock()
}

// ResetDay clears the daily counters at session rollover. The kill switch is
// deliberately untouched: it survives rollover until an operator clears it.
func (g *Gate) ResetDay() {
	g.mu.Lock()
	g.dailyPnL = 0
	g.dailyTrades = 0
	g.consecutiveLosses = 0
	g.cooldownUntil = time.Time{}
	g.mu.Unlock()
}

// Snapshot returns a copy of the day's ledger for advisory context and ops.
func (g *Gate) Snapshot() LedgerSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return LedgerSnapshot{
		DailyPnL:          g.dailyPnL,
		DailyTrades:       g.dailyTrades,
		ConsecutiveLosses: g.consecutiveLosses,
		CooldownUntil:     g.cooldownUntil,
		Position:          g.position,
	}
}

func (g *Gate) triggerCooldown(reason string, pnl float64) {
	g.mu.Lock()
	g.cooldownUntil = g.now().Add(g.params.CooldownDuration)
	until := g.cooldownUntil
	g.mu.Unlock()

	g.log.Warn("cooldown triggered",
		logger.String("reason", reason),
		logger.Time("until", until))
	g.emit("cooldown", reason, pnl)
}

func (g *Gate) emit(kind, reason string, value float64) {
	if g.onEvent == nil {
		return
	}
	g.onEvent(models.RiskEvent{
		Time:   g.now(),
		Kind:   kind,
		Reason: reason,
		Value:  value,
	})
}
