package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	domrepo "github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
	domsvc "github.com/Mengjun74/ibkr-mvp/internal/domain/service"
	"github.com/Mengjun74/ibkr-mvp/internal/risk"
	"github.com/Mengjun74/ibkr-mvp/internal/service/ratelimit"
	"github.com/Mengjun74/ibkr-mvp/pkg/logger"
	"github.com/Mengjun74/ibkr-mvp/pkg/util"
)

var (
	// ErrOutOfOrderBar means the feed violated the strictly-increasing
	// timestamp contract. Processing halts for the rest of the day rather
	// than corrupting range and ledger state.
	ErrOutOfOrderBar = errors.New("bar timestamp not after previous bar")

	// ErrDayHalted is returned for every bar after an invariant violation
	// until the next calendar date.
	ErrDayHalted = errors.New("processing halted for current session day")
)

// Orchestrator drives the engine in bar-arrival order. It is the single
// writer of all per-day state; only the advisory call may block a bar, and
// that call runs under its own timeout.
type Orchestrator struct {
	log     *logger.Logger
	spec    WindowSpec
	ind     *IndicatorEngine
	gen     *BreakoutGenerator
	gate    *risk.Gate
	advisor domsvc.Advisor
	pub     domrepo.SignalPublisher
	snaps   domrepo.SnapshotStore
	metrics domrepo.Metrics
	monitor *ratelimit.Limiter

	day        DayState
	lastTS     time.Time
	halted     bool
	haltedDate int

	mu   sync.RWMutex
	last models.EngineSnapshot
}

func NewOrchestrator(
	log *logger.Logger,
	spec WindowSpec,
	ind *IndicatorEngine,
	gen *BreakoutGenerator,
	gate *risk.Gate,
	advisor domsvc.Advisor,
	pub domrepo.SignalPublisher,
	snaps domrepo.SnapshotStore,
	metrics domrepo.Metrics,
) *Orchestrator {
	return &Orchestrator{
		log:     log,
		spec:    spec,
		ind:     ind,
		gen:     gen,
		gate:    gate,
		advisor: advisor,
		pub:     pub,
		snaps:   snaps,
		metrics: metrics,
		monitor: ratelimit.New(),
		day:     NewDayState(),
	}
}

// ProcessBar applies one bar to the engine. replay marks backfilled bars:
// they update all state but never reach the advisory or the executor.
func (o *Orchestrator) ProcessBar(ctx context.Context, bar *models.Bar, replay bool) error {
	if bar == nil {
		return fmt.Errorf("bar is nil")
	}
	start := time.Now()

	if !o.lastTS.IsZero() && !bar.Timestamp.After(o.lastTS) {
		o.halted = true
		o.haltedDate = util.SessionDate(bar.Timestamp)
		o.metrics.RecordError("out_of_order_bar")
		o.log.Error("out-of-order bar, halting day",
			logger.Time("bar", bar.Timestamp),
			logger.Time("previous", o.lastTS))
		return fmt.Errorf("%w: %s <= %s", ErrOutOfOrderBar,
			bar.Timestamp.Format(time.RFC3339), o.lastTS.Format(time.RFC3339))
	}
	o.lastTS = bar.Timestamp

	if o.halted {
		if util.SessionDate(bar.Timestamp) == o.haltedDate {
			return ErrDayHalted
		}
		o.halted = false
	}

	day, tr := o.spec.Advance(o.day, bar.Timestamp)
	o.day = day
	if tr.NewDay {
		o.gate.ResetDay()
		o.log.Info("session day rollover",
			logger.Int("date", o.day.Date))
	}
	if tr.WindowChanged && o.day.ActiveWindow != NoWindow {
		o.log.Info("opening-range window change",
			logger.String("window", o.day.ActiveWindow.String()))
	}

	o.ind.Push(bar)
	ind, indOK := o.ind.Snapshot()

	tod := util.TimeOfDayFrom(bar.Timestamp)
	if o.spec.InFormingPeriod(tod, o.day.ActiveWindow) {
		o.day.Range = o.day.Range.Widen(bar)
	}

	status := o.status(tod)

	var signal *models.CandidateSignal
	if status == models.StatusTrading {
		if o.monitor.Allow("monitor", 1, 1.0/600) {
			o.log.Info("monitoring breakout",
				logger.String("window", o.day.ActiveWindow.String()),
				logger.Float64("orb_high", o.day.Range.High),
				logger.Float64("orb_low", o.day.Range.Low),
				logger.Float64("close", bar.Close))
		}
		signal = o.gen.Evaluate(bar, o.spec, o.day, ind, indOK)
	}

	activeSignalID := ""
	if signal != nil && !replay {
		if o.decide(ctx, bar, signal) {
			activeSignalID = signal.ID
		}
	}

	o.publishSnapshot(ctx, bar, status, ind, indOK, activeSignalID)

	o.metrics.RecordBarProcessed(bar.Symbol)
	o.metrics.RecordLastPrice(bar.Symbol, bar.Close)
	o.metrics.RecordLatency("process_bar", time.Since(start).Seconds())
	return nil
}

// OnFill feeds a realized execution back into the risk ledger. Invoked by
// the fills consumer outside the bar path; the gate handles its own locking.
func (o *Orchestrator) OnFill(ctx context.Context, fill *models.Fill) {
	o.gate.RecordFill(ctx, fill.RealizedPnL)
	o.gate.UpdatePosition(fill.Position)
	o.metrics.RecordDailyPnL(o.gate.Snapshot().DailyPnL)
	o.log.Info("fill recorded",
		logger.String("exec_id", fill.ExecID),
		logger.Float64("pnl", fill.RealizedPnL),
		logger.Int("position", fill.Position))
}

// LastSnapshot returns the most recent per-bar snapshot for the ops surface.
func (o *Orchestrator) LastSnapshot() models.EngineSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// Ledger exposes the risk ledger snapshot for the ops surface.
func (o *Orchestrator) Ledger() risk.LedgerSnapshot {
	return o.gate.Snapshot()
}

func (o *Orchestrator) status(tod util.TimeOfDay) models.EngineStatus {
	switch {
	case o.day.ActiveWindow == NoWindow:
		return models.StatusWaiting
	case o.spec.InFormingPeriod(tod, o.day.ActiveWindow):
		return models.StatusFormingORB
	case tod >= o.spec.EndOfTrading:
		return models.StatusWaiting
	case !o.day.Range.Set:
		// forming period elapsed with no in-window bar: no range, no trades
		return models.StatusORBFailed
	default:
		return models.StatusTrading
	}
}

// decide runs the candidate through the risk gate and the advisory veto.
// Returns true when the signal was emitted to the executor.
func (o *Orchestrator) decide(ctx context.Context, bar *models.Bar, signal *models.CandidateSignal) bool {
	o.metrics.RecordSignal(string(signal.Direction))

	pre := o.gate.Check(ctx, risk.ActionEntry, 1)
	if !pre.Allowed {
		o.metrics.RecordDenial(pre.Reason)
		o.log.Warn("candidate denied by risk gate",
			logger.String("signal_id", signal.ID),
			logger.String("reason", pre.Reason))
		o.storeRiskEvent(ctx, "denial", pre.Reason)
		return false
	}

	ledger := o.gate.Snapshot()
	decision := o.advisor.Decide(ctx, domsvc.AdvisoryRequest{
		Timestamp: signal.Timestamp,
		Direction: signal.Direction,
		Market: map[string]float64{
			"close":         bar.Close,
			"trend_average": signal.TrendAverage,
			"vol_average":   signal.VolAverage,
			"dist_orb_high": bar.Close - signal.ORBHigh,
			"dist_orb_low":  signal.ORBLow - bar.Close,
		},
		Risk: map[string]float64{
			"daily_trades":       float64(ledger.DailyTrades),
			"consecutive_losses": float64(ledger.ConsecutiveLosses),
			"position":           float64(ledger.Position),
		},
		PnL: ledger.DailyPnL,
	})
	signal.Advisory = &decision
	o.metrics.RecordAdvisoryDecision(string(decision.Decision))

	if decision.Decision == models.AdvisoryDeny {
		o.metrics.RecordDenial("advisory_deny")
		o.log.Info("candidate denied by advisory",
			logger.String("signal_id", signal.ID),
			logger.String("rationale", decision.Rationale))
		o.storeSignal(ctx, signal)
		return false
	}

	// re-check: the kill switch may have been flipped while the advisory
	// call was in flight
	post := o.gate.Check(ctx, risk.ActionEntry, 1)
	if !post.Allowed {
		o.metrics.RecordDenial(post.Reason)
		o.log.Warn("candidate denied after advisory",
			logger.String("signal_id", signal.ID),
			logger.String("reason", post.Reason))
		o.storeRiskEvent(ctx, "denial", post.Reason)
		return false
	}

	o.gate.RecordTradeEntry()
	o.storeSignal(ctx, signal)

	if err := o.pub.Publish(ctx, signal); err != nil {
		o.metrics.RecordError("signal_publish")
		o.log.Error("signal publish failed", logger.Error(err),
			logger.String("signal_id", signal.ID))
		return false
	}

	o.log.Info("signal emitted",
		logger.String("signal_id", signal.ID),
		logger.String("direction", string(signal.Direction)),
		logger.Float64("entry", signal.EntryPrice),
		logger.Float64("stop", signal.StopDistance),
		logger.Float64("target", signal.TargetDistance),
		logger.String("advisory", string(decision.Decision)))
	return true
}

func (o *Orchestrator) publishSnapshot(ctx context.Context, bar *models.Bar, status models.EngineStatus, ind IndicatorSnapshot, indOK bool, signalID string) {
	snap := models.EngineSnapshot{
		Timestamp:      bar.Timestamp,
		Symbol:         bar.Symbol,
		Status:         status,
		ActiveSignalID: signalID,
	}
	if o.day.ActiveWindow != NoWindow {
		snap.ActiveWindow = o.day.ActiveWindow.String()
	}
	if o.day.Range.Set {
		high, low := o.day.Range.High, o.day.Range.Low
		snap.ORBHigh, snap.ORBLow = &high, &low
	}
	if indOK {
		trend, vol := ind.TrendAverage, ind.VolAverage
		snap.TrendAverage, snap.VolAverage = &trend, &vol
	}

	o.mu.Lock()
	o.last = snap
	o.mu.Unlock()

	// audit write is fire-and-forget: never blocks the decision path
	if err := o.snaps.StoreSnapshot(ctx, &snap); err != nil {
		o.metrics.RecordError("snapshot_store")
		o.log.Warn("snapshot store failed", logger.Error(err))
	}
}

func (o *Orchestrator) storeSignal(ctx context.Context, signal *models.CandidateSignal) {
	if err := o.snaps.StoreSignal(ctx, signal); err != nil {
		o.metrics.RecordError("signal_store")
		o.log.Warn("signal store failed", logger.Error(err))
	}
}

func (o *Orchestrator) storeRiskEvent(ctx context.Context, kind, reason string) {
	event := models.RiskEvent{Time: time.Now(), Kind: kind, Reason: reason}
	if err := o.snaps.StoreRiskEvent(ctx, &event); err != nil {
		o.metrics.RecordError("risk_event_store")
		o.log.Warn("risk event store failed", logger.Error(err))
	}
}
