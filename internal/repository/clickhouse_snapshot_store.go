package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	domrepo "github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
	pkgch "github.com/Mengjun74/ibkr-mvp/pkg/clickhouse"
	applogger "github.com/Mengjun74/ibkr-mvp/pkg/logger"
)

// CHSnapshotStore implements SnapshotStore backed by ClickHouse. It is the
// audit trail: per-bar engine snapshots, every candidate signal with its
// advisory verdict, and risk events.
type CHSnapshotStore struct {
	db *sql.DB
	ch *pkgch.Client
	l  *applogger.Logger
}

func NewCHSnapshotStore(ch *pkgch.Client, l *applogger.Logger) *CHSnapshotStore {
	return &CHSnapshotStore{db: ch.DB(), ch: ch, l: l}
}

var _ domrepo.SnapshotStore = (*CHSnapshotStore)(nil)

var schemaStmts = []string{
	`CREATE DATABASE IF NOT EXISTS orb`,
	`CREATE TABLE IF NOT EXISTS orb.engine_snapshots (
        ts            DateTime('UTC'),
        symbol        String,
        status        String,
        active_window String,
        orb_high      Nullable(Float64),
        orb_low       Nullable(Float64),
        trend_avg     Nullable(Float64),
        vol_avg       Nullable(Float64),
        signal_id     String
    ) ENGINE = MergeTree()
    PARTITION BY toDate(ts)
    ORDER BY (symbol, ts)
    TTL ts + INTERVAL 90 DAY`,
	`CREATE TABLE IF NOT EXISTS orb.signals (
        id                  String,
        ts                  DateTime('UTC'),
        symbol              String,
        direction           String,
        entry_price         Float64,
        stop_distance       Float64,
        target_distance     Float64,
        orb_high            Float64,
        orb_low             Float64,
        window_start        String,
        trend_avg           Float64,
        vol_avg             Float64,
        advisory_decision   String,
        advisory_rationale  String,
        advisory_confidence Float64,
        advisory_raw        String
    ) ENGINE = ReplacingMergeTree()
    PARTITION BY toDate(ts)
    ORDER BY (symbol, ts, id)`,
	`CREATE TABLE IF NOT EXISTS orb.risk_events (
        ts     DateTime('UTC'),
        kind   String,
        reason String,
        value  Float64
    ) ENGINE = MergeTree()
    PARTITION BY toDate(ts)
    ORDER BY ts`,
}

func (s *CHSnapshotStore) Init(ctx context.Context) error {
	if err := s.ch.InitSchema(ctx, schemaStmts); err != nil {
		return fmt.Errorf("snapshot store schema: %w", err)
	}
	s.l.Info("clickhouse audit schema ready")
	return nil
}

func (s *CHSnapshotStore) StoreSnapshot(ctx context.Context, snap *models.EngineSnapshot) error {
	const q = `INSERT INTO orb.engine_snapshots
        (ts, symbol, status, active_window, orb_high, orb_low, trend_avg, vol_avg, signal_id)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		snap.Timestamp,
		snap.Symbol,
		string(snap.Status),
		snap.ActiveWindow,
		snap.ORBHigh,
		snap.ORBLow,
		snap.TrendAverage,
		snap.VolAverage,
		snap.ActiveSignalID,
	)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

func (s *CHSnapshotStore) StoreSignal(ctx context.Context, sig *models.CandidateSignal) error {
	decision, rationale, raw := "", "", ""
	confidence := 0.0
	if sig.Advisory != nil {
		decision = string(sig.Advisory.Decision)
		rationale = sig.Advisory.Rationale
		confidence = sig.Advisory.Confidence
		raw = string(sig.Advisory.RawPayload)
	}
	const q = `INSERT INTO orb.signals
        (id, ts, symbol, direction, entry_price, stop_distance, target_distance,
         orb_high, orb_low, window_start, trend_avg, vol_avg,
         advisory_decision, advisory_rationale, advisory_confidence, advisory_raw)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		sig.ID,
		sig.Timestamp,
		sig.Symbol,
		string(sig.Direction),
		sig.EntryPrice,
		sig.StopDistance,
		sig.TargetDistance,
		sig.ORBHigh,
		sig.ORBLow,
		sig.WindowStart,
		sig.TrendAverage,
		sig.VolAverage,
		decision,
		rationale,
		confidence,
		raw,
	)
	if err != nil {
		return fmt.Errorf("store signal: %w", err)
	}
	return nil
}

func (s *CHSnapshotStore) StoreRiskEvent(ctx context.Context, e *models.RiskEvent) error {
	const q = `INSERT INTO orb.risk_events (ts, kind, reason, value) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, e.Time.UTC(), e.Kind, e.Reason, e.Value)
	if err != nil {
		return fmt.Errorf("store risk event: %w", err)
	}
	return nil
}

// RecentRiskEvents returns the latest n risk events for the ops surface.
func (s *CHSnapshotStore) RecentRiskEvents(ctx context.Context, n int) ([]models.RiskEvent, error) {
	start := time.Now()
	const q = `SELECT ts, kind, reason, value FROM orb.risk_events ORDER BY ts DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("recent risk events: %w", err)
	}
	defer rows.Close()

	out := make([]models.RiskEvent, 0, n)
	for rows.Next() {
		var e models.RiskEvent
		if err := rows.Scan(&e.Time, &e.Kind, &e.Reason, &e.Value); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse recent_risk_events ok",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

// RecentSignals returns the latest n emitted or denied candidates, newest
// first, with their advisory verdicts.
func (s *CHSnapshotStore) RecentSignals(ctx context.Context, n int) ([]models.CandidateSignal, error) {
	const q = `SELECT id, ts, symbol, direction, entry_price, stop_distance, target_distance,
        orb_high, orb_low, window_start, trend_avg, vol_avg,
        advisory_decision, advisory_rationale, advisory_confidence
        FROM orb.signals FINAL ORDER BY ts DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	defer rows.Close()

	out := make([]models.CandidateSignal, 0, n)
	for rows.Next() {
		var sig models.CandidateSignal
		var direction, decision, rationale string
		var confidence float64
		if err := rows.Scan(&sig.ID, &sig.Timestamp, &sig.Symbol, &direction,
			&sig.EntryPrice, &sig.StopDistance, &sig.TargetDistance,
			&sig.ORBHigh, &sig.ORBLow, &sig.WindowStart,
			&sig.TrendAverage, &sig.VolAverage,
			&decision, &rationale, &confidence); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.Direction = models.Direction(direction)
		if decision != "" {
			sig.Advisory = &models.AdvisoryDecision{
				Decision:   models.AdvisoryOutcome(decision),
				Rationale:  rationale,
				Confidence: confidence,
			}
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHSnapshotStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHSnapshotStore) Close() error {
	return nil // pool owned by pkg client
}
