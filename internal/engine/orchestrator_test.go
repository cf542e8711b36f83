package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	domsvc "github.com/Mengjun74/ibkr-mvp/internal/domain/service"
	"github.com/Mengjun74/ibkr-mvp/internal/risk"
	"github.com/Mengjun74/ibkr-mvp/internal/service/killswitch"
	"github.com/Mengjun74/ibkr-mvp/pkg/logger"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []*models.CandidateSignal
}

func (p *fakePublisher) Publish(_ context.Context, s *models.CandidateSignal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, s)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeStore struct {
	mu        sync.Mutex
	snapshots []*models.EngineSnapshot
	signals   []*models.CandidateSignal
	events    []*models.RiskEvent
}

func (s *fakeStore) Init(context.Context) error { return nil }

func (s *fakeStore) StoreSnapshot(_ context.Context, snap *models.EngineSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *fakeStore) StoreSignal(_ context.Context, sig *models.CandidateSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

func (s *fakeStore) StoreRiskEvent(_ context.Context, e *models.RiskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *fakeStore) Health(context.Context) error { return nil }
func (s *fakeStore) Close() error                 { return nil }

type fakeMetrics struct {
	mu        sync.Mutex
	denials   []string
	signals   int
	decisions []string
	errors    []string
}

func (m *fakeMetrics) RecordBarProcessed(string)     {}
func (m *fakeMetrics) RecordLastPrice(string, float64) {}
func (m *fakeMetrics) RecordDailyPnL(float64)        {}
func (m *fakeMetrics) RecordLatency(string, float64) {}

func (m *fakeMetrics) RecordSignal(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals++
}

func (m *fakeMetrics) RecordDenial(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denials = append(m.denials, reason)
}

func (m *fakeMetrics) RecordAdvisoryDecision(d string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, kind)
}

type advisorFunc func(ctx context.Context, req domsvc.AdvisoryRequest) models.AdvisoryDecision

func (f advisorFunc) Decide(ctx context.Context, req domsvc.AdvisoryRequest) models.AdvisoryDecision {
	return f(ctx, req)
}

func allowAll(context.Context, domsvc.AdvisoryRequest) models.AdvisoryDecision {
	return models.AdvisoryDecision{Decision: models.AdvisoryAllow, Confidence: 1}
}

type orchFixture struct {
	orch    *Orchestrator
	gate    *risk.Gate
	ks      *killswitch.MemoryStore
	pub     *fakePublisher
	store   *fakeStore
	metrics *fakeMetrics
}

func newFixture(t *testing.T, advisor domsvc.Advisor) *orchFixture {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)

	ks := killswitch.NewMemoryStore()
	gate := risk.NewGate(risk.Params{
		DailyLossFloor:   -60,
		TradeLossFloor:   -12,
		MaxDailyTrades:   8,
		MaxPosition:      1,
		CooldownDuration: 15 * time.Minute,
	}, ks, log)

	pub := &fakePublisher{}
	store := &fakeStore{}
	metrics := &fakeMetrics{}

	orch := NewOrchestrator(
		log,
		testSpec(t, "06:30"),
		NewIndicatorEngine(2, 2, 50),
		NewBreakoutGenerator(testParams()),
		gate,
		advisor,
		pub,
		store,
		metrics,
	)
	return &orchFixture{orch: orch, gate: gate, ks: ks, pub: pub, store: store, metrics: metrics}
}

// warmAndForm drives the fixture to the start of the trading phase: three
// pre-window bars to warm the indicators, then two forming bars that leave an
// opening range of [99.5, 101.0].
func (f *orchFixture) warmAndForm(t *testing.T, day int) {
	t.Helper()
	ctx := context.Background()
	for _, clock := range []string{"06:00", "06:01", "06:02"} {
		require.NoError(t, f.orch.ProcessBar(ctx, bar(at(t, day, clock), 100, 100.5, 99.8, 100), false))
	}
	require.NoError(t, f.orch.ProcessBar(ctx, bar(at(t, day, "06:30"), 100.2, 100.5, 99.8, 100), false))
	require.NoError(t, f.orch.ProcessBar(ctx, bar(at(t, day, "06:31"), 100, 101.0, 99.5, 100.8), false))
}

func breakoutBar(t *testing.T, day int) *models.Bar {
	t.Helper()
	return bar(at(t, day, "06:45"), 101.2, 101.6, 100.9, 101.5)
}

func TestProcessBarEmitsBreakoutSignal(t *testing.T) {
	f := newFixture(t, advisorFunc(allowAll))
	f.warmAndForm(t, 2)

	require.NoError(t, f.orch.ProcessBar(context.Background(), breakoutBar(t, 2), false))

	require.Len(t, f.pub.published, 1)
	sig := f.pub.published[0]
	assert.Equal(t, models.DirectionLong, sig.Direction)
	assert.Equal(t, 101.5, sig.EntryPrice)
	require.NotNil(t, sig.Advisory)
	assert.Equal(t, models.AdvisoryAllow, sig.Advisory.Decision)

	assert.Equal(t, 1, f.orch.Ledger().DailyTrades)
	require.Len(t, f.store.signals, 1)

	snap := f.orch.LastSnapshot()
	assert.Equal(t, models.StatusTrading, snap.Status)
	assert.Equal(t, sig.ID, snap.ActiveSignalID)
	require.NotNil(t, snap.ORBHigh)
	assert.Equal(t, 101.0, *snap.ORBHigh)
}

func TestProcessBarReplayNeverPublishes(t *testing.T) {
	f := newFixture(t, advisorFunc(func(context.Context, domsvc.AdvisoryRequest) models.AdvisoryDecision {
		t.Fatal("advisor must not be consulted during replay")
		return models.AdvisoryDecision{}
	}))

	ctx := context.Background()
	for _, clock := range []string{"06:00", "06:01", "06:02"} {
		require.NoError(t, f.orch.ProcessBar(ctx, bar(at(t, 2, clock), 100, 100.5, 99.8, 100), true))
	}
	require.NoError(t, f.orch.ProcessBar(ctx, bar(at(t, 2, "06:30"), 100.2, 100.5, 99.8, 100), true))
	require.NoError(t, f.orch.ProcessBar(ctx, bar(at(t, 2, "06:31"), 100, 101.0, 99.5, 100.8), true))
	require.NoError(t, f.orch.ProcessBar(ctx, breakoutBar(t, 2), true))

	assert.Empty(t, f.pub.published)
	assert.Zero(t, f.orch.Ledger().DailyTrades)
	// state still advanced: the replayed bars built the range and snapshots
	assert.Equal(t, models.StatusTrading, f.orch.LastSnapshot().Status)
	assert.NotEmpty(t, f.store.snapshots)
}

func TestProcessBarOutOfOrderHaltsDay(t *testing.T) {
	f := newFixture(t, advisorFunc(allowAll))
	f.warmAndForm(t, 2)

	ctx := context.Background()
	err := f.orch.ProcessBar(ctx, bar(at(t, 2, "06:30"), 100, 100.5, 99.8, 100), false)
	require.ErrorIs(t, err, ErrOutOfOrderBar)

	// the rest of the day is refused, breakout or not
	err = f.orch.ProcessBar(ctx, breakoutBar(t, 2), false)
	require.ErrorIs(t, err, ErrDayHalted)
	assert.Empty(t, f.pub.published)

	// next calendar date clears the halt
	require.NoError(t, f.orch.ProcessBar(ctx, bar(at(t, 3, "06:00"), 100, 100.5, 99.8, 100), false))
}

func TestProcessBarRangeNeverFormed(t *testing.T) {
	f := newFixture(t, advisorFunc(allowAll))

	ctx := context.Background()
	for _, clock := range []string{"06:00", "06:01", "06:02"} {
		require.NoError(t, f.orch.ProcessBar(ctx, bar(at(t, 2, clock), 100, 100.5, 99.8, 100), false))
	}
	// first bar arrives after the forming period already closed
	require.NoError(t, f.orch.ProcessBar(ctx, bar(at(t, 2, "06:50"), 100, 100.5, 99.8, 100), false))

	assert.Equal(t, models.StatusORBFailed, f.orch.LastSnapshot().Status)
	assert.Empty(t, f.pub.published)
}

func TestProcessBarAdvisoryDenyBlocksSignal(t *testing.T) {
	f := newFixture(t, advisorFunc(func(context.Context, domsvc.AdvisoryRequest) models.AdvisoryDecision {
		return models.AdvisoryDecision{Decision: models.AdvisoryDeny, Rationale: "chop regime", Confidence: 0.9}
	}))
	f.warmAndForm(t, 2)

	require.NoError(t, f.orch.ProcessBar(context.Background(), breakoutBar(t, 2), false))

	assert.Empty(t, f.pub.published)
	assert.Zero(t, f.orch.Ledger().DailyTrades)
	assert.Contains(t, f.metrics.denials, "advisory_deny")

	// the denied candidate is still audited with its advisory attached
	require.Len(t, f.store.signals, 1)
	require.NotNil(t, f.store.signals[0].Advisory)
	assert.Equal(t, models.AdvisoryDeny, f.store.signals[0].Advisory.Decision)
}

func TestProcessBarKillSwitchBlocksBeforeAdvisory(t *testing.T) {
	f := newFixture(t, advisorFunc(func(context.Context, domsvc.AdvisoryRequest) models.AdvisoryDecision {
		t.Fatal("advisor must not run once the kill switch is engaged")
		return models.AdvisoryDecision{}
	}))
	f.warmAndForm(t, 2)

	require.NoError(t, f.ks.Engage(context.Background(), "operator stop"))
	require.NoError(t, f.orch.ProcessBar(context.Background(), breakoutBar(t, 2), false))

	assert.Empty(t, f.pub.published)
	assert.Contains(t, f.metrics.denials, risk.ReasonKillSwitch)
	require.Len(t, f.store.events, 1)
	assert.Equal(t, "denial", f.store.events[0].Kind)
	assert.Equal(t, risk.ReasonKillSwitch, f.store.events[0].Reason)
}

func TestProcessBarKillSwitchFlipDuringAdvisory(t *testing.T) {
	var f *orchFixture
	f = newFixture(t, advisorFunc(func(ctx context.Context, _ domsvc.AdvisoryRequest) models.AdvisoryDecision {
		// operator engages the switch while the advisory call is in flight
		require.NoError(t, f.ks.Engage(ctx, "flipped mid-call"))
		return models.AdvisoryDecision{Decision: models.AdvisoryAllow, Confidence: 1}
	}))
	f.warmAndForm(t, 2)

	require.NoError(t, f.orch.ProcessBar(context.Background(), breakoutBar(t, 2), false))

	assert.Empty(t, f.pub.published)
	assert.Zero(t, f.orch.Ledger().DailyTrades)
	assert.Contains(t, f.metrics.denials, risk.ReasonKillSwitch)
}

func TestProcessBarDayRolloverResetsLedger(t *testing.T) {
	f := newFixture(t, advisorFunc(allowAll))
	f.warmAndForm(t, 2)
	require.NoError(t, f.orch.ProcessBar(context.Background(), breakoutBar(t, 2), false))
	require.Equal(t, 1, f.orch.Ledger().DailyTrades)

	require.NoError(t, f.orch.ProcessBar(context.Background(), bar(at(t, 3, "06:00"), 100, 100.5, 99.8, 100), false))
	assert.Zero(t, f.orch.Ledger().DailyTrades)
}

func TestOnFillUpdatesLedger(t *testing.T) {
	f := newFixture(t, advisorFunc(allowAll))

	f.orch.OnFill(context.Background(), &models.Fill{
		ExecID:      "x1",
		RealizedPnL: -5,
		Position:    1,
	})

	ledger := f.orch.Ledger()
	assert.Equal(t, -5.0, ledger.DailyPnL)
	assert.Equal(t, 1, ledger.Position)
	assert.Equal(t, 1, ledger.ConsecutiveLosses)
}
