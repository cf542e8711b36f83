package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	"github.com/Mengjun74/ibkr-mvp/internal/service/killswitch"
	"github.com/Mengjun74/ibkr-mvp/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return log
}

func testGateParams() Params {
	return Params{
		DailyLossFloor:   -60,
		TradeLossFloor:   -12,
		MaxDailyTrades:   8,
		MaxPosition:      1,
		CooldownDuration: 15 * time.Minute,
	}
}

// failingKS errors on every read, simulating a lost store connection.
type failingKS struct{}

func (failingKS) Engaged(context.Context) (bool, error) {
	return false, errors.New("connection refused")
}
func (failingKS) Engage(context.Context, string) error { return nil }
func (failingKS) Clear(context.Context) error          { return nil }

func TestCheckAllowsWhenClean(t *testing.T) {
	g := NewGate(testGateParams(), killswitch.NewMemoryStore(), testLogger(t))
	d := g.Check(context.Background(), ActionEntry, 1)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonOK, d.Reason)
}

func TestCheckKillSwitchReadFailureFailsClosed(t *testing.T) {
	g := NewGate(testGateParams(), failingKS{}, testLogger(t))
	d := g.Check(context.Background(), ActionEntry, 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonKillSwitchRead, d.Reason)
}

func TestCheckKillSwitchReadEveryCall(t *testing.T) {
	ks := killswitch.NewMemoryStore()
	g := NewGate(testGateParams(), ks, testLogger(t))
	ctx := context.Background()

	assert.True(t, g.Check(ctx, ActionEntry, 1).Allowed)

	// flipped out-of-band between two checks
	require.NoError(t, ks.Engage(ctx, "operator"))
	d := g.Check(ctx, ActionEntry, 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonKillSwitch, d.Reason)

	require.NoError(t, ks.Clear(ctx))
	assert.True(t, g.Check(ctx, ActionEntry, 1).Allowed)
}

func TestCheckPrecedenceKillSwitchFirst(t *testing.T) {
	ks := killswitch.NewMemoryStore()
	g := NewGate(testGateParams(), ks, testLogger(t))
	ctx := context.Background()

	// breach everything at once; the kill switch reason must win
	g.RecordFill(ctx, -100)
	require.NoError(t, ks.Engage(ctx, "floor"))

	d := g.Check(ctx, ActionEntry, 1)
	assert.Equal(t, ReasonKillSwitch, d.Reason)

	// with the switch cleared the daily floor is next in line
	require.NoError(t, ks.Clear(ctx))
	d = g.Check(ctx, ActionEntry, 1)
	assert.Equal(t, ReasonDailyLoss, d.Reason)
}

func TestDailyFloorBreachEngagesKillSwitch(t *testing.T) {
	ks := killswitch.NewMemoryStore()
	var events []models.RiskEvent
	g := NewGate(testGateParams(), ks, testLogger(t),
		WithEventSink(func(e models.RiskEvent) { events = append(events, e) }))
	ctx := context.Background()

	g.RecordFill(ctx, -61)

	engaged, err := ks.Engaged(ctx)
	require.NoError(t, err)
	assert.True(t, engaged)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "kill_switch", last.Kind)
}

func TestTradeLossFloorTriggersCooldown(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	g := NewGate(testGateParams(), killswitch.NewMemoryStore(), testLogger(t),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	// -15 breaches the -12 per-trade floor
	g.RecordFill(ctx, -15)
	d := g.Check(ctx, ActionEntry, 1)
	assert.Equal(t, ReasonCooldown, d.Reason)

	// cooldown expires after its duration
	now = now.Add(16 * time.Minute)
	assert.True(t, g.Check(ctx, ActionEntry, 1).Allowed)
}

func TestConsecutiveLossesTriggerCooldown(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	g := NewGate(testGateParams(), killswitch.NewMemoryStore(), testLogger(t),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	// two small losses, neither breaching the per-trade floor
	g.RecordFill(ctx, -5)
	assert.True(t, g.Check(ctx, ActionEntry, 1).Allowed)
	g.RecordFill(ctx, -5)
	assert.Equal(t, ReasonCooldown, g.Check(ctx, ActionEntry, 1).Reason)
}

func TestWinResetsConsecutiveLosses(t *testing.T) {
	g := NewGate(testGateParams(), killswitch.NewMemoryStore(), testLogger(t))
	ctx := context.Background()

	g.RecordFill(ctx, -5)
	g.RecordFill(ctx, 10)
	g.RecordFill(ctx, -5)
	assert.True(t, g.Check(ctx, ActionEntry, 1).Allowed)
	assert.Equal(t, 1, g.Snapshot().ConsecutiveLosses)
}

func TestTradeCountBudget(t *testing.T) {
	g := NewGate(testGateParams(), killswitch.NewMemoryStore(), testLogger(t))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		g.RecordTradeEntry()
	}
	d := g.Check(ctx, ActionEntry, 1)
	assert.Equal(t, ReasonTradeCount, d.Reason)
}

func TestPositionLimitEntryOnly(t *testing.T) {
	g := NewGate(testGateParams(), killswitch.NewMemoryStore(), testLogger(t))
	ctx := context.Background()

	g.UpdatePosition(1)
	d := g.Check(ctx, ActionEntry, 1)
	assert.Equal(t, ReasonPositionLimit, d.Reason)

	// exits reduce exposure and bypass the limit
	assert.True(t, g.Check(ctx, ActionExit, 1).Allowed)
}

func TestResetDayPreservesKillSwitch(t *testing.T) {
	ks := killswitch.NewMemoryStore()
	g := NewGate(testGateParams(), ks, testLogger(t))
	ctx := context.Background()

	g.RecordFill(ctx, -61)
	g.RecordTradeEntry()
	g.ResetDay()

	snap := g.Snapshot()
	assert.Zero(t, snap.DailyPnL)
	assert.Zero(t, snap.DailyTrades)
	assert.Zero(t, snap.ConsecutiveLosses)
	assert.True(t, snap.CooldownUntil.IsZero())

	// counters are fresh but the engaged switch still denies
	d := g.Check(ctx, ActionEntry, 1)
	assert.Equal(t, ReasonKillSwitch, d.Reason)
}
