package engine

import (
	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	"github.com/Mengjun74/ibkr-mvp/pkg/util"
)

// BreakoutParams are the entry-rule knobs, all configuration.
type BreakoutParams struct {
	VolMin      float64
	VolMax      float64
	TickBuffer  float64
	StopFloor   float64
	StopVolMult float64
	RewardMult  float64
	TickSize    float64
}

// BreakoutGenerator evaluates bars against the frozen opening range and the
// indicator snapshot to emit at most one candidate per bar. It never
// suppresses repeats across bars; duplicate signal ids are the execution
// collaborator's problem.
type BreakoutGenerator struct {
	params BreakoutParams
}

func NewBreakoutGenerator(params BreakoutParams) *BreakoutGenerator {
	return &BreakoutGenerator{params: params}
}

// Evaluate returns a candidate signal, or nil when preconditions or filters
// reject the bar. Preconditions: active window set, forming period closed,
// before end of trading, range initialized, indicators available.
func (g *BreakoutGenerator) Evaluate(bar *models.Bar, spec WindowSpec, ds DayState, ind IndicatorSnapshot, indOK bool) *models.CandidateSignal {
	if ds.ActiveWindow == NoWindow || !indOK || !ds.Range.Set {
		return nil
	}
	tod := util.TimeOfDayFrom(bar.Timestamp)
	if !spec.PastForming(tod, ds.ActiveWindow) || tod >= spec.EndOfTrading {
		return nil
	}
	// volatility admission band: too quiet or too violent means no trade
	if ind.VolAverage < g.params.VolMin || ind.VolAverage > g.params.VolMax {
		return nil
	}

	var dir models.Direction
	switch {
	case bar.Close > ds.Range.High+g.params.TickBuffer && bar.Close > ind.TrendAverage:
		dir = models.DirectionLong
	case bar.Close < ds.Range.Low-g.params.TickBuffer && bar.Close < ind.TrendAverage:
		dir = models.DirectionShort
	default:
		return nil
	}

	stop := g.params.StopVolMult * ind.VolAverage
	if stop < g.params.StopFloor {
		stop = g.params.StopFloor
	}
	stop = util.RoundToTick(stop, g.params.TickSize)
	target := util.RoundToTick(g.params.RewardMult*stop, g.params.TickSize)

	return &models.CandidateSignal{
		ID:             models.SignalID(bar.Timestamp, dir),
		Symbol:         bar.Symbol,
		Timestamp:      bar.Timestamp,
		Direction:      dir,
		EntryPrice:     bar.Close,
		StopDistance:   stop,
		TargetDistance: target,
		ORBHigh:        ds.Range.High,
		ORBLow:         ds.Range.Low,
		WindowStart:    ds.ActiveWindow.String(),
		TrendAverage:   ind.TrendAverage,
		VolAverage:     ind.VolAverage,
	}
}
