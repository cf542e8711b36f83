package engine

import "github.com/Mengjun74/ibkr-mvp/internal/domain/models"

// OpeningRange accumulates the high/low extremes of the range-forming
// period. The zero value is the uninitialized range.
type OpeningRange struct {
	High float64
	Low  float64
	Set  bool
}

// Widen folds a bar into the range: the first in-window bar initializes it,
// later bars only ever widen it (max of highs, min of lows).
func (r OpeningRange) Widen(bar *models.Bar) OpeningRange {
	if !r.Set {
		return OpeningRange{High: bar.High, Low: bar.Low, Set: true}
	}
	if bar.High > r.High {
		r.High = bar.High
	}
	if bar.Low < r.Low {
		r.Low = bar.Low
	}
	return r
}
