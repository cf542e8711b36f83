package models

import (
	"fmt"
	"time"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// AdvisoryOutcome is the structured decision of the advisory service.
type AdvisoryOutcome string

const (
	AdvisoryAllow      AdvisoryOutcome = "ALLOW"
	AdvisoryDeny       AdvisoryOutcome = "DENY"
	AdvisoryReduceRisk AdvisoryOutcome = "REDUCE_RISK"
)

// AdvisoryDecision is attached to a candidate after the veto check.
type AdvisoryDecision struct {
	Decision   AdvisoryOutcome `json:"decision"`
	Rationale  string          `json:"rationale"`
	Confidence float64         `json:"confidence"`
	RawPayload string          `json:"raw_payload,omitempty"`
}

// CandidateSignal is a proposed trade entry awaiting risk and advisory
// approval. Immutable after creation except for the advisory decision.
type CandidateSignal struct {
	ID             string            `json:"signal_id"`
	Symbol         string            `json:"symbol"`
	Timestamp      time.Time         `json:"timestamp"`
	Direction      Direction         `json:"direction"`
	EntryPrice     float64           `json:"entry_price"`
	StopDistance   float64           `json:"stop_distance"`
	TargetDistance float64           `json:"target_distance"`
	ORBHigh        float64           `json:"orb_high"`
	ORBLow         float64           `json:"orb_low"`
	WindowStart    string            `json:"window_start"`
	TrendAverage   float64           `json:"trend_average"`
	VolAverage     float64           `json:"vol_average"`
	Advisory       *AdvisoryDecision `json:"advisory,omitempty"`
}

// SignalID derives the deterministic candidate id from timestamp and
// direction so duplicate suppression downstream is idempotent.
func SignalID(ts time.Time, dir Direction) string {
	return fmt.Sprintf("%s_%s", ts.Format(time.RFC3339), dir)
}
