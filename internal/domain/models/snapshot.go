package models

import "time"

// EngineSnapshot is the per-bar audit record the orchestrator emits after
// every bar. Nil pointers mean "not available yet" (indicators warming up,
// range not formed).
type EngineSnapshot struct {
	Timestamp      time.Time    `json:"timestamp"`
	Symbol         string       `json:"symbol"`
	ORBHigh        *float64     `json:"orb_high,omitempty"`
	ORBLow         *float64     `json:"orb_low,omitempty"`
	TrendAverage   *float64     `json:"trend_average,omitempty"`
	VolAverage     *float64     `json:"vol_average,omitempty"`
	Status         EngineStatus `json:"status"`
	ActiveWindow   string       `json:"active_window,omitempty"`
	ActiveSignalID string       `json:"active_signal_id,omitempty"`
}

// Fill is a realized execution reported back by the execution collaborator.
type Fill struct {
	ExecID      string    `json:"exec_id"`
	Time        time.Time `json:"time"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	RealizedPnL float64   `json:"realized_pnl"`
	Position    int       `json:"position"`
}

// RiskEvent records a risk-policy action (cooldown trigger, kill switch)
// for the audit trail.
type RiskEvent struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Reason string    `json:"reason"`
	Value  float64   `json:"value"`
}
