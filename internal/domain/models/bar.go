package models

import "time"

// Bar is one fixed-interval OHLCV record. Bars are immutable once received
// and arrive with strictly increasing timestamps.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// EngineStatus is the per-bar state reported by the orchestrator.
type EngineStatus string

const (
	StatusWaiting    EngineStatus = "WAITING"
	StatusFormingORB EngineStatus = "FORMING_ORB"
	StatusORBFailed  EngineStatus = "ORB_FAILED"
	StatusTrading    EngineStatus = "TRADING"
)
