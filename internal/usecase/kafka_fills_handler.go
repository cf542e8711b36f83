package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	domrepo "github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
	"github.com/Mengjun74/ibkr-mvp/internal/engine"
	pkgkafka "github.com/Mengjun74/ibkr-mvp/pkg/kafka"
)

// KafkaFillsHandler consumes execution reports from the executor and feeds
// realized results back into the risk ledger.
type KafkaFillsHandler struct {
	topic   string
	orch    *engine.Orchestrator
	metrics domrepo.Metrics

	// exec_id dedupe, reset implicitly at restart. Handle runs on the
	// consumer worker pool, so the map needs its own lock.
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewKafkaFillsHandler(topic string, orch *engine.Orchestrator, metrics domrepo.Metrics) *KafkaFillsHandler {
	return &KafkaFillsHandler{topic: topic, orch: orch, metrics: metrics, seen: make(map[string]struct{})}
}

func (h *KafkaFillsHandler) Topic() string { return h.topic }

// incoming message schema: {exec_id, t, symbol, side, qty, price, pnl, position}
func (h *KafkaFillsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		ExecID   string  `json:"exec_id"`
		T        int64   `json:"t"`
		Symbol   string  `json:"symbol"`
		Side     string  `json:"side"`
		Qty      int     `json:"qty"`
		Price    float64 `json:"price"`
		PnL      float64 `json:"pnl"`
		Position int     `json:"position"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("fills_unmarshal")
		return err
	}
	if m.T > 1e11 { // ms
		m.T = m.T / 1000
	}
	if m.ExecID != "" {
		h.mu.Lock()
		_, dup := h.seen[m.ExecID]
		if !dup {
			h.seen[m.ExecID] = struct{}{}
		}
		h.mu.Unlock()
		if dup {
			// broker feeds redeliver; the ledger must count each fill once
			return nil
		}
	}
	h.metrics.RecordLatency("fill_e2e_seconds", time.Since(time.Unix(m.T, 0)).Seconds())

	h.orch.OnFill(ctx, &models.Fill{
		ExecID:      m.ExecID,
		Time:        time.Unix(m.T, 0).UTC(),
		Symbol:      m.Symbol,
		Side:        m.Side,
		Quantity:    float64(m.Qty),
		Price:       m.Price,
		RealizedPnL: m.PnL,
		Position:    m.Position,
	})
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaFillsHandler)(nil)
