package repository

import (
	"context"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	domrepo "github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
	pkgkafka "github.com/Mengjun74/ibkr-mvp/pkg/kafka"
)

// KafkaSignalPublisher emits approved signals on the signals topic. The
// message key is the signal id so the executor can dedupe replays; the
// payload carries everything the executor needs to place the bracket.
type KafkaSignalPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaSignalPublisher(producer *pkgkafka.Producer, topic string) domrepo.SignalPublisher {
	return &KafkaSignalPublisher{producer: producer, topic: topic}
}

func (p *KafkaSignalPublisher) Publish(ctx context.Context, s *models.CandidateSignal) error {
	payload := map[string]interface{}{
		"id":              s.ID,
		"ts":              s.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		"symbol":          s.Symbol,
		"direction":       string(s.Direction),
		"entry_price":     s.EntryPrice,
		"stop_distance":   s.StopDistance,
		"target_distance": s.TargetDistance,
		"orb_high":        s.ORBHigh,
		"orb_low":         s.ORBLow,
		"window_start":    s.WindowStart,
	}
	if s.Advisory != nil {
		payload["advisory"] = map[string]interface{}{
			"decision":   string(s.Advisory.Decision),
			"rationale":  s.Advisory.Rationale,
			"confidence": s.Advisory.Confidence,
		}
	}
	return p.producer.Publish(ctx, p.topic, []byte(s.ID), payload)
}

func (p *KafkaSignalPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
