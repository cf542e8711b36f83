package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	drepo "github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
	"github.com/Mengjun74/ibkr-mvp/internal/engine"
	mid "github.com/Mengjun74/ibkr-mvp/internal/middleware"
	"github.com/Mengjun74/ibkr-mvp/pkg/logger"
)

// BarCollector owns the market-data side of the engine: it connects the
// gateway stream, replays backfilled history to warm the indicator buffer,
// then feeds live bars through the intake.
type BarCollector struct {
	log     *logger.Logger
	stream  drepo.BarStream
	orch    *engine.Orchestrator
	intake  *mid.BarIntake
	metrics drepo.Metrics

	retryBase time.Duration
	retryCap  time.Duration
}

type CollectorOption func(*BarCollector)

// WithRetryBackoff sets the initial and maximum delay between reconnect
// attempts after a stream failure.
func WithRetryBackoff(base, max time.Duration) CollectorOption {
	return func(c *BarCollector) {
		if base > 0 {
			c.retryBase = base
		}
		if max > 0 {
			c.retryCap = max
		}
	}
}

func NewBarCollector(log *logger.Logger, stream drepo.BarStream, orch *engine.Orchestrator, intake *mid.BarIntake, metrics drepo.Metrics, opts ...CollectorOption) *BarCollector {
	c := &BarCollector{
		log:       log,
		stream:    stream,
		orch:      orch,
		intake:    intake,
		metrics:   metrics,
		retryBase: time.Second,
		retryCap:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConnected reports gateway stream health for the ops surface.
func (c *BarCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *BarCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return fmt.Errorf("collector start: %w", err)
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return fmt.Errorf("collector subscribe: %w", err)
	}

	// warm-up replay: backfilled bars update indicators, range, and day
	// state but never generate orders
	history, err := c.stream.Backfill(ctx)
	if err != nil {
		c.metrics.RecordError("backfill")
		c.log.Warn("backfill unavailable, starting cold", logger.Error(err))
	}
	for _, b := range history {
		if err := c.orch.ProcessBar(ctx, b, true); err != nil {
			c.log.Warn("backfill bar rejected", logger.Error(err),
				logger.Time("bar", b.Timestamp))
		}
	}
	if len(history) > 0 {
		c.log.Info("warm-up replay complete", logger.Int("bars", len(history)))
	}

	c.intake.Start(ctx)
	barCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, barCh, errCh)
	return nil
}

func (c *BarCollector) consume(ctx context.Context, barCh <-chan *models.Bar, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			c.metrics.RecordError("stream")
			c.log.Warn("stream error, reconnecting", logger.Error(err))
			if !c.reconnect(ctx) {
				return
			}
			barCh, errCh = c.stream.Read(ctx)
		case b, ok := <-barCh:
			if !ok {
				if errCh == nil {
					// reader tore down without surfacing an error; bring
					// the stream back rather than abandoning the feed
					if !c.reconnect(ctx) {
						return
					}
					barCh, errCh = c.stream.Read(ctx)
					continue
				}
				barCh = nil
				continue
			}
			if b == nil {
				continue
			}
			if err := c.intake.Enqueue(ctx, b); err != nil {
				c.log.Warn("bar rejected at intake", logger.Error(err))
			}
		}
	}
}

// reconnect retries the gateway dial with exponential backoff until it
// succeeds. A single failed dial must not orphan the bar feed; the engine
// has no input without it. Returns false only when ctx ends first.
func (c *BarCollector) reconnect(ctx context.Context) bool {
	backoff := c.retryBase
	for {
		if ctx.Err() != nil {
			return false
		}
		err := c.stream.Reconnect(ctx)
		if err == nil {
			c.log.Info("stream reconnected")
			return true
		}
		c.metrics.RecordError("reconnect")
		c.log.Error("reconnect failed, retrying", logger.Error(err),
			logger.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff < c.retryCap {
			backoff *= 2
			if backoff > c.retryCap {
				backoff = c.retryCap
			}
		}
	}
}

// Shutdown stops intake and closes the stream.
func (c *BarCollector) Shutdown(ctx context.Context) error {
	c.intake.Stop()
	return c.stream.Close()
}
