package middleware

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	domrepo "github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
)

// Proc is the minimal processor interface the intake needs.
type Proc interface {
	ProcessBar(ctx context.Context, b *models.Bar, replay bool) error
}

// BarIntake sits between the WebSocket reader and the engine. It validates
// frames and decouples the reader from the decision path through a bounded
// queue drained by a single worker, so a slow advisory call never stalls the
// socket. Exactly one worker: bar order must be preserved.
type BarIntake struct {
	proc    Proc
	metrics domrepo.Metrics
	queue   chan *models.Bar
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

type IntakeOption func(*BarIntake)

// WithQueueSize sets the intake queue capacity.
func WithQueueSize(n int) IntakeOption {
	return func(p *BarIntake) {
		if n > 0 {
			p.queue = make(chan *models.Bar, n)
		}
	}
}

func NewBarIntake(proc Proc, metrics domrepo.Metrics, opts ...IntakeOption) *BarIntake {
	p := &BarIntake{
		proc:    proc,
		metrics: metrics,
		queue:   make(chan *models.Bar, 256),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the single drain worker.
func (p *BarIntake) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case b := <-p.queue:
				if b == nil {
					continue
				}
				if err := p.proc.ProcessBar(ctx, b, false); err != nil {
					// engine halt errors are expected after an invariant
					// violation; the worker keeps draining so the halt can
					// clear on the next session day
					p.metrics.RecordError("intake_process")
				}
			}
		}
	}()
}

// Stop stops the drain worker and waits for it to finish the current bar.
func (p *BarIntake) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	p.wg.Wait()
}

// Enqueue validates the bar and queues it for processing. Bars are never
// dropped: the call blocks when the queue is full, pushing backpressure up
// to the socket reader.
func (p *BarIntake) Enqueue(ctx context.Context, b *models.Bar) error {
	if err := validateBar(b); err != nil {
		p.metrics.RecordError("intake_validate")
		return err
	}
	select {
	case p.queue <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateBar(b *models.Bar) error {
	if b == nil {
		return fmt.Errorf("bar nil")
	}
	if b.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("timestamp zero")
	}
	if b.High < b.Low {
		return fmt.Errorf("high below low")
	}
	if b.Volume < 0 {
		return fmt.Errorf("negative volume")
	}
	return nil
}
