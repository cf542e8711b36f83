package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
)

type recordingProc struct {
	mu   sync.Mutex
	bars []*models.Bar
	done chan struct{} // closed once want bars arrived
	want int
}

func newRecordingProc(want int) *recordingProc {
	return &recordingProc{want: want, done: make(chan struct{})}
}

func (p *recordingProc) ProcessBar(_ context.Context, b *models.Bar, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars = append(p.bars, b)
	if len(p.bars) == p.want {
		close(p.done)
	}
	return nil
}

type nopMetrics struct{}

func (nopMetrics) RecordBarProcessed(string)       {}
func (nopMetrics) RecordSignal(string)             {}
func (nopMetrics) RecordDenial(string)             {}
func (nopMetrics) RecordAdvisoryDecision(string)   {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) RecordDailyPnL(float64)          {}
func (nopMetrics) RecordLatency(string, float64)   {}

func validTestBar(minute int) *models.Bar {
	return &models.Bar{
		Symbol:    "MES",
		Timestamp: time.Date(2026, 3, 2, 6, 30+minute, 0, 0, time.UTC),
		Open:      100,
		High:      100.5,
		Low:       99.5,
		Close:     100,
		Volume:    10,
	}
}

func TestEnqueueValidation(t *testing.T) {
	intake := NewBarIntake(newRecordingProc(1), nopMetrics{})
	ctx := context.Background()

	assert.Error(t, intake.Enqueue(ctx, nil))

	b := validTestBar(0)
	b.Symbol = ""
	assert.Error(t, intake.Enqueue(ctx, b))

	b = validTestBar(0)
	b.Timestamp = time.Time{}
	assert.Error(t, intake.Enqueue(ctx, b))

	b = validTestBar(0)
	b.High, b.Low = b.Low, b.High
	assert.Error(t, intake.Enqueue(ctx, b))

	b = validTestBar(0)
	b.Volume = -1
	assert.Error(t, intake.Enqueue(ctx, b))

	assert.NoError(t, intake.Enqueue(ctx, validTestBar(0)))
}

func TestIntakeDrainsInOrder(t *testing.T) {
	proc := newRecordingProc(5)
	intake := NewBarIntake(proc, nopMetrics{}, WithQueueSize(8))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, intake.Enqueue(ctx, validTestBar(i)))
	}
	intake.Start(ctx)
	defer intake.Stop()

	select {
	case <-proc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("intake did not drain")
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	require.Len(t, proc.bars, 5)
	for i := 1; i < len(proc.bars); i++ {
		assert.True(t, proc.bars[i].Timestamp.After(proc.bars[i-1].Timestamp))
	}
}

func TestEnqueueBlocksUntilCancelled(t *testing.T) {
	intake := NewBarIntake(newRecordingProc(1), nopMetrics{}, WithQueueSize(1))
	ctx := context.Background()

	require.NoError(t, intake.Enqueue(ctx, validTestBar(0)))

	// queue full, not started: the second enqueue must block until cancel
	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := intake.Enqueue(cctx, validTestBar(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
