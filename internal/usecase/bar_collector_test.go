package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
	mid "github.com/Mengjun74/ibkr-mvp/internal/middleware"
	"github.com/Mengjun74/ibkr-mvp/pkg/logger"
)

// flakyStream simulates a gateway whose first reconnect attempt after a
// stream failure is refused.
type flakyStream struct {
	lock           sync.Mutex
	reconnectCalls int
	readCalls      int
	failReconnects int
	barCh          chan *models.Bar
	errCh          chan error
}

func (s *flakyStream) Connect(context.Context) error   { return nil }
func (s *flakyStream) Subscribe(context.Context) error { return nil }
func (s *flakyStream) Backfill(context.Context) ([]*models.Bar, error) {
	return nil, nil
}

func (s *flakyStream) Read(context.Context) (<-chan *models.Bar, <-chan error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.readCalls++
	s.barCh = make(chan *models.Bar, 8)
	s.errCh = make(chan error, 1)
	return s.barCh, s.errCh
}

func (s *flakyStream) Reconnect(context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.reconnectCalls++
	if s.reconnectCalls <= s.failReconnects {
		return fmt.Errorf("dial refused")
	}
	return nil
}

func (s *flakyStream) Close() error      { return nil }
func (s *flakyStream) IsConnected() bool { return true }

// fail tears down the current read session the way the real client does:
// one error, then both channels close.
func (s *flakyStream) fail(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.errCh <- err
	close(s.errCh)
	close(s.barCh)
}

func (s *flakyStream) counts() (reconnects, reads int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.reconnectCalls, s.readCalls
}

func (s *flakyStream) liveBarCh() chan *models.Bar {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.barCh
}

type recordingCollectorProc struct {
	lock sync.Mutex
	bars []*models.Bar
	seen chan struct{}
}

func (p *recordingCollectorProc) ProcessBar(_ context.Context, b *models.Bar, _ bool) error {
	p.lock.Lock()
	p.bars = append(p.bars, b)
	p.lock.Unlock()
	select {
	case p.seen <- struct{}{}:
	default:
	}
	return nil
}

func testCollectorLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return log
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCollectorRetriesFailedReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &flakyStream{failReconnects: 1}
	proc := &recordingCollectorProc{seen: make(chan struct{}, 1)}
	intake := mid.NewBarIntake(proc, nopMetrics{})
	c := NewBarCollector(testCollectorLogger(t), stream, testOrchestrator(t), intake, nopMetrics{},
		WithRetryBackoff(5*time.Millisecond, 20*time.Millisecond))

	require.NoError(t, c.Start(ctx))
	defer func() { _ = c.Shutdown(context.Background()) }()

	stream.fail(fmt.Errorf("connection reset"))

	// the first reconnect is refused; the collector must keep retrying
	// and re-open the read session
	waitFor(t, 2*time.Second, func() bool {
		reconnects, reads := stream.counts()
		return reconnects >= 2 && reads >= 2
	})

	stream.liveBarCh() <- &models.Bar{
		Symbol:    "MES",
		Timestamp: time.Date(2026, 1, 2, 14, 30, 0, 0, time.UTC),
		Open:      100, High: 100.5, Low: 99.8, Close: 100.2, Volume: 10,
	}

	select {
	case <-proc.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("bar feed was not re-established after reconnect")
	}

	reconnects, reads := stream.counts()
	assert.GreaterOrEqual(t, reconnects, 2)
	assert.GreaterOrEqual(t, reads, 2)
}

func TestCollectorReconnectStopsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// every reconnect attempt fails; cancelling ctx must end the retry loop
	stream := &flakyStream{failReconnects: 1 << 30}
	proc := &recordingCollectorProc{seen: make(chan struct{}, 1)}
	intake := mid.NewBarIntake(proc, nopMetrics{})
	c := NewBarCollector(testCollectorLogger(t), stream, testOrchestrator(t), intake, nopMetrics{},
		WithRetryBackoff(5*time.Millisecond, 20*time.Millisecond))

	require.NoError(t, c.Start(ctx))
	stream.fail(fmt.Errorf("connection reset"))

	waitFor(t, 2*time.Second, func() bool {
		reconnects, _ := stream.counts()
		return reconnects >= 2
	})
	cancel()

	// retries must stop shortly after cancellation
	time.Sleep(50 * time.Millisecond)
	settled, _ := stream.counts()
	time.Sleep(100 * time.Millisecond)
	after, _ := stream.counts()
	assert.LessOrEqual(t, after, settled+1)

	_ = c.Shutdown(context.Background())
}
