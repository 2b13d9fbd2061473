package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classmeet-api/internal/models"
)

type tickRecorder struct {
	mu    sync.Mutex
	ticks []time.Time
}

func (r *tickRecorder) Tick(ctx context.Context, now time.Time) []models.ClassSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, now)
	return nil
}

func (r *tickRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func TestSweeperTicksImmediatelyAndOnInterval(t *testing.T) {
	recorder := &tickRecorder{}
	sweeper := NewSweeper(recorder, 10*time.Millisecond, nil)
	sweeper.now = func() time.Time { return at(10, 0) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return recorder.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	assert.Equal(t, at(10, 0), recorder.ticks[0])
}

func TestNewSweeperDefaultsInterval(t *testing.T) {
	sweeper := NewSweeper(&tickRecorder{}, 0, nil)
	assert.Equal(t, time.Minute, sweeper.interval)
}

type blockingTicker struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingTicker) Tick(ctx context.Context, now time.Time) []models.ClassSession {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

func TestSweeperStopWaitsForRunningPass(t *testing.T) {
	ticker := &blockingTicker{entered: make(chan struct{}), release: make(chan struct{})}
	stop := NewSweeper(ticker, time.Hour, nil).Start(context.Background())

	select {
	case <-ticker.entered:
	case <-time.After(time.Second):
		t.Fatal("sweeper never ticked")
	}

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a pass was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(ticker.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not return after the pass finished")
	}
}
