package device

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/dunehd-driver-go/internal/logging"
)

func TestPollerRunsFirstPollImmediately(t *testing.T) {
	polled := make(chan struct{}, 1)
	p := NewPoller(PollerOptions{
		Interval: time.Hour,
		Poll:     func(ctx context.Context) { polled <- struct{}{} },
		Logger:   logging.Discard(),
	})
	p.Start()
	defer p.Stop()

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("first poll did not run")
	}
}

func TestPollerDropsOverlappingTicks(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var polls, dropped atomic.Int32

	p := NewPoller(PollerOptions{
		Interval: time.Hour,
		Poll: func(ctx context.Context) {
			if polls.Add(1) == 1 {
				close(started)
			}
			<-release
		},
		OnDropped: func() { dropped.Add(1) },
		Logger:    logging.Discard(),
	})
	p.Start()
	<-started

	require.True(t, p.InFlight())
	require.False(t, p.Trigger())
	require.False(t, p.Trigger())
	require.Equal(t, int32(2), dropped.Load())

	close(release)
	p.Stop()
	require.Equal(t, int32(1), polls.Load())
	require.False(t, p.InFlight())
}

func TestPollerStopWaitsForInFlightPoll(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	p := NewPoller(PollerOptions{
		Interval: time.Hour,
		Poll: func(ctx context.Context) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
		},
		Logger: logging.Discard(),
	})
	p.Start()
	<-started
	p.Stop()

	require.True(t, finished.Load())
	require.False(t, p.Trigger())
}

func TestPollerPollContextHasTimeout(t *testing.T) {
	done := make(chan error, 1)
	p := NewPoller(PollerOptions{
		Interval: time.Hour,
		Timeout:  20 * time.Millisecond,
		Poll: func(ctx context.Context) {
			<-ctx.Done()
			done <- ctx.Err()
		},
		Logger: logging.Discard(),
	})
	p.Start()
	defer p.Stop()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("poll context never expired")
	}
}

func TestPollerRecoversPanics(t *testing.T) {
	recovered := make(chan any, 1)
	p := NewPoller(PollerOptions{
		Interval: time.Hour,
		Poll:     func(ctx context.Context) { panic("boom") },
		OnPanic:  func(v any) { recovered <- v },
		Logger:   logging.Discard(),
	})
	p.Start()

	select {
	case v := <-recovered:
		require.Equal(t, "boom", v)
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not reported")
	}

	p.Stop()
	require.False(t, p.InFlight())
}

func TestPollerTicks(t *testing.T) {
	var polls atomic.Int32
	p := NewPoller(PollerOptions{
		Interval: 5 * time.Millisecond,
		Poll:     func(ctx context.Context) { polls.Add(1) },
		Logger:   logging.Discard(),
	})
	p.Start()
	require.Eventually(t, func() bool { return polls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	after := polls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, polls.Load())
}

func TestPollerStopIsIdempotent(t *testing.T) {
	p := NewPoller(PollerOptions{Interval: time.Hour, Poll: func(context.Context) {}, Logger: logging.Discard()})
	p.Start()
	p.Stop()
	p.Stop()
}
