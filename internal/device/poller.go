package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ==========================================================================
// Defaults
// ==========================================================================

const (
	// DefaultPollInterval is the interval between status polls.
	DefaultPollInterval = time.Second

	// DefaultRequestTimeout bounds a single poll or command call.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultFailureThreshold is the number of consecutive failures that
	// moves a connected device into Error.
	DefaultFailureThreshold = 3

	// DefaultWakeDelay is the pause between the wake code and the re-poll
	// that confirms a power-on.
	DefaultWakeDelay = 2 * time.Second
)

// PollFunc performs one poll. The context carries the per-poll deadline.
type PollFunc func(ctx context.Context)

// PollerOptions configures a Poller.
type PollerOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	Poll     PollFunc
	// OnPanic is called with the recovered value when Poll panics.
	OnPanic func(recovered any)
	// OnDropped is called when a tick fires while a poll is still running.
	OnDropped func()
	Logger    logrus.FieldLogger
}

// Poller runs Poll on a fixed interval with at most one poll in flight.
// Ticks that fire while a poll is running are dropped, never queued.
type Poller struct {
	interval  time.Duration
	timeout   time.Duration
	poll      PollFunc
	onPanic   func(any)
	onDropped func()
	logger    logrus.FieldLogger

	inFlight atomic.Bool
	started  atomic.Bool

	// mu orders pollWG.Add against Stop.
	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	loopWG  sync.WaitGroup
	pollWG  sync.WaitGroup
}

// NewPoller creates a stopped poller.
func NewPoller(opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Poller{
		interval:  opts.Interval,
		timeout:   opts.Timeout,
		poll:      opts.Poll,
		onPanic:   opts.OnPanic,
		onDropped: opts.OnDropped,
		logger:    opts.Logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the tick loop. The first poll runs immediately.
func (p *Poller) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.loopWG.Add(1)
	go func() {
		defer p.loopWG.Done()
		p.run()
	}()
}

// Stop halts the tick loop and waits for an in-flight poll to finish or
// hit its timeout. Safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.loopWG.Wait()
	p.pollWG.Wait()
}

// Trigger starts a poll now unless one is already running. It reports
// whether a poll was started.
func (p *Poller) Trigger() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}

	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("poll still in flight, dropping tick")
		if p.onDropped != nil {
			p.onDropped()
		}
		return false
	}

	p.pollWG.Add(1)
	go func() {
		defer p.pollWG.Done()
		defer p.inFlight.Store(false)
		p.runOnce()
	}()
	return true
}

// InFlight reports whether a poll is currently running.
func (p *Poller) InFlight() bool {
	return p.inFlight.Load()
}

func (p *Poller) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Trigger()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Trigger()
		}
	}
}

func (p *Poller) runOnce() {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.WithField("panic", fmt.Sprint(recovered)).Error("poll panicked")
			if p.onPanic != nil {
				p.onPanic(recovered)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	p.poll(ctx)
}
