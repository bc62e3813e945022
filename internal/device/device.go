package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
)

// Config identifies one configured player.
type Config struct {
	EntityID string          `json:"entity_id"`
	Name     string          `json:"name"`
	Endpoint dunehd.Endpoint `json:"-"`
}

// Options are shared by every device a Registry creates.
type Options struct {
	Client           Client
	Publisher        Publisher
	Observer         Observer
	Logger           logrus.FieldLogger
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	FailureThreshold int
	WakeDelay        time.Duration
	// Now is used for connection timestamps. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Publisher == nil {
		o.Publisher = Publishers(nil)
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.FailureThreshold < 1 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.WakeDelay < 0 {
		o.WakeDelay = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Device owns the connection state and last published attributes of one
// player. mu is the single serialization point for that state; device
// calls are made without holding it.
type Device struct {
	cfg     Config
	opts    Options
	logger  logrus.FieldLogger
	fileURL FileURLFunc

	// lifeMu serializes Start and Stop and guards retired.
	lifeMu  sync.Mutex
	retired bool

	mu        sync.Mutex
	machine   stateMachine
	last      Attributes
	published bool
	forcePush bool
	poller    *Poller

	// pubMu is taken before mu is released so pushes leave in decision order.
	pubMu sync.Mutex
}

// New creates a stopped device. Options.Client must be set.
func New(cfg Config, opts Options) *Device {
	opts = opts.withDefaults()
	endpoint := cfg.Endpoint
	return &Device{
		cfg:  cfg,
		opts: opts,
		logger: opts.Logger.WithFields(logrus.Fields{
			"entity_id": cfg.EntityID,
			"address":   endpoint.Address(),
		}),
		fileURL: func(path string) string { return dunehd.FileURL(endpoint, path) },
		machine: newStateMachine(opts.FailureThreshold, opts.Now),
	}
}

func (d *Device) ID() string {
	return d.cfg.EntityID
}

func (d *Device) Config() Config {
	return d.cfg
}

// Connection returns a copy of the current connection state.
func (d *Device) Connection() Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine.snapshot()
}

// Attributes returns the last published attributes and whether any were published.
func (d *Device) Attributes() (Attributes, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.published
}

// Running reports whether the poller is active.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.poller != nil
}

// Start moves the device to Connecting and begins polling.
func (d *Device) Start() {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if d.retired {
		return
	}

	d.mu.Lock()
	if d.poller != nil {
		d.mu.Unlock()
		return
	}
	poller := NewPoller(PollerOptions{
		Interval: d.opts.PollInterval,
		Timeout:  d.opts.RequestTimeout,
		Poll:     d.pollOnce,
		OnPanic: func(recovered any) {
			d.applyPoll(nil, &dunehd.UnreachableError{
				Command: dunehd.CommandUIState,
				Err:     fmt.Errorf("poll panicked: %v", recovered),
			})
		},
		OnDropped: func() { d.opts.Observer.PollDropped(d.cfg.EntityID) },
		Logger:    d.logger,
	})
	d.poller = poller
	d.commitLocked(outbox{transitions: d.machine.connect()})

	d.logger.WithField("interval", d.opts.PollInterval.String()).Info("device polling started")
	poller.Start()
}

// Stop halts polling, waits for an in-flight poll, then moves the device
// to Disconnected.
func (d *Device) Stop() {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	poller := d.poller
	d.poller = nil
	d.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}

	d.mu.Lock()
	d.forcePush = false
	d.commitLocked(outbox{transitions: d.machine.teardown()})
	if poller != nil {
		d.logger.Info("device polling stopped")
	}
}

// retire stops the device for good. Start is a no-op afterwards.
func (d *Device) retire() {
	d.lifeMu.Lock()
	d.retired = true
	d.lifeMu.Unlock()
	d.Stop()
}

// PollNow requests an immediate poll. It is dropped if one is running.
func (d *Device) PollNow() bool {
	d.mu.Lock()
	poller := d.poller
	d.mu.Unlock()
	if poller == nil {
		return false
	}
	return poller.Trigger()
}

// HandleCommand translates and executes one hub command. Errors are
// *apperrors.AppError values carrying the hub status code.
func (d *Device) HandleCommand(ctx context.Context, req CommandRequest) error {
	start := time.Now()
	err := commandError(d.cfg.EntityID, req.Command, d.execute(ctx, req))
	elapsed := time.Since(start)

	d.opts.Observer.CommandCompleted(ctx, d.cfg.EntityID, req.Command, err, elapsed)

	entry := d.logger.WithFields(logrus.Fields{"cmd_id": req.Command, "elapsed_ms": elapsed.Milliseconds()})
	if err != nil {
		entry.WithError(err).Warn("command failed")
		return err
	}
	entry.Debug("command completed")
	return nil
}

func (d *Device) execute(ctx context.Context, req CommandRequest) error {
	switch req.Command {
	case CmdOn:
		return d.turnOn(ctx)
	case CmdOff:
		return d.turnOff(ctx)
	}

	call, err := translate(req)
	if err != nil {
		return err
	}
	_, err = d.call(ctx, call)
	return err
}

// turnOn wakes a player that is not known to be connected and only
// reports success once a fresh status confirms it answered.
func (d *Device) turnOn(ctx context.Context) error {
	wasConnected := d.Connection().State == ConnConnected

	if _, err := d.call(ctx, irCall(dunehd.IRPowerOn)); err != nil {
		return err
	}
	if wasConnected {
		return nil
	}

	if err := sleepContext(ctx, d.opts.WakeDelay); err != nil {
		return err
	}

	pollCtx, cancel := context.WithTimeout(ctx, d.opts.RequestTimeout)
	defer cancel()
	status, err := d.opts.Client.UIState(pollCtx, d.cfg.Endpoint)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	status, err = d.applyPoll(status, err)
	if err != nil {
		return err
	}
	if MapStatus(status, d.fileURL).State == StateUnknown {
		return errPowerOnUnconfirmed
	}
	return nil
}

// turnOff sends standby and publishes standby right away; the next poll
// reconciles if the player did not follow.
func (d *Device) turnOff(ctx context.Context) error {
	if _, err := d.call(ctx, func(ctx context.Context, client Client, ep dunehd.Endpoint) (*dunehd.Status, error) {
		return client.Standby(ctx, ep)
	}); err != nil {
		return err
	}

	d.mu.Lock()
	optimistic := Attributes{State: StateStandby, Volume: d.last.Volume, Muted: d.last.Muted}
	d.commitLocked(outbox{push: d.stageLocked(optimistic, false)})
	return nil
}

// call runs one translated request and feeds the outcome to the state
// machine. A failure caused by the caller giving up says nothing about the
// player and is not recorded.
func (d *Device) call(ctx context.Context, fn deviceCall) (*dunehd.Status, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.opts.RequestTimeout)
	defer cancel()

	status, err := fn(callCtx, d.opts.Client, d.cfg.Endpoint)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	d.recordCommandResult(err)
	return status, err
}

func (d *Device) recordCommandResult(err error) {
	d.mu.Lock()
	var out outbox
	switch {
	case err == nil:
		out.transitions = d.machine.succeeded()
		if entered(out.transitions, ConnConnected) {
			// No fresh attributes yet; the next poll carries the forced push.
			d.forcePush = true
		}
	case dunehd.IsUnreachable(err):
		out.transitions = d.machine.unreachable(err.Error())
		out.push = d.errorPushLocked(out.transitions)
	case dunehd.IsMalformed(err):
		out.transitions = d.machine.failed(err.Error())
		out.push = d.errorPushLocked(out.transitions)
	}
	// Rejected: the player answered, so the connection is unaffected.
	needPoll := entered(out.transitions, ConnConnected)
	d.commitLocked(out)

	if needPoll {
		d.PollNow()
	}
}

func (d *Device) pollOnce(ctx context.Context) {
	d.mu.Lock()
	d.commitLocked(outbox{transitions: d.machine.pollAttempt()})

	start := time.Now()
	status, err := d.opts.Client.UIState(ctx, d.cfg.Endpoint)
	d.opts.Observer.PollCompleted(d.cfg.EntityID, err, time.Since(start))
	if err != nil {
		d.logger.WithError(err).Debug("poll failed")
	}
	d.applyPoll(status, err)
}

// applyPoll folds one status fetch into the state machine and attributes.
// A rejection that still carried a full status counts as a response.
func (d *Device) applyPoll(status *dunehd.Status, err error) (*dunehd.Status, error) {
	var rejected *dunehd.RejectedError
	if errors.As(err, &rejected) && rejected.Status != nil && rejected.Status.PlayerState != "" {
		status, err = rejected.Status, nil
	}

	d.mu.Lock()
	var out outbox
	if err != nil {
		out.transitions = d.machine.failed(err.Error())
		out.push = d.errorPushLocked(out.transitions)
	} else {
		out.transitions = d.machine.succeeded()
		force := d.forcePush || entered(out.transitions, ConnConnected)
		d.forcePush = false
		out.push = d.stageLocked(MapStatus(status, d.fileURL), force)
	}
	d.commitLocked(out)
	return status, err
}

// outbox collects what a locked decision wants published.
type outbox struct {
	transitions []Transition
	push        *Attributes
}

// errorPushLocked stages the Error attributes if transitions entered Error.
func (d *Device) errorPushLocked(transitions []Transition) *Attributes {
	if !entered(transitions, ConnError) {
		return nil
	}
	return d.stageLocked(errorAttributes(d.last, d.published), false)
}

// stageLocked records attrs as published and returns them, or returns nil
// when the push is redundant. Nothing is published while disconnected.
func (d *Device) stageLocked(attrs Attributes, force bool) *Attributes {
	if d.machine.state == ConnDisconnected {
		return nil
	}
	if !force && d.published && attrs == d.last {
		return nil
	}
	d.last = attrs
	d.published = true
	return &attrs
}

// commitLocked releases mu and delivers out. pubMu is acquired first so
// two decisions can never be delivered out of order.
func (d *Device) commitLocked(out outbox) {
	d.pubMu.Lock()
	d.mu.Unlock()
	defer d.pubMu.Unlock()

	for _, t := range out.transitions {
		entry := d.logger.WithFields(logrus.Fields{"from": t.From, "to": t.To})
		if t.To == ConnError {
			entry.WithField("reason", t.Reason).Warn("device connection lost")
		} else {
			entry.Info("device connection state changed")
		}
		d.opts.Observer.ConnectionChanged(d.cfg.EntityID, t)
	}
	if out.push != nil {
		d.opts.Publisher.PublishAttributes(d.cfg.EntityID, *out.push)
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
