package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
)

// EndpointStore is the configuration store the registry loads devices from.
type EndpointStore interface {
	// GetConfig returns ErrUnconfigured when no record exists.
	GetConfig(ctx context.Context, entityID string) (Config, error)
	ListConfigs(ctx context.Context) ([]Config, error)
}

// Registry owns every Device for the lifetime of the process. The
// registry lock guards only the map; device lifecycle calls happen outside it.
type Registry struct {
	store  EndpointStore
	opts   Options
	logger logrus.FieldLogger

	mu      sync.RWMutex
	devices map[string]*Device
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(store EndpointStore, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		store:   store,
		opts:    opts,
		logger:  opts.Logger.WithField("component", "registry"),
		devices: make(map[string]*Device),
	}
}

// LoadAll creates a stopped device for every stored configuration.
func (r *Registry) LoadAll(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	configs, err := r.store.ListConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load device configs: %w", err)
	}
	for _, cfg := range configs {
		r.Configure(cfg)
	}
	r.logger.WithField("count", len(configs)).Info("devices loaded")
	return nil
}

// Configure installs cfg, replacing any existing device with the same id
// wholesale. A replaced device that was running is stopped and the new one
// started in its place.
func (r *Registry) Configure(cfg Config) *Device {
	next := New(cfg, r.opts)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		next.retire()
		return next
	}
	previous := r.devices[cfg.EntityID]
	r.devices[cfg.EntityID] = next
	r.mu.Unlock()

	if previous != nil {
		wasRunning := previous.Running()
		previous.retire()
		if wasRunning {
			next.Start()
		}
		r.logger.WithField("entity_id", cfg.EntityID).Info("device reconfigured")
	}
	return next
}

// Remove stops and forgets a device. It reports whether one existed.
func (r *Registry) Remove(entityID string) bool {
	r.mu.Lock()
	dev, ok := r.devices[entityID]
	delete(r.devices, entityID)
	r.mu.Unlock()

	if ok {
		dev.retire()
		r.logger.WithField("entity_id", entityID).Info("device removed")
	}
	return ok
}

// Get returns the device for entityID, if configured.
func (r *Registry) Get(entityID string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[entityID]
	return dev, ok
}

// Devices returns all devices sorted by entity id.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	devices := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, dev)
	}
	r.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID() < devices[j].ID() })
	return devices
}

// resolve returns the device for entityID, configuring it from the store
// when it is stored but not yet loaded.
func (r *Registry) resolve(ctx context.Context, entityID string) (*Device, error) {
	if dev, ok := r.Get(entityID); ok {
		return dev, nil
	}
	if r.store == nil {
		return nil, ErrUnconfigured
	}
	cfg, err := r.store.GetConfig(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return r.Configure(cfg), nil
}

// ConnectAll starts every device. Used for the hub connect and exit-standby
// events. It does nothing once the registry is shut down.
func (r *Registry) ConnectAll() {
	if r.isClosed() {
		return
	}
	for _, dev := range r.Devices() {
		dev.Start()
	}
}

// DisconnectAll stops every device. Used for the hub disconnect and enter-standby events.
func (r *Registry) DisconnectAll() {
	r.forEachParallel(r.Devices(), (*Device).Stop)
}

// Subscribe starts the devices for the given entities, loading stored
// configurations on demand. Unknown ids are reported but do not stop the rest.
func (r *Registry) Subscribe(ctx context.Context, entityIDs []string) error {
	if r.isClosed() {
		return ErrRegistryClosed
	}
	var errs []error
	for _, id := range entityIDs {
		dev, err := r.resolve(ctx, id)
		if err != nil {
			r.logger.WithField("entity_id", id).WithError(err).Warn("cannot subscribe entity")
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		dev.Start()
	}
	return errors.Join(errs...)
}

// Unsubscribe stops the devices for the given entities.
func (r *Registry) Unsubscribe(entityIDs []string) {
	devices := make([]*Device, 0, len(entityIDs))
	for _, id := range entityIDs {
		if dev, ok := r.Get(id); ok {
			devices = append(devices, dev)
		}
	}
	r.forEachParallel(devices, (*Device).Stop)
}

// HandleCommand routes a hub command to its device.
func (r *Registry) HandleCommand(ctx context.Context, entityID string, req CommandRequest) error {
	dev, err := r.resolve(ctx, entityID)
	if err != nil {
		if errors.Is(err, ErrUnconfigured) {
			return apperrors.NewDeviceNotConfigured(entityID).WithCause(err)
		}
		return apperrors.NewInternalError("failed to load device configuration").WithCause(err)
	}
	return dev.HandleCommand(ctx, req)
}

// Shutdown stops every device and refuses further configuration. It
// returns ctx.Err() if devices are still stopping when ctx ends.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		// Retired devices ignore any Start that races with shutdown.
		r.forEachParallel(r.Devices(), (*Device).retire)
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("registry shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registry) forEachParallel(devices []*Device, fn func(*Device)) {
	var wg sync.WaitGroup
	for _, dev := range devices {
		wg.Add(1)
		go func(dev *Device) {
			defer wg.Done()
			fn(dev)
		}(dev)
	}
	wg.Wait()
}
