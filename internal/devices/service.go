package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/device"
	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
	"github.com/strefethen/dunehd-driver-go/internal/store"
)

// Prober fetches a player's status during setup.
type Prober interface {
	Status(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error)
}

// Store persists device records.
type Store interface {
	Save(ctx context.Context, rec store.Record) (*store.Record, error)
	Get(ctx context.Context, entityID string) (*store.Record, error)
	List(ctx context.Context) ([]store.Record, error)
	Delete(ctx context.Context, entityID string) (bool, error)
}

// EventRecorder is told about configuration changes for auditing.
type EventRecorder interface {
	DeviceConfigured(ctx context.Context, entityID, address string)
	DeviceRemoved(ctx context.Context, entityID string)
}

// Options configures a Service.
type Options struct {
	Store       Store
	Registry    *device.Registry
	Prober      Prober
	Events      EventRecorder
	DefaultPort int
	Logger      logrus.FieldLogger
}

// Service implements device setup and administration.
type Service struct {
	store       Store
	registry    *device.Registry
	prober      Prober
	events      EventRecorder
	defaultPort int
	logger      logrus.FieldLogger
}

// NewService creates a device admin service.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.DefaultPort == 0 {
		opts.DefaultPort = dunehd.DefaultPort
	}
	return &Service{
		store:       opts.Store,
		registry:    opts.Registry,
		prober:      opts.Prober,
		events:      opts.Events,
		defaultPort: opts.DefaultPort,
		logger:      opts.Logger.WithField("component", "devices"),
	}
}

// Probe contacts the player at address and reports what it is.
func (s *Service) Probe(ctx context.Context, address string, username, password string) (*ProbeResult, dunehd.Endpoint, error) {
	ep, err := dunehd.ParseAddress(address, s.defaultPort)
	if err != nil {
		return nil, dunehd.Endpoint{}, apperrors.NewValidationError(err.Error(), map[string]any{"address": address})
	}
	ep.Username, ep.Password = username, password

	status, err := s.prober.Status(ctx, ep)
	if err != nil {
		s.logger.WithError(err).WithField("address", ep.Address()).Warn("device probe failed")
		return nil, ep, probeError(ep, err)
	}

	result := &ProbeResult{
		Address:         ep.Address(),
		ProductID:       status.ProductID,
		ProductName:     status.ProductName,
		SerialNumber:    status.SerialNumber,
		FirmwareVersion: status.FirmwareVersion,
		PlayerState:     string(status.PlayerState),
	}
	if status.ProtocolVersion.Valid {
		result.ProtocolVersion = status.ProtocolVersion.Value
	}
	return result, ep, nil
}

// Add probes the player, stores it keyed by serial number and configures
// it in the registry. Re-adding an existing serial replaces the record.
func (s *Service) Add(ctx context.Context, input AddInput) (*View, error) {
	probe, ep, err := s.Probe(ctx, input.Address, input.Username, input.Password)
	if err != nil {
		return nil, err
	}

	entityID := entityIDFor(probe, ep)
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = probe.ProductName
	}
	if name == "" {
		name = "Dune-HD " + ep.Host
	}

	rec, err := s.store.Save(ctx, store.Record{
		EntityID: entityID,
		Name:     name,
		Host:     ep.Host,
		Port:     ep.Port,
		Username: ep.Username,
		Password: ep.Password,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to store device").WithCause(err)
	}

	s.registry.Configure(rec.Config())
	if s.events != nil {
		s.events.DeviceConfigured(ctx, entityID, ep.Address())
	}
	s.logger.WithFields(logrus.Fields{"entity_id": entityID, "address": ep.Address()}).Info("device configured")

	view := s.view(*rec)
	return &view, nil
}

// List returns every stored device with its live state.
func (s *Service) List(ctx context.Context) ([]View, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to load devices").WithCause(err)
	}
	views := make([]View, 0, len(records))
	for _, rec := range records {
		views = append(views, s.view(rec))
	}
	return views, nil
}

// Get returns one stored device with its live state.
func (s *Service) Get(ctx context.Context, entityID string) (*View, error) {
	rec, err := s.store.Get(ctx, entityID)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to load device").WithCause(err)
	}
	if rec == nil {
		return nil, apperrors.NewNotFoundResource("device", entityID)
	}
	view := s.view(*rec)
	return &view, nil
}

// Remove deletes the stored record and tears the device down.
func (s *Service) Remove(ctx context.Context, entityID string) error {
	deleted, err := s.store.Delete(ctx, entityID)
	if err != nil {
		return apperrors.NewInternalError("Failed to delete device").WithCause(err)
	}
	removed := s.registry.Remove(entityID)
	if !deleted && !removed {
		return apperrors.NewNotFoundResource("device", entityID)
	}
	if s.events != nil {
		s.events.DeviceRemoved(ctx, entityID)
	}
	return nil
}

// Command runs a media-player command against a configured device.
func (s *Service) Command(ctx context.Context, entityID string, req device.CommandRequest) error {
	if strings.TrimSpace(req.Command) == "" {
		return apperrors.NewValidationError("cmd_id is required", nil)
	}
	return s.registry.HandleCommand(ctx, entityID, req)
}

func (s *Service) view(rec store.Record) View {
	view := View{Record: rec}
	dev, ok := s.registry.Get(rec.EntityID)
	if !ok {
		return view
	}
	conn := dev.Connection()
	view.Connection = &conn
	view.Running = dev.Running()
	if attrs, published := dev.Attributes(); published {
		view.Attributes = &attrs
	}
	return view
}

// entityIDFor prefers the serial number so a player keeps its entity
// across address changes.
func entityIDFor(probe *ProbeResult, ep dunehd.Endpoint) string {
	if serial := strings.TrimSpace(probe.SerialNumber); serial != "" {
		return serial
	}
	return "dunehd-" + strings.NewReplacer(".", "-", ":", "-").Replace(ep.Host)
}

func probeError(ep dunehd.Endpoint, err error) error {
	details := map[string]any{"address": ep.Address()}
	var unreachable *dunehd.UnreachableError
	switch {
	case errors.As(err, &unreachable):
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceUnreachable,
			fmt.Sprintf("cannot connect to %s", ep.Address()), 503, details, nil).WithCause(err)
	case dunehd.IsMalformed(err):
		return apperrors.NewAppError(apperrors.ErrorCodeDeviceMalformed,
			"address did not answer like a Dune-HD player", 502, details, nil).WithCause(err)
	}
	return apperrors.NewAppError(apperrors.ErrorCodeDeviceRejected, err.Error(), 502, details, nil).WithCause(err)
}
