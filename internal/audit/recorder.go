package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strefethen/dunehd-driver-go/internal/api"
	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/device"
)

const recorderQueueSize = 256

// Recorder turns device lifecycle notifications into audit events. It is a
// device.Observer; writes happen on a background goroutine so the device
// publish path never waits on SQLite.
type Recorder struct {
	device.NopObserver

	service *Service
	logger  logrus.FieldLogger
	queue   chan WriteEventInput
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	// lastType per entity suppresses repeats such as Error, Connecting, Error.
	lastType map[string]EventType
}

// NewRecorder starts the background writer. Close drains it.
func NewRecorder(service *Service, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Recorder{
		service:  service,
		logger:   logger.WithField("component", "audit_recorder"),
		queue:    make(chan WriteEventInput, recorderQueueSize),
		done:     make(chan struct{}),
		lastType: make(map[string]EventType),
	}
	go r.run()
	return r
}

// ConnectionChanged records Connected, Error and Disconnected transitions.
func (r *Recorder) ConnectionChanged(entityID string, t device.Transition) {
	var eventType EventType
	level := EventLevelInfo
	switch t.To {
	case device.ConnConnected:
		eventType = EventDeviceConnected
	case device.ConnError:
		eventType = EventDeviceError
		level = EventLevelError
	case device.ConnDisconnected:
		eventType = EventDeviceDisconnected
	default:
		return
	}

	r.mu.Lock()
	if r.lastType[entityID] == eventType {
		r.mu.Unlock()
		return
	}
	r.lastType[entityID] = eventType
	r.mu.Unlock()

	input := WriteEventInput{
		Type:     string(eventType),
		Level:    &level,
		EntityID: &entityID,
		Message:  "device " + string(t.To),
		Payload:  map[string]any{"from": string(t.From), "to": string(t.To)},
	}
	if t.Reason != "" {
		input.Payload["reason"] = t.Reason
	}
	r.enqueue(input)
}

// CommandCompleted records failed commands. Validation and unsupported
// command errors are caller mistakes and are not audited.
func (r *Recorder) CommandCompleted(ctx context.Context, entityID, command string, err error, elapsed time.Duration) {
	if err == nil {
		return
	}
	appErr := apperrors.EnsureAppError(err)
	if !auditable(err, appErr) {
		return
	}

	level := EventLevelWarn
	input := WriteEventInput{
		Type:     string(EventCommandFailed),
		Level:    &level,
		EntityID: &entityID,
		CmdID:    &command,
		Message:  appErr.Message,
		Payload: map[string]any{
			"code":        string(appErr.Code),
			"status_code": appErr.StatusCode,
			"elapsed_ms":  elapsed.Milliseconds(),
		},
	}
	if requestID := api.RequestIDFromContext(ctx); requestID != "" {
		input.RequestID = &requestID
	}
	r.enqueue(input)
}

// DeviceConfigured records a device added or replaced through the admin API.
func (r *Recorder) DeviceConfigured(ctx context.Context, entityID, address string) {
	r.recordAdmin(ctx, EventDeviceConfigured, entityID, "device configured", map[string]any{"address": address})
}

// DeviceRemoved records a device deleted through the admin API.
func (r *Recorder) DeviceRemoved(ctx context.Context, entityID string) {
	r.recordAdmin(ctx, EventDeviceRemoved, entityID, "device removed", nil)
}

func (r *Recorder) recordAdmin(ctx context.Context, eventType EventType, entityID, message string, payload map[string]any) {
	input := WriteEventInput{Type: string(eventType), EntityID: &entityID, Message: message, Payload: payload}
	if requestID := api.RequestIDFromContext(ctx); requestID != "" {
		input.RequestID = &requestID
	}
	r.enqueue(input)
}

// Close stops accepting events and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		<-r.done
	})
}

func (r *Recorder) enqueue(input WriteEventInput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- input:
	default:
		r.logger.WithField("type", input.Type).Warn("audit queue full, dropping event")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for input := range r.queue {
		if _, err := r.service.RecordEvent(context.Background(), input); err != nil {
			r.logger.WithError(err).WithField("type", input.Type).Error("failed to write audit event")
		}
	}
}

func auditable(err error, appErr *apperrors.AppError) bool {
	switch appErr.Code {
	case apperrors.ErrorCodeValidationError, apperrors.ErrorCodeCommandNotSupported:
		return false
	}
	return !errors.Is(err, context.Canceled)
}
