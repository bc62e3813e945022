package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/dunehd-driver-go/internal/api"
	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/device"
)

// DefaultQueueSize is the per-session outbound buffer.
const DefaultQueueSize = 64

// Registry is the part of device.Registry the hub drives.
type Registry interface {
	Devices() []*device.Device
	Get(entityID string) (*device.Device, bool)
	Subscribe(ctx context.Context, entityIDs []string) error
	Unsubscribe(entityIDs []string)
	ConnectAll()
	DisconnectAll()
	HandleCommand(ctx context.Context, entityID string, req device.CommandRequest) error
}

// DriverInfo is reported by get_driver_version.
type DriverInfo struct {
	ID      string
	Name    string
	Version string
}

// Options configures a Hub.
type Options struct {
	Info DriverInfo
	// Authenticate runs before the upgrade. Nil leaves the socket open.
	Authenticate func(r *http.Request) error
	QueueSize    int
	Logger       logrus.FieldLogger
}

// Hub serves the integration WebSocket. It is the device.Publisher for
// entity changes and observes connection changes for device_state events.
type Hub struct {
	device.NopObserver

	registry Registry
	opts     Options
	logger   logrus.FieldLogger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	state    DeviceState
	closed   bool

	// lifecycle carries connect/disconnect work to a single worker so the
	// registry sees hub events in arrival order.
	lifecycle     chan func()
	stopLifecycle chan struct{}
	lifecycleDone chan struct{}
	stopOnce      sync.Once
}

// lifecycleQueueSize bounds pending hub lifecycle events; senders block when full.
const lifecycleQueueSize = 16

// New creates a hub. SetRegistry must be called before serving; the
// registry needs the hub as its publisher, so the two are built in turn.
func New(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	h := &Hub{
		opts:   opts,
		logger: opts.Logger.WithField("component", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The remote connects from the local network with no Origin header.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		sessions:      make(map[*session]struct{}),
		state:         DeviceStateDisconnected,
		lifecycle:     make(chan func(), lifecycleQueueSize),
		stopLifecycle: make(chan struct{}),
		lifecycleDone: make(chan struct{}),
	}
	go h.runLifecycle()
	return h
}

// runLifecycle executes queued registry lifecycle calls one at a time.
func (h *Hub) runLifecycle() {
	defer close(h.lifecycleDone)
	for {
		select {
		case <-h.stopLifecycle:
			return
		case fn := <-h.lifecycle:
			fn()
		}
	}
}

// enqueueLifecycle queues fn behind earlier lifecycle events. It reports
// false once the hub is shut down.
func (h *Hub) enqueueLifecycle(fn func()) bool {
	select {
	case <-h.stopLifecycle:
		return false
	default:
	}
	select {
	case h.lifecycle <- fn:
		return true
	case <-h.stopLifecycle:
		return false
	}
}

func (h *Hub) SetRegistry(registry Registry) {
	h.registry = registry
}

// DeviceState returns the state last reported to the hub.
func (h *Hub) DeviceState() DeviceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.opts.Authenticate != nil {
		if err := h.opts.Authenticate(r); err != nil {
			api.WriteError(w, r, err)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("hub upgrade failed")
		return
	}

	s := newSession(uuid.NewString(), conn, h.opts.QueueSize, h.logger)
	if !h.addSession(s) {
		s.close()
		go s.writePump()
		return
	}
	s.logger.WithField("remote_addr", r.RemoteAddr).Info("hub session opened")

	go s.writePump()
	s.readPump(h.handleFrame)

	h.removeSession(s)
	s.logger.Info("hub session closed")
}

// PublishAttributes sends entity_change to every session subscribed to entityID.
func (h *Hub) PublishAttributes(entityID string, attrs device.Attributes) {
	payload, err := json.Marshal(event(EventEntityChange, CatEntity, entityChangeData{
		EntityType: entityTypeMediaPlayer,
		EntityID:   entityID,
		Attributes: entityAttributes(attrs),
	}))
	if err != nil {
		h.logger.WithError(err).Error("encode entity_change")
		return
	}
	for _, s := range h.snapshot() {
		if s.subscribed(entityID) {
			h.deliver(s, payload)
		}
	}
}

// ConnectionChanged reports the newest device connection state to every
// session. With several players the last transition wins.
func (h *Hub) ConnectionChanged(entityID string, t device.Transition) {
	h.setDeviceState(deviceStateFor(t.To))
}

// Shutdown closes every session. Sessions opened afterwards are refused.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}

	h.stopOnce.Do(func() { close(h.stopLifecycle) })
	<-h.lifecycleDone
}

// setDeviceState records state and broadcasts it when it changed.
func (h *Hub) setDeviceState(state DeviceState) {
	h.mu.Lock()
	changed := h.state != state
	h.state = state
	h.mu.Unlock()
	if !changed {
		return
	}
	h.broadcast(event(EventDeviceState, CatDevice, deviceStateData{State: state}))
}

func (h *Hub) broadcast(msg outbound) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("encode hub event")
		return
	}
	for _, s := range h.snapshot() {
		h.deliver(s, payload)
	}
}

func (h *Hub) reply(s *session, msg outbound) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("encode hub response")
		return
	}
	h.deliver(s, payload)
}

func (h *Hub) deliver(s *session, payload []byte) {
	if !s.enqueue(payload) {
		s.logger.Warn("hub send queue full, message dropped")
	}
}

func (h *Hub) addSession(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Hub) removeSession(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	s.close()
}

func (h *Hub) snapshot() []*session {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (h *Hub) handleFrame(s *session, payload []byte) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.WithError(err).Warn("invalid hub frame")
		return
	}

	switch msg.Kind {
	case KindRequest:
		if msg.Msg == MsgEntityCommand {
			// Commands wait on the player; keep reading meanwhile.
			go h.handleRequest(s, msg)
			return
		}
		h.handleRequest(s, msg)
	case KindEvent:
		h.handleEvent(s, msg)
	default:
		s.logger.WithField("kind", msg.Kind).Debug("ignoring hub frame")
	}
}

func (h *Hub) handleEvent(s *session, msg Message) {
	s.logger.WithField("event", msg.Msg).Debug("hub event")
	// Stopping waits for in-flight polls, so the work runs off the read
	// pump on the lifecycle worker.
	registry := h.registry
	switch msg.Msg {
	case EventConnect:
		h.setDeviceState(DeviceStateConnected)
		h.enqueueLifecycle(registry.ConnectAll)
	case EventExitStandby:
		h.enqueueLifecycle(registry.ConnectAll)
	case EventDisconnect, EventEnterStandby:
		h.enqueueLifecycle(registry.DisconnectAll)
	}
}

func (h *Hub) handleRequest(s *session, msg Message) {
	switch msg.Msg {
	case MsgGetDriverVersion:
		h.reply(s, response(msg.ID, http.StatusOK, "driver_version", driverVersionData{
			Name:    h.opts.Info.Name,
			Version: map[string]string{"driver": h.opts.Info.Version},
		}))

	case MsgGetDeviceState:
		h.reply(s, response(msg.ID, http.StatusOK, EventDeviceState, deviceStateData{State: h.DeviceState()}))

	case MsgGetAvailableEntities:
		devices := h.registry.Devices()
		entities := make([]availableEntity, 0, len(devices))
		for _, dev := range devices {
			entities = append(entities, describeEntity(dev.Config()))
		}
		h.reply(s, response(msg.ID, http.StatusOK, "available_entities",
			map[string]any{"available_entities": entities}))

	case MsgGetEntityStates:
		devices := h.registry.Devices()
		states := make([]entityChangeData, 0, len(devices))
		for _, dev := range devices {
			states = append(states, entityChangeData{
				EntityType: entityTypeMediaPlayer,
				EntityID:   dev.ID(),
				Attributes: currentAttributes(dev),
			})
		}
		h.reply(s, response(msg.ID, http.StatusOK, "entity_states", states))

	case MsgSubscribeEvents:
		ids, err := h.entityIDs(msg)
		if err != nil {
			h.replyError(s, msg, err)
			return
		}
		s.subscribe(ids)
		if err := h.registry.Subscribe(s.ctx, ids); err != nil {
			s.logger.WithError(err).Warn("some entities could not be subscribed")
		}
		h.reply(s, response(msg.ID, http.StatusOK, "result", nil))

	case MsgUnsubscribeEvents:
		ids, err := h.entityIDs(msg)
		if err != nil {
			h.replyError(s, msg, err)
			return
		}
		s.unsubscribe(ids)
		h.registry.Unsubscribe(ids)
		h.reply(s, response(msg.ID, http.StatusOK, "result", nil))

	case MsgEntityCommand:
		h.entityCommand(s, msg)

	default:
		h.replyError(s, msg, apperrors.NewAppError(apperrors.ErrorCodeNotFound,
			"unknown request: "+msg.Msg, http.StatusNotFound, nil, nil))
	}
}

// entityIDs decodes a subscription request. An empty list means every
// configured entity.
func (h *Hub) entityIDs(msg Message) ([]string, error) {
	var data entityIDsData
	if len(msg.MsgData) > 0 {
		if err := json.Unmarshal(msg.MsgData, &data); err != nil {
			return nil, apperrors.NewValidationError("invalid msg_data", map[string]any{"reason": err.Error()})
		}
	}
	if len(data.EntityIDs) > 0 {
		return data.EntityIDs, nil
	}
	devices := h.registry.Devices()
	ids := make([]string, 0, len(devices))
	for _, dev := range devices {
		ids = append(ids, dev.ID())
	}
	return ids, nil
}

func (h *Hub) entityCommand(s *session, msg Message) {
	var data entityCommandData
	if err := json.Unmarshal(msg.MsgData, &data); err != nil {
		h.replyError(s, msg, apperrors.NewValidationError("invalid msg_data", map[string]any{"reason": err.Error()}))
		return
	}
	if data.EntityID == "" || data.CmdID == "" {
		h.replyError(s, msg, apperrors.NewValidationError("entity_id and cmd_id are required", nil))
		return
	}

	ctx := api.WithRequestID(s.ctx, uuid.NewString())
	err := h.registry.HandleCommand(ctx, data.EntityID, device.CommandRequest{Command: data.CmdID, Params: data.Params})
	if err != nil {
		h.replyError(s, msg, err)
		return
	}
	h.reply(s, response(msg.ID, http.StatusOK, "result", nil))
}

func (h *Hub) replyError(s *session, msg Message, err error) {
	if errors.Is(err, context.Canceled) {
		// The session is gone.
		return
	}
	appErr := apperrors.EnsureAppError(err)
	h.reply(s, response(msg.ID, appErr.StatusCode, "result", errorData{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	}))
}
