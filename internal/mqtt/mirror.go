package mqtt

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/dunehd-driver-go/internal/api"
	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/device"
)

const (
	mirrorQueueSize = 256
	// commandTimeout bounds a command received over MQTT, which has no caller deadline.
	commandTimeout = 30 * time.Second

	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// Connection is the broker surface the mirror needs. *Client implements it.
type Connection interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler MessageHandler) error
}

// CommandHandler executes commands received on command topics.
type CommandHandler interface {
	HandleCommand(ctx context.Context, entityID string, req device.CommandRequest) error
}

// CommandResult is published after each MQTT command.
type CommandResult struct {
	RequestID string `json:"request_id"`
	CmdID     string `json:"cmd_id"`
	OK        bool   `json:"ok"`
	Status    int    `json:"status"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

type outgoing struct {
	topic    string
	payload  []byte
	retained bool
}

// Mirror publishes entity state and availability to MQTT and accepts
// commands from it. It is both a device.Publisher and a device.Observer;
// publishing goes through a queue so the device pipeline never waits on
// the broker.
type Mirror struct {
	device.NopObserver

	conn     Connection
	topics   Topics
	commands CommandHandler
	logger   logrus.FieldLogger

	queue     chan outgoing
	done      chan struct{}
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewMirror starts the publish loop. Close drains it.
func NewMirror(conn Connection, topicPrefix string, logger logrus.FieldLogger) *Mirror {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Mirror{
		conn:     conn,
		topics:   Topics{Prefix: topicPrefix},
		logger:   logger.WithField("component", "mqtt_mirror"),
		queue:    make(chan outgoing, mirrorQueueSize),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

// Start routes messages on the command topics to commands. The registry
// publishes through the mirror, so the two are wired in this order.
func (m *Mirror) Start(commands CommandHandler) error {
	m.commands = commands
	return m.conn.Subscribe(m.topics.AllCommands(), m.handleCommand)
}

// PublishAttributes publishes the retained entity state.
func (m *Mirror) PublishAttributes(entityID string, attrs device.Attributes) {
	payload, err := json.Marshal(attrs)
	if err != nil {
		m.logger.WithError(err).Error("encode state")
		return
	}
	m.enqueue(outgoing{topic: m.topics.State(entityID), payload: payload, retained: true})
}

// ConnectionChanged publishes retained availability. Connecting leaves the
// previous value in place.
func (m *Mirror) ConnectionChanged(entityID string, t device.Transition) {
	var availability string
	switch t.To {
	case device.ConnConnected:
		availability = availabilityOnline
	case device.ConnError, device.ConnDisconnected:
		availability = availabilityOffline
	default:
		return
	}
	m.enqueue(outgoing{topic: m.topics.Availability(entityID), payload: []byte(availability), retained: true})
}

// Close stops accepting messages and waits for queued ones to be sent.
func (m *Mirror) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
		<-m.done
	})
}

func (m *Mirror) enqueue(msg outgoing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- msg:
	default:
		m.logger.WithField("topic", msg.topic).Warn("mqtt queue full, message dropped")
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for msg := range m.queue {
		if err := m.conn.Publish(msg.topic, msg.payload, msg.retained); err != nil {
			m.logger.WithError(err).WithField("topic", msg.topic).Warn("mqtt publish failed")
		}
	}
}

func (m *Mirror) handleCommand(topic string, payload []byte) {
	entityID, ok := m.topics.ParseCommand(topic)
	if !ok {
		m.logger.WithField("topic", topic).Debug("ignoring message on unexpected topic")
		return
	}

	requestID := uuid.NewString()
	var req device.CommandRequest
	var err error
	if jsonErr := json.Unmarshal(payload, &req); jsonErr != nil {
		err = apperrors.NewValidationError("invalid command payload", map[string]any{"reason": jsonErr.Error()})
	} else if req.Command == "" {
		err = apperrors.NewValidationError("cmd_id is required", nil)
	} else {
		ctx, cancel := context.WithTimeout(api.WithRequestID(context.Background(), requestID), commandTimeout)
		err = m.commands.HandleCommand(ctx, entityID, req)
		cancel()
	}

	result := CommandResult{RequestID: requestID, CmdID: req.Command, OK: err == nil, Status: http.StatusOK}
	if err != nil {
		appErr := apperrors.EnsureAppError(err)
		result.Status = appErr.StatusCode
		result.Code = string(appErr.Code)
		result.Message = appErr.Message
	}

	encoded, encErr := json.Marshal(result)
	if encErr != nil {
		m.logger.WithError(encErr).Error("encode command result")
		return
	}
	m.enqueue(outgoing{topic: m.topics.CommandResult(entityID), payload: encoded})
}
