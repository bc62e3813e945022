package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/dunehd-driver-go/internal/api"
	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/device"
	"github.com/strefethen/dunehd-driver-go/internal/logging"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakeConnection struct {
	mu        sync.Mutex
	messages  []published
	handlers  map[string]MessageHandler
	publishFn func(topic string) error
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{handlers: map[string]MessageHandler{}}
}

func (f *fakeConnection) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishFn != nil {
		if err := f.publishFn(topic); err != nil {
			return err
		}
	}
	f.messages = append(f.messages, published{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (f *fakeConnection) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeConnection) Messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

func (f *fakeConnection) deliver(topic string, payload string) {
	f.mu.Lock()
	handler := f.handlers["dunehd/+/command"]
	f.mu.Unlock()
	handler(topic, []byte(payload))
}

type fakeCommands struct {
	mu        sync.Mutex
	entityID  string
	req       device.CommandRequest
	requestID string
	err       error
}

func (f *fakeCommands) HandleCommand(ctx context.Context, entityID string, req device.CommandRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityID = entityID
	f.req = req
	f.requestID = api.RequestIDFromContext(ctx)
	return f.err
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "home/dune"}
	require.Equal(t, "home/dune/dune-1/state", topics.State("dune-1"))
	require.Equal(t, "home/dune/dune-1/availability", topics.Availability("dune-1"))
	require.Equal(t, "home/dune/+/command", topics.AllCommands())
	require.Equal(t, "home/dune/dune-1/command/result", topics.CommandResult("dune-1"))
	require.Equal(t, "home/dune/driver/status", topics.DriverStatus())

	id, ok := topics.ParseCommand("home/dune/dune-1/command")
	require.True(t, ok)
	require.Equal(t, "dune-1", id)

	for _, topic := range []string{"home/dune/dune-1/state", "other/dune-1/command", "home/dune//command", "home/dune/a/b/command"} {
		_, ok := topics.ParseCommand(topic)
		require.False(t, ok, topic)
	}
}

func TestMirrorPublishesStateAndAvailability(t *testing.T) {
	conn := newFakeConnection()
	mirror := NewMirror(conn, "dunehd", logging.Discard())

	mirror.ConnectionChanged("dune-1", device.Transition{From: device.ConnDisconnected, To: device.ConnConnecting})
	mirror.ConnectionChanged("dune-1", device.Transition{From: device.ConnConnecting, To: device.ConnConnected})
	mirror.PublishAttributes("dune-1", device.Attributes{State: device.StatePlaying, Title: "Big Buck Bunny", Volume: 40})
	mirror.ConnectionChanged("dune-1", device.Transition{From: device.ConnConnected, To: device.ConnError, Reason: "timeout"})
	mirror.Close()

	messages := conn.Messages()
	require.Len(t, messages, 3)
	require.Equal(t, published{topic: "dunehd/dune-1/availability", payload: "online", retained: true}, messages[0])
	require.Equal(t, "dunehd/dune-1/state", messages[1].topic)
	require.True(t, messages[1].retained)
	require.JSONEq(t, `{"state":"playing","media_title":"Big Buck Bunny","media_image_url":"","media_duration":0,"media_position":0,"media_type":"","volume":40,"muted":false}`, messages[1].payload)
	require.Equal(t, published{topic: "dunehd/dune-1/availability", payload: "offline", retained: true}, messages[2])
}

func TestMirrorRoutesCommands(t *testing.T) {
	conn := newFakeConnection()
	commands := &fakeCommands{}
	mirror := NewMirror(conn, "dunehd", logging.Discard())
	require.NoError(t, mirror.Start(commands))

	conn.deliver("dunehd/dune-1/command", `{"cmd_id":"volume","params":{"volume":30}}`)
	require.Eventually(t, func() bool { return len(conn.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	commands.mu.Lock()
	require.Equal(t, "dune-1", commands.entityID)
	require.Equal(t, "volume", commands.req.Command)
	require.EqualValues(t, 30, commands.req.Params["volume"])
	require.NotEmpty(t, commands.requestID)
	commands.mu.Unlock()

	msg := conn.Messages()[0]
	require.Equal(t, "dunehd/dune-1/command/result", msg.topic)
	require.False(t, msg.retained)

	var result CommandResult
	require.NoError(t, json.Unmarshal([]byte(msg.payload), &result))
	require.True(t, result.OK)
	require.Equal(t, 200, result.Status)
	mirror.Close()
}

func TestMirrorReportsCommandErrors(t *testing.T) {
	conn := newFakeConnection()
	commands := &fakeCommands{err: apperrors.NewCommandNotSupported("warp")}
	mirror := NewMirror(conn, "dunehd", logging.Discard())
	require.NoError(t, mirror.Start(commands))

	conn.deliver("dunehd/dune-1/command", `{"cmd_id":"warp"}`)
	conn.deliver("dunehd/dune-1/command", `not json`)
	mirror.Close()

	messages := conn.Messages()
	require.Len(t, messages, 2)

	var unsupported, invalid CommandResult
	require.NoError(t, json.Unmarshal([]byte(messages[0].payload), &unsupported))
	require.NoError(t, json.Unmarshal([]byte(messages[1].payload), &invalid))
	require.False(t, unsupported.OK)
	require.Equal(t, 501, unsupported.Status)
	require.Equal(t, "COMMAND_NOT_SUPPORTED", unsupported.Code)
	require.Equal(t, 400, invalid.Status)
	require.Equal(t, "VALIDATION_ERROR", invalid.Code)
}

func TestMirrorKeepsGoingAfterPublishFailure(t *testing.T) {
	conn := newFakeConnection()
	conn.publishFn = func(topic string) error {
		if topic == "dunehd/bad/state" {
			return ErrNotConnected
		}
		return nil
	}
	mirror := NewMirror(conn, "dunehd", logging.Discard())
	mirror.PublishAttributes("bad", device.Attributes{State: device.StateOn})
	mirror.PublishAttributes("good", device.Attributes{State: device.StateOn})
	mirror.Close()
	mirror.Close()

	messages := conn.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "dunehd/good/state", messages[0].topic)

	mirror.PublishAttributes("late", device.Attributes{State: device.StateOn})
	require.Len(t, conn.Messages(), 1)
}
