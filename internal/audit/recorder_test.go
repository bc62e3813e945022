package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/dunehd-driver-go/internal/api"
	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/device"
	"github.com/strefethen/dunehd-driver-go/internal/logging"
)

func recordedTypes(t *testing.T, service *Service) []string {
	t.Helper()
	events, _, _, err := service.QueryEvents(context.Background(), EventQueryFilters{})
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	// Newest first; flip to recording order.
	for i := len(events) - 1; i >= 0; i-- {
		types = append(types, events[i].Type)
	}
	return types
}

func TestRecorder_TransitionsAreDeduplicated(t *testing.T) {
	service := newTestService(t)
	recorder := NewRecorder(service, logging.Discard())

	transitions := []device.Transition{
		{From: device.ConnDisconnected, To: device.ConnConnecting},
		{From: device.ConnConnecting, To: device.ConnConnected},
		{From: device.ConnConnected, To: device.ConnError, Reason: "timeout"},
		{From: device.ConnError, To: device.ConnConnecting},
		{From: device.ConnConnecting, To: device.ConnError, Reason: "timeout"},
		{From: device.ConnError, To: device.ConnConnecting},
		{From: device.ConnConnecting, To: device.ConnConnected},
		{From: device.ConnConnected, To: device.ConnDisconnected},
	}
	for _, tr := range transitions {
		recorder.ConnectionChanged("dune-1", tr)
	}
	recorder.Close()

	require.Equal(t, []string{
		string(EventDeviceConnected),
		string(EventDeviceError),
		string(EventDeviceConnected),
		string(EventDeviceDisconnected),
	}, recordedTypes(t, service))

	events, _, _, err := service.QueryEvents(context.Background(), EventQueryFilters{Type: strPtr(string(EventDeviceError))})
	require.NoError(t, err)
	require.Equal(t, EventLevelError, events[0].Level)
	require.Equal(t, "timeout", events[0].Payload["reason"])
}

func TestRecorder_CommandFailures(t *testing.T) {
	service := newTestService(t)
	recorder := NewRecorder(service, logging.Discard())

	ctx := api.WithRequestID(context.Background(), "req-9")
	unreachable := apperrors.NewAppError(apperrors.ErrorCodeDeviceUnreachable, "device unreachable", 503, nil, nil)
	recorder.CommandCompleted(ctx, "dune-1", "play", unreachable, 20*time.Millisecond)
	recorder.CommandCompleted(ctx, "dune-1", "play", nil, time.Millisecond)
	recorder.CommandCompleted(ctx, "dune-1", "warp", apperrors.NewCommandNotSupported("warp"), 0)
	recorder.CommandCompleted(ctx, "dune-1", "volume", apperrors.NewValidationError("bad", nil), 0)
	recorder.CommandCompleted(ctx, "dune-1", "stop", errors.New("boom"), 0)
	recorder.Close()

	events, total, _, err := service.QueryEvents(context.Background(), EventQueryFilters{})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	last := events[1]
	require.Equal(t, string(EventCommandFailed), last.Type)
	require.Equal(t, "play", *last.CmdID)
	require.Equal(t, "req-9", *last.RequestID)
	require.Equal(t, string(apperrors.ErrorCodeDeviceUnreachable), last.Payload["code"])
}

func TestRecorder_AdminEventsAndClose(t *testing.T) {
	service := newTestService(t)
	recorder := NewRecorder(service, logging.Discard())

	recorder.DeviceConfigured(context.Background(), "dune-1", "192.168.1.20:80")
	recorder.DeviceRemoved(context.Background(), "dune-1")
	recorder.Close()
	recorder.Close()

	// Events after Close are ignored.
	recorder.DeviceRemoved(context.Background(), "dune-2")

	require.Equal(t, []string{string(EventDeviceConfigured), string(EventDeviceRemoved)}, recordedTypes(t, service))
}
