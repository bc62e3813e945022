package system

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/dunehd-driver-go/internal/db"
	"github.com/strefethen/dunehd-driver-go/internal/device"
	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
	"github.com/strefethen/dunehd-driver-go/internal/hub"
	"github.com/strefethen/dunehd-driver-go/internal/logging"
)

var errOffline = errors.New("connection refused")

// offlineClient fails every request as unreachable.
type offlineClient struct{}

func (offlineClient) fail(cmd dunehd.Command) (*dunehd.Status, error) {
	return nil, &dunehd.UnreachableError{Command: cmd, Err: errOffline}
}

func (c offlineClient) UIState(context.Context, dunehd.Endpoint) (*dunehd.Status, error) {
	return c.fail(dunehd.CommandUIState)
}

func (c offlineClient) SendIRCode(context.Context, dunehd.Endpoint, dunehd.IRCode) (*dunehd.Status, error) {
	return c.fail(dunehd.CommandIRCode)
}

func (c offlineClient) Standby(context.Context, dunehd.Endpoint) (*dunehd.Status, error) {
	return c.fail(dunehd.CommandStandby)
}

func (c offlineClient) MainScreen(context.Context, dunehd.Endpoint) (*dunehd.Status, error) {
	return c.fail(dunehd.CommandMainScreen)
}

func (c offlineClient) BlackScreen(context.Context, dunehd.Endpoint) (*dunehd.Status, error) {
	return c.fail(dunehd.CommandBlackScreen)
}

func (c offlineClient) SetVolume(context.Context, dunehd.Endpoint, int) (*dunehd.Status, error) {
	return c.fail(dunehd.CommandSetPlaybackState)
}

func (c offlineClient) SetMute(context.Context, dunehd.Endpoint, bool) (*dunehd.Status, error) {
	return c.fail(dunehd.CommandSetPlaybackState)
}

func (c offlineClient) Seek(context.Context, dunehd.Endpoint, int) (*dunehd.Status, error) {
	return c.fail(dunehd.CommandSetPlaybackState)
}

func (c offlineClient) LaunchMediaURL(context.Context, dunehd.Endpoint, string) (*dunehd.Status, error) {
	return c.fail(dunehd.CommandLaunchMediaURL)
}

type deviceList []*device.Device

func (l deviceList) Devices() []*device.Device { return l }

type hubStatus struct {
	sessions int
	state    hub.DeviceState
}

func (h hubStatus) SessionCount() int            { return h.sessions }
func (h hubStatus) DeviceState() hub.DeviceState { return h.state }

type flag bool

func (f flag) IsConnected() bool { return bool(f) }
func (f flag) IsHealthy() bool   { return bool(f) }

func newOfflineDevice(t *testing.T, entityID, name string) *device.Device {
	t.Helper()
	dev := device.New(device.Config{
		EntityID: entityID,
		Name:     name,
		Endpoint: dunehd.Endpoint{Host: "192.0.2.10"},
	}, device.Options{
		Client:           offlineClient{},
		Logger:           logging.Discard(),
		PollInterval:     time.Hour,
		RequestTimeout:   time.Second,
		FailureThreshold: 1,
	})
	t.Cleanup(dev.Stop)
	return dev
}

func TestGetSystemInfo(t *testing.T) {
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "driver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbPair.Close() })

	start := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	now := start
	idle := newOfflineDevice(t, "0000-1111-2222", "Living Room")

	service := NewService(Options{
		Version: "1.4.0",
		DB:      dbPair,
		Devices: deviceList{idle},
		Hub:     hubStatus{sessions: 2, state: hub.DeviceStateConnected},
		Broker:  flag(true),
		Audit:   flag(true),
		Logger:  logging.Discard(),
		Now:     func() time.Time { return now },
	})
	now = start.Add(90 * time.Second)

	info := service.GetSystemInfo(context.Background())
	require.Equal(t, "1.4.0", info.DriverVersion)
	require.Equal(t, int64(90), info.Uptime)
	require.True(t, info.SQLiteConnected)
	require.Equal(t, 1, info.DevicesTotal)
	require.Equal(t, 0, info.DevicesOnline)
	require.Equal(t, 2, info.HubSessions)
	require.Equal(t, "CONNECTED", info.HubDeviceState)
	require.True(t, info.MQTTEnabled)
	require.True(t, info.MQTTConnected)
	require.True(t, info.AuditHealthy)
	require.Greater(t, info.Goroutines, 0)
}

func TestGetSystemInfoWithoutOptionalParts(t *testing.T) {
	info := NewService(Options{Logger: logging.Discard()}).GetSystemInfo(context.Background())
	require.False(t, info.SQLiteConnected)
	require.False(t, info.MQTTEnabled)
	require.True(t, info.AuditHealthy)
	require.Zero(t, info.DevicesTotal)
}

func TestDashboardReportsUnreachableDevices(t *testing.T) {
	failing := newOfflineDevice(t, "0000-1111-2222", "Living Room")
	idle := newOfflineDevice(t, "3333-4444-5555", "Bedroom")
	failing.Start()

	require.Eventually(t, func() bool {
		return failing.Connection().State == device.ConnError
	}, 2*time.Second, 10*time.Millisecond)

	service := NewService(Options{
		Devices: deviceList{failing, idle},
		Broker:  flag(false),
		Audit:   flag(false),
		Logger:  logging.Discard(),
	})

	data := service.GetDashboardData()
	require.Len(t, data.Devices, 2)
	require.Equal(t, "0000-1111-2222", data.Devices[0].EntityID)
	require.Equal(t, device.ConnError, data.Devices[0].Connection.State)
	require.Equal(t, device.ConnDisconnected, data.Devices[1].Connection.State)
	require.Empty(t, data.Devices[1].State)

	types := make([]string, 0, len(data.AttentionItems))
	for _, item := range data.AttentionItems {
		types = append(types, item.Type)
	}
	require.Equal(t, []string{"device_unreachable", "mqtt_disconnected", "audit_degraded"}, types)

	item := data.AttentionItems[0]
	require.Equal(t, "error", item.Severity)
	require.Equal(t, "0000-1111-2222", item.Details["entity_id"])
	require.Equal(t, "192.0.2.10:80", item.Details["address"])
	require.Contains(t, item.Details["reason"], "connection refused")
}

func TestDashboardEmpty(t *testing.T) {
	data := NewService(Options{Logger: logging.Discard()}).GetDashboardData()
	require.NotNil(t, data.Devices)
	require.Empty(t, data.Devices)
	require.NotNil(t, data.AttentionItems)
	require.Empty(t, data.AttentionItems)
}

func TestRoutes(t *testing.T) {
	router := chi.NewRouter()
	RegisterRoutes(router, NewService(Options{
		Version: "1.4.0",
		Hub:     hubStatus{state: hub.DeviceStateDisconnected},
		Logger:  logging.Discard(),
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/system/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Object string     `json:"object"`
		Info   SystemInfo `json:"info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "system_info", body.Object)
	require.Equal(t, "1.4.0", body.Info.DriverVersion)
	require.Equal(t, "DISCONNECTED", body.Info.HubDeviceState)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"attention_items":[]`)
}
