package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/dunehd-driver-go/internal/auth"
	"github.com/strefethen/dunehd-driver-go/internal/config"
	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
	"github.com/strefethen/dunehd-driver-go/internal/logging"
)

// idleClient answers every call with a navigator status.
type idleClient struct{}

func (idleClient) status() (*dunehd.Status, error) {
	return &dunehd.Status{
		CommandStatus: dunehd.ResultOK,
		PlayerState:   dunehd.PlayerStateNavigator,
		ProductName:   "Dune HD Pro 4K",
		SerialNumber:  "0000-1111-2222",
	}, nil
}

func (c idleClient) Status(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error) {
	return c.status()
}

func (c idleClient) UIState(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error) {
	return c.status()
}

func (c idleClient) SendIRCode(ctx context.Context, ep dunehd.Endpoint, code dunehd.IRCode) (*dunehd.Status, error) {
	return c.status()
}

func (c idleClient) Standby(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error) {
	return c.status()
}

func (c idleClient) MainScreen(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error) {
	return c.status()
}

func (c idleClient) BlackScreen(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error) {
	return c.status()
}

func (c idleClient) SetVolume(ctx context.Context, ep dunehd.Endpoint, level int) (*dunehd.Status, error) {
	return c.status()
}

func (c idleClient) SetMute(ctx context.Context, ep dunehd.Endpoint, mute bool) (*dunehd.Status, error) {
	return c.status()
}

func (c idleClient) Seek(ctx context.Context, ep dunehd.Endpoint, position int) (*dunehd.Status, error) {
	return c.status()
}

func (c idleClient) LaunchMediaURL(ctx context.Context, ep dunehd.Endpoint, mediaURL string) (*dunehd.Status, error) {
	return c.status()
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Port:               "9090",
		SQLiteDBPath:       filepath.Join(t.TempDir(), "driver.db"),
		JWTTokenExpirySec:  3600,
		DunePort:           80,
		DuneTimeoutMs:      1000,
		PollIntervalMs:     60000,
		FailureThreshold:   3,
		DriverID:           "dunehd",
		DriverName:         "Dune-HD",
		DriverVersion:      "1.0.0",
		Developer:          "dunehd-driver-go",
		AuditRetentionDays: 30,
		AuditPruneSchedule: "@daily",
	}
}

func newTestHandler(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	handler, shutdown, err := NewHandler(cfg, logging.Discard(), Options{
		Client:          idleClient{},
		DisableAnnounce: true,
		DisableMQTT:     true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, shutdown(context.Background())) })
	return handler
}

func do(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthRoutes(t *testing.T) {
	handler := newTestHandler(t, testConfig(t))

	rec := do(t, handler, http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), serviceName)
	require.NotEmpty(t, rec.Header().Get("x-request-id"))

	rec = do(t, handler, http.MethodGet, "/v1/health/live/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodGet, "/v1/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready","checks":{"database":"ok","audit":"ok"}}`, rec.Body.String())
}

func TestDeviceLifecycleThroughRouter(t *testing.T) {
	handler := newTestHandler(t, testConfig(t))

	rec := do(t, handler, http.MethodPost, "/v1/devices", `{"address":"192.0.2.10"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, handler, http.MethodGet, "/v1/devices", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.Equal(t, "0000-1111-2222", list.Data[0]["entity_id"])

	rec = do(t, handler, http.MethodGet, "/v1/devices/export", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "0000-1111-2222")

	rec = do(t, handler, http.MethodPost, "/v1/devices/0000-1111-2222/commands", `{"cmd_id":"play_pause"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, handler, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `dunehd_commands_total{cmd_id="play_pause",entity_id="0000-1111-2222",result="ok"} 1`)

	rec = do(t, handler, http.MethodGet, "/v1/audit/events?type=DEVICE_CONFIGURED", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodGet, "/v1/system/info", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"devices_total":1`)
	require.Contains(t, rec.Body.String(), `"sqlite_connected":true`)
}

func TestDevicesFileImportedAtStartup(t *testing.T) {
	cfg := testConfig(t)
	cfg.DevicesFile = filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(cfg.DevicesFile, []byte(`devices:
  - entity_id: den
    name: Den Player
    host: 192.0.2.20
`), 0o600))

	handler := newTestHandler(t, cfg)
	rec := do(t, handler, http.MethodGet, "/v1/devices/den", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "Den Player")
}

func TestAuthProtectsAdminRoutes(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	handler := newTestHandler(t, cfg)

	require.Equal(t, http.StatusOK, do(t, handler, http.MethodGet, "/v1/health", "", nil).Code)
	require.Equal(t, http.StatusOK, do(t, handler, http.MethodGet, "/metrics", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, handler, http.MethodGet, "/v1/devices", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, handler, http.MethodGet, "/v1/system/info", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, handler, http.MethodGet, HubPath, "", nil).Code)

	token, err := auth.GenerateToken(cfg, auth.TokenPayload{Sub: "admin", ClientName: "test"})
	require.NoError(t, err)
	rec := do(t, handler, http.MethodGet, "/v1/devices", "", map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)
}
