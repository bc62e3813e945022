package system

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strefethen/dunehd-driver-go/internal/device"
	"github.com/strefethen/dunehd-driver-go/internal/hub"
)

// DBPair is the subset of db.DBPair the service pings.
type DBPair interface {
	Reader() *sql.DB
}

// DeviceLister lists the configured devices.
type DeviceLister interface {
	Devices() []*device.Device
}

// HubStatus reports the integration hub connection.
type HubStatus interface {
	SessionCount() int
	DeviceState() hub.DeviceState
}

// BrokerStatus reports the MQTT mirror connection.
type BrokerStatus interface {
	IsConnected() bool
}

// HealthChecker reports whether the audit store is writable.
type HealthChecker interface {
	IsHealthy() bool
}

// Options configures a Service. Broker and Audit are optional.
type Options struct {
	Version string
	DB      DBPair
	Devices DeviceLister
	Hub     HubStatus
	Broker  BrokerStatus
	Audit   HealthChecker
	Logger  logrus.FieldLogger
	Now     func() time.Time
}

// Service provides driver status and dashboard data.
type Service struct {
	opts      Options
	logger    logrus.FieldLogger
	startTime time.Time
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		opts:      opts,
		logger:    opts.Logger.WithField("component", "system"),
		startTime: opts.Now(),
	}
}

// SystemInfo is a point-in-time view of the driver process.
type SystemInfo struct {
	DriverVersion   string  `json:"driver_version"`
	Uptime          int64   `json:"uptime_seconds"`
	MemoryUsageMB   float64 `json:"memory_mb"`
	Goroutines      int     `json:"goroutines"`
	SQLiteConnected bool    `json:"sqlite_connected"`
	DevicesOnline   int     `json:"devices_online"`
	DevicesTotal    int     `json:"devices_total"`
	HubSessions     int     `json:"hub_sessions"`
	HubDeviceState  string  `json:"hub_device_state"`
	MQTTEnabled     bool    `json:"mqtt_enabled"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	AuditHealthy    bool    `json:"audit_healthy"`
}

// AttentionItem is something an operator should look at.
type AttentionItem struct {
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	ResolveHint string         `json:"resolve_hint,omitempty"`
}

// DeviceSummary is one row of the dashboard device table.
type DeviceSummary struct {
	EntityID   string            `json:"entity_id"`
	Name       string            `json:"name"`
	Address    string            `json:"address"`
	Connection device.Connection `json:"connection"`
	State      string            `json:"state,omitempty"`
}

// DashboardData combines the device table with attention items.
type DashboardData struct {
	Devices        []DeviceSummary `json:"devices"`
	AttentionItems []AttentionItem `json:"attention_items"`
}

// GetSystemInfo collects the current system information.
func (s *Service) GetSystemInfo(ctx context.Context) SystemInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	info := SystemInfo{
		DriverVersion: s.opts.Version,
		Uptime:        int64(s.opts.Now().Sub(s.startTime).Seconds()),
		MemoryUsageMB: float64(mem.Alloc) / 1024 / 1024,
		Goroutines:    runtime.NumGoroutine(),
		AuditHealthy:  true,
	}

	if s.opts.DB != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.opts.DB.Reader().PingContext(pingCtx); err != nil {
			s.logger.WithError(err).Warn("database ping failed")
		} else {
			info.SQLiteConnected = true
		}
	}

	if s.opts.Devices != nil {
		for _, dev := range s.opts.Devices.Devices() {
			info.DevicesTotal++
			if dev.Connection().State == device.ConnConnected {
				info.DevicesOnline++
			}
		}
	}

	if s.opts.Hub != nil {
		info.HubSessions = s.opts.Hub.SessionCount()
		info.HubDeviceState = string(s.opts.Hub.DeviceState())
	}
	if s.opts.Broker != nil {
		info.MQTTEnabled = true
		info.MQTTConnected = s.opts.Broker.IsConnected()
	}
	if s.opts.Audit != nil {
		info.AuditHealthy = s.opts.Audit.IsHealthy()
	}
	return info
}

// GetDashboardData lists every device with its connection and the items
// needing attention.
func (s *Service) GetDashboardData() DashboardData {
	data := DashboardData{
		Devices:        []DeviceSummary{},
		AttentionItems: []AttentionItem{},
	}

	var devices []*device.Device
	if s.opts.Devices != nil {
		devices = s.opts.Devices.Devices()
	}
	for _, dev := range devices {
		cfg := dev.Config()
		summary := DeviceSummary{
			EntityID:   cfg.EntityID,
			Name:       cfg.Name,
			Address:    cfg.Endpoint.Address(),
			Connection: dev.Connection(),
		}
		if attrs, ok := dev.Attributes(); ok && summary.Connection.State != device.ConnDisconnected {
			summary.State = string(attrs.State)
		}
		data.Devices = append(data.Devices, summary)
	}

	data.AttentionItems = s.checkAttentionItems(data.Devices)
	return data
}

func (s *Service) checkAttentionItems(devices []DeviceSummary) []AttentionItem {
	items := []AttentionItem{}

	for _, dev := range devices {
		if dev.Connection.State != device.ConnError {
			continue
		}
		items = append(items, AttentionItem{
			Type:     "device_unreachable",
			Severity: "error",
			Message:  dev.Name + " is not responding",
			Details: map[string]any{
				"entity_id":            dev.EntityID,
				"address":              dev.Address,
				"reason":               dev.Connection.Reason,
				"consecutive_failures": dev.Connection.ConsecutiveFailures,
				"since":                dev.Connection.Since.UTC().Format(time.RFC3339),
			},
			ResolveHint: "Check that the player is powered and IP control is enabled",
		})
	}

	if s.opts.Broker != nil && !s.opts.Broker.IsConnected() {
		items = append(items, AttentionItem{
			Type:        "mqtt_disconnected",
			Severity:    "warning",
			Message:     "MQTT broker is not connected",
			ResolveHint: "Check MQTT_BROKER and the broker credentials",
		})
	}

	if s.opts.Audit != nil && !s.opts.Audit.IsHealthy() {
		items = append(items, AttentionItem{
			Type:        "audit_degraded",
			Severity:    "warning",
			Message:     "Audit events are not being stored",
			ResolveHint: "Check free disk space at SQLITE_DB_PATH",
		})
	}

	return items
}
