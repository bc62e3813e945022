package devices

import (
	"time"

	"github.com/strefethen/dunehd-driver-go/internal/device"
	"github.com/strefethen/dunehd-driver-go/internal/store"
)

// ProbeResult is what setup learns from a player before it is stored.
type ProbeResult struct {
	Address         string `json:"address"`
	ProductID       string `json:"product_id,omitempty"`
	ProductName     string `json:"product_name"`
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	ProtocolVersion int    `json:"protocol_version,omitempty"`
	PlayerState     string `json:"player_state"`
}

// AddInput is the body of POST /v1/devices.
type AddInput struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// View joins a stored record with the live device state.
type View struct {
	Record     store.Record
	Running    bool
	Connection *device.Connection
	Attributes *device.Attributes
}

// rfc3339Millis formats time with millisecond precision for API responses.
func rfc3339Millis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func formatView(view View) map[string]any {
	result := map[string]any{
		"object":     "device",
		"entity_id":  view.Record.EntityID,
		"name":       view.Record.Name,
		"address":    view.Record.Endpoint().Address(),
		"running":    view.Running,
		"created_at": rfc3339Millis(view.Record.CreatedAt),
		"updated_at": rfc3339Millis(view.Record.UpdatedAt),
	}
	if view.Connection != nil {
		result["connection"] = map[string]any{
			"state":                view.Connection.State,
			"reason":               view.Connection.Reason,
			"consecutive_failures": view.Connection.ConsecutiveFailures,
			"since":                rfc3339Millis(view.Connection.Since),
		}
	}
	if view.Attributes != nil {
		result["attributes"] = view.Attributes
	}
	return result
}
