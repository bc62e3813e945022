package audit

// EventType represents the type of audit event.
type EventType string

const (
	EventDeviceConnected    EventType = "DEVICE_CONNECTED"
	EventDeviceError        EventType = "DEVICE_ERROR"
	EventDeviceDisconnected EventType = "DEVICE_DISCONNECTED"
	EventCommandFailed      EventType = "COMMAND_FAILED"
	EventDeviceConfigured   EventType = "DEVICE_CONFIGURED"
	EventDeviceRemoved      EventType = "DEVICE_REMOVED"
	EventSystemStartup      EventType = "SYSTEM_STARTUP"
)

// validEventTypes is used to validate the type query filter.
var validEventTypes = map[string]bool{
	string(EventDeviceConnected):    true,
	string(EventDeviceError):        true,
	string(EventDeviceDisconnected): true,
	string(EventCommandFailed):      true,
	string(EventDeviceConfigured):   true,
	string(EventDeviceRemoved):      true,
	string(EventSystemStartup):      true,
}

// EventLevel represents the severity level of an audit event.
type EventLevel string

const (
	EventLevelDebug EventLevel = "DEBUG"
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
	EventLevelError EventLevel = "ERROR"
)

var validEventLevels = map[string]EventLevel{
	"INFO":  EventLevelInfo,
	"WARN":  EventLevelWarn,
	"ERROR": EventLevelError,
}
