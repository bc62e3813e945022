package hub

import "encoding/json"

// Message kinds.
const (
	KindRequest  = "req"
	KindResponse = "resp"
	KindEvent    = "event"
)

// Request message names.
const (
	MsgGetDriverVersion     = "get_driver_version"
	MsgGetDeviceState       = "get_device_state"
	MsgGetAvailableEntities = "get_available_entities"
	MsgGetEntityStates      = "get_entity_states"
	MsgSubscribeEvents      = "subscribe_events"
	MsgUnsubscribeEvents    = "unsubscribe_events"
	MsgEntityCommand        = "entity_command"
)

// Event message names, both directions.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventEnterStandby = "enter_standby"
	EventExitStandby  = "exit_standby"
	EventEntityChange = "entity_change"
	EventDeviceState  = "device_state"
)

// Event categories.
const (
	CatDevice = "DEVICE"
	CatEntity = "ENTITY"
)

// DeviceState is the driver-wide state reported to the hub.
type DeviceState string

const (
	DeviceStateConnected    DeviceState = "CONNECTED"
	DeviceStateConnecting   DeviceState = "CONNECTING"
	DeviceStateDisconnected DeviceState = "DISCONNECTED"
	DeviceStateError        DeviceState = "ERROR"
)

// Message is one frame of the integration protocol. MsgData stays raw on
// the way in and is decoded per message name.
type Message struct {
	Kind    string          `json:"kind"`
	ID      int64           `json:"id,omitempty"`
	ReqID   int64           `json:"req_id,omitempty"`
	Code    int             `json:"code,omitempty"`
	Msg     string          `json:"msg"`
	Cat     string          `json:"cat,omitempty"`
	MsgData json.RawMessage `json:"msg_data,omitempty"`
}

// outbound is a frame the driver sends.
type outbound struct {
	Kind    string `json:"kind"`
	ReqID   int64  `json:"req_id,omitempty"`
	Code    int    `json:"code,omitempty"`
	Msg     string `json:"msg"`
	Cat     string `json:"cat,omitempty"`
	MsgData any    `json:"msg_data,omitempty"`
}

func response(reqID int64, code int, msg string, data any) outbound {
	return outbound{Kind: KindResponse, ReqID: reqID, Code: code, Msg: msg, MsgData: data}
}

func event(msg, cat string, data any) outbound {
	return outbound{Kind: KindEvent, Msg: msg, Cat: cat, MsgData: data}
}

type entityIDsData struct {
	EntityIDs []string `json:"entity_ids"`
}

type entityCommandData struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	CmdID      string         `json:"cmd_id"`
	Params     map[string]any `json:"params,omitempty"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type deviceStateData struct {
	State DeviceState `json:"state"`
}

type entityChangeData struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Attributes map[string]any `json:"attributes"`
}

type driverVersionData struct {
	Name    string            `json:"name"`
	Version map[string]string `json:"version"`
}
