package dunehd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
)

// Command is a value for the cmd query parameter of /cgi-bin/do.
type Command string

const (
	CommandStatus           Command = "status"
	CommandUIState          Command = "ui_state"
	CommandSetPlaybackState Command = "set_playback_state"
	CommandIRCode           Command = "ir_code"
	CommandStandby          Command = "standby"
	CommandBlackScreen      Command = "black_screen"
	CommandMainScreen       Command = "main_screen"
	CommandGetFile          Command = "get_file"
	CommandLaunchMediaURL   Command = "launch_media_url"
)

// PlayerState is the top-level mode the player reports.
type PlayerState string

const (
	PlayerStateNavigator      PlayerState = "navigator"
	PlayerStateFilePlayback   PlayerState = "file_playback"
	PlayerStateDVDPlayback    PlayerState = "dvd_playback"
	PlayerStateBlurayPlayback PlayerState = "bluray_playback"
	PlayerStateBlackScreen    PlayerState = "black_screen"
	PlayerStateStandby        PlayerState = "standby"
	PlayerStateOSDScreen      PlayerState = "osd_screen"
)

// Known reports whether the firmware value is one this client understands.
func (s PlayerState) Known() bool {
	switch s {
	case PlayerStateNavigator, PlayerStateFilePlayback, PlayerStateDVDPlayback,
		PlayerStateBlurayPlayback, PlayerStateBlackScreen, PlayerStateStandby, PlayerStateOSDScreen:
		return true
	}
	return false
}

// PlaybackState describes the media pipeline while something is loaded.
// Empty means nothing is loaded.
type PlaybackState string

const (
	PlaybackStateInitializing   PlaybackState = "initializing"
	PlaybackStatePlaying        PlaybackState = "playing"
	PlaybackStatePaused         PlaybackState = "paused"
	PlaybackStateSeeking        PlaybackState = "seeking"
	PlaybackStateDeinitializing PlaybackState = "deinitializing"
	PlaybackStateStopped        PlaybackState = "stopped"
)

func (s PlaybackState) Known() bool {
	switch s {
	case PlaybackStateInitializing, PlaybackStatePlaying, PlaybackStatePaused,
		PlaybackStateSeeking, PlaybackStateDeinitializing, PlaybackStateStopped:
		return true
	}
	return false
}

// ResultStatus is the command_status field of every response.
type ResultStatus string

const (
	ResultOK      ResultStatus = "ok"
	ResultFailed  ResultStatus = "failed"
	ResultTimeout ResultStatus = "timeout"
)

// ErrorKind is reported alongside a failed command.
type ErrorKind string

const (
	ErrorKindUnknownCommand    ErrorKind = "unknown_command"
	ErrorKindInvalidParameters ErrorKind = "invalid_parameters"
	ErrorKindIllegalState      ErrorKind = "illegal_state"
	ErrorKindInternalError     ErrorKind = "internal_error"
	ErrorKindOperationFailed   ErrorKind = "operation_failed"
)

// Endpoint addresses one player. It is immutable; reconfiguration builds a new one.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Address returns host:port, omitting nothing so URLs are unambiguous.
func (e Endpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

func (e Endpoint) String() string {
	return e.Address()
}

// ParseAddress accepts "host" or "host:port" as typed by a user during setup.
func ParseAddress(address string, defaultPort int) (Endpoint, error) {
	address = strings.TrimSpace(address)
	address = strings.TrimPrefix(address, "http://")
	address = strings.TrimSuffix(address, "/")
	if address == "" {
		return Endpoint{}, fmt.Errorf("empty address")
	}
	if defaultPort == 0 {
		defaultPort = DefaultPort
	}

	host, portText, err := net.SplitHostPort(address)
	if err != nil {
		// No port present.
		if strings.Contains(err.Error(), "missing port") {
			return Endpoint{Host: strings.Trim(address, "[]"), Port: defaultPort}, nil
		}
		return Endpoint{}, fmt.Errorf("invalid address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid port in address %q", address)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("invalid address %q: missing host", address)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// Status is one decoded response. Every command answers with it.
type Status struct {
	CommandStatus    ResultStatus `json:"command_status"`
	ErrorKind        ErrorKind    `json:"error_kind"`
	ErrorDescription string       `json:"error_description"`

	PlayerState           PlayerState   `json:"player_state"`
	PlaybackURL           string        `json:"playback_url"`
	PlaybackState         PlaybackState `json:"playback_state"`
	PreviousPlaybackState PlaybackState `json:"previous_playback_state"`
	PlaybackSpeed         OptionalInt   `json:"playback_speed"`
	PlaybackDuration      OptionalInt   `json:"playback_duration"`
	PlaybackPosition      OptionalInt   `json:"playback_position"`
	PlaybackIsBuffering   OptionalBool  `json:"playback_is_buffering"`
	PlaybackVolume        OptionalInt   `json:"playback_volume"`
	PlaybackMute          OptionalBool  `json:"playback_mute"`
	PlaybackCaption       string        `json:"playback_caption"`
	PlaybackExtraCaption  string        `json:"playback_extra_caption"`
	PlaybackPicture       string        `json:"playback_picture"`

	ProtocolVersion        OptionalInt `json:"protocol_version"`
	ProductID              string      `json:"product_id"`
	ProductName            string      `json:"product_name"`
	SerialNumber           string      `json:"serial_number"`
	CommercialSerialNumber string      `json:"commercial_serial_number"`
	FirmwareVersion        string      `json:"firmware_version"`

	UIState *UIState `json:"ui_state"`
}

// MediaLoaded reports whether the player has a playback session.
func (s *Status) MediaLoaded() bool {
	return s.PlaybackState != ""
}

// BackgroundURL returns the ui_state screen background path, if any.
func (s *Status) BackgroundURL() string {
	if s.UIState == nil || s.UIState.Screen == nil {
		return ""
	}
	return s.UIState.Screen.BgURL
}

// UIState is returned by the ui_state command.
type UIState struct {
	Screen *UIStateScreen `json:"screen"`
}

type UIStateScreen struct {
	BgURL     string `json:"bg_url"`
	PosterURL string `json:"poster_url"`
}

// UnmarshalJSON ignores ui_state values that are not objects; some firmware
// sends an empty string when no screen is shown.
func (u *UIState) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		*u = UIState{}
		return nil
	}
	type plain UIState
	var decoded plain
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return err
	}
	*u = UIState(decoded)
	return nil
}

// OptionalInt decodes integers the firmware may send as numbers or strings.
type OptionalInt struct {
	Value int
	Valid bool
}

func Int(v int) OptionalInt {
	return OptionalInt{Value: v, Valid: true}
}

func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	text, isNull := scalarText(data)
	if isNull || text == "" {
		*o = OptionalInt{}
		return nil
	}
	parsed, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return fmt.Errorf("invalid integer %q", text)
	}
	*o = OptionalInt{Value: clampInt(parsed), Valid: true}
	return nil
}

// clampInt converts a finite float, saturating at the int range.
func clampInt(f float64) int {
	switch {
	case f >= float64(math.MaxInt):
		return math.MaxInt
	case f <= float64(math.MinInt):
		return math.MinInt
	}
	return int(f)
}

func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(o.Value)), nil
}

// OptionalBool decodes booleans sent as true/false, 0/1 or "yes"/"no".
type OptionalBool struct {
	Value bool
	Valid bool
}

func Bool(v bool) OptionalBool {
	return OptionalBool{Value: v, Valid: true}
}

func (o *OptionalBool) UnmarshalJSON(data []byte) error {
	text, isNull := scalarText(data)
	if isNull || text == "" {
		*o = OptionalBool{}
		return nil
	}
	switch strings.ToLower(text) {
	case "1", "true", "yes", "on":
		*o = OptionalBool{Value: true, Valid: true}
	case "0", "false", "no", "off":
		*o = OptionalBool{Value: false, Valid: true}
	default:
		return fmt.Errorf("invalid boolean %q", text)
	}
	return nil
}

func (o OptionalBool) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatBool(o.Value)), nil
}

func scalarText(data []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return "", true
	}
	if unquoted, err := strconv.Unquote(trimmed); err == nil {
		return strings.TrimSpace(unquoted), false
	}
	return trimmed, false
}
