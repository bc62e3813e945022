package device

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
)

// CommandRequest is an abstract media-player command from the hub.
type CommandRequest struct {
	Command string         `json:"cmd_id"`
	Params  map[string]any `json:"params,omitempty"`
}

// Media-player command identifiers.
const (
	CmdOn           = "on"
	CmdOff          = "off"
	CmdToggle       = "toggle"
	CmdPlayPause    = "play_pause"
	CmdPlay         = "play"
	CmdPause        = "pause"
	CmdStop         = "stop"
	CmdNext         = "next"
	CmdPrevious     = "previous"
	CmdFastForward  = "fast_forward"
	CmdRewind       = "rewind"
	CmdSeek         = "seek"
	CmdVolume       = "volume"
	CmdVolumeUp     = "volume_up"
	CmdVolumeDown   = "volume_down"
	CmdMuteToggle   = "mute_toggle"
	CmdMute         = "mute"
	CmdUnmute       = "unmute"
	CmdCursorUp     = "cursor_up"
	CmdCursorDown   = "cursor_down"
	CmdCursorLeft   = "cursor_left"
	CmdCursorRight  = "cursor_right"
	CmdCursorEnter  = "cursor_enter"
	CmdBack         = "back"
	CmdHome         = "home"
	CmdMenu         = "menu"
	CmdContextMenu  = "context_menu"
	CmdInfo         = "info"
	CmdSettings     = "settings"
	CmdSearch       = "search"
	CmdChannelUp    = "channel_up"
	CmdChannelDown  = "channel_down"
	CmdAudioTrack   = "audio_track"
	CmdSubtitle     = "subtitle"
	CmdFunctionRed  = "function_red"
	CmdFunctionGrn  = "function_green"
	CmdFunctionYel  = "function_yellow"
	CmdFunctionBlue = "function_blue"
	CmdPlayMedia    = "play_media"

	// Simple commands are player specific and shown as plain buttons.
	CmdBlackScreen = "BLACK_SCREEN"
	CmdMainScreen  = "MAIN_SCREEN"
	CmdEject       = "EJECT"
	CmdMode        = "MODE"
	CmdZoom        = "ZOOM"
	CmdSlow        = "SLOW"
	CmdClear       = "CLEAR"
)

const digitPrefix = "digit_"

// SimpleCommands lists the player-specific commands advertised to the hub.
var SimpleCommands = []string{CmdBlackScreen, CmdMainScreen, CmdEject, CmdMode, CmdZoom, CmdSlow, CmdClear}

// irCommands maps commands that are a single remote key press.
var irCommands = map[string]dunehd.IRCode{
	CmdToggle:       dunehd.IRPower,
	CmdPlayPause:    dunehd.IRPlayPause,
	CmdPlay:         dunehd.IRPlay,
	CmdPause:        dunehd.IRPause,
	CmdStop:         dunehd.IRStop,
	CmdNext:         dunehd.IRNext,
	CmdPrevious:     dunehd.IRPrev,
	CmdFastForward:  dunehd.IRForward,
	CmdRewind:       dunehd.IRRewind,
	CmdVolumeUp:     dunehd.IRVolumeUp,
	CmdVolumeDown:   dunehd.IRVolumeDown,
	CmdMuteToggle:   dunehd.IRMute,
	CmdCursorUp:     dunehd.IRUp,
	CmdCursorDown:   dunehd.IRDown,
	CmdCursorLeft:   dunehd.IRLeft,
	CmdCursorRight:  dunehd.IRRight,
	CmdCursorEnter:  dunehd.IREnter,
	CmdBack:         dunehd.IRReturn,
	CmdHome:         dunehd.IRTopMenu,
	CmdMenu:         dunehd.IRPopupMenu,
	CmdContextMenu:  dunehd.IRPopupMenu,
	CmdInfo:         dunehd.IRInfo,
	CmdSettings:     dunehd.IRSetup,
	CmdSearch:       dunehd.IRSearch,
	CmdChannelUp:    dunehd.IRProgramUp,
	CmdChannelDown:  dunehd.IRProgramDn,
	CmdAudioTrack:   dunehd.IRAudio,
	CmdSubtitle:     dunehd.IRSubtitle,
	CmdFunctionBlue: dunehd.IRA,
	CmdFunctionGrn:  dunehd.IRB,
	CmdFunctionRed:  dunehd.IRC,
	CmdFunctionYel:  dunehd.IRD,
	CmdEject:        dunehd.IREject,
	CmdMode:         dunehd.IRMode,
	CmdZoom:         dunehd.IRZoom,
	CmdSlow:         dunehd.IRSlow,
	CmdClear:        dunehd.IRClear,
}

// Client is the subset of the device client the translator and poller use.
type Client interface {
	UIState(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error)
	SendIRCode(ctx context.Context, ep dunehd.Endpoint, code dunehd.IRCode) (*dunehd.Status, error)
	Standby(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error)
	MainScreen(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error)
	BlackScreen(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error)
	SetVolume(ctx context.Context, ep dunehd.Endpoint, level int) (*dunehd.Status, error)
	SetMute(ctx context.Context, ep dunehd.Endpoint, mute bool) (*dunehd.Status, error)
	Seek(ctx context.Context, ep dunehd.Endpoint, position int) (*dunehd.Status, error)
	LaunchMediaURL(ctx context.Context, ep dunehd.Endpoint, mediaURL string) (*dunehd.Status, error)
}

// deviceCall is one translated request.
type deviceCall func(ctx context.Context, client Client, ep dunehd.Endpoint) (*dunehd.Status, error)

// translate maps a simple command onto a single device call. on and off
// need connection context and are handled by Device.
func translate(req CommandRequest) (deviceCall, error) {
	if code, ok := irCommands[req.Command]; ok {
		return irCall(code), nil
	}

	if digit, ok := strings.CutPrefix(req.Command, digitPrefix); ok {
		n, err := strconv.Atoi(digit)
		if err != nil || n < 0 || n > 9 {
			return nil, apperrors.NewCommandNotSupported(req.Command)
		}
		return irCall(dunehd.DigitCodes[n]), nil
	}

	switch req.Command {
	case CmdVolume:
		level, err := intParam(req.Params, "volume", 0, 100)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, client Client, ep dunehd.Endpoint) (*dunehd.Status, error) {
			return client.SetVolume(ctx, ep, level)
		}, nil
	case CmdMute, CmdUnmute:
		mute := req.Command == CmdMute
		return func(ctx context.Context, client Client, ep dunehd.Endpoint) (*dunehd.Status, error) {
			return client.SetMute(ctx, ep, mute)
		}, nil
	case CmdSeek:
		position, err := intParam(req.Params, "media_position", 0, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, client Client, ep dunehd.Endpoint) (*dunehd.Status, error) {
			return client.Seek(ctx, ep, position)
		}, nil
	case CmdPlayMedia:
		mediaURL, err := stringParam(req.Params, "media_id")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, client Client, ep dunehd.Endpoint) (*dunehd.Status, error) {
			return client.LaunchMediaURL(ctx, ep, mediaURL)
		}, nil
	case CmdMainScreen:
		return func(ctx context.Context, client Client, ep dunehd.Endpoint) (*dunehd.Status, error) {
			return client.MainScreen(ctx, ep)
		}, nil
	case CmdBlackScreen:
		return func(ctx context.Context, client Client, ep dunehd.Endpoint) (*dunehd.Status, error) {
			return client.BlackScreen(ctx, ep)
		}, nil
	}

	return nil, apperrors.NewCommandNotSupported(req.Command)
}

func irCall(code dunehd.IRCode) deviceCall {
	return func(ctx context.Context, client Client, ep dunehd.Endpoint) (*dunehd.Status, error) {
		return client.SendIRCode(ctx, ep, code)
	}
}

// SupportedCommands returns every command id the translator accepts, sorted.
func SupportedCommands() []string {
	commands := []string{CmdOn, CmdOff, CmdVolume, CmdMute, CmdUnmute, CmdSeek, CmdPlayMedia, CmdMainScreen, CmdBlackScreen}
	for cmd := range irCommands {
		commands = append(commands, cmd)
	}
	for i := 0; i <= 9; i++ {
		commands = append(commands, digitPrefix+strconv.Itoa(i))
	}
	sort.Strings(commands)
	return commands
}

func intParam(params map[string]any, key string, low, high int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return 0, apperrors.NewValidationError("missing parameter: "+key, map[string]any{"param": key})
	}

	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case float32:
		value = float64(v)
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, apperrors.NewValidationError(fmt.Sprintf("parameter %s must be a number", key), map[string]any{"param": key})
		}
		value = parsed
	default:
		return 0, apperrors.NewValidationError(fmt.Sprintf("parameter %s must be a number", key), map[string]any{"param": key})
	}

	n := int(math.Round(value))
	if n < low || n > high {
		return 0, apperrors.NewValidationError(
			fmt.Sprintf("parameter %s out of range [%d, %d]", key, low, high),
			map[string]any{"param": key, "value": n})
	}
	return n, nil
}

func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", apperrors.NewValidationError("missing parameter: "+key, map[string]any{"param": key})
	}
	return strings.TrimSpace(raw), nil
}
