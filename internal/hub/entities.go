package hub

import (
	"strings"

	"github.com/strefethen/dunehd-driver-go/internal/device"
)

const (
	entityTypeMediaPlayer = "media_player"
	deviceClassStreaming  = "streaming_box"
	stateUnavailable      = "UNAVAILABLE"
)

// mediaPlayerFeatures are advertised for every player.
var mediaPlayerFeatures = []string{
	"on_off",
	"volume",
	"volume_up_down",
	"mute_toggle",
	"play_pause",
	"stop",
	"next",
	"previous",
	"media_duration",
	"media_position",
	"media_title",
	"media_image_url",
	"media_type",
	"home",
	"channel_switcher",
	"dpad",
	"numpad",
	"context_menu",
	"menu",
	"rewind",
	"fast_forward",
	"seek",
	"info",
	"audio_track",
	"subtitle",
	"color_buttons",
}

type availableEntity struct {
	EntityID    string            `json:"entity_id"`
	EntityType  string            `json:"entity_type"`
	Name        map[string]string `json:"name"`
	Features    []string          `json:"features"`
	DeviceClass string            `json:"device_class"`
	Options     map[string]any    `json:"options"`
}

func describeEntity(cfg device.Config) availableEntity {
	name := cfg.Name
	if name == "" {
		name = cfg.EntityID
	}
	return availableEntity{
		EntityID:    cfg.EntityID,
		EntityType:  entityTypeMediaPlayer,
		Name:        map[string]string{"en": name},
		Features:    mediaPlayerFeatures,
		DeviceClass: deviceClassStreaming,
		Options:     map[string]any{"simple_commands": device.SimpleCommands},
	}
}

// entityAttributes renders attributes in the hub's vocabulary, where
// states are upper case.
func entityAttributes(attrs device.Attributes) map[string]any {
	return map[string]any{
		"state":           strings.ToUpper(string(attrs.State)),
		"media_title":     attrs.Title,
		"media_image_url": attrs.ArtworkURL,
		"media_duration":  attrs.Duration,
		"media_position":  attrs.Position,
		"media_type":      attrs.MediaType,
		"volume":          attrs.Volume,
		"muted":           attrs.Muted,
	}
}

// currentAttributes reports what the hub should show for dev right now.
// A player that never published is unavailable.
func currentAttributes(dev *device.Device) map[string]any {
	attrs, ok := dev.Attributes()
	if !ok || dev.Connection().State == device.ConnDisconnected {
		return map[string]any{"state": stateUnavailable}
	}
	return entityAttributes(attrs)
}

func deviceStateFor(state device.ConnectionState) DeviceState {
	switch state {
	case device.ConnConnected:
		return DeviceStateConnected
	case device.ConnConnecting:
		return DeviceStateConnecting
	case device.ConnError:
		return DeviceStateError
	default:
		return DeviceStateDisconnected
	}
}
