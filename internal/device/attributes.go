package device

import "github.com/strefethen/dunehd-driver-go/internal/dunehd"

// EntityState is the normalized media-player state pushed to the hub.
type EntityState string

const (
	StateOn        EntityState = "on"
	StateStandby   EntityState = "standby"
	StatePlaying   EntityState = "playing"
	StatePaused    EntityState = "paused"
	StateSeeking   EntityState = "seeking"
	StateBuffering EntityState = "buffering"
	StateUnknown   EntityState = "unknown"
)

// MediaTypeVideo is reported while the player has media loaded.
const MediaTypeVideo = "VIDEO"

// Attributes is the entity view of one status snapshot. Values are
// comparable with == so redundant pushes can be suppressed.
type Attributes struct {
	State      EntityState `json:"state"`
	Title      string      `json:"media_title"`
	ArtworkURL string      `json:"media_image_url"`
	Duration   int         `json:"media_duration"`
	Position   int         `json:"media_position"`
	MediaType  string      `json:"media_type"`
	Volume     int         `json:"volume"`
	Muted      bool        `json:"muted"`
}

// FileURLFunc turns a player-local path into a URL the hub can fetch.
type FileURLFunc func(path string) string

// MapStatus converts a raw status into entity attributes. It is pure:
// the same status always yields the same attributes.
func MapStatus(status *dunehd.Status, fileURL FileURLFunc) Attributes {
	if status == nil {
		return Attributes{State: StateUnknown}
	}

	attrs := Attributes{
		State:    mapState(status),
		Title:    status.PlaybackCaption,
		Duration: nonNegative(status.PlaybackDuration),
		Position: nonNegative(status.PlaybackPosition),
		Muted:    status.PlaybackMute.Valid && status.PlaybackMute.Value,
	}
	if status.PlaybackVolume.Valid {
		attrs.Volume = clamp(status.PlaybackVolume.Value, 0, 100)
	}

	if status.MediaLoaded() {
		attrs.MediaType = MediaTypeVideo
		if fileURL != nil {
			switch {
			case status.PlaybackPicture != "":
				attrs.ArtworkURL = fileURL(status.PlaybackPicture)
			case status.BackgroundURL() != "":
				attrs.ArtworkURL = fileURL(status.BackgroundURL())
			}
		}
	}

	return attrs
}

// Precedence: standby, unrecognized values, buffering, explicit playback
// state, then plain on.
func mapState(status *dunehd.Status) EntityState {
	if status.PlayerState == dunehd.PlayerStateStandby {
		return StateStandby
	}
	if !status.PlayerState.Known() {
		return StateUnknown
	}
	if status.PlaybackState != "" && !status.PlaybackState.Known() {
		return StateUnknown
	}
	if (status.PlaybackIsBuffering.Valid && status.PlaybackIsBuffering.Value) ||
		status.PlaybackState == dunehd.PlaybackStateInitializing {
		return StateBuffering
	}

	switch status.PlaybackState {
	case dunehd.PlaybackStatePlaying:
		return StatePlaying
	case dunehd.PlaybackStatePaused:
		return StatePaused
	case dunehd.PlaybackStateSeeking:
		return StateSeeking
	}
	return StateOn
}

// errorAttributes is pushed when a device enters Error. A player that was
// last seen in standby most likely dropped off the network because of it.
func errorAttributes(last Attributes, published bool) Attributes {
	if published && last.State == StateStandby {
		return Attributes{State: StateStandby}
	}
	return Attributes{State: StateUnknown}
}

func nonNegative(value dunehd.OptionalInt) int {
	if !value.Valid || value.Value < 0 {
		return 0
	}
	return value.Value
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
