package cast

import (
	"math"
)

// DeviceID is the stable external identity of a device.
type DeviceID string

// DeviceKind is the classification made once at session start.
type DeviceKind string

const (
	KindStreamingStick DeviceKind = "streaming_stick"
	KindSmartSpeaker   DeviceKind = "smart_speaker"
	KindAudioGroup     DeviceKind = "audio_group"
	KindUnsupported    DeviceKind = "unsupported"
)

// Supported reports whether sessions of this kind go online.
func (k DeviceKind) Supported() bool {
	switch k {
	case KindStreamingStick, KindSmartSpeaker, KindAudioGroup:
		return true
	}
	return false
}

// DeviceStatus is the online/offline marker in a DeviceState.
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// VolumeControl names a volume operation a device supports.
type VolumeControl string

const (
	VolumeControlUp   VolumeControl = "up"
	VolumeControlDown VolumeControl = "down"
	VolumeControlMute VolumeControl = "mute"
)

// PlayState is a generic player state.
type PlayState string

const (
	PlayStatePlaying PlayState = "playing"
	PlayStatePaused  PlayState = "paused"
	PlayStateStopped PlayState = "stopped"
)

// PowerState is a power target a device accepts.
type PowerState string

// PowerStateOff stops whatever the device is casting.
const PowerStateOff PowerState = "off"

// Capabilities describes what instructions a device accepts.
// An empty URLPatterns means no patterns are declared.
type Capabilities struct {
	VolumeControls []VolumeControl `json:"volume_controls"`
	PlayStates     []PlayState     `json:"play_states"`
	URLPatterns    []string        `json:"url_patterns"`
	PowerStates    []PowerState    `json:"power_states"`
}

// DeviceState is a sparse state update. Only DeviceID is always present;
// a nil field means "unchanged", not "unknown".
type DeviceState struct {
	DeviceID     DeviceID      `json:"device_id"`
	FriendlyName *string       `json:"friendly_name,omitempty"`
	DeviceStatus *DeviceStatus `json:"device_status,omitempty"`
	DeviceKind   *DeviceKind   `json:"device_kind,omitempty"`
	VolumeState  *int          `json:"volume_state,omitempty"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
}

// Merge overlays the non-nil fields of update onto s.
func (s DeviceState) Merge(update DeviceState) DeviceState {
	if update.FriendlyName != nil {
		s.FriendlyName = update.FriendlyName
	}
	if update.DeviceStatus != nil {
		s.DeviceStatus = update.DeviceStatus
	}
	if update.DeviceKind != nil {
		s.DeviceKind = update.DeviceKind
	}
	if update.VolumeState != nil {
		s.VolumeState = update.VolumeState
	}
	if update.Capabilities != nil {
		s.Capabilities = update.Capabilities
	}
	if update.DeviceID != "" {
		s.DeviceID = update.DeviceID
	}
	return s
}

// MediaEvent reports what a device is playing.
type MediaEvent struct {
	DeviceID   DeviceID  `json:"device_id"`
	PlayerID   string    `json:"player_id,omitempty"`
	PlayerName string    `json:"player_name,omitempty"`
	TrackName  string    `json:"track_name,omitempty"`
	Artist     string    `json:"artist,omitempty"`
	URL        string    `json:"url,omitempty"`
	AlbumArt   string    `json:"album_art,omitempty"`
	PlayStatus PlayState `json:"play_status"`
}

// DeviceInfo is the static metadata of a connected device.
type DeviceInfo struct {
	UUID           string
	Model          string
	FriendlyName   string
	CapabilityMask int
	Host           string
	Port           int
}

// NativeStatus is the device-side receiver status the session diffs against.
type NativeStatus struct {
	VolumeLevel float64
	Muted       bool
	AppID       string
	AppName     string
}

// NativeMediaStatus is the device-side media status.
type NativeMediaStatus struct {
	PlayerState string
	Title       string
	Artist      string
	ContentID   string
	ImageURL    string
	AppID       string
	AppName     string
}

// volumePercent maps a 0.0–1.0 level onto 0–100.
func volumePercent(level float64) int {
	return int(math.Round(level * 100))
}

func ptr[T any](v T) *T {
	return &v
}
