package castv2

import "strings"

// Message types.
const (
	typeConnect        = "CONNECT"
	typeClose          = "CLOSE"
	typePing           = "PING"
	typePong           = "PONG"
	typeGetStatus      = "GET_STATUS"
	typeSetVolume      = "SET_VOLUME"
	typeStop           = "STOP"
	typePlay           = "PLAY"
	typePause          = "PAUSE"
	typeReceiverStatus = "RECEIVER_STATUS"
	typeMediaStatus    = "MEDIA_STATUS"
)

// errorTypes are replies that fail the matching request.
var errorTypes = map[string]bool{
	"INVALID_REQUEST":      true,
	"LAUNCH_ERROR":         true,
	"LOAD_FAILED":          true,
	"LOAD_CANCELLED":       true,
	"INVALID_PLAYER_STATE": true,
}

// Player states reported in MEDIA_STATUS.
const (
	PlayerStatePlaying   = "PLAYING"
	PlayerStatePaused    = "PAUSED"
	PlayerStateBuffering = "BUFFERING"
	PlayerStateIdle      = "IDLE"
)

// header is the common envelope of every JSON payload.
type header struct {
	Type      string `json:"type"`
	RequestID int64  `json:"requestId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Volume is the receiver-wide volume.
type Volume struct {
	Level float64 `json:"level"`
	Muted bool    `json:"muted"`
}

// Application is a running receiver app.
type Application struct {
	AppID       string `json:"appId"`
	DisplayName string `json:"displayName"`
	SessionID   string `json:"sessionId"`
	TransportID string `json:"transportId"`
	StatusText  string `json:"statusText,omitempty"`
	IsIdle      bool   `json:"isIdleScreen,omitempty"`
}

// ReceiverStatus is the payload of RECEIVER_STATUS.
type ReceiverStatus struct {
	Volume       Volume        `json:"volume"`
	Applications []Application `json:"applications,omitempty"`
}

// ActiveApp returns the first non-idle application with a transport.
func (s ReceiverStatus) ActiveApp() (Application, bool) {
	for _, a := range s.Applications {
		if a.TransportID != "" && !a.IsIdle {
			return a, true
		}
	}
	return Application{}, false
}

type receiverStatusPayload struct {
	header
	Status ReceiverStatus `json:"status"`
}

// Image is artwork attached to media metadata.
type Image struct {
	URL string `json:"url"`
}

// Metadata is the subset of media metadata used by the bridge.
type Metadata struct {
	Title      string  `json:"title,omitempty"`
	Subtitle   string  `json:"subtitle,omitempty"`
	Artist     string  `json:"artist,omitempty"`
	AlbumName  string  `json:"albumName,omitempty"`
	SeriesName string  `json:"seriesTitle,omitempty"`
	Images     []Image `json:"images,omitempty"`
}

// Media describes the loaded item.
type Media struct {
	ContentID   string   `json:"contentId"`
	ContentType string   `json:"contentType,omitempty"`
	Duration    float64  `json:"duration,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// MediaStatus is one entry of a MEDIA_STATUS payload.
type MediaStatus struct {
	MediaSessionID int64   `json:"mediaSessionId"`
	PlayerState    string  `json:"playerState"`
	CurrentTime    float64 `json:"currentTime,omitempty"`
	IdleReason     string  `json:"idleReason,omitempty"`
	Media          *Media  `json:"media,omitempty"`
}

// Title picks the most descriptive title available.
func (s MediaStatus) Title() string {
	if s.Media == nil {
		return ""
	}
	md := s.Media.Metadata
	switch {
	case md.Title != "":
		return md.Title
	case md.SeriesName != "":
		return md.SeriesName
	}
	return ""
}

// Artist falls back to the subtitle when the app reports none.
func (s MediaStatus) Artist() string {
	if s.Media == nil {
		return ""
	}
	if a := strings.TrimSpace(s.Media.Metadata.Artist); a != "" {
		return a
	}
	return s.Media.Metadata.Subtitle
}

// ImageURL returns the first artwork URL.
func (s MediaStatus) ImageURL() string {
	if s.Media == nil || len(s.Media.Metadata.Images) == 0 {
		return ""
	}
	return s.Media.Metadata.Images[0].URL
}

type mediaStatusPayload struct {
	header
	Status []MediaStatus `json:"status"`
}

type volumeRequest struct {
	header
	Volume volumeUpdate `json:"volume"`
}

// volumeUpdate sends only the field being changed.
type volumeUpdate struct {
	Level *float64 `json:"level,omitempty"`
	Muted *bool    `json:"muted,omitempty"`
}

type stopRequest struct {
	header
	SessionID string `json:"sessionId"`
}

type mediaRequest struct {
	header
	MediaSessionID int64 `json:"mediaSessionId"`
}
