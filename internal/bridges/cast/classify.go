package cast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-cast/internal/mdns"
)

// TXT record keys published by cast devices.
const (
	txtID           = "id"
	txtModel        = "md"
	txtFriendlyName = "fn"
	txtCapabilities = "ca"
)

// Capability bits of the "ca" TXT record.
const (
	capVideoOut       = 1 << 0
	capAudioOut       = 1 << 2
	capMultizoneGroup = 1 << 5
)

// groupModel is the model string announced by speaker groups.
const groupModel = "Google Cast Group"

// DeviceIDFromEntry derives the stable id from model name and UUID.
//
//	md=Google Home Mini, id=4f2a9c... → "google-home-mini-4f2a9c..."
func DeviceIDFromEntry(e mdns.Entry) (DeviceID, error) {
	id := strings.TrimSpace(e.TXT(txtID))
	if id == "" {
		return "", fmt.Errorf("%w: %s: no id in TXT record", ErrResolveFailed, e.Instance)
	}
	model := strings.TrimSpace(e.TXT(txtModel))
	if model == "" {
		model = Protocol
	}
	return DeviceID(sanitizeID(model + "-" + id)), nil
}

// sanitizeID lower-cases and replaces characters that are unsafe in MQTT
// topic segments.
func sanitizeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range strings.ToLower(s) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
		if !ok {
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = true
			continue
		}
		b.WriteRune(r)
		dash = false
	}
	return strings.TrimRight(b.String(), "-")
}

// InfoFromEntry reads static metadata from an announcement.
func InfoFromEntry(e mdns.Entry) DeviceInfo {
	ca, _ := strconv.Atoi(e.TXT(txtCapabilities)) //nolint:errcheck // zero on junk
	host := e.Host
	if ip := e.IP(); ip != nil {
		host = ip.String()
	}
	name := e.TXT(txtFriendlyName)
	if name == "" {
		name = e.Instance
	}
	return DeviceInfo{
		UUID:           e.TXT(txtID),
		Model:          e.TXT(txtModel),
		FriendlyName:   name,
		CapabilityMask: ca,
		Host:           host,
		Port:           e.Port,
	}
}

// ClassifyKind maps native metadata to a DeviceKind.
func ClassifyKind(info DeviceInfo) DeviceKind {
	switch {
	case info.Model == groupModel || info.CapabilityMask&capMultizoneGroup != 0:
		return KindAudioGroup
	case info.CapabilityMask&capVideoOut != 0:
		return KindStreamingStick
	case info.CapabilityMask&capAudioOut != 0:
		return KindSmartSpeaker
	}
	return KindUnsupported
}

// CapabilitiesFor returns the capability descriptor of a kind.
func CapabilitiesFor(kind DeviceKind) Capabilities {
	if !kind.Supported() {
		return Capabilities{}
	}
	return Capabilities{
		VolumeControls: []VolumeControl{VolumeControlUp, VolumeControlDown, VolumeControlMute},
		PlayStates:     []PlayState{PlayStatePlaying, PlayStatePaused},
		URLPatterns:    []string{},
		PowerStates:    []PowerState{PowerStateOff},
	}
}
