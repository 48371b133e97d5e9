package api

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/bridges/cast"
)

// WebSocket event channels.
const (
	ChannelDeviceState = "device.state_changed"
	ChannelDeviceMedia = "device.media_changed"
)

// DeviceView is the merged state of one device as seen by the API.
type DeviceView struct {
	cast.DeviceState
	Media     *cast.MediaEvent `json:"media,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// DeviceStore merges the bridge's sparse state stream into full views and
// relays each event to the hub. It implements cast.EventSink.
//
// Devices that go offline keep their last known view.
type DeviceStore struct {
	hub *Hub

	mu      sync.RWMutex
	devices map[cast.DeviceID]*DeviceView
	now     func() time.Time
}

// NewDeviceStore creates a store. hub may be nil.
func NewDeviceStore(hub *Hub) *DeviceStore {
	return &DeviceStore{
		hub:     hub,
		devices: make(map[cast.DeviceID]*DeviceView),
		now:     time.Now,
	}
}

// SendState merges st into the device's view.
func (d *DeviceStore) SendState(st cast.DeviceState) {
	d.mu.Lock()
	v, ok := d.devices[st.DeviceID]
	if !ok {
		v = &DeviceView{}
		d.devices[st.DeviceID] = v
	}
	v.DeviceState = v.DeviceState.Merge(st)
	v.UpdatedAt = d.now().UTC()
	d.mu.Unlock()

	if d.hub != nil {
		d.hub.Broadcast(ChannelDeviceState, st)
	}
}

// SendMediaEvent records ev as the device's current media.
func (d *DeviceStore) SendMediaEvent(ev cast.MediaEvent) {
	d.mu.Lock()
	v, ok := d.devices[ev.DeviceID]
	if !ok {
		v = &DeviceView{DeviceState: cast.DeviceState{DeviceID: ev.DeviceID}}
		d.devices[ev.DeviceID] = v
	}
	media := ev
	v.Media = &media
	v.UpdatedAt = d.now().UTC()
	d.mu.Unlock()

	if d.hub != nil {
		d.hub.Broadcast(ChannelDeviceMedia, ev)
	}
}

// Get returns a copy of one device's view.
func (d *DeviceStore) Get(id cast.DeviceID) (DeviceView, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.devices[id]
	if !ok {
		return DeviceView{}, false
	}
	return *v, true
}

// List returns all views ordered by device ID.
func (d *DeviceStore) List() []DeviceView {
	d.mu.RLock()
	out := make([]DeviceView, 0, len(d.devices))
	for _, v := range d.devices {
		out = append(out, *v)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
