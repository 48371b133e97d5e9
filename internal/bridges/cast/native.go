package cast

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-cast/internal/castv2"
	"github.com/nerrad567/gray-logic-cast/internal/mdns"
)

// NativeResolver builds castv2-backed handles from announcements.
type NativeResolver struct {
	// VolumeStep is the relative step for VolumeUp/VolumeDown (0–1].
	VolumeStep float64
	// Dial overrides the castv2 transport; nil uses TLS.
	Dial   castv2.DialFunc
	Logger castv2.Logger
}

// Resolve implements HandleResolver. It does not connect.
func (r NativeResolver) Resolve(_ context.Context, entry mdns.Entry) (DeviceHandle, error) {
	if !entry.Resolvable() {
		return nil, fmt.Errorf("%w: %s: no address", ErrResolveFailed, entry.Instance)
	}
	return &NativeHandle{
		addr:   castv2.Addr(entry.IP().String(), entry.Port),
		info:   InfoFromEntry(entry),
		step:   r.VolumeStep,
		dial:   r.Dial,
		logger: r.Logger,
	}, nil
}

// NativeHandle is a DeviceHandle over a castv2 connection.
type NativeHandle struct {
	addr   string
	info   DeviceInfo
	step   float64
	dial   castv2.DialFunc
	logger castv2.Logger

	mu       sync.RWMutex
	client   *castv2.Client
	listener StatusListener
}

// Connect dials the device and subscribes to its status callbacks.
func (h *NativeHandle) Connect(ctx context.Context) error {
	client, err := castv2.Dial(ctx, castv2.Config{
		Addr:   h.addr,
		Dial:   h.dial,
		Logger: h.logger,
	})
	if err != nil {
		return err
	}

	client.SetOnReceiverStatus(func(st castv2.ReceiverStatus) {
		if l := h.currentListener(); l != nil {
			l.OnStatus(toNativeStatus(st))
		}
	})
	client.SetOnMediaStatus(func(ms castv2.MediaStatus) {
		if l := h.currentListener(); l != nil {
			l.OnMediaStatus(toNativeMedia(ms, client.Status()))
		}
	})
	client.SetOnClosed(func(err error) {
		if l := h.currentListener(); l != nil {
			l.OnConnectionLost(err)
		}
	})

	h.mu.Lock()
	h.client = client
	h.mu.Unlock()
	return nil
}

// Disconnect closes the connection. No-op when not connected.
func (h *NativeHandle) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	client := h.client
	h.client = nil
	h.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close(ctx)
}

// Info returns metadata captured from the announcement.
func (h *NativeHandle) Info() DeviceInfo {
	return h.info
}

// Status returns the last receiver status.
func (h *NativeHandle) Status() NativeStatus {
	c, err := h.conn()
	if err != nil {
		return NativeStatus{}
	}
	return toNativeStatus(c.Status())
}

func (h *NativeHandle) Play(ctx context.Context) error {
	return h.do(ctx, (*castv2.Client).Play)
}

func (h *NativeHandle) Pause(ctx context.Context) error {
	return h.do(ctx, (*castv2.Client).Pause)
}

func (h *NativeHandle) VolumeUp(ctx context.Context) error {
	return h.do(ctx, func(c *castv2.Client, ctx context.Context) error { return c.VolumeUp(ctx, h.step) })
}

func (h *NativeHandle) VolumeDown(ctx context.Context) error {
	return h.do(ctx, func(c *castv2.Client, ctx context.Context) error { return c.VolumeDown(ctx, h.step) })
}

func (h *NativeHandle) SetMuted(ctx context.Context, muted bool) error {
	return h.do(ctx, func(c *castv2.Client, ctx context.Context) error { return c.SetMuted(ctx, muted) })
}

func (h *NativeHandle) SetVolume(ctx context.Context, level float64) error {
	return h.do(ctx, func(c *castv2.Client, ctx context.Context) error { return c.SetVolume(ctx, level) })
}

func (h *NativeHandle) Stop(ctx context.Context) error {
	return h.do(ctx, (*castv2.Client).StopApp)
}

// SetListener replaces the callback target.
func (h *NativeHandle) SetListener(l StatusListener) {
	h.mu.Lock()
	h.listener = l
	h.mu.Unlock()
}

func (h *NativeHandle) currentListener() StatusListener {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listener
}

func (h *NativeHandle) conn() (*castv2.Client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.client == nil {
		return nil, ErrNotConnected
	}
	return h.client, nil
}

func (h *NativeHandle) do(ctx context.Context, fn func(*castv2.Client, context.Context) error) error {
	c, err := h.conn()
	if err != nil {
		return err
	}
	return fn(c, ctx)
}

func toNativeStatus(st castv2.ReceiverStatus) NativeStatus {
	ns := NativeStatus{
		VolumeLevel: st.Volume.Level,
		Muted:       st.Volume.Muted,
	}
	if app, ok := st.ActiveApp(); ok {
		ns.AppID = app.AppID
		ns.AppName = app.DisplayName
	}
	return ns
}

func toNativeMedia(ms castv2.MediaStatus, rs castv2.ReceiverStatus) NativeMediaStatus {
	nm := NativeMediaStatus{
		PlayerState: ms.PlayerState,
		Title:       ms.Title(),
		Artist:      ms.Artist(),
		ImageURL:    ms.ImageURL(),
	}
	if ms.Media != nil {
		nm.ContentID = ms.Media.ContentID
	}
	if app, ok := rs.ActiveApp(); ok {
		nm.AppID = app.AppID
		nm.AppName = app.DisplayName
	}
	return nm
}
