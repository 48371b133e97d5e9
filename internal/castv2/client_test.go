package castv2

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice plays the receiver side of a cast connection over net.Pipe.
type fakeDevice struct {
	t    *testing.T
	conn net.Conn

	outbox chan Message

	mu          sync.Mutex
	volume      Volume
	apps        []Application
	media       *MediaStatus
	received    []Message
	failNextVol bool
}

func newFakeDevice(t *testing.T, conn net.Conn) *fakeDevice {
	d := &fakeDevice{t: t, conn: conn, volume: Volume{Level: 0.3}, outbox: make(chan Message, 64)}
	go d.serve()
	go d.writeLoop()
	return d
}

// writeLoop decouples device writes from reads so neither side of the
// synchronous pipe can block the other.
func (d *fakeDevice) writeLoop() {
	for msg := range d.outbox {
		if err := writeFrame(d.conn, msg); err != nil {
			return
		}
	}
}

func (d *fakeDevice) serve() {
	for {
		msg, err := readFrame(d.conn)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.received = append(d.received, msg)
		d.mu.Unlock()
		d.handle(msg)
	}
}

func (d *fakeDevice) handle(msg Message) {
	var h struct {
		Type           string `json:"type"`
		RequestID      int64  `json:"requestId"`
		SessionID      string `json:"sessionId"`
		MediaSessionID int64  `json:"mediaSessionId"`
		Volume         *struct {
			Level *float64 `json:"level"`
			Muted *bool    `json:"muted"`
		} `json:"volume"`
	}
	_ = json.Unmarshal([]byte(msg.PayloadUTF8), &h)

	switch msg.Namespace {
	case NamespaceHeart:
		if h.Type == typePing {
			d.send(msg.SourceID, NamespaceHeart, map[string]any{"type": typePong})
		}
	case NamespaceReceiver:
		switch h.Type {
		case typeGetStatus:
		case typeSetVolume:
			d.mu.Lock()
			fail := d.failNextVol
			d.failNextVol = false
			if !fail && h.Volume != nil {
				if h.Volume.Level != nil {
					d.volume.Level = *h.Volume.Level
				}
				if h.Volume.Muted != nil {
					d.volume.Muted = *h.Volume.Muted
				}
			}
			d.mu.Unlock()
			if fail {
				d.send(msg.SourceID, NamespaceReceiver, map[string]any{"type": "INVALID_REQUEST", "requestId": h.RequestID, "reason": "INVALID_COMMAND"})
				return
			}
		case typeStop:
			d.mu.Lock()
			d.apps = nil
			d.media = nil
			d.mu.Unlock()
		default:
			return
		}
		d.sendReceiverStatus(msg.SourceID, h.RequestID)
	case NamespaceMedia:
		d.mu.Lock()
		switch h.Type {
		case typePlay:
			d.media.PlayerState = PlayerStatePlaying
		case typePause:
			d.media.PlayerState = PlayerStatePaused
		}
		media := d.media
		d.mu.Unlock()
		if media != nil {
			d.send(msg.SourceID, NamespaceMedia, map[string]any{
				"type": typeMediaStatus, "requestId": h.RequestID, "status": []MediaStatus{*media},
			})
		}
	}
}

func (d *fakeDevice) sendReceiverStatus(dest string, requestID int64) {
	d.mu.Lock()
	status := ReceiverStatus{Volume: d.volume, Applications: d.apps}
	d.mu.Unlock()
	d.send(dest, NamespaceReceiver, map[string]any{
		"type": typeReceiverStatus, "requestId": requestID, "status": status,
	})
}

func (d *fakeDevice) send(dest, ns string, payload any) {
	body, _ := json.Marshal(payload)
	select {
	case d.outbox <- Message{
		SourceID:      PlatformReceiver,
		DestinationID: dest,
		Namespace:     ns,
		PayloadUTF8:   string(body),
	}:
	default:
	}
}

// startApp simulates an app launch pushed by the device.
func (d *fakeDevice) startApp(state string) {
	d.mu.Lock()
	d.apps = []Application{{AppID: "CC1AD845", DisplayName: "Default Media Receiver", SessionID: "sess-1", TransportID: "web-1"}}
	d.media = &MediaStatus{MediaSessionID: 7, PlayerState: state, Media: &Media{
		ContentID: "http://example/track.mp3",
		Metadata:  Metadata{Title: "Track", Artist: "Artist"},
	}}
	d.mu.Unlock()
	d.sendReceiverStatus(DefaultSenderID, 0)
}

func (d *fakeDevice) namespaces() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.received))
	for _, m := range d.received {
		out = append(out, m.Namespace+"/"+m.DestinationID)
	}
	return out
}

func dialFake(t *testing.T) (*Client, *fakeDevice) {
	t.Helper()
	clientSide, deviceSide := net.Pipe()
	dev := newFakeDevice(t, deviceSide)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, Config{
		Addr:              "fake:8009",
		HeartbeatInterval: 20 * time.Millisecond,
		Dial: func(context.Context, string) (net.Conn, error) {
			return clientSide, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
		_ = deviceSide.Close()
	})
	return c, dev
}

func TestDial_ReceivesInitialStatus(t *testing.T) {
	c, _ := dialFake(t)
	assert.InDelta(t, 0.3, c.Status().Volume.Level, 1e-9)
}

func TestDial_Failure(t *testing.T) {
	_, err := Dial(context.Background(), Config{
		Addr: "fake:8009",
		Dial: func(context.Context, string) (net.Conn, error) {
			return nil, errors.New("refused")
		},
	})
	require.Error(t, err)
}

func TestDial_TimesOutWithoutStatus(t *testing.T) {
	clientSide, deviceSide := net.Pipe()
	defer deviceSide.Close()
	go func() {
		// Swallow everything, never answer.
		for {
			if _, err := readFrame(deviceSide); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := Dial(ctx, Config{Addr: "x", Dial: func(context.Context, string) (net.Conn, error) { return clientSide, nil }})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestSetVolume_UpdatesStatusAndNotifies(t *testing.T) {
	c, _ := dialFake(t)

	got := make(chan ReceiverStatus, 4)
	c.SetOnReceiverStatus(func(s ReceiverStatus) { got <- s })

	require.NoError(t, c.SetVolume(context.Background(), 0.55))
	assert.InDelta(t, 0.55, c.Status().Volume.Level, 1e-9)

	select {
	case s := <-got:
		assert.InDelta(t, 0.55, s.Volume.Level, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("no status callback")
	}
}

func TestVolumeUpDown_Clamped(t *testing.T) {
	c, _ := dialFake(t)
	ctx := context.Background()

	require.NoError(t, c.VolumeUp(ctx, 0.9))
	assert.InDelta(t, 1.0, c.Status().Volume.Level, 1e-9)

	require.NoError(t, c.VolumeDown(ctx, 0.25))
	assert.InDelta(t, 0.75, c.Status().Volume.Level, 1e-9)

	require.NoError(t, c.SetVolume(ctx, -3))
	assert.InDelta(t, 0.0, c.Status().Volume.Level, 1e-9)
}

func TestSetMuted(t *testing.T) {
	c, _ := dialFake(t)
	require.NoError(t, c.SetMuted(context.Background(), true))
	assert.True(t, c.Status().Volume.Muted)
	assert.InDelta(t, 0.3, c.Status().Volume.Level, 1e-9)
}

func TestRequest_ErrorReply(t *testing.T) {
	c, dev := dialFake(t)
	dev.mu.Lock()
	dev.failNextVol = true
	dev.mu.Unlock()

	err := c.SetVolume(context.Background(), 0.9)
	assert.True(t, errors.Is(err, ErrRequestFailed), "got %v", err)
}

func TestPlayPause_RequiresMediaSession(t *testing.T) {
	c, _ := dialFake(t)
	assert.ErrorIs(t, c.Play(context.Background()), ErrNoMediaSession)
	assert.ErrorIs(t, c.Pause(context.Background()), ErrNoMediaSession)
}

func TestMediaSession_TrackedAndControlled(t *testing.T) {
	c, dev := dialFake(t)

	media := make(chan MediaStatus, 8)
	c.SetOnMediaStatus(func(s MediaStatus) { media <- s })

	dev.startApp(PlayerStatePlaying)

	select {
	case s := <-media:
		assert.Equal(t, PlayerStatePlaying, s.PlayerState)
		assert.Equal(t, "Track", s.Title())
	case <-time.After(time.Second):
		t.Fatal("no media status after app start")
	}

	require.NoError(t, c.Pause(context.Background()))
	m, ok := c.Media()
	require.True(t, ok)
	assert.Equal(t, PlayerStatePaused, m.PlayerState)

	require.NoError(t, c.Play(context.Background()))
	m, _ = c.Media()
	assert.Equal(t, PlayerStatePlaying, m.PlayerState)

	assert.Contains(t, dev.namespaces(), NamespaceConn+"/web-1")
}

func TestStopApp(t *testing.T) {
	c, dev := dialFake(t)

	// Nothing running: no request sent.
	require.NoError(t, c.StopApp(context.Background()))

	media := make(chan MediaStatus, 8)
	c.SetOnMediaStatus(func(s MediaStatus) { media <- s })
	dev.startApp(PlayerStatePlaying)
	select {
	case <-media:
	case <-time.After(time.Second):
		t.Fatal("no media status")
	}

	require.NoError(t, c.StopApp(context.Background()))
	_, running := c.Status().ActiveApp()
	assert.False(t, running)
	_, ok := c.Media()
	assert.False(t, ok)
}

func TestHeartbeat_Sent(t *testing.T) {
	_, dev := dialFake(t)
	assert.Eventually(t, func() bool {
		for _, ns := range dev.namespaces() {
			if ns == NamespaceHeart+"/"+PlatformReceiver {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestOnClosed_FiresOnRemoteLoss(t *testing.T) {
	clientSide, deviceSide := net.Pipe()
	newFakeDevice(t, deviceSide)

	c, err := Dial(context.Background(), Config{
		Addr: "fake:8009",
		Dial: func(context.Context, string) (net.Conn, error) { return clientSide, nil },
	})
	require.NoError(t, err)

	closed := make(chan error, 2)
	c.SetOnClosed(func(err error) { closed <- err })

	_ = deviceSide.Close()

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("OnClosed not called")
	}
	<-c.Done()

	assert.ErrorIs(t, c.SetVolume(context.Background(), 0.5), ErrClosed)
	select {
	case <-closed:
		t.Fatal("OnClosed called twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose_DoesNotFireOnClosed(t *testing.T) {
	c, _ := dialFake(t)

	called := make(chan struct{}, 1)
	c.SetOnClosed(func(error) { called <- struct{}{} })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	select {
	case <-called:
		t.Fatal("OnClosed fired on deliberate close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCallbackPanic_Recovered(t *testing.T) {
	c, _ := dialFake(t)

	c.SetOnReceiverStatus(func(ReceiverStatus) { panic("boom") })
	require.NoError(t, c.SetVolume(context.Background(), 0.4))

	assert.Eventually(t, func() bool { return c.Stats().Errors >= 1 }, time.Second, 10*time.Millisecond)

	// Worker still alive.
	ok := make(chan struct{}, 1)
	c.SetOnReceiverStatus(func(ReceiverStatus) { ok <- struct{}{} })
	require.NoError(t, c.SetVolume(context.Background(), 0.5))
	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatal("callback worker died after panic")
	}
}
