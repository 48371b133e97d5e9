package cast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	r, err := NewRegistry(RegistryOptions{Sink: sink, ConnectTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { r.StopAll(context.Background()) })
	return r, sink
}

func TestNewRegistry_RequiresSink(t *testing.T) {
	_, err := NewRegistry(RegistryOptions{})
	assert.Error(t, err)
}

func TestRegistryOnDiscovered_Idempotent(t *testing.T) {
	r, sink := newTestRegistry(t)
	h := newFakeHandle("Chromecast", 5, 0.2)
	ctx := context.Background()

	resolves := 0
	factory := func(context.Context) (DeviceHandle, error) {
		resolves++
		return h, nil
	}

	require.NoError(t, r.OnDiscovered(ctx, testDevice, factory))
	require.NoError(t, r.OnDiscovered(ctx, testDevice, factory))

	assert.Equal(t, 1, resolves)
	assert.Equal(t, 1, h.Connects())
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []DeviceStatus{StatusOnline}, sink.statusesFor(testDevice))

	sess, ok := r.Lookup(testDevice)
	require.True(t, ok)
	assert.Equal(t, testDevice, sess.ID())
}

func TestRegistryOnDiscovered_ResolveFailureReleases(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	err := r.OnDiscovered(ctx, testDevice, func(context.Context) (DeviceHandle, error) {
		return nil, errors.New("no address")
	})
	require.ErrorIs(t, err, ErrResolveFailed)
	_, ok := r.Lookup(testDevice)
	assert.False(t, ok)

	h := newFakeHandle("Chromecast", 5, 0.2)
	require.NoError(t, r.OnDiscovered(ctx, testDevice, staticFactory(h)))
	_, ok = r.Lookup(testDevice)
	assert.True(t, ok)
}

func TestRegistryOnDiscovered_StartFailureReleases(t *testing.T) {
	r, sink := newTestRegistry(t)
	ctx := context.Background()

	h := newFakeHandle("Chromecast", 5, 0.2)
	h.connectErr = errors.New("refused")

	err := r.OnDiscovered(ctx, testDevice, staticFactory(h))
	require.ErrorIs(t, err, ErrConnectFailed)
	assert.Zero(t, r.Len())
	assert.Empty(t, sink.States())

	h.mu.Lock()
	h.connectErr = nil
	h.mu.Unlock()

	require.NoError(t, r.OnDiscovered(ctx, testDevice, staticFactory(h)))
	assert.Equal(t, 2, h.Connects())
	assert.Equal(t, 1, r.Len())
}

func TestRegistryOnDiscovered_UnsupportedTombstone(t *testing.T) {
	r, sink := newTestRegistry(t)
	ctx := context.Background()

	resolves := 0
	factory := func(context.Context) (DeviceHandle, error) {
		resolves++
		return newFakeHandle("Smart TV", 0, 0.2), nil
	}

	err := r.OnDiscovered(ctx, testDevice, factory)
	require.ErrorIs(t, err, ErrUnsupportedDevice)
	require.NoError(t, r.OnDiscovered(ctx, testDevice, factory))

	assert.Equal(t, 1, resolves)
	_, ok := r.Lookup(testDevice)
	assert.False(t, ok, "unsupported devices are not routable")
	assert.Zero(t, r.Len())
	assert.Empty(t, sink.States())

	// Removal clears the tombstone without emitting.
	r.OnRemoved(ctx, testDevice)
	assert.Empty(t, sink.States())
}

func TestRegistryOnRemoved(t *testing.T) {
	r, sink := newTestRegistry(t)
	ctx := context.Background()
	h := newFakeHandle("Google Home", 4, 0.2)

	require.NoError(t, r.OnDiscovered(ctx, testDevice, staticFactory(h)))
	r.OnRemoved(ctx, testDevice)

	_, ok := r.Lookup(testDevice)
	assert.False(t, ok)
	assert.Equal(t, []DeviceStatus{StatusOnline, StatusOffline}, sink.statusesFor(testDevice))
	assert.Equal(t, 1, h.Disconnects())

	// Unknown ids are ignored.
	r.OnRemoved(ctx, "never-seen")
	r.OnRemoved(ctx, testDevice)
	assert.Len(t, sink.States(), 2)
}

func TestRegistryEvict_StaleSession(t *testing.T) {
	r, sink := newTestRegistry(t)
	ctx := context.Background()

	first := newFakeHandle("Chromecast", 5, 0.2)
	require.NoError(t, r.OnDiscovered(ctx, testDevice, staticFactory(first)))
	old, _ := r.Lookup(testDevice)

	r.OnRemoved(ctx, testDevice)
	second := newFakeHandle("Chromecast", 5, 0.2)
	require.NoError(t, r.OnDiscovered(ctx, testDevice, staticFactory(second)))

	assert.False(t, r.Evict(ctx, old))
	current, ok := r.Lookup(testDevice)
	require.True(t, ok)
	assert.NotSame(t, old, current)

	assert.True(t, r.Evict(ctx, current))
	assert.Equal(t,
		[]DeviceStatus{StatusOnline, StatusOffline, StatusOnline, StatusOffline},
		sink.statusesFor(testDevice))
}

func TestRegistryConnectionLost_EvictsWithoutCallback(t *testing.T) {
	r, sink := newTestRegistry(t)
	h := newFakeHandle("Chromecast", 5, 0.2)
	require.NoError(t, r.OnDiscovered(context.Background(), testDevice, staticFactory(h)))

	h.dropConnection()

	require.Eventually(t, func() bool {
		_, ok := r.Lookup(testDevice)
		return !ok
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(sink.statusesFor(testDevice)) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRegistryConnectionLostDuringStart(t *testing.T) {
	r, sink := newTestRegistry(t)
	h := newFakeHandle("Chromecast", 5, 0.2)
	h.dropOnListen = true

	require.NoError(t, r.OnDiscovered(context.Background(), testDevice, staticFactory(h)))

	require.Eventually(t, func() bool {
		_, ok := r.Lookup(testDevice)
		return !ok && r.Len() == 0
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(sink.statusesFor(testDevice)) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []DeviceStatus{StatusOnline, StatusOffline}, sink.statusesFor(testDevice))
	assert.Equal(t, 1, h.Disconnects())

	// The id is free again, so the next announcement reconnects.
	h2 := newFakeHandle("Chromecast", 5, 0.2)
	require.Eventually(t, func() bool {
		return r.OnDiscovered(context.Background(), testDevice, staticFactory(h2)) == nil && h2.Connects() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRegistrySessionsAndStopAll(t *testing.T) {
	r, sink := newTestRegistry(t)
	ctx := context.Background()

	ids := []DeviceID{"speaker-b", "speaker-a", "speaker-c"}
	for _, id := range ids {
		require.NoError(t, r.OnDiscovered(ctx, id, staticFactory(newFakeHandle("Google Home", 4, 0.2))))
	}

	sessions := r.Sessions()
	require.Len(t, sessions, 3)
	assert.Equal(t, DeviceID("speaker-a"), sessions[0].ID())
	assert.Equal(t, DeviceID("speaker-c"), sessions[2].ID())

	r.StopAll(ctx)
	assert.Zero(t, r.Len())
	for _, id := range ids {
		assert.Equal(t, []DeviceStatus{StatusOnline, StatusOffline}, sink.statusesFor(id))
	}
}
