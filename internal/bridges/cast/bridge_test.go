package cast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/config"
)

func TestNewBridge_Validation(t *testing.T) {
	cfg := config.Default()

	_, err := NewBridge(BridgeOptions{MQTTClient: newMockMQTTClient(), Browser: newFakeBrowser()})
	assert.Error(t, err)
	_, err = NewBridge(BridgeOptions{Config: cfg, Browser: newFakeBrowser()})
	assert.Error(t, err)
	_, err = NewBridge(BridgeOptions{Config: cfg, MQTTClient: newMockMQTTClient()})
	assert.Error(t, err)
}

func TestBridge_EndToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.ID = "cast-test"

	client := newMockMQTTClient()
	browser := newFakeBrowser()
	resolver := newFakeResolver()
	extra := &recordingSink{}
	recorder := &recordingRecorder{}

	h := newFakeHandle("Google Home", 4, 0.25)
	resolver.add("Home-1", h)

	b, err := NewBridge(BridgeOptions{
		Config:     cfg,
		MQTTClient: client,
		Browser:    browser,
		Resolver:   resolver,
		Version:    "test",
		Sinks:      []EventSink{extra},
		Recorders:  []Recorder{recorder},
	})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))

	handler := browser.waitHandler()
	handler.Added(castEntry("Home-1", "Google Home", "H1", 4))

	const id = "google-home-h1"
	stateTopic := "graylogic/state/cast/" + id
	require.Eventually(t, func() bool {
		return len(client.onTopic(stateTopic)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []DeviceStatus{StatusOnline}, extra.statusesFor(id))
	assert.Equal(t, 1, b.Registry().Len())

	// Instruction in, ack out.
	require.NoError(t, client.SimulateMessage("graylogic/command/cast/"+id,
		[]byte(`{"id":"cmd-1","instruction":"volume","parameters":{"kind":"set_level","level":60}}`)))

	ackTopic := "graylogic/ack/cast/" + id
	require.Eventually(t, func() bool {
		return len(client.onTopic(ackTopic)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	var ack AckMessage
	require.NoError(t, json.Unmarshal(client.onTopic(ackTopic)[0].Payload, &ack))
	assert.Equal(t, AckAccepted, ack.Status)
	assert.Equal(t, []string{"set_volume:0.60"}, h.Calls())
	require.Len(t, recorder.Records(), 1)
	assert.Equal(t, "cmd-1", recorder.Records()[0].ID)

	// Native volume change becomes a sparse update.
	h.pushStatus(NativeStatus{VolumeLevel: 0.6})
	require.Eventually(t, func() bool {
		return len(client.onTopic(stateTopic)) == 2
	}, 2*time.Second, 5*time.Millisecond)

	b.Stop(context.Background())
	b.Stop(context.Background())

	states := client.onTopic(stateTopic)
	require.Len(t, states, 3)
	var last DeviceState
	require.NoError(t, json.Unmarshal(states[2].Payload, &last))
	require.NotNil(t, last.DeviceStatus)
	assert.Equal(t, StatusOffline, *last.DeviceStatus)

	health := client.onTopic("graylogic/health/cast")
	require.NotEmpty(t, health)
	var final HealthMessage
	require.NoError(t, json.Unmarshal(health[len(health)-1].Payload, &final))
	assert.Equal(t, HealthStopping, final.Status)
	assert.Equal(t, "cast-test", final.BridgeID)
}
