package cast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type metricPoint struct {
	device string
	metric string
	value  float64
}

type outcomePoint struct {
	device, instruction, outcome string
	latency                      time.Duration
}

type fakeMetricWriter struct {
	mu       sync.Mutex
	metrics  []metricPoint
	outcomes []outcomePoint
}

func (w *fakeMetricWriter) WriteDeviceMetric(deviceID, metric string, value float64) {
	w.mu.Lock()
	w.metrics = append(w.metrics, metricPoint{deviceID, metric, value})
	w.mu.Unlock()
}

func (w *fakeMetricWriter) WriteInstructionOutcome(deviceID, instruction, outcome string, latency time.Duration) {
	w.mu.Lock()
	w.outcomes = append(w.outcomes, outcomePoint{deviceID, instruction, outcome, latency})
	w.mu.Unlock()
}

func TestTelemetrySink(t *testing.T) {
	w := &fakeMetricWriter{}
	sink := TelemetrySink{Writer: w}

	sink.SendState(DeviceState{DeviceID: "d1", DeviceStatus: ptr(StatusOnline), VolumeState: ptr(40)})
	sink.SendState(DeviceState{DeviceID: "d1", VolumeState: ptr(45)})
	sink.SendState(DeviceState{DeviceID: "d1", DeviceStatus: ptr(StatusOffline)})
	sink.SendMediaEvent(MediaEvent{DeviceID: "d1"})

	assert.Equal(t, []metricPoint{
		{"d1", MetricVolumeLevel, 40},
		{"d1", MetricOnline, 1},
		{"d1", MetricVolumeLevel, 45},
		{"d1", MetricOnline, 0},
	}, w.metrics)
}

func TestTelemetryRecorder(t *testing.T) {
	w := &fakeMetricWriter{}
	TelemetryRecorder{Writer: w}.Record(InstructionRecord{
		DeviceID:    "d1",
		Instruction: TagVolume,
		Outcome:     OutcomeAccepted,
		Latency:     15 * time.Millisecond,
	})

	assert.Equal(t, []outcomePoint{{"d1", TagVolume, "accepted", 15 * time.Millisecond}}, w.outcomes)
}

func TestFanOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}

	single := FanOut(a, nil)
	assert.Same(t, a, single)

	sink := FanOut(a, nil, b)
	sink.SendState(DeviceState{DeviceID: "d1"})
	sink.SendMediaEvent(MediaEvent{DeviceID: "d1"})

	assert.Len(t, a.States(), 1)
	assert.Len(t, b.States(), 1)
	assert.Len(t, a.Media(), 1)
	assert.Len(t, b.Media(), 1)
}
