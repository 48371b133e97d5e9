package cast

import (
	"time"
)

// Metric names written per device.
const (
	MetricVolumeLevel = "volume_level"
	MetricOnline      = "online"
)

// MetricWriter is satisfied by *influxdb.Client.
type MetricWriter interface {
	WriteDeviceMetric(deviceID, metric string, value float64)
	WriteInstructionOutcome(deviceID, instruction, outcome string, latency time.Duration)
}

// TelemetrySink turns state updates into device metrics.
type TelemetrySink struct {
	Writer MetricWriter
}

// SendState implements EventSink.
func (t TelemetrySink) SendState(st DeviceState) {
	id := string(st.DeviceID)
	if st.VolumeState != nil {
		t.Writer.WriteDeviceMetric(id, MetricVolumeLevel, float64(*st.VolumeState))
	}
	if st.DeviceStatus != nil {
		online := 0.0
		if *st.DeviceStatus == StatusOnline {
			online = 1
		}
		t.Writer.WriteDeviceMetric(id, MetricOnline, online)
	}
}

// SendMediaEvent implements EventSink. Media events carry no metrics.
func (TelemetrySink) SendMediaEvent(MediaEvent) {}

// TelemetryRecorder writes instruction outcomes and latencies.
type TelemetryRecorder struct {
	Writer MetricWriter
}

// Record implements Recorder.
func (t TelemetryRecorder) Record(rec InstructionRecord) {
	t.Writer.WriteInstructionOutcome(string(rec.DeviceID), rec.Instruction, string(rec.Outcome), rec.Latency)
}

// fanOut delivers every event to each sink in order.
type fanOut []EventSink

// FanOut combines sinks. nil sinks are skipped.
func FanOut(sinks ...EventSink) EventSink {
	out := make(fanOut, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (f fanOut) SendState(st DeviceState) {
	for _, s := range f {
		s.SendState(st)
	}
}

func (f fanOut) SendMediaEvent(ev MediaEvent) {
	for _, s := range f {
		s.SendMediaEvent(ev)
	}
}
