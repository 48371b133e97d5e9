package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementDevices      = "cast_devices"
	measurementInstructions = "cast_instructions"
)

// WriteDeviceMetric records one numeric field for a device, e.g.
// ("chromecast-9b1c", "volume_level", 0.4) or ("chromecast-9b1c", "online", 1).
func (c *Client) WriteDeviceMetric(deviceID, metric string, value float64) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		measurementDevices,
		map[string]string{"device_id": deviceID},
		map[string]any{metric: value},
		time.Now(),
	))
}

// WriteInstructionOutcome records how an instruction was resolved and how
// long the device took to answer.
func (c *Client) WriteInstructionOutcome(deviceID, instruction, outcome string, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		measurementInstructions,
		map[string]string{
			"device_id":   deviceID,
			"instruction": instruction,
			"outcome":     outcome,
		},
		map[string]any{"latency_ms": float64(latency.Microseconds()) / 1000},
		time.Now(),
	))
}
