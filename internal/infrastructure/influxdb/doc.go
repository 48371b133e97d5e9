// Package influxdb writes cast device telemetry to InfluxDB v2.
//
// Two measurements are recorded:
//   - cast_devices: per-device fields such as volume_level and online
//   - cast_instructions: instruction outcomes tagged by device, kind and outcome
//
// Telemetry is optional. Connect returns ErrDisabled when the influxdb
// section is not enabled and callers run without it.
package influxdb
