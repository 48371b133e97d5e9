// Package logging provides structured logging for the cast bridge.
//
// It wraps log/slog so every component logs with the same handler, level and
// default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("discovery").Info("browse cycle complete", "devices", n)
//	logger.Error("connect failed", "device_id", id, "error", err)
//
// Never log secrets. The MQTT password, InfluxDB token and JWT secret must not
// appear in log fields.
package logging
