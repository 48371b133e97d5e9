// Package config handles loading and validating cast bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be set
//     via environment variables rather than committed to the config file
//   - An empty security.jwt.secret disables API authentication; only do this on
//     an isolated network
//
// Usage:
//
//	cfg, err := config.Load("configs/castbridge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.ID, cfg.ConnectTimeout())
package config
