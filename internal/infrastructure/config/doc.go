// Package config handles loading and validating the relay daemon configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with LORARELAY_* environment variables
//   - Validation of every field, reported as one error
//   - Default value handling
//
// A configuration error is fatal: the daemon refuses to start rather than
// running with out-of-range cache, queue or radio parameters.
//
// Security Considerations:
//   - MQTT passwords, InfluxDB tokens and the JWT secret should be set via
//     environment variables rather than committed to the config file
//   - An empty security.jwt.secret disables API authentication
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.ListenAddr())
package config
