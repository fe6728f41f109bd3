// Package logging provides structured logging for the relay daemon.
//
// It wraps log/slog so every component logs with the same handler, level
// filtering and default fields (service, version).
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
//	logger.Info("uplink received", "gateway_id", gw, "size", len(payload))
//
// Components that only need to log depend on a small Logger interface
// (Debug/Info/Warn/Error) rather than on this package, so *Logger can be
// passed anywhere such an interface is expected.
//
// Never log JWT secrets, MQTT passwords or InfluxDB tokens.
package logging
