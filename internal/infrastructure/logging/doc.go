// Package logging provides structured logging for the radio switch bridge.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same format and default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
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
//	logger.Info("switching device", "device", name, "state", "ON")
//
// Never log MQTT passwords or InfluxDB tokens. Use config.Config.String for a
// redacted dump of the configuration.
package logging
