// Package logging provides structured logging for the Almond bridge.
//
// It wraps log/slog so every component logs with the same handler and
// default fields (service, version).
//
// Configuration lives in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log the hub password or the HomeKit PIN.
package logging
