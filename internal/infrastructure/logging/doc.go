// Package logging provides structured logging for the camera backend.
//
// It wraps log/slog with JSON or text output and stamps every record with
// the service name and build version. Packages take a narrow Logger
// interface, so a *Logger or a component child of it can be passed in:
//
//	logger := logging.New(cfg.Logging, version)
//	registry := camera.NewRegistry(camera.RegistryOptions{
//	    Device: camera.Options{Logger: logger.Component("camera")},
//	})
//
// Configured in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log broker passwords or the InfluxDB token.
package logging
