// Package config handles loading and validating camera backend configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CAMBE_* environment variables
//   - Validation of required fields, reporting every problem at once
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("/etc/camera-be/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Backend.Listen)
package config
