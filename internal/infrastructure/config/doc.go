// Package config handles loading and validating the Almond bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (ALMONDBRIDGE_*)
//   - Validation of required fields
//
// Security Considerations:
//   - The hub password, MQTT password and JWT secret should come from the environment
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.HomeKit.Name)
package config
