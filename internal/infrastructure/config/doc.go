// Package config handles loading and validating the radio switch bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields, including every device's radio codes
//   - Default value handling
//
// Security Considerations:
//   - MQTT passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Config.String redacts secrets before the configuration is logged
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
