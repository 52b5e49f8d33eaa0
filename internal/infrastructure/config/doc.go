// Package config handles loading and validating StudySync auth core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with STUDYSYNC_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The JWT signing secret must come from STUDYSYNC_JWT_SECRET in production
//   - Startup is refused when the secret is missing or shorter than 32 characters
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ttl := cfg.Security.AccessTTL()
package config
