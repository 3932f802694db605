// Package config provides configuration loading and validation for the voice bot service.
// It handles YAML-based configuration with environment expansion for secrets, per-section
// defaults and validation, so that a missing credential or endpoint stops the service at startup.
package config
