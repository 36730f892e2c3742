// Package config handles configuration loading for the opsdeck console.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	api:
//	  base_url: "${OPSDECK_API_URL}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	http:
//	  timeout: "30s"
//
// # Configuration Sections
//
// API endpoints:
//
//	api:
//	  base_url: "https://ops.example.com/api/v1"   # Required
//	  ws_base_url: "wss://ops.example.com/api/v1"  # Derived from base_url when unset
//	  refresh_path: "/auth/refresh"                # Default
//
// Session persistence:
//
//	session:
//	  profile_path: "~/.opsdeck/profile.toml"  # Default; never stores the access token
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/opsdeck/console.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
