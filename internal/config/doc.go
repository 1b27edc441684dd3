// Package config handles configuration loading for parlor-web.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PARLOR_CONFIG environment variable
//  2. ~/.config/parlor/parlor.yaml (platform user config dir)
//
// A missing file is not an error; defaults apply.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	session:
//	  secret: "${PARLOR_SESSION_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	monitor:
//	  heal_interval: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Local data:
//
//	data:
//	  dir: "/var/lib/parlor"
//
// Backend resolution:
//
//	backend:
//	  static_config: "/etc/parlor/config.json"  # path or URL
//	  environment: "production"
//
// Sessions:
//
//	session:
//	  secret: "${PARLOR_SESSION_SECRET}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	path, _ := config.ResolvePath()
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
