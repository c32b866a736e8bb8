// Package config handles configuration loading for lectern-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from LECTERN_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/lectern/gateway.yaml
//  3. ~/.config/lectern/gateway.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${LECTERN_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  driver: "sqlite"                  # sqlite, postgres
//	  path: "/var/lib/lectern/lectern.db"
//	  dsn: "${LECTERN_DATABASE_URL}"   # postgres only
//
//	auth:
//	  jwt_secret: "${LECTERN_JWT_SECRET}"
//
//	realtime:
//	  redis_url: "redis://localhost:6379/0"  # optional cross-instance relay
//	  subscriber_buffer: 64
//	  ping_interval: "30s"
//
//	messaging:
//	  history_limit: 200
//	  max_content_length: 4000
//
//	tailscale:
//	  enabled: false
//	  hostname: "lectern"
//	  auth_key: "${TS_AUTHKEY}"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
