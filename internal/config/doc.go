// Package config handles configuration loading for coven-asana.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by file extension) with
// environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from COVEN_ASANA_CONFIG environment variable
//  3. ~/.config/coven-asana/config.yaml
//
// # Environment Variable Expansion
//
//	asana:
//	  access_token: "${ASANA_ACCESS_TOKEN}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8090"
//	  base_url: "https://asana-bridge.example.ts.net"
//
//	database:
//	  path: "~/.config/coven-asana/coven-asana.db"
//	  mapping_path: ""          # defaults next to the database
//
//	asana:
//	  access_token: "${ASANA_ACCESS_TOKEN}"   # falls back to the OS keyring
//	  workspace_gid: "1200000000000"
//	  project_gid: "1200000000001"
//	  agent_user_gid: "1200000000002"
//
//	gateway:
//	  url: "http://localhost:8080"
//	  token: "${COVEN_TOKEN}"
//	  agent_id: "asana-agent"
//	  timeout: "10m"
//
//	webhooks:
//	  dedupe_max: 1000
//	  dedupe_ttl: ""            # empty keeps keys until evicted by size
//
//	reporter:
//	  max_result_length: 10000
//	  timeout: "60s"
//	  catch_up_delay: "500ms"
//	  progress_interval: "5m"   # interim agent updates; omit to disable
//	  catch_up_limit: 50
//
//	sweep:
//	  enabled: true
//	  schedule: "@every 15m"
//
//	auth:
//	  jwt_secret: "${COVEN_ASANA_JWT_SECRET}"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
