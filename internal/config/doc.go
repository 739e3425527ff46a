// Package config handles configuration loading for asr-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Missing values fall back to defaults, then the result is
// validated.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${ASR_GATEWAY_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	asr:
//	  connect_delay: "200ms"
//	keepalive:
//	  interval: "10s"
//
// # Configuration Sections
//
// Client listener:
//
//	server:
//	  addr: "0.0.0.0:8008"
//	  path: "/"
//	  grpc_addr: "0.0.0.0:8009"   # optional gRPC health service
//
// Backend engine and pool:
//
//	asr:
//	  host: "10.0.0.5"
//	  port: 7000
//	  sample_rate: 16000          # ends up in /ws/streamraw/<rate>
//	  pool_size: 4
//	  replenish: false            # true redials slots that closed
//
// Authentication:
//
//	auth:
//	  enabled: true
//	  method: "auth0"             # none | database | auth0 | jwt
//	  auth0_domain: "example.eu.auth0.com"
//	  audience: "https://asr.example.com"
//
// Ledger:
//
//	database:
//	  enabled: true
//	  driver: "postgres"          # sqlite | sqlite3 | postgres
//	  dsn: "${ASR_GATEWAY_DSN}"
//	  store_audio: false
package config
