// Package config handles configuration loading for coven-runtime.
//
// # Overview
//
// Configuration is a single YAML document. Model and tool-provider slots are
// ordered mappings: the order they are declared in is the order their clients
// are acquired, and shutdown releases them in reverse.
//
// # Environment Variable Expansion
//
// Any scalar value may reference environment variables:
//
//	models:
//	  main:
//	    api_key: "${OPENAI_API_KEY}"
//
// Expansion happens after parsing, so placeholders never change document
// structure. An unset variable fails the load with ErrUnresolvedEnv.
//
// # Durations
//
// Timeouts and intervals accept seconds or Go duration strings:
//
//	mcp_servers:
//	  search:
//	    timeout: 30
//	    sse_read_timeout: "5m"
//
// # Configuration Sections
//
//	models:        chat-model slots (provider, model, api_key, base_url, stream, ...)
//	mcp_servers:   tool-provider slots (url, transport, headers, timeouts)
//	session:       persistence backend (json, file, database, redis)
//	platform:      supervisory controller (endpoint, instance_id, heartbeat_interval)
//	tracing:       OTLP/HTTP endpoint
//	server:        host, port, grpc_port, tailscale
//	logging:       level and format (text, json)
//
// # Usage
//
//	cfg, err := config.Load("agentapp.yaml")
//	if err != nil {
//	    return err
//	}
package config
