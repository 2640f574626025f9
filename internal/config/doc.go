// Package config owns the worldgpt server settings.
//
// # Overview
//
// Settings live in a YAML document. The Configuration subsystem resolves
// the document location, writes a default document on first run, loads it
// and keeps the live copy behind the subsystem lock. Updates are queued
// tasks: the worker validates them, writes the document and only then
// swaps the in-memory settings.
//
// # Document Location
//
//  1. WORLDGPT_CONFPATH, which must name an existing file
//  2. worldgpt/server/persistence/configuration/configuration.yaml
//
// # Environment
//
// WGPT_LISTEN_ADDRESS and WGPT_LISTEN_PORT override the API listen address
// at load time. They are never written back to the document.
//
// Values in the document may reference variables:
//
//	llm:
//	  openai_api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Sections
//
//	persistence:
//	  base: "worldgpt/server/persistence"
//	certificates:
//	  server_cert: ".../certificate/server.crt.pem"
//	database:
//	  path: ".../database/datastore.db"
//	api:
//	  listen_host: "localhost"
//	  listen_port: 8001
//	llm:
//	  model: "gpt-3.5-turbo"
//	  max_tokens: 128
//	  requests_per_minute: 60
//	  request_timeout: "60s"
//	voice:
//	  elevenlabs_api_key: ""
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//	subsystems:
//	  shutdown_timeout: "5s"
//	  dead_letter_limit: 100
//
// Durations use time.ParseDuration syntax.
//
// # Usage
//
//	e, err := config.ParseEnv()
//	if err != nil {
//	    return err
//	}
//	conf := config.NewConfiguration(e, "", logger)
//	if err := conf.Bootstrap(ctx); err != nil {
//	    return err
//	}
//	cfg := conf.Snapshot()
package config
