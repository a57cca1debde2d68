// Package config handles configuration loading for coven-chat.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every field has a default (see Default), so a missing file or a
// partial file still yields a runnable configuration: in-memory storage and
// the offline echo completer.
//
// # Configuration File
//
// The CLI looks in (in order):
//
//  1. Path from COVEN_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven-chat/config.yaml (~/.config when unset)
//
// Files ending in .toml are decoded as TOML; everything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	completion:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Server:
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//
// Storage:
//
//	database:
//	  backend: "sqlite"          # memory, sqlite, bolt, redis
//	  driver: "sqlite"           # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "~/.local/share/coven-chat/chat.db"
//	  redis:
//	    addr: "127.0.0.1:6379"
//	    prefix: "coven-chat"
//
// Completion:
//
//	completion:
//	  provider: "openai"         # openai, echo
//	  model: "gpt-4o-mini"
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: ""               # any OpenAI-compatible endpoint
//	  stream: true
//	  timeout: "60s"
//
// Web shell:
//
//	webui:
//	  session_secret: "${COVEN_CHAT_SESSION_SECRET}"
//	  session_idle_timeout: "30m"
//	  dedupe_window: "1m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates backend and provider names, the paths and addresses each
// backend needs, and the API key required by the openai provider.
package config
