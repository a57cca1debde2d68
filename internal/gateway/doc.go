// Package gateway wires the coven-chat server together.
//
// New builds the components in dependency order:
//
//	store.Open(cfg.Database)            conversation store backend
//	completion.New(cfg.Completion)      assistant reply provider
//	conversation.NewFragmentBroadcaster live activity fan-out
//	conversation.New(...)               the controller
//	webui.New(...)                      browser shell and JSON/SSE API
//
// Run listens on server.http_addr and serves until its context ends.
// Shutdown stops the HTTP server first and closes the store last, so a send
// that is already recording finishes before storage goes away.
//
// COVEN_CHAT_DB_PATH overrides database.path, which is handy for running a
// second instance against a scratch database.
package gateway
