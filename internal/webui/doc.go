// Package webui serves the browser shell of coven-chat.
//
// # Sessions
//
// Every route except /health runs inside withSession. A request whose
// coven_chat_session token is missing, invalid, or names a reaped session
// gets a new conversation.Session seeded with the stored threads and a
// fresh active thread. The token is re-signed on each request so the
// session lives until it sits idle for webui.session_idle_timeout.
//
// # Routes
//
//	GET  /                       chat page, sidebar newest thread first
//	POST /threads                start a new chat
//	POST /threads/{id}/select    switch to a thread
//	POST /send                   form send, redirects back to /
//	POST /api/send               JSON send, reply streamed as SSE
//	GET  /api/threads            thread list as JSON
//	GET  /api/threads/{id}       thread history as JSON
//	GET  /ws/threads/{id}        live activity for a thread (websocket)
//	GET  /health                 liveness
//
// # Streaming
//
// POST /api/send answers with text/event-stream:
//
//	event: started   {"thread_id": "..."}
//	event: fragment  {"text": "..."}                     zero or more
//	event: done      {"thread_id", "full_response", "html"}
//	event: error     {"error": "...", "status": 502}
//
// A request_id repeated by the same session within webui.dedupe_window is
// rejected with 409 before anything is recorded.
package webui
