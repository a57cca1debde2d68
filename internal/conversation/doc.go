// Package conversation provides the conversation controller for coven-chat.
//
// # Overview
//
// The conversation package sits between the UI shells (web and terminal)
// and the store and completion packages. Shells forward user actions to a
// Controller and render what it returns.
//
// # Controller
//
//	ctrl := conversation.New(store, completer, logger, conversation.WithBroadcaster(b))
//
// Key operations:
//
//   - NewSession(ctx): seed a session's thread index from storage and start a fresh thread
//   - NewThread(sess): generate a thread ID and make it active
//   - SwitchThread(ctx, sess, id): make a thread active and return its messages
//   - SendMessage(ctx, sess, id, text, onFragment): record, complete, record
//   - ListThreads(sess): the session's thread index in insertion order
//
// # Sending
//
// When a message is sent:
//
//  1. Wait for the thread's lock (sends on one thread never interleave)
//  2. Append the user message to the store
//  3. Load the full history and ask the completion service
//  4. Pass streamed fragments to onFragment as they arrive
//  5. Append the assistant message
//
// If step 3 or 4 fails, SendMessage returns a *CompletionError and the
// thread keeps only the user message. A reply with no text is not stored.
//
// # Sessions
//
// A Session holds what one UI shows: the active thread, its messages and
// the threads known to the sidebar. Shells own their sessions; the
// controller never keeps them.
//
// # Activity Broadcasting
//
// With WithBroadcaster, every send publishes Activity for its thread:
//
//   - user: the user message was recorded
//   - fragment: a piece of the reply arrived
//   - done: the reply is complete (Text holds the whole reply)
//   - error: the completion failed
//
// The web shell relays these to websocket watchers so other tabs follow a
// reply as it streams.
package conversation
