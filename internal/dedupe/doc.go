// Package dedupe rejects repeated submissions of the same request.
//
// The web shell tags every send with a client-generated request ID and
// claims dedupe.Key(sessionID, requestID) before doing any work. A second
// claim within the window fails, so a double-clicked button or a retried
// form post never records the same user message twice.
package dedupe
