// Package auth signs and reads the session tokens of the coven-chat web shell.
//
// # Sessions
//
// coven-chat has no user accounts. Each browser gets an anonymous session;
// the server keeps the session state and hands the browser an HS256 JWT whose
// sub claim is the session ID:
//
//	signer := auth.NewSigner(secret)
//	token, err := signer.Sign(sessionID, 30*time.Minute)
//	sessionID, err := signer.Verify(token)
//
// Tokens travel in the coven_chat_session cookie, or in an
// "Authorization: Bearer <token>" header for scripted clients
// (see TokenFromRequest).
//
// # Secrets
//
// The secret comes from webui.session_secret. When it is empty the server
// calls RandomSecret at startup, so sessions do not survive a restart.
//
// # Errors
//
//   - ErrInvalidToken: bad signature, wrong issuer, or malformed token
//   - ErrExpiredToken: the token is past its exp claim
//   - ErrMissingClaim: the token carries no session ID
package auth
