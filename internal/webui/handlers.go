// ABOUTME: HTTP handlers for the chat page, thread switching and message sending
// ABOUTME: POST /api/send streams the reply as SSE events: started, fragment, done, error

package webui

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/dedupe"
)

// SendRequest is the JSON request body for POST /api/send.
type SendRequest struct {
	ThreadID  string `json:"thread_id,omitempty"` // defaults to the session's active thread
	Content   string `json:"content"`
	RequestID string `json:"request_id,omitempty"`
}

// ThreadsResponse is the JSON response for GET /api/threads.
type ThreadsResponse struct {
	Active  string   `json:"active"`
	Threads []string `json:"threads"` // newest first
}

// HistoryResponse is the JSON response for GET /api/threads/{id}.
type HistoryResponse struct {
	ThreadID string                        `json:"thread_id"`
	Messages []conversation.DisplayMessage `json:"messages"`
}

var errSessionExpired = errors.New("session expired")

// sessionLost answers a request whose session was reaped after withSession
// bound it. The cookie is cleared so the next request starts over.
func (s *Server) sessionLost(w http.ResponseWriter, asJSON bool) {
	auth.ClearSessionCookie(w)
	if asJSON {
		s.sendJSONError(w, http.StatusUnauthorized, errSessionExpired.Error())
		return
	}
	http.Error(w, errSessionExpired.Error(), http.StatusUnauthorized)
}

// parseSendRequest parses and validates a SendRequest from the given reader.
func parseSendRequest(r io.Reader) (*SendRequest, error) {
	var req SendRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, errors.New("content is required")
	}
	return &req, nil
}

// claimRequest reports whether the request may proceed. Requests without an
// ID are never deduplicated.
func (s *Server) claimRequest(sessionID, requestID string) (string, bool) {
	if requestID == "" {
		return "", true
	}
	key := dedupe.Key(sessionID, requestID)
	return key, s.dedupe.Claim(key)
}

// releaseRequest lets a request ID be retried after a failure that
// recorded nothing. Once the user message is stored the claim is kept, so a
// retry cannot record it twice.
func (s *Server) releaseRequest(key string) {
	if key != "" {
		s.dedupe.Release(key)
	}
}

// handleIndex renders the chat page for the active thread
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(r)
	if !ok {
		s.sessionLost(w, false)
		return
	}
	s.renderChatPage(w, sess)
}

// handleNewThread starts a fresh thread and returns to the chat page
func (s *Server) handleNewThread(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(r)
	if !ok {
		s.sessionLost(w, false)
		return
	}

	threadID := s.ctrl.NewThread(sess)
	s.logger.Debug("thread created", "session_id", sess.ID, "thread_id", threadID)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleSelectThread makes the thread in the path active
func (s *Server) handleSelectThread(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(r)
	if !ok {
		s.sessionLost(w, false)
		return
	}

	threadID := r.PathValue("id")
	if _, err := s.ctrl.SwitchThread(r.Context(), sess, threadID); err != nil {
		s.logger.Error("failed to switch thread", "thread_id", threadID, "error", err)
		http.Error(w, "Failed to load thread", errorStatus(err))
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleFormSend handles the no-script form post: send, wait for the reply,
// then redirect back to the page.
func (s *Server) handleFormSend(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(r)
	if !ok {
		s.sessionLost(w, false)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	message := r.FormValue("message")
	if strings.TrimSpace(message) == "" {
		http.Error(w, "Message required", http.StatusBadRequest)
		return
	}

	threadID := r.FormValue("thread_id")
	if threadID == "" {
		threadID = sess.ThreadID()
	}

	key, fresh := s.claimRequest(sess.ID, r.FormValue("request_id"))
	if !fresh {
		http.Error(w, "Duplicate request", http.StatusConflict)
		return
	}

	// A page rendered before a thread switch still posts its own thread
	if threadID != sess.ThreadID() {
		if _, err := s.ctrl.SwitchThread(r.Context(), sess, threadID); err != nil {
			s.releaseRequest(key)
			s.logger.Error("failed to switch thread", "thread_id", threadID, "error", err)
			http.Error(w, "Failed to load thread", errorStatus(err))
			return
		}
	}

	if _, err := s.ctrl.SendMessage(r.Context(), sess, threadID, message, nil); err != nil {
		if !errors.Is(err, conversation.ErrUserRecorded) {
			s.releaseRequest(key)
		}
		s.logger.Error("failed to send message", "thread_id", threadID, "error", err)
		http.Error(w, sendErrorMessage(err), errorStatus(err))
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleAPISend handles POST /api/send and streams the reply as SSE.
func (s *Server) handleAPISend(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(r)
	if !ok {
		s.sessionLost(w, true)
		return
	}

	req, err := parseSendRequest(r.Body)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = sess.ThreadID()
	}

	// Check streaming support before sending (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	key, fresh := s.claimRequest(sess.ID, req.RequestID)
	if !fresh {
		s.sendJSONError(w, http.StatusConflict, "duplicate request")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.writeSSEEvent(w, "started", map[string]string{"thread_id": threadID})
	flusher.Flush()

	reply, err := s.ctrl.SendMessage(r.Context(), sess, threadID, req.Content, func(fragment string) {
		s.writeSSEEvent(w, "fragment", map[string]string{"text": fragment})
		flusher.Flush()
	})
	if err != nil {
		if !errors.Is(err, conversation.ErrUserRecorded) {
			s.releaseRequest(key)
		}
		s.logger.Error("failed to send message", "thread_id", threadID, "error", err)
		s.writeSSEEvent(w, "error", map[string]any{
			"error":  sendErrorMessage(err),
			"status": errorStatus(err),
		})
		flusher.Flush()
		return
	}

	s.writeSSEEvent(w, "done", map[string]string{
		"thread_id":     threadID,
		"full_response": reply.Content,
		"html":          string(renderMarkdown(reply.Content)),
	})
	flusher.Flush()
}

// sendErrorMessage is the client-facing text for a send failure
func sendErrorMessage(err error) string {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		return "message is empty"
	case errors.Is(err, conversation.ErrCompletionFailed):
		return "the assistant could not reply; your message was saved"
	default:
		return "internal server error"
	}
}

// handleListThreads handles GET /api/threads
func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(r)
	if !ok {
		s.sessionLost(w, true)
		return
	}

	threads := s.ctrl.ListThreads(sess)
	slices.Reverse(threads)

	s.writeJSON(w, http.StatusOK, ThreadsResponse{
		Active:  sess.ThreadID(),
		Threads: threads,
	})
}

// handleThreadHistory handles GET /api/threads/{id}
func (s *Server) handleThreadHistory(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	messages, err := s.ctrl.History(r.Context(), threadID)
	if err != nil {
		s.logger.Error("failed to load thread", "thread_id", threadID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if messages == nil {
		messages = []conversation.DisplayMessage{}
	}

	s.writeJSON(w, http.StatusOK, HistoryResponse{
		ThreadID: threadID,
		Messages: messages,
	})
}
