// ABOUTME: Web chat shell for coven-chat: routes, session cookies and JSON helpers
// ABOUTME: Every route runs inside withSession, which binds the request to a server-side Session

package webui

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/store"
)

// Config holds everything the web shell needs
type Config struct {
	Controller  *conversation.Controller
	Broadcaster *conversation.FragmentBroadcaster // optional; disables /ws when nil
	WebUI       config.WebUIConfig
	Logger      *slog.Logger
}

// Server handles the web chat routes
type Server struct {
	ctrl        *conversation.Controller
	broadcaster *conversation.FragmentBroadcaster
	signer      *auth.Signer
	sessions    *sessionRegistry
	dedupe      *dedupe.Cache
	sessionTTL  time.Duration
	logger      *slog.Logger
}

// New creates a Server. When no session secret is configured a random one
// is generated, so cookies do not survive a restart.
func New(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, errors.New("webui: controller is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "webui")

	secret := []byte(cfg.WebUI.SessionSecret)
	if len(secret) == 0 {
		random, err := auth.RandomSecret()
		if err != nil {
			return nil, fmt.Errorf("generating session secret: %w", err)
		}
		secret = random
		logger.Info("webui.session_secret not set, sessions will not survive a restart")
	}

	ttl := cfg.WebUI.SessionIdleTimeout
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	window := cfg.WebUI.DedupeWindow
	if window <= 0 {
		window = time.Minute
	}
	size := cfg.WebUI.DedupeSize
	if size <= 0 {
		size = 10000
	}

	return &Server{
		ctrl:        cfg.Controller,
		broadcaster: cfg.Broadcaster,
		signer:      auth.NewSigner(secret),
		sessions:    newSessionRegistry(ttl, logger),
		dedupe:      dedupe.New(window, size),
		sessionTTL:  ttl,
		logger:      logger,
	}, nil
}

// Close stops background loops
func (s *Server) Close() {
	s.sessions.Close()
	s.dedupe.Close()
}

// RegisterRoutes registers all web shell routes on the given mux
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /{$}", s.withSession(s.handleIndex))
	mux.HandleFunc("POST /threads", s.withSession(s.handleNewThread))
	mux.HandleFunc("POST /threads/{id}/select", s.withSession(s.handleSelectThread))
	mux.HandleFunc("POST /send", s.withSession(s.handleFormSend))

	mux.HandleFunc("POST /api/send", s.withSession(s.handleAPISend))
	mux.HandleFunc("GET /api/threads", s.withSession(s.handleListThreads))
	mux.HandleFunc("GET /api/threads/{id}", s.withSession(s.handleThreadHistory))

	if s.broadcaster != nil {
		mux.HandleFunc("GET /ws/threads/{id}", s.withSession(s.handleWatchThread))
	}

	s.logger.Info("web chat routes registered")
}

// Handler returns a mux with every route registered
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// withSession resolves the caller's session from its token, starting a new
// one when the token is missing, invalid, or names a reaped session. The
// cookie is re-issued on every request so the expiry slides with use.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.lookupSession(r)
		if sess == nil {
			var err error
			sess, err = s.ctrl.NewSession(r.Context())
			if err != nil {
				s.logger.Error("failed to start session", "error", err)
				http.Error(w, "Failed to start session", http.StatusInternalServerError)
				return
			}
			s.sessions.put(sess)
			s.logger.Debug("session created", "session_id", sess.ID)
		}

		token, err := s.signer.Sign(sess.ID, s.sessionTTL)
		if err != nil {
			s.logger.Error("failed to sign session token", "error", err)
			http.Error(w, "Failed to start session", http.StatusInternalServerError)
			return
		}
		auth.SetSessionCookie(w, r, token, s.sessionTTL)

		next(w, r.WithContext(auth.WithSessionID(r.Context(), sess.ID)))
	}
}

// lookupSession returns the live session named by the request token, if any
func (s *Server) lookupSession(r *http.Request) *conversation.Session {
	token, ok := auth.TokenFromRequest(r)
	if !ok {
		return nil
	}
	sessionID, err := s.signer.Verify(token)
	if err != nil {
		s.logger.Debug("ignoring session token", "error", err)
		return nil
	}
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		return nil
	}
	return sess
}

// sessionFromRequest returns the session bound by withSession
func (s *Server) sessionFromRequest(r *http.Request) (*conversation.Session, bool) {
	id, ok := auth.SessionIDFromContext(r.Context())
	if !ok {
		return nil, false
	}
	return s.sessions.get(id)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// writeJSON writes v as a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// errorStatus maps a send failure to its HTTP status
func errorStatus(err error) int {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, store.ErrEmptyThreadID):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrCompletionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
