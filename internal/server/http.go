package server

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/boardsync/pkg/models"
)

// Routes returns the HTTP handler: the synchronization channel, the auth
// endpoints, health, and metrics. Exposed so tests and embedders can mount it
// without binding a listener.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/auth/login", s.withAPILimit(s.handleLogin))
	mux.HandleFunc("/api/auth/refresh", s.withAPILimit(s.handleRefresh))
	mux.HandleFunc("/api/auth/logout", s.withAPILimit(s.handleLogout))
	return mux
}

// withAPILimit applies the general API budget keyed by caller address.
func (s *Server) withAPILimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ok, retryAfter := s.limiters.API.Allow(clientAddr(r)); !ok {
			s.metrics.RateLimitedTotal.WithLabelValues("api").Inc()
			w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
			writeError(w, http.StatusTooManyRequests, models.ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

type loginRequest struct {
	UserID      string            `json:"userId"`
	Email       string            `json:"email,omitempty"`
	DisplayName string            `json:"displayName,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type sessionResponse struct {
	Session      *models.Session `json:"session"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken,omitempty"`
}

// handleLogin issues a session. Identity verification against an upstream
// provider is the deployment's concern; this endpoint binds whatever identity
// it is given to a session and tokens.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	if ok, retryAfter := s.limiters.Auth.Allow(clientAddr(r)); !ok {
		s.metrics.RateLimitedTotal.WithLabelValues("auth").Inc()
		w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
		writeError(w, http.StatusTooManyRequests, models.ErrCodeRateLimited, "too many auth attempts")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "userId is required")
		return
	}

	session, access, err := s.sessions.CreateSession(req.UserID, req.Email, req.DisplayName, req.Metadata)
	if err != nil {
		s.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "session creation failed")
		return
	}

	refresh := session.RefreshToken
	writeJSON(w, http.StatusOK, sessionResponse{
		Session:      session,
		AccessToken:  access,
		RefreshToken: refresh,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	if ok, retryAfter := s.limiters.Auth.Allow(clientAddr(r)); !ok {
		s.metrics.RateLimitedTotal.WithLabelValues("auth").Inc()
		w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
		writeError(w, http.StatusTooManyRequests, models.ErrCodeRateLimited, "too many auth attempts")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
		return
	}

	session, access, err := s.sessions.RefreshSession(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: session, AccessToken: access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	session, err := s.sessions.ValidateSession(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid or expired token")
		return
	}
	s.sessions.DestroySession(session.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
