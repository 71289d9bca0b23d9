package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"namecradle/internal/app"
	"namecradle/internal/identity"
	"namecradle/internal/ratelimit"
	"namecradle/internal/store"
	"namecradle/internal/util"
	"namecradle/pkg/domain"
	"namecradle/pkg/namerater"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Identity *identity.Verifier

	RedisAddr                 string
	RedisPassword             string
	AnalyzeRateLimitPerMinute int
	// AnalyzeLimiter overrides the Redis limiter when set.
	AnalyzeLimiter *ratelimit.FixedWindowLimiter

	TrustedProxies []string
	// ShareURLBase is the public frontend origin used to build invite links.
	ShareURLBase string
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	identity       *identity.Verifier
	mux            *http.ServeMux
	analyzeLimiter *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	shareURLBase   string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app required")
	}
	analyzeLimiter := cfg.AnalyzeLimiter
	if analyzeLimiter == nil {
		limit := cfg.AnalyzeRateLimitPerMinute
		if limit <= 0 {
			limit = 20
		}
		var err error
		analyzeLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "namecradle:ratelimit:analyze", limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init analyze limiter: %w", err)
		}
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:            cfg.App,
		identity:       cfg.Identity,
		mux:            http.NewServeMux(),
		analyzeLimiter: analyzeLimiter,
		trustedProxies: trusted,
		shareURLBase:   strings.TrimRight(strings.TrimSpace(cfg.ShareURLBase), "/"),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the shared middleware applied.
// Request-id assignment runs outermost so the access log line carries it.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog(
			util.WithSecurityHeaders(
				util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/session", s.handleSession)

	s.mux.Handle("/api/analyze-name", s.authenticated(s.handleAnalyzeName))
	s.mux.Handle("/api/save-name", s.authenticated(s.handleSaveName))
	s.mux.Handle("/api/remove-name", s.authenticated(s.handleRemoveName))
	s.mux.Handle("/api/reorder-names", s.authenticated(s.handleReorderNames))
	s.mux.Handle("/api/saved-names", s.authenticated(s.handleSavedNames))

	s.mux.Handle("/api/share-family", s.authenticated(s.handleShareFamily))
	s.mux.Handle("/api/join-family", s.authenticated(s.handleJoinFamily))

	s.mux.Handle("/api/send-feedback", s.authenticated(s.handleSendFeedback))
	s.mux.Handle("/api/admin/cache", s.authenticated(s.handleAdminCache))
}

type authHandler func(http.ResponseWriter, *http.Request, domain.Requester)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		req, ok, err := s.app.RequesterFromToken(r.Context(), token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Error("session lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, req)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSession exchanges an identity-provider token for an app session
// (POST) or ends the current session (DELETE).
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleLogin(w, r)
	case http.MethodDelete:
		s.handleLogout(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.identity == nil {
		writeError(w, http.StatusServiceUnavailable, "login not configured")
		return
	}
	var payload struct {
		IdentityToken string `json:"identityToken"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(payload.IdentityToken) == "" {
		writeError(w, http.StatusBadRequest, "identityToken required")
		return
	}
	claims, err := s.identity.Verify(payload.IdentityToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid identity token")
		return
	}
	token, user, err := s.app.Login(r.Context(), claims)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		util.LoggerFromContext(r.Context()).Warn("logout failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleAnalyzeName(w http.ResponseWriter, r *http.Request, req domain.Requester) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.analyzeLimiter.Allow(util.ClientIP(r, s.trustedProxies)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var payload struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Gender    string `json:"gender"`
		Refresh   bool   `json:"refresh"`
		IsSaved   bool   `json:"isSaved"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	out, err := s.app.AnalyzeName(r.Context(), req, app.AnalyzeRequest{
		Query: domain.NameQuery{
			FirstName: payload.FirstName,
			LastName:  payload.LastName,
			Gender:    domain.Gender(payload.Gender),
		},
		Refresh: payload.Refresh,
		Synced:  payload.IsSaved,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	// Rating fields sit at the top level next to the resolution metadata.
	resp := struct {
		domain.RatingResult
		Cached      bool          `json:"cached"`
		Source      domain.Source `json:"source"`
		SavedNameID string        `json:"savedNameId,omitempty"`
		Rank        *int          `json:"rank,omitempty"`
	}{
		RatingResult: out.Result,
		Cached:       out.Cached,
		Source:       out.Source,
	}
	if out.Saved != nil {
		resp.SavedNameID = out.Saved.ID
		rank := out.Saved.Rank
		resp.Rank = &rank
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveName(w http.ResponseWriter, r *http.Request, req domain.Requester) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Gender    string `json:"gender"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	q := domain.NameQuery{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Gender:    domain.Gender(payload.Gender),
	}
	saved, err := s.app.SaveName(r.Context(), req, q)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "savedName": saved})
}

func (s *Server) handleRemoveName(w http.ResponseWriter, r *http.Request, req domain.Requester) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	nameID := strings.TrimSpace(r.URL.Query().Get("id"))
	if nameID == "" {
		var payload struct {
			NameID string `json:"nameId"`
		}
		if err := decodeJSON(r, &payload); err == nil {
			nameID = payload.NameID
		}
	}
	if err := s.app.RemoveName(r.Context(), req, nameID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleReorderNames(w http.ResponseWriter, r *http.Request, req domain.Requester) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload struct {
		Gender  string   `json:"gender"`
		NameIDs []string `json:"nameIds"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := s.app.ReorderNames(r.Context(), req, domain.Gender(payload.Gender), payload.NameIDs); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSavedNames(w http.ResponseWriter, r *http.Request, req domain.Requester) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	names, err := s.app.ListSavedNames(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"names": names})
}

func (s *Server) handleShareFamily(w http.ResponseWriter, r *http.Request, req domain.Requester) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token, err := s.app.ShareFamily(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp := map[string]any{"success": true, "shareToken": token}
	if s.shareURLBase != "" {
		resp["shareUrl"] = s.shareURLBase + "/?share=" + token
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleJoinFamily joins via invite token (POST) or leaves the current
// family (DELETE).
func (s *Server) handleJoinFamily(w http.ResponseWriter, r *http.Request, req domain.Requester) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			ShareToken string `json:"shareToken"`
		}
		if err := decodeJSON(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := s.app.JoinFamily(r.Context(), req, payload.ShareToken); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case http.MethodDelete:
		if err := s.app.LeaveFamily(r.Context(), req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSendFeedback(w http.ResponseWriter, r *http.Request, req domain.Requester) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload struct {
		PromptID string                `json:"promptId"`
		Feedback domain.PromptFeedback `json:"feedback"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	fb := payload.Feedback
	fb.PromptID = payload.PromptID
	if err := s.app.SendFeedback(r.Context(), req, fb); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAdminCache serves cache statistics (GET) and eviction (DELETE).
func (s *Server) handleAdminCache(w http.ResponseWriter, r *http.Request, req domain.Requester) {
	switch r.Method {
	case http.MethodGet:
		stats, err := s.app.CacheStats(r.Context(), req)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
	case http.MethodDelete:
		days := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("olderThanDays")); raw != "" {
			parsed, err := parsePositiveInt(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid olderThanDays parameter")
				return
			}
			days = parsed
		}
		removed, err := s.app.EvictCache(r.Context(), req, days)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"deletedCount":  removed,
			"olderThanDays": days,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNoFamily):
		writeError(w, http.StatusBadRequest, "user has no family")
	case errors.Is(err, app.ErrAdminOnly):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, store.ErrInvalidInviteToken):
		writeError(w, http.StatusBadRequest, "invalid invite token")
	case errors.Is(err, store.ErrReorderMismatch):
		writeError(w, http.StatusConflict, "reorder list does not match saved names")
	case errors.Is(err, store.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, namerater.ErrGeneration):
		writeError(w, http.StatusBadRequest, "failed to rate name")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(target)
}

func parsePositiveInt(raw string) (int, error) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
