package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"brokercrm/internal/auth"
	"brokercrm/internal/export"
	"brokercrm/internal/obs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBodyBytes = 25 << 20

type HTTPServer struct {
	service     *Service
	corsOrigin  string
	logger      *zap.Logger
	signLimiter *ipLimiter
	// Peers whose forwarding headers name the client.
	trustedProxies []netip.Prefix
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	logger := service.logger.Named("http")
	trusted, invalid := parseTrustedProxies(service.cfg.TrustedProxies)
	if len(invalid) > 0 {
		logger.Warn("ignoring invalid trusted proxy entries", zap.Strings("entries", invalid))
	}
	return &HTTPServer{
		service:        service,
		corsOrigin:     corsOrigin,
		logger:         logger,
		signLimiter:    newIPLimiter(service.cfg.SignRatePerSecond, service.cfg.SignRateBurst),
		trustedProxies: trusted,
	}
}

func (s *HTTPServer) clientIP(r *http.Request) string {
	return clientIP(r, s.trustedProxies)
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)

	// Public signing links, no session.
	if len(parts) >= 2 && parts[0] == "sign" {
		if !s.signLimiter.Allow(s.clientIP(r)) {
			s.rateLimited(w, r)
			return
		}
		s.handleSigning(w, r, parts)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "auth" && r.Method == http.MethodPost {
		switch parts[2] {
		case "register":
			s.handleRegister(w, r)
			return
		case "login":
			s.handleLogin(w, r)
			return
		case "refresh":
			s.handleRefresh(w, r)
			return
		case "logout":
			s.handleLogout(w, r)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"email":         session.Email,
			"role":          session.Role,
		})
		return
	}

	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	var handled bool
	switch parts[1] {
	case "users":
		if len(parts) == 2 && r.Method == http.MethodGet {
			users, err := s.service.ListUsers(r.Context(), session)
			s.respond(w, http.StatusOK, map[string]any{"users": users}, err)
			handled = true
		}
	case "dashboard":
		if len(parts) == 2 && r.Method == http.MethodGet {
			dashboard, err := s.service.Dashboard(r.Context())
			s.respond(w, http.StatusOK, dashboard, err)
			handled = true
		}
	case "contacts":
		handled = s.routeContacts(w, r, session, parts)
	case "notes":
		handled = s.routeNotes(w, r, parts)
	case "tags":
		handled = s.routeTags(w, r, session, parts)
	case "follow-ups":
		handled = s.routeFollowUps(w, r, session, parts)
	case "loans":
		handled = s.routeLoans(w, r, session, parts)
	case "conditions":
		handled = s.routeConditions(w, r, session, parts)
	case "lenders":
		handled = s.routeLenders(w, r, session, parts)
	case "quotes":
		handled = s.routeQuotes(w, r, parts)
	case "documents":
		handled = s.routeDocuments(w, r, session, parts)
	case "email":
		handled = s.routeEmail(w, r, session, parts)
	}
	if !handled {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"email":        session.Email,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Register(r.Context(), body)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
		s.logger.Warn("logout", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) rateLimited(w http.ResponseWriter, r *http.Request) {
	obs.SigningRateLimited.Inc()
	s.logger.Info("signing request rate limited", zap.String("ip", s.clientIP(r)), zap.String("path", r.URL.Path))
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
}

// respond writes payload, or the mapped error when err is set.
func (s *HTTPServer) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeFile sends a generated file as a download.
func writeFile(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return value
}

func queryBool(r *http.Request, key string) *bool {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
