package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/pmhub/hubsync/internal/hub"
	"github.com/pmhub/hubsync/internal/hubstore"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// WatchOrigins lists origin patterns accepted for the watch stream.
	WatchOrigins []string
}

type Server struct {
	store       *hubstore.Store
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(store *hubstore.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store *hubstore.Store, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		store:       store,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "v1" || parts[1] != "hubs" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	hubID := parts[2]

	var requiredScope string
	var route string
	switch {
	case len(parts) == 4 && parts[3] == "state" && r.Method == http.MethodGet:
		requiredScope = "state:read"
		route = "read_state"
	case len(parts) == 4 && parts[3] == "state" && r.Method == http.MethodPut:
		requiredScope = "state:write"
		route = "replace_state"
	case len(parts) == 4 && parts[3] == "watch" && r.Method == http.MethodGet:
		requiredScope = "state:read"
		route = "watch"
	case len(parts) == 4 && parts[3] == "messages" && r.Method == http.MethodGet:
		requiredScope = "messages:read"
		route = "list_messages"
	case len(parts) == 4 && parts[3] == "messages" && r.Method == http.MethodPost:
		requiredScope = "messages:write"
		route = "post_message"
	case len(parts) == 6 && parts[3] == "messages" && parts[5] == "read" && r.Method == http.MethodPost:
		requiredScope = "messages:write"
		route = "mark_message_read"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	authHeader := r.Header.Get("Authorization")
	if route == "watch" && authHeader == "" {
		// Browser WebSocket clients cannot set request headers.
		if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
			authHeader = "Bearer " + token
		}
	}
	claims, authErr := authorizeBearer(authHeader, s.cfg.JWTSecret, hubID, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" && route != "watch" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	if s.rateLimiter != nil && route != "watch" {
		key := hubID + "|" + claims.UserID
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	switch route {
	case "read_state":
		s.handleReadState(w, correlationID)
	case "replace_state":
		s.handleReplaceState(w, r, claims, correlationID)
	case "watch":
		s.handleWatch(w, r)
	case "list_messages":
		s.handleListMessages(w)
	case "post_message":
		s.handlePostMessage(w, r, claims, correlationID)
	case "mark_message_read":
		s.handleMarkMessageRead(w, claims, parts[4], correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) handleReadState(w http.ResponseWriter, correlationID string) {
	doc, err := s.store.Get()
	if err != nil {
		if errors.Is(err, hub.ErrDocumentMissing) {
			writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	if doc.LastModified != "" {
		w.Header().Set("ETag", doc.LastModified)
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleReplaceState(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if err := hub.ValidateDocumentJSON(body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_document", err.Error(), correlationID)
		return
	}
	var doc hub.StateDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	if doc.LastSyncedBy == "" {
		doc.LastSyncedBy = claims.UserName
	}

	opts := hubstore.ReplaceOptions{
		ExpectedVersion: normalizeIfMatchHeader(r.Header.Get("If-Match")),
	}
	if err := s.store.Replace(&doc, opts); err != nil {
		var conflict *hubstore.VersionConflictError
		if errors.As(err, &conflict) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"code":            "version_conflict",
				"message":         err.Error(),
				"correlationId":   correlationID,
				"expectedVersion": conflict.ExpectedVersion,
				"currentVersion":  conflict.CurrentVersion,
			})
			return
		}
		switch {
		case errors.Is(err, hub.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		case errors.Is(err, hub.ErrWriteFailed):
			writeError(w, http.StatusServiceUnavailable, "write_failed", err.Error(), correlationID)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lastModified": doc.LastModified,
		"lastSyncedBy": doc.LastSyncedBy,
		"writeSeq":     doc.WriteSeq,
	})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.WatchOrigins,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	// CloseRead pumps the read side so control frames are answered and
	// yields a context that ends when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	snapshots := s.store.Watch(ctx)
	for doc := range snapshots {
		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := wsjson.Write(writeCtx, conn, doc)
		cancel()
		if err != nil {
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "store closed")
}

func (s *Server) handleListMessages(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": s.store.ListMessages(),
	})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string) {
	var body struct {
		Text string `json:"text"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	msg, err := s.store.AppendMessage(hubstore.MessageRecord{
		UserID:   claims.UserID,
		UserName: claims.UserName,
		Text:     body.Text,
	})
	if err != nil {
		if errors.Is(err, hub.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkMessageRead(w http.ResponseWriter, claims tokenClaims, messageID, correlationID string) {
	if err := s.store.MarkMessageRead(messageID, claims.UserID); err != nil {
		if errors.Is(err, hub.ErrDocumentMissing) {
			writeError(w, http.StatusNotFound, "not_found", "message not found", correlationID)
			return
		}
		if errors.Is(err, hub.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func normalizeIfMatchHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "W/") || strings.HasPrefix(value, "w/") {
		value = strings.TrimSpace(value[2:])
	}
	if len(value) >= 2 && strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") {
		value = strings.TrimSpace(value[1 : len(value)-1])
	}
	return value
}
