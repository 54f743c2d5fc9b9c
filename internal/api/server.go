// Package api serves the devserver's REST surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"tutorchat/internal/router"
	"tutorchat/internal/websocket"
	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

// Paging bounds for list endpoints
const (
	DefaultMessageLimit      = 50
	MaxMessageLimit          = 100
	DefaultNotificationLimit = 50
	MaxNotificationLimit     = 200

	// DefaultAttachmentMime is assumed when an upload part carries no content type
	DefaultAttachmentMime = "application/pdf"
)

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	GetConversationConnections(conversationID int64) []*websocket.Connection
	GetStats() map[string]int
}

// MessageRouter is the persist-then-deliver path for both text and attachment sends
type MessageRouter interface {
	interfaces.MessageRouter
	RouteAttachment(ctx context.Context, message *types.Message, storageKey string) error
}

// Settings bounds uploads and locates stored attachment bytes
type Settings struct {
	StorageDir     string
	MaxUploadBytes int64
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	dbManager interfaces.DatabaseManager
	router    MessageRouter
	registry  Registry
	chat      http.Handler
	settings  Settings
	mux       *http.ServeMux
	handler   http.Handler
}

// NewServer wires the REST routes. chat serves the live channel upgrade and may be nil.
func NewServer(dbManager interfaces.DatabaseManager, router MessageRouter, registry Registry, chat http.Handler, settings Settings) *Server {
	s := &Server{
		dbManager: dbManager,
		router:    router,
		registry:  registry,
		chat:      chat,
		settings:  settings,
		mux:       http.NewServeMux(),
	}

	s.setupRoutes()
	s.handler = s.corsMiddleware(s.mux)
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// Method-qualified patterns give 405s for free and expose {id} through PathValue
func (s *Server) setupRoutes() {
	s.mux.Handle("GET /health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck)))

	s.mux.Handle("GET /users/me", s.authenticated(s.getMe))

	s.mux.Handle("GET /matches/me", s.authenticated(s.listMatches))
	s.mux.Handle("POST /matches/me/refresh", s.authenticated(s.refreshMatches))

	s.mux.Handle("GET /messages/conversations", s.authenticated(s.listConversations))
	s.mux.Handle("POST /messages/conversations", s.authenticated(s.createConversation))
	s.mux.Handle("GET /messages/conversations/{id}", s.authenticated(s.getConversation))
	s.mux.Handle("GET /messages/conversations/{id}/messages", s.authenticated(s.listMessages))
	s.mux.Handle("POST /messages/conversations/{id}/messages", s.authenticated(s.sendMessage))
	s.mux.Handle("POST /messages/conversations/{id}/messages/attachment", s.authenticated(s.sendAttachment))
	s.mux.Handle("GET /messages/attachments/{id}/download", s.authenticated(s.downloadAttachment))

	s.mux.Handle("GET /availability/users/{id}", s.authenticated(s.listAvailability))
	s.mux.Handle("POST /availability/me", s.authenticated(s.addAvailability))

	s.mux.Handle("GET /notifications/me", s.authenticated(s.listNotifications))

	if s.chat != nil {
		s.mux.Handle("GET /messages/ws/chat/{conversation_id}", s.chat)
	}
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

// ErrorResponse carries the human-readable reason in "detail", which clients surface verbatim
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}

type userHandler func(w http.ResponseWriter, r *http.Request, user *types.UserMe)

// authenticated resolves the bearer token (or the token query parameter) before calling next
func (s *Server) authenticated(next userHandler) http.Handler {
	return s.jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.sendError(w, "Not authenticated", http.StatusUnauthorized)
			return
		}

		user, err := s.dbManager.UserByToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, interfaces.ErrUnauthorized) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				s.sendError(w, "Could not validate credentials", http.StatusUnauthorized)
			} else {
				log.Printf("Token lookup failed: %v", err)
				s.sendError(w, "Authentication failed", http.StatusInternalServerError)
			}
			return
		}

		next(w, r, user)
	}))
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// FUNCTIONAL DISCOVERY: GET /users/me
func (s *Server) getMe(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	s.sendJSON(w, http.StatusOK, user)
}

// FUNCTIONAL DISCOVERY: GET /matches/me - students only see their saved tutor matches
func (s *Server) listMatches(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	if !user.IsStudent {
		s.sendError(w, "Only students have matches", http.StatusForbidden)
		return
	}

	matches, err := s.dbManager.ListMatches(r.Context(), user.ID)
	if err != nil {
		s.sendDomainError(w, err, "Failed to list matches")
		return
	}
	s.sendJSON(w, http.StatusOK, nonNil(matches))
}

// FUNCTIONAL DISCOVERY: POST /matches/me/refresh returns the current score per matched tutor
func (s *Server) refreshMatches(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	if !user.IsStudent {
		s.sendError(w, "Only students have matches", http.StatusForbidden)
		return
	}

	matches, err := s.dbManager.ListMatches(r.Context(), user.ID)
	if err != nil {
		s.sendDomainError(w, err, "Failed to refresh matches")
		return
	}

	scores := make([]types.MatchScore, 0, len(matches))
	for _, m := range matches {
		scores = append(scores, types.MatchScore{TutorID: m.TutorID, SimilarityScore: m.SimilarityScore})
	}
	s.sendJSON(w, http.StatusOK, scores)
}

// FUNCTIONAL DISCOVERY: GET /messages/conversations - most recently active first
func (s *Server) listConversations(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	refs, err := s.dbManager.ListConversations(r.Context(), user.ID)
	if err != nil {
		s.sendDomainError(w, err, "Failed to list conversations")
		return
	}
	s.sendJSON(w, http.StatusOK, nonNil(refs))
}

// FUNCTIONAL DISCOVERY: POST /messages/conversations is create-or-get for the unordered pair
func (s *Server) createConversation(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	var req types.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.OtherUserID <= 0 {
		s.sendError(w, "other_user_id is required", http.StatusBadRequest)
		return
	}

	conversation, err := s.dbManager.GetOrCreateConversation(r.Context(), user.ID, req.OtherUserID)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrSelfConversation):
			s.sendError(w, "Cannot create conversation with yourself", http.StatusBadRequest)
		case errors.Is(err, interfaces.ErrNotFound):
			s.sendError(w, "User not found", http.StatusNotFound)
		default:
			s.sendDomainError(w, err, "Failed to create conversation")
		}
		return
	}
	s.sendJSON(w, http.StatusOK, conversation)
}

// FUNCTIONAL DISCOVERY: GET /messages/conversations/{id} - participants only
func (s *Server) getConversation(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	conversationID, ok := s.pathID(w, r)
	if !ok {
		return
	}

	conversation, err := s.dbManager.GetConversation(r.Context(), conversationID, user.ID)
	if err != nil {
		s.sendDomainError(w, err, "Failed to load conversation")
		return
	}
	s.sendJSON(w, http.StatusOK, conversation)
}

// FUNCTIONAL DISCOVERY: GET /messages/conversations/{id}/messages?skip&limit ascending by id
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	conversationID, ok := s.pathID(w, r)
	if !ok {
		return
	}

	skip, err := queryInt(r, "skip", 0, 0, -1)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	limit, err := queryInt(r, "limit", DefaultMessageLimit, 1, MaxMessageLimit)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if _, err := s.dbManager.GetConversation(r.Context(), conversationID, user.ID); err != nil {
		s.sendDomainError(w, err, "Failed to load conversation")
		return
	}

	messages, err := s.dbManager.ListMessages(r.Context(), conversationID, skip, limit)
	if err != nil {
		s.sendDomainError(w, err, "Failed to list messages")
		return
	}
	s.sendJSON(w, http.StatusOK, nonNil(messages))
}

// FUNCTIONAL DISCOVERY: POST /messages/conversations/{id}/messages shares the live channel's routing path
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	conversationID, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req types.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	message := &types.Message{ConversationID: conversationID, SenderID: user.ID, Content: req.Content}
	if err := s.router.RouteMessage(r.Context(), message); err != nil {
		s.sendDomainError(w, err, "Failed to send message")
		return
	}
	s.sendJSON(w, http.StatusOK, message)
}

// FUNCTIONAL DISCOVERY: POST .../messages/attachment stores the bytes under a fresh key, then routes the message
func (s *Server) sendAttachment(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	conversationID, ok := s.pathID(w, r)
	if !ok {
		return
	}

	// TECHNICAL DISCOVERY: Multipart framing adds overhead beyond the file itself
	r.Body = http.MaxBytesReader(w, r.Body, s.settings.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.sendError(w, "Invalid multipart body", http.StatusBadRequest)
		}
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if _, err := s.dbManager.GetConversation(r.Context(), conversationID, user.ID); err != nil {
		s.sendDomainError(w, err, "Failed to load conversation")
		return
	}

	storageKey := uuid.NewString()
	size, err := s.storeUpload(storageKey, file)
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			s.sendError(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			log.Printf("Failed to store attachment: %v", err)
			s.sendError(w, "Failed to store attachment", http.StatusInternalServerError)
		}
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = DefaultAttachmentMime
	}

	message := &types.Message{
		ConversationID: conversationID,
		SenderID:       user.ID,
		Content:        r.FormValue("content"),
		Attachment: &types.Attachment{
			FileName:  filepath.Base(header.Filename),
			MimeType:  mimeType,
			SizeBytes: size,
		},
	}
	if err := s.router.RouteAttachment(r.Context(), message, storageKey); err != nil {
		_ = os.Remove(s.storagePath(storageKey))
		s.sendDomainError(w, err, "Failed to send attachment")
		return
	}
	s.sendJSON(w, http.StatusOK, message)
}

var errUploadTooLarge = errors.New("upload exceeds the configured limit")

// storeUpload copies at most MaxUploadBytes into the storage dir and reports the size
func (s *Server) storeUpload(storageKey string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(s.settings.StorageDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create storage dir: %w", err)
	}

	path := s.storagePath(storageKey)
	dst, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create attachment file: %w", err)
	}

	n, err := io.Copy(dst, io.LimitReader(src, s.settings.MaxUploadBytes+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > s.settings.MaxUploadBytes {
		err = errUploadTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

func (s *Server) storagePath(storageKey string) string {
	return filepath.Join(s.settings.StorageDir, storageKey)
}

// FUNCTIONAL DISCOVERY: GET /messages/attachments/{id}/download?token= streams the stored bytes
func (s *Server) downloadAttachment(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	attachmentID, ok := s.pathID(w, r)
	if !ok {
		return
	}

	attachment, err := s.dbManager.GetAttachment(r.Context(), attachmentID)
	if err != nil {
		s.sendDomainError(w, err, "Failed to load attachment")
		return
	}
	if _, err := s.dbManager.GetConversation(r.Context(), attachment.ConversationID, user.ID); err != nil {
		s.sendDomainError(w, err, "Failed to load attachment")
		return
	}

	file, err := os.Open(s.storagePath(attachment.StorageKey))
	if err != nil {
		log.Printf("Attachment %d bytes missing: %v", attachment.ID, err)
		s.sendError(w, "Attachment file not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", attachment.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment.FileName}))
	http.ServeContent(w, r, attachment.FileName, attachment.CreatedAt, file)
}

// FUNCTIONAL DISCOVERY: GET /availability/users/{id}
func (s *Server) listAvailability(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	userID, ok := s.pathID(w, r)
	if !ok {
		return
	}

	slots, err := s.dbManager.ListAvailability(r.Context(), userID)
	if err != nil {
		s.sendDomainError(w, err, "Failed to list availability")
		return
	}
	s.sendJSON(w, http.StatusOK, nonNil(slots))
}

// FUNCTIONAL DISCOVERY: POST /availability/me adds one slot for the caller
func (s *Server) addAvailability(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	var slot types.AvailabilitySlot
	if err := json.NewDecoder(r.Body).Decode(&slot); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	slot.ID = 0
	slot.UserID = user.ID

	if err := s.dbManager.AddAvailability(r.Context(), &slot); err != nil {
		s.sendDomainError(w, err, "Failed to add availability")
		return
	}
	s.sendJSON(w, http.StatusCreated, slot)
}

// FUNCTIONAL DISCOVERY: GET /notifications/me?limit=N newest first
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request, user *types.UserMe) {
	limit, err := queryInt(r, "limit", DefaultNotificationLimit, 1, MaxNotificationLimit)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	notifications, err := s.dbManager.ListNotifications(r.Context(), user.ID, limit)
	if err != nil {
		s.sendDomainError(w, err, "Failed to list notifications")
		return
	}
	s.sendJSON(w, http.StatusOK, nonNil(notifications))
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.sendError(w, "Invalid id", http.StatusUnprocessableEntity)
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer parameter within [lo, hi]; hi < 0 means unbounded
func queryInt(r *http.Request, name string, fallback, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if hi < 0 && value < lo {
		return 0, fmt.Errorf("%s must be >= %d", name, lo)
	}
	if hi >= 0 && (value < lo || value > hi) {
		return 0, fmt.Errorf("%s must be between %d and %d", name, lo, hi)
	}
	return value, nil
}

// sendDomainError maps the store and router sentinels onto status codes
func (s *Server) sendDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, interfaces.ErrNotFound), errors.Is(err, router.ErrSenderNotParticipant):
		s.sendError(w, "Not found or you are not a participant", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrUnauthorized):
		s.sendError(w, "Could not validate credentials", http.StatusUnauthorized)
	case errors.Is(err, types.ErrEmptyContent),
		errors.Is(err, types.ErrContentTooLarge),
		errors.Is(err, types.ErrInvalidDayOfWeek),
		errors.Is(err, types.ErrInvalidTimeOfDay),
		errors.Is(err, types.ErrInvalidSlotRange):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, router.ErrRateLimitExceeded):
		s.sendError(w, "Too many messages, slow down", http.StatusTooManyRequests)
	default:
		log.Printf("%s: %v", fallback, err)
		s.sendError(w, fallback, http.StatusInternalServerError)
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, detail string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:  http.StatusText(code),
		Code:   code,
		Detail: detail,
	})
}

// nonNil keeps empty lists encoding as [] rather than null
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
