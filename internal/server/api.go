// ABOUTME: HTTP API handlers for conversations, messages and read receipts
// ABOUTME: Translates msgerr kinds to status codes with a JSON error body

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/lectern/internal/api"
	"github.com/2389/lectern/internal/auth"
	"github.com/2389/lectern/internal/messaging"
	"github.com/2389/lectern/internal/msgerr"
	"github.com/2389/lectern/internal/realtime"
	"github.com/2389/lectern/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// registerAPIRoutes registers API routes behind the auth middleware.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	authed := auth.HTTPAuthMiddleware(s.store, s.verifier, s.logger)
	studentOnly := auth.RequireStudentHTTP()

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}

	handle("GET /api/me", s.handleMe)
	handle("GET /api/conversations", s.handleListConversations)
	handle("POST /api/conversations", s.handleEnsureConversation)
	mux.Handle("POST /api/conversations/seed", authed(studentOnly(http.HandlerFunc(s.handleSeedConversations))))
	handle("GET /api/conversations/{id}", s.handleGetConversation)
	handle("GET /api/conversations/{id}/messages", s.handleHistory)
	handle("POST /api/conversations/{id}/messages", s.handleSendMessage)
	handle("POST /api/conversations/{id}/read", s.handleMarkConversationRead)
	handle("POST /api/messages/{id}/read", s.handleMarkMessageRead)
	handle("GET /api/realtime", s.handleRealtimeWebSocket)
	handle("GET /api/realtime/sse", s.handleRealtimeSSE)
}

// statusForError maps a service error to an HTTP status.
func statusForError(err error) int {
	switch msgerr.KindOf(err) {
	case msgerr.KindValidation:
		return http.StatusBadRequest
	case msgerr.KindNotFound:
		return http.StatusNotFound
	case msgerr.KindForbidden:
		return http.StatusForbidden
	case msgerr.KindConflict:
		return http.StatusConflict
	case msgerr.KindSubscription:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendServiceError writes err as JSON. Internal failures are logged and
// reported without detail.
func (s *Server) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.sendJSONError(w, status, "internal server error")
		return
	}
	s.sendJSONError(w, status, err.Error())
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// handleMe handles GET /api/me.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	user, err := s.store.GetUser(r.Context(), authCtx.UserID)
	if err != nil {
		s.sendServiceError(w, r, msgerr.Persistence("me", err))
		return
	}
	s.sendJSON(w, http.StatusOK, api.UserFromStore(user))
}

// handleListConversations handles GET /api/conversations.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	entries, err := s.directory.ListConversations(r.Context(), authCtx.UserID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, api.ConversationsResponse{
		Conversations: api.ConversationsFromEntries(entries),
	})
}

// handleEnsureConversation handles POST /api/conversations.
// Returns the existing conversation with the participant or creates it.
func (s *Server) handleEnsureConversation(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req api.EnsureConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	participantID := strings.TrimSpace(req.ParticipantID)
	if participantID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "participant_id is required")
		return
	}

	_, err := s.store.GetUser(r.Context(), participantID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "participant not found")
		return
	}
	if err != nil {
		s.sendServiceError(w, r, msgerr.Persistence("ensure_conversation", err))
		return
	}

	conv, err := s.directory.EnsureConversation(r.Context(), authCtx.UserID, participantID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	entry, err := s.directory.Get(r.Context(), conv.ID, authCtx.UserID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, api.ConversationFromEntry(entry))
}

// handleSeedConversations handles POST /api/conversations/seed.
// Partial failures still return the seeded listing with an error note.
func (s *Server) handleSeedConversations(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	_, seedErr := s.directory.SeedFromEnrollments(r.Context(), authCtx.UserID)
	// A bare *msgerr.Error means nothing was attempted; a joined error
	// carries the per-instructor failures of a partial seed
	if _, whole := seedErr.(*msgerr.Error); whole {
		s.sendServiceError(w, r, seedErr)
		return
	}

	entries, err := s.directory.ListConversations(r.Context(), authCtx.UserID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	resp := api.SeedResponse{Conversations: api.ConversationsFromEntries(entries)}
	if seedErr != nil {
		s.logger.Warn("partial enrollment seed", "user_id", authCtx.UserID, "error", seedErr)
		resp.Error = "some conversations could not be created"
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleGetConversation handles GET /api/conversations/{id}.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	entry, err := s.directory.Get(r.Context(), r.PathValue("id"), authCtx.UserID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, api.ConversationFromEntry(entry))
}

// handleHistory handles GET /api/conversations/{id}/messages?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	conversationID := r.PathValue("id")

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	msgs, err := s.messaging.History(r.Context(), conversationID, authCtx.UserID, limit)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, api.MessagesResponse{
		ConversationID: conversationID,
		Messages:       api.MessagesFromStore(msgs),
	})
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req api.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := s.messaging.Send(r.Context(), &messaging.SendRequest{
		ConversationID: r.PathValue("id"),
		SenderID:       authCtx.UserID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
	})
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, realtime.RowFromMessage(msg))
}

// handleMarkConversationRead handles POST /api/conversations/{id}/read.
func (s *Server) handleMarkConversationRead(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	flipped, err := s.tracker.MarkConversationRead(r.Context(), r.PathValue("id"), authCtx.UserID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, api.MarkReadResponse{
		Updated:  len(flipped),
		Messages: api.MessagesFromStore(flipped),
	})
}

// handleMarkMessageRead handles POST /api/messages/{id}/read.
func (s *Server) handleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	msg, err := s.tracker.MarkMessageRead(r.Context(), r.PathValue("id"), authCtx.UserID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, realtime.RowFromMessage(msg))
}
