// ABOUTME: HTTP API handlers for chatting, chat history and catalog listings
// ABOUTME: POST /api/chat streams generation events via SSE or returns a buffered transcript

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/access"
	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/llm"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/transcript"
)

// maxChatBodyBytes bounds a POST /api/chat body.
const maxChatBodyBytes = 4 << 20

// ChatMessage is one client-supplied message in a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the JSON request body for POST /api/chat.
type ChatRequest struct {
	ID       string        `json:"id,omitempty"`
	Messages []ChatMessage `json:"messages"`
	ModelID  string        `json:"model_id"`
	ToolIDs  []string      `json:"tool_ids,omitempty"`
}

// ChatResponse is the JSON response for GET /api/chats.
type ChatResponse struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	ModelConfigID string `json:"model_config_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// ChatMessagesResponse is the JSON response for GET /api/chats/{id}/messages.
type ChatMessagesResponse struct {
	ChatID   string              `json:"chat_id"`
	Messages []conversation.Turn `json:"messages"`
}

// ToolResponse is the JSON response item for GET /api/tools. Configuration is never exposed.
type ToolResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleChat handles POST /api/chat requests.
//
// Responsibilities:
//  1. Parse JSON body - decode ChatRequest, require a model and a user message
//  2. Start the chat via ConversationService - authorization happens there
//  3. Map pre-stream errors to status codes
//  4. Either buffer the events into a transcript (?stream=false) or stream them as SSE
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	req, err := parseChatRequest(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	streaming := r.URL.Query().Get("stream") != "false"

	// Check streaming support before starting (fail fast)
	var flusher http.Flusher
	if streaming {
		var ok bool
		flusher, ok = w.(http.Flusher)
		if !ok {
			g.logger.Error("streaming not supported")
			g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}
	}

	stream, err := g.conversation.Chat(r.Context(), conversation.ChatRequest{
		UserID:        authCtx.UserID,
		ChatID:        req.ID,
		ModelConfigID: req.ModelID,
		ToolIDs:       req.ToolIDs,
		Messages:      toLLMMessages(req.Messages),
	})
	if err != nil {
		g.sendServiceError(w, err)
		return
	}

	if !streaming {
		t := transcript.Collect(stream.Events)
		if t.ChatID == "" {
			t.ChatID = stream.ChatID
		}
		g.sendJSON(w, http.StatusOK, t)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Chat-ID", stream.ChatID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The service closes Events after done, and also when the client goes away.
	for ev := range stream.Events {
		g.writeSSEEvent(w, string(ev.Kind), ev.Payload())
		flusher.Flush()
	}
}

// parseChatRequest decodes and validates a chat request body.
func parseChatRequest(r io.Reader) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.ModelID == "" {
		return nil, errors.New("model_id is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("messages is required")
	}
	for i, m := range req.Messages {
		switch llm.Role(m.Role) {
		case llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, fmt.Errorf("messages[%d]: role must be user or assistant", i)
		}
	}
	return &req, nil
}

func toLLMMessages(in []ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(in))
	for _, m := range in {
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return out
}

// handleListChats handles GET /api/chats requests, newest first.
func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	chats, err := g.conversation.ListChats(r.Context(), authCtx.UserID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}

	response := make([]ChatResponse, 0, len(chats))
	for _, c := range chats {
		response = append(response, chatResponse(c))
	}
	g.sendJSON(w, http.StatusOK, response)
}

func chatResponse(c *store.Chat) ChatResponse {
	return ChatResponse{
		ID:            c.ID,
		Title:         c.Title,
		ModelConfigID: c.ModelConfigID,
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
	}
}

// handleDeleteChat handles DELETE /api/chats/{id} requests.
func (g *Gateway) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	if err := g.conversation.DeleteChat(r.Context(), authCtx.UserID, r.PathValue("id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChatMessages handles GET /api/chats/{id}/messages requests.
func (g *Gateway) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	chatID := r.PathValue("id")

	turns, err := g.conversation.History(r.Context(), authCtx.UserID, chatID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	g.sendJSON(w, http.StatusOK, ChatMessagesResponse{ChatID: chatID, Messages: turns})
}

// handleDeleteMessagesAfter handles DELETE /api/chats/{id}/messages?after=RFC3339.
// Messages created at or after the timestamp are removed, for regenerate and edit.
func (g *Gateway) handleDeleteMessagesAfter(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	after := r.URL.Query().Get("after")
	if after == "" {
		g.sendJSONError(w, http.StatusBadRequest, "after is required")
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, after)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "after must be an RFC3339 timestamp")
		return
	}

	if err := g.conversation.DeleteMessagesAfter(r.Context(), authCtx.UserID, r.PathValue("id"), ts); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTranscript handles GET /api/chats/{id}/transcript?format=md|html.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	chatID := r.PathValue("id")

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "md"
	}
	if format != "md" && format != "html" {
		g.sendJSONError(w, http.StatusBadRequest, "format must be md or html")
		return
	}

	c, err := g.conversation.GetChat(r.Context(), authCtx.UserID, chatID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	turns, err := g.conversation.History(r.Context(), authCtx.UserID, chatID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}

	if format == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, transcript.Markdown(c.Title, turns))
		return
	}

	page, err := transcript.HTML(c.Title, turns)
	if err != nil {
		g.logger.Error("failed to render transcript", "chat_id", chatID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, page)
}

// handleChatEvents handles GET /api/chats/events. It streams every turn the
// caller persists, from any client, until the request ends.
func (g *Gateway) handleChatEvents(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, _ := g.broadcaster.Subscribe(r.Context(), authCtx.UserID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for p := range events {
		g.writeSSEEvent(w, "message", p)
		flusher.Flush()
	}
}

// handleListModels handles GET /api/models requests. Credentials and
// provider configuration are never included.
func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	views, err := g.resolver.ResolveModelsForDisplay(r.Context(), authCtx.UserID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, views)
}

// handleListTools handles GET /api/tools requests.
func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	tools, err := g.resolver.ResolveTools(r.Context(), authCtx.UserID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}

	response := make([]ToolResponse, 0, len(tools))
	for _, t := range tools {
		response = append(response, ToolResponse{ID: t.ID, Name: t.Name, Description: t.Description})
	}
	g.sendJSON(w, http.StatusOK, response)
}

// sendServiceError maps service and access errors to HTTP status codes.
func (g *Gateway) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrInvalidRequest), errors.Is(err, store.ErrInvalidCredentialKey):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrNoAccess):
		g.sendJSONError(w, http.StatusUnauthorized, "no models available")
	case errors.Is(err, access.ErrModelNotFound):
		g.sendJSONError(w, http.StatusNotFound, "model not found")
	case errors.Is(err, access.ErrAuthorizationDenied):
		g.sendJSONError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, conversation.ErrChatNotFound), errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicate):
		g.sendJSONError(w, http.StatusConflict, "already exists")
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": strings.TrimSpace(message)})
}
