// ABOUTME: Conversation service: authorize, build clients and tools, run, persist
// ABOUTME: The user turn is recorded before generation; response turns are saved after it

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/llm"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/toolserver"
)

var (
	// ErrChatNotFound is returned for chats that do not exist or belong to someone else.
	ErrChatNotFound = errors.New("chat not found")
	// ErrPersistenceFailed wraps store failures after generation. These are logged, never returned.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrInvalidRequest is returned when a chat request has no user message.
	ErrInvalidRequest = errors.New("invalid chat request")
)

const (
	titleMaxRunes = 80
	defaultTitle  = "New chat"
	saveTimeout   = 5 * time.Second
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateChat(ctx context.Context, chat *store.Chat) error
	GetChat(ctx context.Context, id string) (*store.Chat, error)
	ListChatsByUser(ctx context.Context, userID string) ([]*store.Chat, error)
	DeleteChat(ctx context.Context, id string) error
	SaveMessages(ctx context.Context, messages []*store.Message) error
	GetMessagesByChatID(ctx context.Context, chatID string) ([]*store.Message, error)
	DeleteMessagesAfter(ctx context.Context, chatID string, ts time.Time) error
}

// Authorizer decides which model and tools a user may use. *access.Resolver satisfies it.
type Authorizer interface {
	FindModel(ctx context.Context, userID, modelConfigID string) (*store.ResolvedModel, error)
	SelectTools(ctx context.Context, userID string, selectedIDs []string) ([]*store.Tool, error)
}

// ClientFactory builds model clients. *provider.Factory satisfies it.
type ClientFactory interface {
	BuildClient(ctx context.Context, m *store.ResolvedModel) (llm.Client, error)
}

// Config tunes the per-request pipeline.
type Config struct {
	SystemPrompt string
	MaxSteps     int
	// Tools is passed to BuildToolTable; its OnCallTool and Logger are set by the service.
	Tools toolserver.Options
	// Broadcaster, if set, receives every persisted turn.
	Broadcaster *Broadcaster
}

// Service is the central conversation layer.
type Service struct {
	store   ConversationStore
	authz   Authorizer
	clients ClientFactory
	cfg     Config
	logger  *slog.Logger
}

// New creates a new conversation Service
func New(s ConversationStore, authz Authorizer, clients ClientFactory, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   s,
		authz:   authz,
		clients: clients,
		cfg:     cfg,
		logger:  logger.With("component", "conversation"),
	}
}

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	UserID        string
	ChatID        string // empty starts a new chat
	ModelConfigID string
	ToolIDs       []string
	// Messages as sent by the client. Only the last user message is used;
	// earlier turns come from the store.
	Messages []llm.Message
}

// ChatStream is a running generation.
type ChatStream struct {
	ChatID        string
	UserMessageID string
	Events        <-chan Event
}

// Chat authorizes the request, records the user turn and starts generation.
//
// Errors are returned only before generation starts. After that, failures
// arrive as events and the stream always ends with EventDone.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	userMsg, ok := lastUserMessage(req.Messages)
	if !ok {
		return nil, fmt.Errorf("%w: no user message", ErrInvalidRequest)
	}

	// 1. Authorize before anything touches a provider
	model, err := s.authz.FindModel(ctx, req.UserID, req.ModelConfigID)
	if err != nil {
		return nil, err
	}

	// 2. Build the model client
	client, err := s.clients.BuildClient(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("building client for %s: %w", model.Config.ID, err)
	}

	// 3. Resolve or create the chat
	chatRow, err := s.ensureChat(ctx, req, userMsg.Content)
	if err != nil {
		return nil, err
	}

	history, err := s.loadHistory(ctx, chatRow.ID)
	if err != nil {
		return nil, err
	}

	// 4. Record the user turn FIRST
	userTurnID := uuid.New().String()
	stored, err := toStored(userTurnID, chatRow.ID, userMsg, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveMessages(ctx, []*store.Message{stored}); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	s.publish(req.UserID, stored)
	s.logger.Debug("user message recorded", "chat_id", chatRow.ID, "message_id", userTurnID)

	// 5. Tools, only when the model can use them and the user picked some
	var (
		tools   chat.ToolExecutor
		cleanup = func() {}
	)
	if model.Config.SupportsTools && len(req.ToolIDs) > 0 {
		selected, err := s.authz.SelectTools(ctx, req.UserID, req.ToolIDs)
		if err != nil {
			return nil, fmt.Errorf("selecting tools: %w", err)
		}
		if len(selected) > 0 {
			opts := s.cfg.Tools
			opts.Logger = s.logger
			opts.OnCallTool = s.observeToolCall(chatRow.ID)
			table, tableCleanup := toolserver.BuildToolTable(ctx, toolserver.SpecsForTools(selected, s.logger), opts)
			tools, cleanup = table, tableCleanup
		}
	}

	events := chat.Run(ctx, client, tools, chat.Input{
		System:   s.cfg.SystemPrompt,
		History:  append(history, userMsg),
		MaxSteps: s.cfg.MaxSteps,
		Logger:   s.logger,
	})

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer cleanup()
		s.forward(ctx, req.UserID, chatRow.ID, userTurnID, events, out)
	}()

	return &ChatStream{ChatID: chatRow.ID, UserMessageID: userTurnID, Events: out}, nil
}

// forward relays loop events, then persists the response turns.
// The loop's stream is always drained, even after the caller goes away.
func (s *Service) forward(ctx context.Context, userID, chatID, userTurnID string, in <-chan chat.Event, out chan<- Event) {
	send := func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	send(Event{Kind: EventUserMessageID, MessageID: userTurnID})

	var finish *chat.Finish
	for ev := range in {
		switch ev.Kind {
		case chat.EventTextDelta:
			send(Event{Kind: EventText, Text: ev.Text})
		case chat.EventToolCall:
			send(Event{Kind: EventToolCall, ToolCall: ev.ToolCall})
		case chat.EventToolResult:
			send(Event{Kind: EventToolResult, ToolResult: ev.ToolResult})
		case chat.EventError:
			send(Event{Kind: EventError, Error: ev.Error})
		case chat.EventStep:
			s.logger.Debug("generation step", "chat_id", chatID, "step", ev.Step)
		case chat.EventFinish:
			finish = ev.Finish
		}
	}
	if finish == nil {
		finish = &chat.Finish{Reason: chat.FinishError}
	}

	turns := chat.Sanitize(finish.Messages)
	ids, err := s.persist(userID, chatID, turns)
	if err != nil {
		s.logger.Error("failed to save response",
			"error", fmt.Errorf("%w: %v", ErrPersistenceFailed, err),
			"chat_id", chatID,
			"turns", len(turns))
	} else {
		for i, m := range turns {
			if m.Role == llm.RoleAssistant {
				send(Event{Kind: EventAnnotation, Annotation: &Annotation{MessageIDFromServer: ids[i], Index: i}})
			}
		}
	}

	s.logger.Info("chat finished",
		"chat_id", chatID,
		"reason", finish.Reason,
		"steps", finish.Steps,
		"turns", len(turns),
		"input_tokens", finish.Usage.InputTokens,
		"output_tokens", finish.Usage.OutputTokens)

	send(Event{Kind: EventDone, Done: &Done{
		ChatID: chatID,
		Reason: finish.Reason,
		Steps:  finish.Steps,
		Usage:  finish.Usage,
	}})
}

// persist saves response turns with fresh ids, using its own timeout so a
// cancelled request still records what it produced.
func (s *Service) persist(userID, chatID string, turns []llm.Message) ([]string, error) {
	if len(turns) == 0 {
		return nil, nil
	}

	base := time.Now().UTC()
	ids := make([]string, len(turns))
	rows := make([]*store.Message, len(turns))
	for i, m := range turns {
		ids[i] = uuid.New().String()
		row, err := toStored(ids[i], chatID, m, base.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.store.SaveMessages(saveCtx, rows); err != nil {
		return nil, err
	}

	for _, row := range rows {
		s.publish(userID, row)
	}
	s.logger.Debug("response saved", "chat_id", chatID, "turns", len(rows))
	return ids, nil
}

func (s *Service) publish(userID string, row *store.Message) {
	if s.cfg.Broadcaster == nil {
		return
	}
	turn, err := fromStored(row)
	if err != nil {
		return
	}
	s.cfg.Broadcaster.Publish(userID, &Published{ChatID: row.ChatID, Turn: turn})
}

// observeToolCall logs each tool call's latency without holding it up.
func (s *Service) observeToolCall(chatID string) toolserver.CallHook {
	return func(server, tool string, _ map[string]any, result *toolserver.Future) {
		start := time.Now()
		go func() {
			_, err := result.Wait(context.Background())
			s.logger.Debug("tool call completed",
				"chat_id", chatID,
				"server", server,
				"tool", tool,
				"duration", time.Since(start),
				"failed", err != nil)
		}()
	}
}

// ensureChat returns the caller's chat, creating it when new.
func (s *Service) ensureChat(ctx context.Context, req ChatRequest, firstText string) (*store.Chat, error) {
	if req.ChatID != "" {
		existing, err := s.store.GetChat(ctx, req.ChatID)
		if err == nil {
			if existing.UserID != req.UserID {
				return nil, ErrChatNotFound
			}
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading chat: %w", err)
		}
	}

	id := req.ChatID
	if id == "" {
		id = uuid.New().String()
	}
	created := &store.Chat{
		ID:            id,
		UserID:        req.UserID,
		Title:         Title(firstText),
		ModelConfigID: req.ModelConfigID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateChat(ctx, created); err != nil {
		// Another request may have created it between lookup and insert
		if errors.Is(err, store.ErrDuplicate) {
			existing, lookupErr := s.store.GetChat(ctx, id)
			if lookupErr == nil && existing.UserID == req.UserID {
				return existing, nil
			}
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	s.logger.Debug("chat created", "chat_id", id, "user_id", req.UserID)
	return created, nil
}

func (s *Service) loadHistory(ctx context.Context, chatID string) ([]llm.Message, error) {
	rows, err := s.store.GetMessagesByChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	history := make([]llm.Message, 0, len(rows)+1)
	for _, row := range rows {
		turn, err := fromStored(row)
		if err != nil {
			s.logger.Warn("skipping unreadable turn", "chat_id", chatID, "error", err)
			continue
		}
		history = append(history, turn.Message)
	}
	return chat.Sanitize(history), nil
}

// History returns a chat's turns in order.
func (s *Service) History(ctx context.Context, userID, chatID string) ([]Turn, error) {
	if _, err := s.ownChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	rows, err := s.store.GetMessagesByChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	turns := make([]Turn, 0, len(rows))
	for _, row := range rows {
		turn, err := fromStored(row)
		if err != nil {
			s.logger.Warn("skipping unreadable turn", "chat_id", chatID, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// GetChat returns a chat the user owns.
func (s *Service) GetChat(ctx context.Context, userID, chatID string) (*store.Chat, error) {
	return s.ownChat(ctx, userID, chatID)
}

// ListChats returns the user's chats, newest first.
func (s *Service) ListChats(ctx context.Context, userID string) ([]*store.Chat, error) {
	return s.store.ListChatsByUser(ctx, userID)
}

// DeleteChat removes a chat and its turns.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) error {
	if _, err := s.ownChat(ctx, userID, chatID); err != nil {
		return err
	}
	if err := s.store.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	s.logger.Info("chat deleted", "chat_id", chatID, "user_id", userID)
	return nil
}

// DeleteMessagesAfter removes turns created at or after ts, for regenerate and edit.
func (s *Service) DeleteMessagesAfter(ctx context.Context, userID, chatID string, ts time.Time) error {
	if _, err := s.ownChat(ctx, userID, chatID); err != nil {
		return err
	}
	return s.store.DeleteMessagesAfter(ctx, chatID, ts)
}

func (s *Service) ownChat(ctx context.Context, userID, chatID string) (*store.Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("loading chat: %w", err)
	}
	if c.UserID != userID {
		return nil, ErrChatNotFound
	}
	return c, nil
}

// Title derives a chat title from its first message.
func Title(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return defaultTitle
	}
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	return string([]rune(text)[:titleMaxRunes])
}

func lastUserMessage(messages []llm.Message) (llm.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == llm.RoleUser && strings.TrimSpace(m.Content) != "" {
			return llm.Message{Role: llm.RoleUser, Content: m.Content}, true
		}
	}
	return llm.Message{}, false
}
