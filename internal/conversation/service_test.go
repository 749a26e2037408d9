// ABOUTME: Tests for the conversation service pipeline
// ABOUTME: Covers denial before client construction, fallback, tools, cancellation and persistence failures

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/access"
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/llm"
	"github.com/2389/coven-chat/internal/llm/llmtest"
	"github.com/2389/coven-chat/internal/provider"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/toolserver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seed creates alice (in eng, granted m-chat and t-slow/t-echo) and
// nobody (no groups).
func seed(t *testing.T, s *store.SQLiteStore, family string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &store.User{ID: "alice", Email: "alice@example.com", Name: "Alice"}))
	require.NoError(t, s.CreateUser(ctx, &store.User{ID: "nobody", Email: "nobody@example.com", Name: "Nobody"}))
	require.NoError(t, s.CreateGroup(ctx, &store.Group{ID: "eng", Name: "eng"}))
	require.NoError(t, s.AddMembership(ctx, "alice", "eng", store.MembershipRoleMember))

	require.NoError(t, s.CreateProvider(ctx, &store.Provider{ID: "p-1", Name: "Provider", Family: family}))
	require.NoError(t, s.CreateModelConfig(ctx, &store.ModelConfig{
		ID: "m-chat", ProviderID: "p-1", Model: "upstream", Name: "Chat", SupportsTools: true,
	}))
	require.NoError(t, s.SetCredential(ctx, "m-chat", store.CredentialAPIKey, "sk-test"))
	require.NoError(t, s.GrantModel(ctx, "eng", "m-chat"))

	require.NoError(t, s.CreateTool(ctx, &store.Tool{ID: "t-echo", Name: "echo", Configuration: json.RawMessage(`{"command":"echo-mcp"}`)}))
	require.NoError(t, s.CreateTool(ctx, &store.Tool{ID: "t-slow", Name: "slow", Configuration: json.RawMessage(`{"command":"slow-mcp"}`)}))
	require.NoError(t, s.GrantTool(ctx, "eng", "t-echo"))
	require.NoError(t, s.GrantTool(ctx, "eng", "t-slow"))
}

// spyFactory counts BuildClient calls and hands out a fixed client.
type spyFactory struct {
	calls  atomic.Int32
	client llm.Client
}

func (f *spyFactory) BuildClient(context.Context, *store.ResolvedModel) (llm.Client, error) {
	f.calls.Add(1)
	return f.client, nil
}

type echoArgs struct {
	Text string `json:"text"`
}

func toolConnector(release <-chan struct{}) *toolserver.MemoryConnector {
	conn := toolserver.NewMemoryConnector()

	echo := mcp.NewServer(&mcp.Implementation{Name: "echo", Version: "v0.0.1"}, nil)
	mcp.AddTool(echo, &mcp.Tool{Name: "echo", Description: "echo text"},
		func(_ context.Context, _ *mcp.CallToolRequest, in echoArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "echo:" + in.Text}}}, nil, nil
		})
	conn.Register("echo", echo)

	slow := mcp.NewServer(&mcp.Implementation{Name: "slow", Version: "v0.0.1"}, nil)
	mcp.AddTool(slow, &mcp.Tool{Name: "wait", Description: "waits"},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
			select {
			case <-ctx.Done():
			case <-release:
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "late"}}}, nil, nil
		})
	conn.Register("slow", slow)
	return conn
}

func newService(t *testing.T, s ConversationStore, resolverStore access.Store, factory ClientFactory, conn toolserver.Connector) *Service {
	t.Helper()
	return New(s, access.NewResolver(resolverStore, nil, testLogger()), factory, Config{
		SystemPrompt: "you are helpful",
		MaxSteps:     4,
		Tools:        toolserver.Options{Connector: conn, ConnectTimeout: 5 * time.Second},
	}, testLogger())
}

func drain(t *testing.T, stream *ChatStream) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-stream.Events:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil
		}
	}
}

func ofKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func userSays(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}

func TestChat_TextRoundTrip(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	factory := &spyFactory{client: llmtest.NewScriptedClient("upstream", llmtest.Response{Text: "Hello Alice"})}
	svc := newService(t, s, s, factory, nil)

	stream, err := svc.Chat(context.Background(), ChatRequest{
		UserID: "alice", ModelConfigID: "m-chat", Messages: userSays("  hi   there  "),
	})
	require.NoError(t, err)
	events := drain(t, stream)

	require.NotEmpty(t, events)
	assert.Equal(t, EventUserMessageID, events[0].Kind)
	assert.Equal(t, stream.UserMessageID, events[0].MessageID)
	assert.Equal(t, EventDone, events[len(events)-1].Kind)
	assert.Equal(t, chat.FinishStop, events[len(events)-1].Done.Reason)

	texts := ofKind(events, EventText)
	require.Len(t, texts, 1)
	assert.Equal(t, "Hello Alice", texts[0].Text)

	ann := ofKind(events, EventAnnotation)
	require.Len(t, ann, 1)

	turns, err := svc.History(context.Background(), "alice", stream.ChatID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, stream.UserMessageID, turns[0].ID)
	assert.Equal(t, "  hi   there  ", turns[0].Content)
	assert.Equal(t, ann[0].Annotation.MessageIDFromServer, turns[1].ID)
	assert.Equal(t, "Hello Alice", turns[1].Content)

	c, err := svc.GetChat(context.Background(), "alice", stream.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "hi there", c.Title)
}

func TestChat_HistoryFeedsNextTurn(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	client := llmtest.NewScriptedClient("upstream", llmtest.Response{Text: "first"}, llmtest.Response{Text: "second"})
	svc := newService(t, s, s, &spyFactory{client: client}, nil)
	ctx := context.Background()

	stream, err := svc.Chat(ctx, ChatRequest{UserID: "alice", ModelConfigID: "m-chat", Messages: userSays("one")})
	require.NoError(t, err)
	drain(t, stream)

	stream2, err := svc.Chat(ctx, ChatRequest{
		UserID: "alice", ChatID: stream.ChatID, ModelConfigID: "m-chat",
		// Stale client-side history is ignored in favour of the store
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "forged"}, {Role: llm.RoleAssistant, Content: "forged"}, {Role: llm.RoleUser, Content: "two"}},
	})
	require.NoError(t, err)
	assert.Equal(t, stream.ChatID, stream2.ChatID)
	drain(t, stream2)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "you are helpful", reqs[1].System)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, "one", reqs[1].Messages[0].Content)
	assert.Equal(t, "first", reqs[1].Messages[1].Content)
	assert.Equal(t, "two", reqs[1].Messages[2].Content)
}

func TestChat_NoGroupsDeniedBeforeClient(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	factory := &spyFactory{client: llmtest.NewScriptedClient("upstream")}
	svc := newService(t, s, s, factory, nil)

	_, err := svc.Chat(context.Background(), ChatRequest{UserID: "nobody", ModelConfigID: "m-chat", Messages: userSays("hi")})

	assert.ErrorIs(t, err, access.ErrAuthorizationDenied)
	assert.ErrorIs(t, err, access.ErrNoAccess)
	assert.Equal(t, int32(0), factory.calls.Load())

	chats, err := svc.ListChats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestChat_UnknownModelDenied(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	factory := &spyFactory{client: llmtest.NewScriptedClient("upstream")}
	svc := newService(t, s, s, factory, nil)

	_, err := svc.Chat(context.Background(), ChatRequest{UserID: "alice", ModelConfigID: "m-missing", Messages: userSays("hi")})

	assert.ErrorIs(t, err, access.ErrModelNotFound)
	assert.Equal(t, int32(0), factory.calls.Load())
}

func TestChat_RequiresUserMessage(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	svc := newService(t, s, s, &spyFactory{}, nil)

	_, err := svc.Chat(context.Background(), ChatRequest{UserID: "alice", ModelConfigID: "m-chat",
		Messages: []llm.Message{{Role: llm.RoleAssistant, Content: "hi"}}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestChat_ForeignChatRejected(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &store.User{ID: "mallory", Email: "m@example.com", Name: "M"}))
	require.NoError(t, s.AddMembership(ctx, "mallory", "eng", store.MembershipRoleMember))
	svc := newService(t, s, s, &spyFactory{client: llmtest.NewScriptedClient("upstream", llmtest.Response{Text: "x"})}, nil)

	stream, err := svc.Chat(ctx, ChatRequest{UserID: "alice", ModelConfigID: "m-chat", Messages: userSays("secret")})
	require.NoError(t, err)
	drain(t, stream)

	_, err = svc.Chat(ctx, ChatRequest{UserID: "mallory", ChatID: stream.ChatID, ModelConfigID: "m-chat", Messages: userSays("peek")})
	assert.ErrorIs(t, err, ErrChatNotFound)

	_, err = svc.History(ctx, "mallory", stream.ChatID)
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.ErrorIs(t, svc.DeleteChat(ctx, "mallory", stream.ChatID), ErrChatNotFound)
}

// fallbackServer streams a fixed OpenAI-style completion.
func fallbackServer(t *testing.T, text string) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var model atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		model.Store(body.Model)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"fb","choices":[{"index":0,"delta":{"role":"assistant","content":`+fmt.Sprintf("%q", text)+`},"finish_reason":null}]}`)
		fmt.Fprintf(w, "data: %s\n\n", `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"fb","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, &model
}

func TestChat_UnknownFamilyFallsBackAndProceeds(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "azure-openai")
	srv, model := fallbackServer(t, "from fallback")

	factory := provider.NewFactory(provider.FallbackConfig{Model: "fallback-model", APIKey: "fb", BaseURL: srv.URL},
		testLogger(), provider.WithHTTPClient(srv.Client()))
	svc := newService(t, s, s, factory, nil)

	stream, err := svc.Chat(context.Background(), ChatRequest{UserID: "alice", ModelConfigID: "m-chat", Messages: userSays("hi")})
	require.NoError(t, err)
	events := drain(t, stream)

	assert.Empty(t, ofKind(events, EventError))
	var text strings.Builder
	for _, ev := range ofKind(events, EventText) {
		text.WriteString(ev.Text)
	}
	assert.Equal(t, "from fallback", text.String())
	assert.Equal(t, "fallback-model", model.Load())
}

func TestChat_ToolRoundTripPersisted(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	client := llmtest.NewScriptedClient("upstream",
		llmtest.Response{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "ping"}}}},
		llmtest.Response{Text: "echoed"},
	)
	svc := newService(t, s, s, &spyFactory{client: client}, toolConnector(nil))

	stream, err := svc.Chat(context.Background(), ChatRequest{
		UserID: "alice", ModelConfigID: "m-chat", ToolIDs: []string{"t-echo", "t-not-granted"}, Messages: userSays("use echo"),
	})
	require.NoError(t, err)
	events := drain(t, stream)

	results := ofKind(events, EventToolResult)
	require.Len(t, results, 1)
	assert.False(t, results[0].ToolResult.IsError)
	assert.Contains(t, results[0].ToolResult.Result, "echo:ping")

	// Tools offered to the model are only the granted, selected ones
	reqs := client.Requests()
	require.NotEmpty(t, reqs)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "echo", reqs[0].Tools[0].Name)

	turns, err := svc.History(context.Background(), "alice", stream.ChatID)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, llm.RoleAssistant, turns[1].Role)
	require.Len(t, turns[1].ToolCalls, 1)
	assert.Equal(t, "c1", turns[1].ToolCalls[0].ID)
	assert.Equal(t, "ping", turns[1].ToolCalls[0].Arguments["text"])
	assert.Equal(t, llm.RoleTool, turns[2].Role)
	assert.Equal(t, "c1", turns[2].ToolCallID)
	assert.Equal(t, "echoed", turns[3].Content)

	assert.Len(t, ofKind(events, EventAnnotation), 2)
}

func TestChat_ToolsIgnoredWhenModelLacksSupport(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	ctx := context.Background()
	require.NoError(t, s.CreateModelConfig(ctx, &store.ModelConfig{ID: "m-plain", ProviderID: "p-1", Model: "plain", Name: "Plain"}))
	require.NoError(t, s.GrantModel(ctx, "eng", "m-plain"))

	client := llmtest.NewScriptedClient("plain", llmtest.Response{Text: "ok"})
	svc := newService(t, s, s, &spyFactory{client: client}, toolConnector(nil))

	stream, err := svc.Chat(ctx, ChatRequest{UserID: "alice", ModelConfigID: "m-plain", ToolIDs: []string{"t-echo"}, Messages: userSays("hi")})
	require.NoError(t, err)
	drain(t, stream)

	assert.Empty(t, client.Requests()[0].Tools)
}

func TestChat_CancelMidStepPersistsSanitizedTurn(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	client := llmtest.NewScriptedClient("upstream",
		llmtest.Response{Text: "let me wait", ToolCalls: []llm.ToolCall{{ID: "c1", Name: "slow_wait"}}},
		llmtest.Response{Text: "never reached"},
	)
	release := make(chan struct{})
	defer close(release)
	svc := newService(t, s, s, &spyFactory{client: client}, toolConnector(release))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := svc.Chat(ctx, ChatRequest{UserID: "alice", ModelConfigID: "m-chat", ToolIDs: []string{"t-slow"}, Messages: userSays("wait please")})
	require.NoError(t, err)

	for ev := range stream.Events {
		if ev.Kind == EventToolCall {
			cancel()
			break
		}
	}
	// Persistence completes before the stream closes
	for range stream.Events {
	}

	turns, err := svc.History(context.Background(), "alice", stream.ChatID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "wait please", turns[0].Content)
	assert.Equal(t, "let me wait", turns[1].Content)
	assert.Empty(t, turns[1].ToolCalls)

	for _, turn := range turns {
		assert.NotEqual(t, llm.RoleTool, turn.Role)
	}
	assert.Equal(t, 1, client.Calls())
}

func TestChat_CancelWhileStreamingPersistsPartialText(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	client := llmtest.NewScriptedClient("upstream", llmtest.Response{Text: "half an ans", Block: true})
	svc := newService(t, s, s, &spyFactory{client: client}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := svc.Chat(ctx, ChatRequest{UserID: "alice", ModelConfigID: "m-chat", Messages: userSays("long question")})
	require.NoError(t, err)

	for ev := range stream.Events {
		if ev.Kind == EventText {
			cancel()
			break
		}
	}
	for range stream.Events {
	}

	turns, err := svc.History(context.Background(), "alice", stream.ChatID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, llm.RoleAssistant, turns[1].Role)
	assert.Equal(t, "half an ans", turns[1].Content)
}

// countingConnector tracks how many sessions it opened and how many are still open.
type countingConnector struct {
	inner  toolserver.Connector
	opened atomic.Int32
	open   atomic.Int32
}

func (c *countingConnector) Connect(ctx context.Context, name string, spec toolserver.ServerSpec) (toolserver.Session, error) {
	sess, err := c.inner.Connect(ctx, name, spec)
	if err != nil {
		return nil, err
	}
	c.opened.Add(1)
	c.open.Add(1)
	return &countedSession{Session: sess, open: &c.open}, nil
}

type countedSession struct {
	toolserver.Session
	open   *atomic.Int32
	closed atomic.Bool
}

func (s *countedSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.open.Add(-1)
	}
	return s.Session.Close()
}

func TestChat_ToolSessionsClosedWhenStreamEnds(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	client := llmtest.NewScriptedClient("upstream",
		llmtest.Response{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "ping"}}}},
		llmtest.Response{Text: "echoed"},
	)
	conn := &countingConnector{inner: toolConnector(nil)}
	svc := newService(t, s, s, &spyFactory{client: client}, conn)

	stream, err := svc.Chat(context.Background(), ChatRequest{
		UserID: "alice", ModelConfigID: "m-chat", ToolIDs: []string{"t-echo", "t-slow"}, Messages: userSays("use echo"),
	})
	require.NoError(t, err)
	events := drain(t, stream)
	require.Len(t, ofKind(events, EventToolResult), 1)

	assert.Positive(t, conn.opened.Load())
	assert.Zero(t, conn.open.Load())
}

func TestChat_ToolSessionsClosedOnCancel(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	client := llmtest.NewScriptedClient("upstream",
		llmtest.Response{Text: "let me wait", ToolCalls: []llm.ToolCall{{ID: "c1", Name: "slow_wait"}}},
		llmtest.Response{Text: "never reached"},
	)
	release := make(chan struct{})
	defer close(release)
	conn := &countingConnector{inner: toolConnector(release)}
	svc := newService(t, s, s, &spyFactory{client: client}, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := svc.Chat(ctx, ChatRequest{UserID: "alice", ModelConfigID: "m-chat", ToolIDs: []string{"t-slow"}, Messages: userSays("wait please")})
	require.NoError(t, err)

	for ev := range stream.Events {
		if ev.Kind == EventToolCall {
			assert.Positive(t, conn.open.Load())
			cancel()
			break
		}
	}
	drain(t, stream)

	assert.Positive(t, conn.opened.Load())
	assert.Zero(t, conn.open.Load())
}

// failingSaves lets the first n SaveMessages calls through, then fails.
type failingSaves struct {
	*store.SQLiteStore
	allowed atomic.Int32
}

func (f *failingSaves) SaveMessages(ctx context.Context, messages []*store.Message) error {
	if f.allowed.Add(-1) < 0 {
		return errors.New("disk full")
	}
	return f.SQLiteStore.SaveMessages(ctx, messages)
}

func TestChat_PersistenceFailureIsSwallowed(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	fs := &failingSaves{SQLiteStore: s}
	fs.allowed.Store(1)

	svc := newService(t, fs, s, &spyFactory{client: llmtest.NewScriptedClient("upstream", llmtest.Response{Text: "lost"})}, nil)

	stream, err := svc.Chat(context.Background(), ChatRequest{UserID: "alice", ModelConfigID: "m-chat", Messages: userSays("hi")})
	require.NoError(t, err)
	events := drain(t, stream)

	assert.Equal(t, EventDone, events[len(events)-1].Kind)
	assert.Empty(t, ofKind(events, EventAnnotation))
	assert.Empty(t, ofKind(events, EventError))
	assert.Len(t, ofKind(events, EventText), 1)

	turns, err := svc.History(context.Background(), "alice", stream.ChatID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, llm.RoleUser, turns[0].Role)
}

func TestChat_UserTurnFailureIsHard(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	fs := &failingSaves{SQLiteStore: s}

	factory := &spyFactory{client: llmtest.NewScriptedClient("upstream", llmtest.Response{Text: "x"})}
	svc := newService(t, fs, s, factory, nil)

	_, err := svc.Chat(context.Background(), ChatRequest{UserID: "alice", ModelConfigID: "m-chat", Messages: userSays("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestChat_BroadcastsPersistedTurns(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	b := NewBroadcaster(testLogger())
	defer b.Close()

	svc := New(s, access.NewResolver(s, nil, testLogger()),
		&spyFactory{client: llmtest.NewScriptedClient("upstream", llmtest.Response{Text: "hey"})},
		Config{Broadcaster: b}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed, _ := b.Subscribe(ctx, "alice")

	stream, err := svc.Chat(context.Background(), ChatRequest{UserID: "alice", ModelConfigID: "m-chat", Messages: userSays("hi")})
	require.NoError(t, err)
	drain(t, stream)

	first := <-feed
	second := <-feed
	assert.Equal(t, stream.ChatID, first.ChatID)
	assert.Equal(t, llm.RoleUser, first.Turn.Role)
	assert.Equal(t, "hey", second.Turn.Content)
}

func TestDeleteMessagesAfter(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, "openai")
	client := llmtest.NewScriptedClient("upstream", llmtest.Response{Text: "a1"}, llmtest.Response{Text: "a2"})
	svc := newService(t, s, s, &spyFactory{client: client}, nil)
	ctx := context.Background()

	stream, err := svc.Chat(ctx, ChatRequest{UserID: "alice", ModelConfigID: "m-chat", Messages: userSays("q1")})
	require.NoError(t, err)
	drain(t, stream)
	stream, err = svc.Chat(ctx, ChatRequest{UserID: "alice", ChatID: stream.ChatID, ModelConfigID: "m-chat", Messages: userSays("q2")})
	require.NoError(t, err)
	drain(t, stream)

	turns, err := svc.History(ctx, "alice", stream.ChatID)
	require.NoError(t, err)
	require.Len(t, turns, 4)

	require.NoError(t, svc.DeleteMessagesAfter(ctx, "alice", stream.ChatID, turns[2].CreatedAt))

	turns, err = svc.History(ctx, "alice", stream.ChatID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "a1", turns[1].Content)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "New chat", Title("   "))
	assert.Equal(t, "short one", Title("short\n one"))
	long := strings.Repeat("é", 100)
	assert.Equal(t, strings.Repeat("é", 80), Title(long))
}
