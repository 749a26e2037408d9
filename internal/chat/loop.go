// ABOUTME: Bounded model/tool generation loop
// ABOUTME: Dispatches each step's tool calls concurrently and joins them before the next invocation

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chat/internal/llm"
)

// DefaultMaxSteps bounds model invocations when Input.MaxSteps is unset.
const DefaultMaxSteps = 10

// ToolExecutor runs tools by name. *toolserver.Table satisfies it.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Input is everything a run needs besides the client and tools.
type Input struct {
	System   string
	History  []llm.Message
	MaxSteps int
	Logger   *slog.Logger
}

// Run starts a generation and returns its event stream. The stream always
// ends with a single EventFinish and is then closed. Callers must drain it.
//
// tools may be nil, in which case no tools are offered.
func Run(ctx context.Context, client llm.Client, tools ToolExecutor, in Input) <-chan Event {
	out := make(chan Event, 16)

	maxSteps := in.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &run{
		ctx:      ctx,
		client:   client,
		tools:    tools,
		system:   in.System,
		history:  llm.CloneMessages(in.History),
		maxSteps: maxSteps,
		out:      out,
		logger:   logger.With("component", "chat", "model", client.Model()),
	}
	go func() {
		defer close(out)
		r.loop()
	}()
	return out
}

type run struct {
	ctx      context.Context
	client   llm.Client
	tools    ToolExecutor
	system   string
	history  []llm.Message
	maxSteps int
	out      chan<- Event
	logger   *slog.Logger

	produced []llm.Message
	streamed strings.Builder // text emitted during the current step
	usage    llm.Usage
	steps    int
}

func (r *run) loop() {
	var defs []llm.ToolDefinition
	if r.tools != nil {
		defs = r.tools.Definitions()
	}

	reason := r.iterate(defs)

	r.logger.Debug("generation finished", "reason", reason, "steps", r.steps,
		"input_tokens", r.usage.InputTokens, "output_tokens", r.usage.OutputTokens)
	r.out <- Event{Kind: EventFinish, Finish: &Finish{
		Messages: r.produced,
		Reason:   reason,
		Steps:    r.steps,
		Usage:    r.usage,
	}}
}

func (r *run) iterate(defs []llm.ToolDefinition) FinishReason {
	for {
		if r.steps >= r.maxSteps {
			return FinishMaxSteps
		}
		if r.ctx.Err() != nil {
			return FinishCancelled
		}

		r.steps++
		r.out <- Event{Kind: EventStep, Step: r.steps}

		messages := make([]llm.Message, 0, len(r.history)+len(r.produced))
		messages = append(messages, r.history...)
		messages = append(messages, llm.CloneMessages(r.produced)...)

		r.streamed.Reset()
		resp, err := r.client.Generate(r.ctx, llm.Request{
			System:   r.system,
			Messages: messages,
			Tools:    defs,
		}, r.emitDelta)
		if err != nil {
			if r.ctx.Err() != nil {
				r.keepStreamed()
				return FinishCancelled
			}
			r.logger.Error("model invocation failed", "step", r.steps, "error", err)
			r.out <- Event{Kind: EventError, Error: err.Error()}
			return FinishError
		}
		r.usage.Add(resp.Usage)

		calls := normalizeCalls(resp.ToolCalls)
		r.produced = append(r.produced, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: calls,
		})
		if len(calls) == 0 {
			return FinishStop
		}

		for i := range calls {
			r.out <- Event{Kind: EventToolCall, ToolCall: &calls[i]}
		}

		results, ok := r.dispatch(calls)
		if !ok {
			return FinishCancelled
		}

		for i := range results {
			r.out <- Event{Kind: EventToolResult, ToolResult: &results[i]}
			r.produced = append(r.produced, llm.Message{
				Role:       llm.RoleTool,
				Content:    results[i].Result,
				ToolCallID: results[i].ID,
				Name:       results[i].Name,
				IsError:    results[i].IsError,
			})
		}
	}
}

// emitDelta forwards streamed text until the run is cancelled.
func (r *run) emitDelta(text string) {
	if text == "" || r.ctx.Err() != nil {
		return
	}
	r.streamed.WriteString(text)
	r.out <- Event{Kind: EventTextDelta, Text: text}
}

// keepStreamed records text the caller already saw from an interrupted step.
func (r *run) keepStreamed() {
	if r.streamed.Len() == 0 {
		return
	}
	r.produced = append(r.produced, llm.Message{Role: llm.RoleAssistant, Content: r.streamed.String()})
}

// dispatch runs every call concurrently and waits for all of them. It
// returns false if the run was cancelled first; stragglers are abandoned.
func (r *run) dispatch(calls []llm.ToolCall) ([]ToolResult, bool) {
	results := make([]ToolResult, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.execute(call)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return results, r.ctx.Err() == nil
	case <-r.ctx.Done():
		r.logger.Info("generation cancelled during tool calls", "step", r.steps, "calls", len(calls))
		return nil, false
	}
}

func (r *run) execute(call llm.ToolCall) (result ToolResult) {
	result = ToolResult{ID: call.ID, Name: call.Name}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool execution panicked", "tool", call.Name, "panic", p)
			result.Result = errorResult(fmt.Errorf("tool panicked: %v", p))
			result.IsError = true
		}
	}()

	if r.tools == nil {
		result.Result = errorResult(fmt.Errorf("tool %q is not available", call.Name))
		result.IsError = true
		return result
	}

	output, err := r.tools.Execute(r.ctx, call.Name, call.Arguments)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
		result.Result = errorResult(err)
		result.IsError = true
		return result
	}
	result.Result = output
	return result
}

func errorResult(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}

// normalizeCalls gives every call an id and non-nil arguments.
func normalizeCalls(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		if c.ID == "" || seen[c.ID] {
			c.ID = "call_" + uuid.NewString()
		}
		seen[c.ID] = true
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		out[i] = c
	}
	return out
}
