// Package agent runs the conversational loop: the model is called with the
// primed system prompt and the memory tools, requested tools are executed,
// and control returns to the model until it answers without tool calls.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cadre-oss/memchat/internal/config"
	memErrors "github.com/cadre-oss/memchat/internal/errors"
	"github.com/cadre-oss/memchat/internal/event"
	"github.com/cadre-oss/memchat/internal/memory"
	"github.com/cadre-oss/memchat/internal/provider"
	"github.com/cadre-oss/memchat/internal/state"
	"github.com/cadre-oss/memchat/internal/telemetry"
	"github.com/cadre-oss/memchat/internal/tools"
)

// Step is a state of the loop.
type Step int

const (
	StepModel Step = iota
	StepExecuteTool
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepModel:
		return "model"
	case StepExecuteTool:
		return "execute_tool"
	case StepDone:
		return "done"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Options tunes the loop.
type Options struct {
	MaxIterations int // model calls per turn
	PrimeLimit    int // memories injected into the system prompt
	PrimeWindow   int // trailing messages used as the priming query
	MaxTokens     int
}

// DefaultOptions returns the built-in loop limits.
func DefaultOptions() Options {
	return Options{MaxIterations: 25, PrimeLimit: 10, PrimeWindow: 3, MaxTokens: 4096}
}

// OptionsFromConfig reads the loop limits from the process configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	if cfg.Agent.MaxIterations > 0 {
		opts.MaxIterations = cfg.Agent.MaxIterations
	}
	if cfg.Memory.PrimeLimit > 0 {
		opts.PrimeLimit = cfg.Memory.PrimeLimit
	}
	if cfg.Memory.PrimeWindow > 0 {
		opts.PrimeWindow = cfg.Memory.PrimeWindow
	}
	if cfg.Provider.MaxTokens > 0 {
		opts.MaxTokens = cfg.Provider.MaxTokens
	}
	return opts
}

// Runtime executes the agent loop. It holds only process-scoped
// collaborators and is safe for concurrent turns.
type Runtime struct {
	provider provider.Provider
	store    *memory.Store
	bus      *event.Bus
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tools    []provider.Tool
	opts     Options
}

// NewRuntime creates a new agent runtime with an injected provider.
func NewRuntime(p provider.Provider, store *memory.Store, bus *event.Bus, logger *telemetry.Logger, metrics *telemetry.Metrics, opts Options) *Runtime {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	def := DefaultOptions()
	if opts.MaxIterations < 1 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.PrimeLimit < 1 {
		opts.PrimeLimit = def.PrimeLimit
	}
	if opts.PrimeWindow < 1 {
		opts.PrimeWindow = def.PrimeWindow
	}
	if opts.MaxTokens < 1 {
		opts.MaxTokens = def.MaxTokens
	}
	return &Runtime{
		provider: p,
		store:    store,
		bus:      bus,
		logger:   logger,
		metrics:  metrics,
		tools:    tools.Definitions(),
		opts:     opts,
	}
}

// RunResult summarizes a finished loop.
type RunResult struct {
	Reply      string
	Iterations int
	ToolCalls  int
}

// Run drives conv from Model to Done, appending every assistant and tool
// message to it. conv must be private to the caller: on error it holds a
// partial turn that should be discarded.
func (r *Runtime) Run(ctx context.Context, turn config.Turn, conv *state.Conversation) (*RunResult, error) {
	ns, err := memory.UserNamespace(turn.UserID)
	if err != nil {
		return nil, err
	}
	exec, err := tools.NewExecutor(r.store, ns, r.logger, r.metrics)
	if err != nil {
		return nil, err
	}
	logger := r.logger.WithTrace(ctx)

	result := &RunResult{}
	var pending []provider.ToolCall
	step := StepModel

	for step != StepDone {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch step {
		case StepModel:
			if result.Iterations >= r.opts.MaxIterations {
				return nil, memErrors.New(memErrors.CodeMaxIterations,
					fmt.Sprintf("max iterations (%d) exceeded", r.opts.MaxIterations)).
					WithSuggestion("Raise agent.max_iterations in memchat.yaml")
			}
			result.Iterations++
			logger.Debug("Agent iteration", "iteration", result.Iterations)

			resp, err := r.callModel(ctx, turn, ns, conv)
			if err != nil {
				return nil, err
			}

			if err := conv.Append(stamp(assistantMessage(resp))); err != nil {
				return nil, memErrors.Wrap(memErrors.CodeInference, "model returned an invalid message", err)
			}
			if len(resp.ToolCalls) > 0 {
				pending = resp.ToolCalls
				step = StepExecuteTool
				continue
			}
			result.Reply = resp.Content
			step = StepDone

		case StepExecuteTool:
			for _, tc := range pending {
				res, err := r.executeTool(ctx, exec, tc)
				if err != nil {
					return nil, err
				}
				if err := conv.Append(stamp(toolMessage(res))); err != nil {
					return nil, err
				}
				result.ToolCalls++
			}
			pending = nil
			step = StepModel
		}
	}

	return result, nil
}

func (r *Runtime) callModel(ctx context.Context, turn config.Turn, ns memory.Namespace, conv *state.Conversation) (*provider.Response, error) {
	memories := r.prime(ctx, ns, conv)
	system, messages := convertMessages(conv.Messages())

	req := &provider.CompletionRequest{
		Model:     turn.Model,
		System:    SystemPrompt(turn.SystemPrompt, system, memories),
		Messages:  messages,
		Tools:     r.tools,
		MaxTokens: r.opts.MaxTokens,
	}

	r.metrics.IncModelRequests()
	r.emit(ctx, event.ModelRequest, map[string]interface{}{"model": turn.ModelRef(), "messages": len(messages)})

	start := time.Now()
	resp, err := r.provider.Complete(ctx, req)
	r.metrics.RecordModelLatency(time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if memErrors.AsCode(err) != "" {
			return nil, err
		}
		return nil, memErrors.Wrap(memErrors.CodeInference, "model call failed", err)
	}

	r.logger.WithTrace(ctx).Debug("Provider response",
		"stop_reason", resp.StopReason,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return resp, nil
}

// prime searches the user's memories with the trailing messages. Any
// failure is logged and the model is called without the block.
func (r *Runtime) prime(ctx context.Context, ns memory.Namespace, conv *state.Conversation) string {
	query := PrimingQuery(conv.Last(r.opts.PrimeWindow))
	if query == "" {
		return ""
	}

	hits, err := r.store.Search(ctx, ns, query, r.opts.PrimeLimit)
	if err != nil {
		r.metrics.IncPrimingFailures()
		r.logger.WithTrace(ctx).Warn("Memory priming failed", "namespace", ns.String(), "error", err)
		r.emit(ctx, event.MemoryPrimeFailed, map[string]interface{}{"user_id": ns.UserID, "error": err.Error()})
		return ""
	}

	r.emit(ctx, event.MemoryPrimed, map[string]interface{}{"user_id": ns.UserID, "count": len(hits)})
	return FormatMemories(hits)
}

func (r *Runtime) executeTool(ctx context.Context, exec *tools.Executor, tc provider.ToolCall) (tools.Result, error) {
	logger := r.logger.WithTrace(ctx)
	logger.Debug("Executing tool", "tool", tc.Name, "id", tc.ID)
	r.emit(ctx, event.AgentToolCall, map[string]interface{}{"tool": tc.Name, "call_id": tc.ID})

	res, err := exec.Run(ctx, tc)
	if err != nil {
		return tools.Result{}, err
	}

	logger.Debug("Tool execution finished", "tool", tc.Name, "is_error", res.IsError, "result_length", len(res.Content))
	r.emit(ctx, event.AgentToolResult, map[string]interface{}{"tool": tc.Name, "call_id": tc.ID, "is_error": res.IsError})
	return res, nil
}

func (r *Runtime) emit(ctx context.Context, t event.EventType, data map[string]interface{}) {
	if err := r.bus.Publish(ctx, t, data); err != nil {
		r.logger.WithTrace(ctx).Warn("Event hook failed", "event", string(t), "error", err)
	}
}

func stamp(m state.Message) state.Message {
	m.Timestamp = time.Now().UTC()
	return m
}
