package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cadre-oss/memchat/internal/config"
	memErrors "github.com/cadre-oss/memchat/internal/errors"
	"github.com/cadre-oss/memchat/internal/event"
	"github.com/cadre-oss/memchat/internal/state"
	"github.com/cadre-oss/memchat/internal/telemetry"
)

// ChatRequest is one inbound turn.
type ChatRequest struct {
	Messages     []state.Message `json:"messages"`
	UserID       string          `json:"user_id,omitempty"`
	Model        string          `json:"model,omitempty"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	ThreadID     string          `json:"thread_id,omitempty"`
}

// ChatResult is the full history after the turn.
type ChatResult struct {
	Messages []state.Message `json:"messages"`
	ThreadID string          `json:"thread_id"`
	Reply    string          `json:"reply,omitempty"`
}

// Service runs turns against checkpointed threads.
type Service struct {
	cfg     *config.Config
	runtime *Runtime
	states  *state.Manager
	bus     *event.Bus
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewService wires the turn service.
func NewService(cfg *config.Config, runtime *Runtime, states *state.Manager, bus *event.Bus, logger *telemetry.Logger, metrics *telemetry.Metrics) *Service {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Service{cfg: cfg, runtime: runtime, states: states, bus: bus, logger: logger, metrics: metrics}
}

// Chat runs one turn. The thread is locked for the whole turn, the loop
// runs on a private copy of the stored history, and the checkpoint is
// written only when the loop finishes. Memory writes made by tools before
// a failure are kept.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	turn, err := s.cfg.Resolve(config.Overrides{
		UserID:       req.UserID,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return nil, err
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}

	trace := telemetry.NewTurnTrace(threadID, turn.UserID)
	ctx = telemetry.ContextWithTrace(ctx, trace)
	logger := s.logger.WithTrace(ctx)

	start := time.Now()
	s.metrics.IncTurnsStarted()
	if err := s.bus.Publish(ctx, event.TurnStarted, map[string]interface{}{
		"thread_id": threadID,
		"user_id":   turn.UserID,
		"model":     turn.ModelRef(),
	}); err != nil {
		return nil, s.fail(ctx, threadID, start, err)
	}

	unlock, err := s.states.Lock(ctx, threadID)
	if err != nil {
		return nil, s.fail(ctx, threadID, start, err)
	}
	defer unlock()

	cp, err := s.states.Load(ctx, threadID)
	if memErrors.HasCode(err, memErrors.CodeNotFound) {
		cp, err = &state.Checkpoint{ThreadID: threadID}, nil
	}
	if err != nil {
		return nil, s.fail(ctx, threadID, start, err)
	}
	if cp.UserID != "" && cp.UserID != turn.UserID {
		return nil, s.fail(ctx, threadID, start, memErrors.Newf(memErrors.CodeUsage,
			"thread %s belongs to another user", threadID).
			WithSuggestion("Start a new thread or omit thread_id"))
	}

	conv, err := state.NewConversation(cp.Messages)
	if err != nil {
		return nil, s.fail(ctx, threadID, start, memErrors.Wrap(memErrors.CodeStorage, "stored thread is corrupt", err))
	}
	if err := conv.Merge(receive(req.Messages)); err != nil {
		return nil, s.fail(ctx, threadID, start, err)
	}
	if conv.Len() == 0 {
		return nil, s.fail(ctx, threadID, start, memErrors.New(memErrors.CodeUsage, "no messages to respond to"))
	}

	logger.Debug("Turn started", "messages", conv.Len(), "model", turn.ModelRef())

	result, err := s.runtime.Run(ctx, turn, conv)
	if err != nil {
		return nil, s.fail(ctx, threadID, start, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, threadID, start, err)
	}

	cp.UserID = turn.UserID
	cp.Messages = conv.Messages()
	if err := s.states.Save(ctx, cp); err != nil {
		return nil, s.fail(ctx, threadID, start, err)
	}
	s.bus.Publish(ctx, event.StateCheckpoint, map[string]interface{}{
		"thread_id": threadID,
		"messages":  len(cp.Messages),
	})

	duration := time.Since(start)
	s.metrics.IncTurnsCompleted()
	s.metrics.RecordTurnDuration(duration)
	s.bus.Publish(ctx, event.TurnCompleted, map[string]interface{}{
		"thread_id":   threadID,
		"user_id":     turn.UserID,
		"iterations":  result.Iterations,
		"tool_calls":  result.ToolCalls,
		"duration_ms": duration.Milliseconds(),
	})
	if err := s.metrics.Flush(ctx, string(event.TurnCompleted)); err != nil {
		logger.Warn("Metrics export failed", "error", err)
	}
	logger.Info("Turn completed", "iterations", result.Iterations, "tool_calls", result.ToolCalls, "duration", duration)

	return &ChatResult{Messages: cp.Messages, ThreadID: threadID, Reply: result.Reply}, nil
}

// fail records a failed turn and returns err unchanged.
func (s *Service) fail(ctx context.Context, threadID string, start time.Time, err error) error {
	s.metrics.IncTurnsFailed()
	s.metrics.RecordTurnDuration(time.Since(start))
	s.logger.WithTrace(ctx).Error("Turn failed", "error", err)
	s.bus.Publish(ctx, event.TurnFailed, map[string]interface{}{
		"thread_id": threadID,
		"error":     err.Error(),
		"code":      memErrors.AsCode(err),
	})
	if ferr := s.metrics.Flush(ctx, string(event.TurnFailed)); ferr != nil {
		s.logger.WithTrace(ctx).Warn("Metrics export failed", "error", ferr)
	}
	return err
}

// History returns the checkpoint of a thread.
func (s *Service) History(ctx context.Context, threadID string) (*state.Checkpoint, error) {
	return s.states.Load(ctx, threadID)
}

// Threads lists stored threads, most recently updated first.
func (s *Service) Threads(ctx context.Context, limit int) ([]state.ThreadSummary, error) {
	return s.states.List(ctx, limit)
}

// DeleteThread removes a thread's checkpoint.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	return s.states.Delete(ctx, threadID)
}

// receive stamps inbound messages that carry no timestamp.
func receive(msgs []state.Message) []state.Message {
	out := state.CloneMessages(msgs)
	now := time.Now().UTC()
	for i := range out {
		if out[i].Timestamp.IsZero() {
			out[i].Timestamp = now
		}
	}
	return out
}
