package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
	"github.com/cadre-oss/memchat/internal/memory"
	"github.com/cadre-oss/memchat/internal/provider"
	"github.com/cadre-oss/memchat/internal/telemetry"
)

// Result is the outcome of one tool call, sent back as a tool message.
type Result struct {
	CallID  string `json:"tool_call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// SearchHit is one element of the search_memory result array.
type SearchHit struct {
	MemoryID string  `json:"memory_id"`
	Content  string  `json:"content"`
	Context  string  `json:"context"`
	Score    float64 `json:"score"`
}

// Executor runs memory tools against a single namespace fixed at
// construction, so a call can never reach another user's memories.
type Executor struct {
	store   *memory.Store
	ns      memory.Namespace
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	newID   func() string
}

// NewExecutor binds the memory tools to ns.
func NewExecutor(store *memory.Store, ns memory.Namespace, logger *telemetry.Logger, metrics *telemetry.Metrics) (*Executor, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Executor{store: store, ns: ns, logger: logger, metrics: metrics, newID: uuid.NewString}, nil
}

// Run parses and executes one call. Usage, storage and embedding problems
// come back as a failed Result; only malformed arguments and context
// cancellation are returned as errors.
func (e *Executor) Run(ctx context.Context, tc provider.ToolCall) (Result, error) {
	e.metrics.IncToolCalls()

	call, err := Parse(tc)
	if err != nil {
		if memErrors.AsCode(err) == memErrors.CodeInference {
			return Result{}, err
		}
		return e.failed(tc, err), nil
	}

	content, err := e.execute(ctx, call)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return e.failed(tc, err), nil
	}
	return Result{CallID: tc.ID, Name: tc.Name, Content: content}, nil
}

func (e *Executor) failed(tc provider.ToolCall, err error) Result {
	e.metrics.IncToolFailures()
	e.logger.Warn("Tool call failed", "tool", tc.Name, "call_id", tc.ID, "error", err)

	content := "Error: " + err.Error()
	if s := memErrors.Suggestion(err); s != "" {
		content += "\n" + s
	}
	return Result{CallID: tc.ID, Name: tc.Name, Content: content, IsError: true}
}

func (e *Executor) execute(ctx context.Context, call Call) (string, error) {
	switch c := call.(type) {
	case UpsertMemory:
		return e.upsert(ctx, c)
	case ManageMemory:
		return e.manage(ctx, c)
	case SearchMemory:
		return e.search(ctx, c)
	default:
		return "", memErrors.Newf(memErrors.CodeUsage, "unsupported call %T", call)
	}
}

func (e *Executor) upsert(ctx context.Context, c UpsertMemory) (string, error) {
	id := c.MemoryID
	if id == "" {
		id = e.newID()
	}
	if _, err := e.store.Put(ctx, e.ns, id, c.Content, c.Context); err != nil {
		return "", err
	}
	return "Stored memory_id " + id, nil
}

func (e *Executor) manage(ctx context.Context, c ManageMemory) (string, error) {
	id := c.MemoryID

	switch c.Action {
	case ActionCreate:
		id = e.newID()
		if _, err := e.store.Put(ctx, e.ns, id, c.Content, c.Context); err != nil {
			return "", err
		}

	case ActionUpdate:
		prev, err := e.store.Get(ctx, e.ns, id)
		if err != nil {
			return "", err
		}
		content, memContext := prev.Content, prev.Context
		if c.Content != "" {
			content = c.Content
		}
		if c.Context != "" {
			memContext = c.Context
		}
		if _, err := e.store.Put(ctx, e.ns, id, content, memContext); err != nil {
			return "", err
		}

	case ActionDelete:
		if err := e.store.Delete(ctx, e.ns, id); err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("Memory %sd: %sd memory %s", c.Action, c.Action, id), nil
}

func (e *Executor) search(ctx context.Context, c SearchMemory) (string, error) {
	hits, err := e.store.Search(ctx, e.ns, c.Query, c.Limit)
	if err != nil {
		return "", err
	}

	out := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, SearchHit{MemoryID: h.Key, Content: h.Content, Context: h.Context, Score: h.Score})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", memErrors.Wrap(memErrors.CodeStorage, "encode search results", err)
	}
	return string(data), nil
}
