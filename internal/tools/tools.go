// Package tools defines the memory tools offered to the model. Calls are
// parsed from the raw provider request into a closed set of typed variants
// before anything touches the store.
package tools

import (
	"bytes"
	"encoding/json"
	"strings"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
	"github.com/cadre-oss/memchat/internal/provider"
)

// Tool names as advertised to the model.
const (
	NameUpsertMemory = "upsert_memory"
	NameManageMemory = "manage_memory"
	NameSearchMemory = "search_memory"
)

// Manage actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// DefaultSearchLimit applies when search_memory omits limit.
const DefaultSearchLimit = 10

// StoreMemoryInstructions is the description of upsert_memory.
const StoreMemoryInstructions = `Store important information about the user such as their personal details and their preferences.
Always include both content and context for each memory.
- content: the main content of the memory (e.g. "User likes dark mode")
- context: additional context about the memory (e.g. "Mentioned while discussing UI preferences")

Call this tool proactively when you:
1. Identify a new USER preference.
2. Receive an explicit USER request to remember something or otherwise alter your behavior.
3. Are working and want to record important context.
4. Identify that an existing MEMORY is incorrect or outdated.

If a memory conflicts with an existing one, pass its memory_id to UPDATE it instead of creating a duplicate.`

const manageMemoryDescription = `Create, update or delete a long-term memory about the user.
Use action "create" (the default) for new information, "update" with memory_id to correct an existing memory, and "delete" with memory_id to remove one that is wrong or obsolete.`

const searchMemoryDescription = `Search the user's long-term memories by meaning. Returns the best matches as a JSON array with memory_id, content, context and similarity score.`

// UpsertMemoryArgs are the arguments of upsert_memory.
type UpsertMemoryArgs struct {
	Content  string `json:"content" jsonschema_description:"The main content of the memory, e.g. \"User expressed interest in learning French.\""`
	Context  string `json:"context" jsonschema_description:"Additional context for the memory, e.g. \"Mentioned while discussing career options in Europe.\""`
	MemoryID string `json:"memory_id,omitempty" jsonschema_description:"ONLY provide when updating an existing memory. The memory to overwrite."`
}

// ManageMemoryArgs are the arguments of manage_memory.
type ManageMemoryArgs struct {
	Action   string `json:"action,omitempty" jsonschema:"enum=create,enum=update,enum=delete,default=create" jsonschema_description:"What to do with the memory."`
	Content  string `json:"content,omitempty" jsonschema_description:"Memory content. Required for create."`
	Context  string `json:"context,omitempty" jsonschema_description:"Additional context for the memory."`
	MemoryID string `json:"memory_id,omitempty" jsonschema_description:"Existing memory id. Required for update and delete."`
}

// SearchMemoryArgs are the arguments of search_memory.
type SearchMemoryArgs struct {
	Query string `json:"query" jsonschema_description:"What to look for."`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1" jsonschema_description:"Maximum number of results (default 10)."`
}

// Call is one validated tool invocation. The set of implementations is
// closed: UpsertMemory, ManageMemory and SearchMemory.
type Call interface {
	ToolName() string
	CallID() string
	isCall()
}

// UpsertMemory stores content under MemoryID, or a fresh id when empty.
type UpsertMemory struct {
	ID string
	UpsertMemoryArgs
}

// ManageMemory creates, updates or deletes one memory.
type ManageMemory struct {
	ID string
	ManageMemoryArgs
}

// SearchMemory runs a ranked search with a positive limit.
type SearchMemory struct {
	ID string
	SearchMemoryArgs
}

func (c UpsertMemory) ToolName() string { return NameUpsertMemory }
func (c UpsertMemory) CallID() string   { return c.ID }
func (UpsertMemory) isCall()            {}

func (c ManageMemory) ToolName() string { return NameManageMemory }
func (c ManageMemory) CallID() string   { return c.ID }
func (ManageMemory) isCall()            {}

func (c SearchMemory) ToolName() string { return NameSearchMemory }
func (c SearchMemory) CallID() string   { return c.ID }
func (SearchMemory) isCall()            {}

// Definitions returns the tool definitions sent with every model request.
func Definitions() []provider.Tool {
	return []provider.Tool{
		{Name: NameUpsertMemory, Description: StoreMemoryInstructions, InputSchema: GenerateSchema[UpsertMemoryArgs]()},
		{Name: NameManageMemory, Description: manageMemoryDescription, InputSchema: GenerateSchema[ManageMemoryArgs]()},
		{Name: NameSearchMemory, Description: searchMemoryDescription, InputSchema: GenerateSchema[SearchMemoryArgs]()},
	}
}

// Parse validates a raw tool call. Arguments that are not a JSON object
// are an INFERENCE error; everything else the model can fix is USAGE.
func Parse(tc provider.ToolCall) (Call, error) {
	input := bytes.TrimSpace(tc.Input)
	if len(input) == 0 {
		input = []byte("{}")
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(input, &probe); err != nil || probe == nil {
		return nil, memErrors.Newf(memErrors.CodeInference, "tool call %s: arguments are not a JSON object", tc.ID)
	}

	switch tc.Name {
	case NameUpsertMemory:
		var args UpsertMemoryArgs
		if err := decodeArgs(tc.Name, input, &args); err != nil {
			return nil, err
		}
		if strings.TrimSpace(args.Content) == "" {
			return nil, usage(tc.Name, "content is required")
		}
		return UpsertMemory{ID: tc.ID, UpsertMemoryArgs: args}, nil

	case NameManageMemory:
		var args ManageMemoryArgs
		if err := decodeArgs(tc.Name, input, &args); err != nil {
			return nil, err
		}
		if args.Action == "" {
			args.Action = ActionCreate
		}
		switch args.Action {
		case ActionCreate:
			if strings.TrimSpace(args.Content) == "" {
				return nil, usage(tc.Name, "content is required for create")
			}
		case ActionUpdate, ActionDelete:
			if strings.TrimSpace(args.MemoryID) == "" {
				return nil, usage(tc.Name, "memory_id is required for "+args.Action)
			}
		default:
			return nil, usage(tc.Name, "unknown action "+args.Action+", expected create, update or delete")
		}
		return ManageMemory{ID: tc.ID, ManageMemoryArgs: args}, nil

	case NameSearchMemory:
		var args SearchMemoryArgs
		if err := decodeArgs(tc.Name, input, &args); err != nil {
			return nil, err
		}
		if strings.TrimSpace(args.Query) == "" {
			return nil, usage(tc.Name, "query is required")
		}
		if _, set := probe["limit"]; !set {
			args.Limit = DefaultSearchLimit
		}
		if args.Limit < 1 {
			return nil, usage(tc.Name, "limit must be at least 1")
		}
		return SearchMemory{ID: tc.ID, SearchMemoryArgs: args}, nil

	default:
		return nil, memErrors.Newf(memErrors.CodeUsage, "unknown tool %q", tc.Name).
			WithSuggestion("Available tools: " + strings.Join([]string{NameUpsertMemory, NameManageMemory, NameSearchMemory}, ", "))
	}
}

func decodeArgs(name string, input []byte, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return memErrors.Wrap(memErrors.CodeUsage, name+": invalid arguments", err)
	}
	return nil
}

func usage(name, msg string) error {
	return memErrors.New(memErrors.CodeUsage, name+": "+msg)
}
