// Package memchat provides a public API for embedding the memchat agent.
//
// Example usage:
//
//	import "github.com/cadre-oss/memchat/pkg/memchat"
//
//	client, err := memchat.Open("")
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	reply, err := client.Say(ctx, "thread-1", "alice", "My favorite color is blue.")
package memchat

import (
	"context"
	"fmt"

	"github.com/cadre-oss/memchat/internal/agent"
	"github.com/cadre-oss/memchat/internal/app"
	"github.com/cadre-oss/memchat/internal/config"
	"github.com/cadre-oss/memchat/internal/memory"
	"github.com/cadre-oss/memchat/internal/provider"
	"github.com/cadre-oss/memchat/internal/state"
)

type (
	// ChatRequest is one inbound turn.
	ChatRequest = agent.ChatRequest
	// ChatResult is the thread history after a turn.
	ChatResult = agent.ChatResult
	// Message is one conversation message.
	Message = state.Message
	// Checkpoint is a saved thread.
	Checkpoint = state.Checkpoint
	// Memory is a search hit from a user's long-term memory.
	Memory = memory.Scored
	// Provider is the model collaborator; see WithProvider.
	Provider = provider.Provider
)

// Message roles.
const (
	RoleSystem    = state.RoleSystem
	RoleUser      = state.RoleUser
	RoleAssistant = state.RoleAssistant
	RoleTool      = state.RoleTool
)

// Option configures Open.
type Option func(*app.Options)

// WithProvider replaces the Anthropic client built from the config.
func WithProvider(p Provider) Option {
	return func(o *app.Options) { o.Provider = p }
}

// WithVerbose enables debug logging.
func WithVerbose() Option {
	return func(o *app.Options) { o.Verbose = true }
}

// Client runs chat turns against checkpointed threads.
type Client struct {
	app *app.App
}

// Open loads the config at path (memchat.yaml in the working directory
// when empty) and wires a client.
func Open(path string, opts ...Option) (*Client, error) {
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg, err = config.Load(".")
	} else {
		cfg, err = config.LoadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o app.Options
	for _, opt := range opts {
		opt(&o)
	}
	a, err := app.New(cfg, o)
	if err != nil {
		return nil, err
	}
	return &Client{app: a}, nil
}

// Chat runs one turn.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return c.app.Service.Chat(ctx, req)
}

// Say sends one user message on a thread and returns the reply.
func (c *Client) Say(ctx context.Context, threadID, userID, text string) (string, error) {
	res, err := c.Chat(ctx, ChatRequest{
		ThreadID: threadID,
		UserID:   userID,
		Messages: []Message{{Role: RoleUser, Content: text}},
	})
	if err != nil {
		return "", err
	}
	return res.Reply, nil
}

// History returns the saved messages of a thread.
func (c *Client) History(ctx context.Context, threadID string) (*Checkpoint, error) {
	return c.app.Service.History(ctx, threadID)
}

// Recall searches a user's memories directly, without the model.
func (c *Client) Recall(ctx context.Context, userID, query string, limit int) ([]Memory, error) {
	turn, err := c.app.Config.Resolve(config.Overrides{UserID: userID})
	if err != nil {
		return nil, err
	}
	ns, err := memory.UserNamespace(turn.UserID)
	if err != nil {
		return nil, err
	}
	return c.app.Memory.Search(ctx, ns, query, limit)
}

// Close releases the stores.
func (c *Client) Close() error {
	return c.app.Close()
}
