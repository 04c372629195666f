package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
	"github.com/cadre-oss/memchat/internal/provider"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// Options configures the Anthropic client.
type Options struct {
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

// Client implements provider.Provider on the Anthropic Messages API.
type Client struct {
	sdk       sdk.Client
	apiKey    string
	model     string
	maxTokens int
}

// NewClient creates a new Anthropic client. Retries are left to
// provider.RetryProvider so the SDK's own retry loop is disabled.
func NewClient(opts Options) *Client {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	return &Client{
		sdk:       sdk.NewClient(reqOpts...),
		apiKey:    opts.APIKey,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return "anthropic"
}

// Complete sends a completion request to Claude
func (c *Client) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.Response, error) {
	if c.apiKey == "" {
		return nil, memErrors.New(memErrors.CodeAPIKeyMissing, "ANTHROPIC_API_KEY not set").
			WithSuggestion("Set the ANTHROPIC_API_KEY environment variable or add api_key to your memchat.yaml provider config")
	}

	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, translateError(ctx, err)
	}

	return parseMessage(msg), nil
}

// buildParams converts our request to SDK params
func (c *Client) buildParams(req *provider.CompletionRequest) (sdk.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	for _, msg := range req.Messages {
		blocks := convertBlocks(msg)
		if len(blocks) == 0 {
			continue
		}
		switch msg.Role {
		case "user":
			params.Messages = append(params.Messages, sdk.NewUserMessage(blocks...))
		case "assistant":
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(blocks...))
		default:
			return params, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	for _, t := range req.Tools {
		params.Tools = append(params.Tools, sdk.ToolUnionParam{OfTool: &sdk.ToolParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			InputSchema: toInputSchema(t.InputSchema),
		}})
	}

	return params, nil
}

// convertBlocks drops blank text, which the Messages API rejects. A
// message left with no blocks is skipped by the caller.
func convertBlocks(msg provider.Message) []sdk.ContentBlockParamUnion {
	if len(msg.ContentBlocks) == 0 {
		if strings.TrimSpace(msg.Content) == "" {
			return nil
		}
		return []sdk.ContentBlockParamUnion{sdk.NewTextBlock(msg.Content)}
	}

	blocks := make([]sdk.ContentBlockParamUnion, 0, len(msg.ContentBlocks))
	for _, b := range msg.ContentBlocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				blocks = append(blocks, sdk.NewTextBlock(b.Text))
			}
		case "tool_use":
			input := b.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, sdk.ContentBlockParamUnion{OfToolUse: &sdk.ToolUseBlockParam{
				ID:    b.ID,
				Name:  b.Name,
				Input: input,
			}})
		case "tool_result":
			blocks = append(blocks, sdk.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
		}
	}
	return blocks
}

func toInputSchema(schema map[string]interface{}) sdk.ToolInputSchemaParam {
	param := sdk.ToolInputSchemaParam{}
	if schema == nil {
		return param
	}
	param.Properties = schema["properties"]
	switch req := schema["required"].(type) {
	case []string:
		param.Required = req
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				param.Required = append(param.Required, s)
			}
		}
	}
	return param
}

// parseMessage converts the SDK message to our response
func parseMessage(msg *sdk.Message) *provider.Response {
	resp := &provider.Response{
		StopReason: string(msg.StopReason),
		Usage: provider.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: append(json.RawMessage(nil), block.Input...),
			})
		}
	}
	return resp
}

// translateError maps SDK errors onto provider error types so that the
// retry wrapper can classify them.
func translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		out := &provider.APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
		if apiErr.Response != nil {
			out.RetryAfter = retryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return out
	}
	return &provider.RequestError{Err: err}
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
