package agent

import (
	"strings"

	"github.com/cadre-oss/memchat/internal/provider"
	"github.com/cadre-oss/memchat/internal/state"
	"github.com/cadre-oss/memchat/internal/tools"
)

// convertMessages maps the conversation onto provider messages. System
// messages are lifted out for the system prompt, each run of tool
// messages becomes one user message of tool_result blocks, and assistant
// replies with neither text nor tool calls are left out.
func convertMessages(msgs []state.Message) (system []string, out []provider.Message) {
	out = make([]provider.Message, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case state.RoleSystem:
			system = append(system, msg.Content)

		case state.RoleUser:
			out = append(out, provider.Message{Role: "user", Content: msg.Content})

		case state.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				if strings.TrimSpace(msg.Content) != "" {
					out = append(out, provider.Message{Role: "assistant", Content: msg.Content})
				}
				continue
			}
			blocks := make([]provider.ContentBlock, 0, len(msg.ToolCalls)+1)
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, provider.TextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, provider.ToolUseBlock(tc.ID, tc.Name, tc.Arguments))
			}
			out = append(out, provider.Message{Role: "assistant", Content: msg.Content, ContentBlocks: blocks})

		case state.RoleTool:
			block := provider.ToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError)
			if n := len(out); n > 0 && isToolResultMessage(out[n-1]) {
				out[n-1].ContentBlocks = append(out[n-1].ContentBlocks, block)
				continue
			}
			out = append(out, provider.Message{Role: "user", ContentBlocks: []provider.ContentBlock{block}})
		}
	}
	return system, out
}

func isToolResultMessage(m provider.Message) bool {
	if m.Role != "user" || len(m.ContentBlocks) == 0 {
		return false
	}
	for _, b := range m.ContentBlocks {
		if b.Type != "tool_result" {
			return false
		}
	}
	return true
}

// toolMessage records a tool result in the conversation.
func toolMessage(res tools.Result) state.Message {
	return state.Message{
		Role:       state.RoleTool,
		Content:    res.Content,
		ToolCallID: res.CallID,
		IsError:    res.IsError,
	}
}

// assistantMessage records a model response in the conversation.
func assistantMessage(resp *provider.Response) state.Message {
	msg := state.Message{Role: state.RoleAssistant, Content: resp.Content}
	for _, tc := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, state.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Input})
	}
	return msg
}
