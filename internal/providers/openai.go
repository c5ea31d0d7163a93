package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/magi-sh/magi/internal/core"
)

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Tools       []openaiTool    `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

// invokeOpenAICompatible drives the OpenAI chat-completions protocol,
// which both OpenAI and xAI speak. The tool loop resends the conversation
// with appended tool results until the model stops calling tools.
func (c *Client) invokeOpenAICompatible(ctx context.Context, provider core.Provider, endpoint, apiKey, model string, conversation []Message, opts Options) (*Result, error) {
	messages := make([]openaiMessage, 0, len(conversation))
	for _, m := range conversation {
		messages = append(messages, openaiMessage{Role: m.Role, Content: m.Content})
	}

	var tools []openaiTool
	if opts.EnableRelay {
		tools = []openaiTool{{
			Type: "function",
			Function: openaiFunction{
				Name:        RelayToolName,
				Description: relayToolDescription,
				Parameters:  RelaySchema(),
			},
		}}
	}

	relayCalls := 0
	for {
		resp, err := c.postOpenAI(ctx, provider, endpoint, apiKey, openaiRequest{
			Model:       model,
			Messages:    messages,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
			Tools:       tools,
		})
		if err != nil {
			return nil, err
		}

		if len(resp.Choices) == 0 {
			return nil, &core.DomainError{
				Category: core.ErrCatProvider,
				Code:     core.CodeProviderMalformed,
				Message:  fmt.Sprintf("%s: response contained no choices", provider),
			}
		}

		reply := resp.Choices[0].Message
		if len(reply.ToolCalls) == 0 {
			return &Result{
				Content:          reply.Content,
				ProviderUsed:     provider,
				HTTPRequestCount: relayCalls,
			}, nil
		}

		// Echo the assistant turn (with its tool calls) back, then append
		// one tool-result message per call.
		messages = append(messages, openaiMessage{
			Role:      "assistant",
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})
		for _, call := range reply.ToolCalls {
			var payload string
			if relayCalls >= c.relay.MaxCalls() {
				payload = c.relay.CapExceededPayload()
			} else {
				payload = c.relay.Execute(ctx, call.Function.Arguments)
				relayCalls++
			}
			messages = append(messages, openaiMessage{
				Role:       "tool",
				Content:    payload,
				ToolCallID: call.ID,
			})
		}
	}
}

func (c *Client) postOpenAI(ctx context.Context, provider core.Provider, endpoint, apiKey string, body openaiRequest) (*openaiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.ErrProvider(provider, resp.StatusCode,
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncateBody(respBody)))
	}

	var result openaiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &core.DomainError{
			Category: core.ErrCatProvider,
			Code:     core.CodeProviderMalformed,
			Message:  fmt.Sprintf("%s: parsing response: %v", provider, err),
			Cause:    err,
		}
	}
	return &result, nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
